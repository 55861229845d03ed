package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutAndGetRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "raw/firm-1/rules/abc.html", "text/html", []byte("<html>rules</html>"))
	require.NoError(t, err)
	require.Equal(t, "memory://raw/firm-1/rules/abc.html", uri)

	got, err := store.GetObject(ctx, "raw/firm-1/rules/abc.html")
	require.NoError(t, err)
	require.Equal(t, []byte("<html>rules</html>"), got)
}

func TestPutIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()

	_, err := store.PutObject(ctx, "raw/firm-1/rules/abc.html", "text/html", []byte("first"))
	require.NoError(t, err)
	_, err = store.PutObject(ctx, "raw/firm-1/rules/abc.html", "text/html", []byte("first"))
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())
}

func TestGetMissingObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.GetObject(context.Background(), "raw/none")
	require.Error(t, err)
}
