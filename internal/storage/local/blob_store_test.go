package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	ctx := context.Background()
	uri, err := store.PutObject(ctx, "raw/firm-1/pricing/deadbeef.pdf", "application/pdf", []byte("%PDF-1.4 test"))
	require.NoError(t, err)
	require.Contains(t, uri, "file://")

	got, err := store.GetObject(ctx, "raw/firm-1/pricing/deadbeef.pdf")
	require.NoError(t, err)
	require.Equal(t, []byte("%PDF-1.4 test"), got)
}

func TestPutRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../escape.html", "text/html", []byte("x"))
	require.Error(t, err)
}
