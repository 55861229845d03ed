package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/firmlens/firmcrawl/internal/crawl"
	"github.com/firmlens/firmcrawl/internal/hash/sha256"
	storememory "github.com/firmlens/firmcrawl/internal/store/memory"
	"github.com/firmlens/firmcrawl/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestStore() (*Store, *memory.BlobStore, *storememory.Store) {
	blobs := memory.NewBlobStore()
	ledger := storememory.New()
	store := New(blobs, ledger, sha256.New(), fixedClock{now: time.Unix(1700000000, 0).UTC()}, zap.NewNop())
	return store, blobs, ledger
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore()
	ctx := context.Background()
	body := []byte("<html><body>max daily loss 5%</body></html>")

	res, err := store.Put(ctx, "firm-1", crawl.KindRules, "rules_html", "https://example.com/rules", "text/html", body, "max daily loss 5%")
	require.NoError(t, err)
	require.True(t, res.Inserted)
	require.Equal(t, "raw/firm-1/rules/"+res.Hash+".html", res.Path)

	got, err := store.Get(ctx, res.Path, res.Hash)
	require.NoError(t, err)
	require.Equal(t, body, got, "retrieved bytes must match stored bytes bit for bit")
}

func TestPutIsIdempotent(t *testing.T) {
	t.Parallel()

	store, blobs, ledger := newTestStore()
	ctx := context.Background()
	body := []byte("<html>rules</html>")

	first, err := store.Put(ctx, "firm-1", crawl.KindRules, "rules_html", "https://example.com/a", "text/html", body, "")
	require.NoError(t, err)
	require.True(t, first.Inserted)

	second, err := store.Put(ctx, "firm-1", crawl.KindRules, "rules_html", "https://example.com/b", "text/html", body, "")
	require.NoError(t, err)
	require.False(t, second.Inserted, "same (firm, key, hash) triple must be a no-op")
	require.Equal(t, first.Hash, second.Hash)
	require.Equal(t, 1, blobs.Len())
	require.Len(t, ledger.Evidence(), 1)
}

func TestPutRejectsEmptyBody(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore()
	_, err := store.Put(context.Background(), "firm-1", crawl.KindRules, "rules_html", "https://example.com", "text/html", nil, "")
	require.Error(t, err)
}

func TestGetDetectsCorruption(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore()
	ctx := context.Background()
	res, err := store.Put(ctx, "firm-1", crawl.KindPricing, "pricing_html", "https://example.com/pricing", "text/html", []byte("<html>plans</html>"), "")
	require.NoError(t, err)

	_, err = store.Get(ctx, res.Path, "0000000000000000000000000000000000000000000000000000000000000000")
	require.ErrorContains(t, err, "integrity")
}

func TestExtFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		data        []byte
		want        string
	}{
		{"pdf content type", "application/pdf", []byte("x"), "pdf"},
		{"pdf magic bytes", "application/octet-stream", []byte("%PDF-1.7"), "pdf"},
		{"html content type", "text/html; charset=utf-8", []byte("x"), "html"},
		{"html sniffed", "", []byte("<!DOCTYPE html><html>"), "html"},
		{"json", "application/json", []byte("{}"), "json"},
		{"unknown", "application/octet-stream", []byte{0x00, 0x01}, "bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, extFor(tt.contentType, tt.data))
		})
	}
}

func TestExcerptClipped(t *testing.T) {
	t.Parallel()

	store, _, ledger := newTestStore()
	long := make([]byte, 0, 2000)
	for i := 0; i < 2000; i++ {
		long = append(long, 'a')
	}
	_, err := store.Put(context.Background(), "firm-1", crawl.KindRules, "rules_html", "https://example.com", "text/html", []byte("<html>x</html>"), string(long))
	require.NoError(t, err)
	rows := ledger.Evidence()
	require.Len(t, rows, 1)
	require.Len(t, rows[0].Excerpt, excerptChars)
}
