package crawl

import (
	"context"
	"errors"
	"time"
)

// ErrBudgetExhausted is returned by Governor.Throttle when the global request
// budget is already spent and the request was not admitted.
var ErrBudgetExhausted = errors.New("request budget exhausted")

// BlobStore writes raw artifacts and reads them back by path.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// LedgerStore persists evidence metadata rows.
// InsertEvidence returns false when the (firm_id, key, content_hash) triple
// already exists and the insert was a no-op.
type LedgerStore interface {
	InsertEvidence(ctx context.Context, rec EvidenceRecord) (bool, error)
}

// DatapointStore appends extracted values and reads back the latest per key.
type DatapointStore interface {
	InsertDatapoint(ctx context.Context, dp Datapoint) error
	LatestDatapoint(ctx context.Context, firmID, key string) (Datapoint, error)
}

// Governor is the shared resource-budget and rate-limiting authority for a run.
type Governor interface {
	// Admit reports whether another network operation fits the global budget.
	// It is advisory; Throttle is the authoritative check.
	Admit() bool
	// Throttle atomically reserves one unit of the global request budget,
	// returning ErrBudgetExhausted when none is left, then blocks until the
	// per-host delay since the previous request to host has elapsed.
	Throttle(ctx context.Context, host string) error
}

// Fetcher performs one logical fetch of a URL, including repair retries and
// render/PDF fallbacks. It never returns an error; failures are encoded in
// the FetchResult status.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) FetchResult
}

// FetchRequest captures everything needed for one logical fetch.
type FetchRequest struct {
	URL      string
	AllowJS  bool
	AllowPDF bool
}

// Renderer executes a page with JavaScript enabled and returns the DOM snapshot.
type Renderer interface {
	Render(ctx context.Context, url string) (RenderedPage, error)
	Close(ctx context.Context) error
}

// RenderedPage is the outcome of a headless render.
type RenderedPage struct {
	FinalURL   string
	StatusCode int
	HTML       string
}

// CaptchaSolver submits a challenge to an external service and polls for a token.
type CaptchaSolver interface {
	Solve(ctx context.Context, kind CaptchaKind, siteKey, pageURL string) (string, error)
	Supports(kind CaptchaKind) bool
}

// Hasher computes digests for content addressing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
