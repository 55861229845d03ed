package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/firmlens/firmcrawl/internal/crawl"
)

type fakeGovernor struct {
	admit    bool
	requests int
}

func (g *fakeGovernor) Admit() bool { return g.admit }

func (g *fakeGovernor) Throttle(_ context.Context, _ string) error {
	g.requests++
	return nil
}

// meteredGovernor always admits but lets Throttle consume a finite budget,
// refusing like the real governor does once it saturates.
type meteredGovernor struct {
	mu   sync.Mutex
	left int
}

func (g *meteredGovernor) Admit() bool { return true }

func (g *meteredGovernor) Throttle(_ context.Context, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.left <= 0 {
		return crawl.ErrBudgetExhausted
	}
	g.left--
	return nil
}

type fakeRenderer struct {
	html   string
	called bool
}

func (r *fakeRenderer) Render(_ context.Context, url string) (crawl.RenderedPage, error) {
	r.called = true
	return crawl.RenderedPage{FinalURL: url, StatusCode: 200, HTML: r.html}, nil
}

func (r *fakeRenderer) Close(_ context.Context) error { return nil }

func newTestEngine(cfg Config, gov crawl.Governor, renderer crawl.Renderer) *Engine {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "firmcrawl-test/1.0"
	}
	return NewEngine(cfg, gov, renderer, nil, zap.NewNop())
}

func TestFetchBudgetExceededSkipsNetwork(t *testing.T) {
	t.Parallel()

	gov := &fakeGovernor{admit: false}
	engine := newTestEngine(Config{}, gov, nil)

	result := engine.Fetch(context.Background(), crawl.FetchRequest{URL: "https://example.invalid/"})
	require.Equal(t, crawl.StatusBudgetExceeded, result.Status)
	require.Zero(t, gov.requests, "no throttle call once the budget is exhausted")
}

func TestFetchBudgetRefusedAtThrottle(t *testing.T) {
	t.Parallel()

	// Admit can report stale headroom under concurrency; the throttle
	// refusal must still surface as budget_exceeded without a request.
	gov := &meteredGovernor{}
	engine := newTestEngine(Config{}, gov, nil)

	result := engine.Fetch(context.Background(), crawl.FetchRequest{URL: "https://example.invalid/"})
	require.Equal(t, crawl.StatusBudgetExceeded, result.Status)
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><p>Max daily loss is 5% and payout split is 80/20.</p></body></html>"))
	}))
	defer server.Close()

	engine := newTestEngine(Config{MinTextChars: 1}, &fakeGovernor{admit: true}, nil)
	result := engine.Fetch(context.Background(), crawl.FetchRequest{URL: server.URL})

	require.Equal(t, crawl.StatusOK, result.Status)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Contains(t, result.Text, "payout split")
	require.False(t, result.Truncated)
}

func TestFetchTruncatesAtByteCap(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>" + strings.Repeat("a", 10_000) + "</body></html>"))
	}))
	defer server.Close()

	engine := newTestEngine(Config{MaxBytes: 1024}, &fakeGovernor{admit: true}, nil)
	result := engine.Fetch(context.Background(), crawl.FetchRequest{URL: server.URL})

	require.Equal(t, crawl.StatusOK, result.Status)
	require.True(t, result.Truncated)
	require.LessOrEqual(t, len(result.Body), 1024)
}

func TestFetchRepairsTrailingSlash(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/rules/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rules/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>trading rules live here</body></html>"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	engine := newTestEngine(Config{}, &fakeGovernor{admit: true}, nil)
	result := engine.Fetch(context.Background(), crawl.FetchRequest{URL: server.URL + "/rules"})

	require.Equal(t, crawl.StatusOK, result.Status)
	require.True(t, result.Repaired, "success must come from the repair pass")
	require.Contains(t, string(result.Body), "trading rules")
}

func TestFetchHTTPErrorWhenNoRepairWorks(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	engine := newTestEngine(Config{}, &fakeGovernor{admit: true}, nil)
	result := engine.Fetch(context.Background(), crawl.FetchRequest{URL: server.URL + "/anything"})

	require.Equal(t, crawl.StatusHTTPError, result.Status)
	require.Equal(t, http.StatusGone, result.StatusCode)
}

func TestFetchRendersWhenTextTooShort(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><div id=\"app\"></div></body></html>"))
	}))
	defer server.Close()

	renderer := &fakeRenderer{html: "<html><body><p>Rendered: profit target 10%, payout split 90/10, minimum trading days five.</p></body></html>"}
	engine := newTestEngine(Config{MinTextChars: 200, RenderPageBudget: 5}, &fakeGovernor{admit: true}, renderer)

	result := engine.Fetch(context.Background(), crawl.FetchRequest{URL: server.URL, AllowJS: true})
	require.True(t, renderer.called, "short text must trigger a render attempt")
	require.True(t, result.Rendered)
	require.Contains(t, result.Text, "profit target")
}

func TestFetchRenderBudgetZeroDisablesRendering(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>x</body></html>"))
	}))
	defer server.Close()

	renderer := &fakeRenderer{html: "<html><body>should not be used</body></html>"}
	engine := newTestEngine(Config{MinTextChars: 200, RenderPageBudget: 0}, &fakeGovernor{admit: true}, renderer)

	result := engine.Fetch(context.Background(), crawl.FetchRequest{URL: server.URL, AllowJS: true})
	require.False(t, renderer.called)
	require.False(t, result.Rendered)
}

func TestRenderSlotSurvivesBudgetRefusal(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><div id=\"app\"></div></body></html>"))
	}))
	defer server.Close()

	renderer := &fakeRenderer{html: "<html><body><p>Rendered: profit target 10%, payout split 90/10, minimum trading days five.</p></body></html>"}
	gov := &meteredGovernor{left: 1}
	engine := newTestEngine(Config{MinTextChars: 200, RenderPageBudget: 1}, gov, renderer)

	// The single budget unit goes to the GET; the render refusal must give
	// the page slot back.
	first := engine.Fetch(context.Background(), crawl.FetchRequest{URL: server.URL, AllowJS: true})
	require.False(t, renderer.called)
	require.False(t, first.Rendered)

	gov.mu.Lock()
	gov.left = 2
	gov.mu.Unlock()

	second := engine.Fetch(context.Background(), crawl.FetchRequest{URL: server.URL, AllowJS: true})
	require.True(t, renderer.called, "the unused render slot must still be available")
	require.True(t, second.Rendered)
}

func TestFetchDetectsCaptcha(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><div class="g-recaptcha" data-sitekey="6LeIxAcTAAAAAJcZ"></div></body></html>`))
	}))
	defer server.Close()

	engine := newTestEngine(Config{MinTextChars: 1}, &fakeGovernor{admit: true}, nil)
	result := engine.Fetch(context.Background(), crawl.FetchRequest{URL: server.URL})

	require.Equal(t, crawl.StatusCaptchaBlocked, result.Status)
	require.NotNil(t, result.Captcha)
	require.Equal(t, crawl.CaptchaRecaptcha, result.Captcha.Kind)
	require.Equal(t, "6LeIxAcTAAAAAJcZ", result.Captcha.SiteKey)
	require.Equal(t, "no_solver", result.Captcha.Outcome)
	require.Empty(t, result.Text, "a challenged page is unusable for extraction")
}
