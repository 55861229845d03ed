package orchestrate

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/firmlens/firmcrawl/internal/clock/system"
	"github.com/firmlens/firmcrawl/internal/crawl"
	"github.com/firmlens/firmcrawl/internal/discover"
	"github.com/firmlens/firmcrawl/internal/evidence"
	"github.com/firmlens/firmcrawl/internal/extract"
	"github.com/firmlens/firmcrawl/internal/hash/sha256"
	storagemem "github.com/firmlens/firmcrawl/internal/storage/memory"
	storemem "github.com/firmlens/firmcrawl/internal/store/memory"
)

const (
	firmRoot  = "https://example-firm.com"
	rulesText = "Traders keep an 80/20 profit split. Maximum daily loss is 5% and the maximum drawdown is 10%."
	priceText = "Starter plan $99.00, Pro plan $299.00. All prices in USD."
)

// fakeFetcher serves canned results by URL and records every request.
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]crawl.FetchResult
	requests []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawl.FetchRequest) crawl.FetchResult {
	f.mu.Lock()
	f.requests = append(f.requests, req.URL)
	f.mu.Unlock()
	if result, ok := f.pages[req.URL]; ok {
		result.URL = req.URL
		return result
	}
	return crawl.FetchResult{URL: req.URL, StatusCode: 404, Status: crawl.StatusHTTPError}
}

func (f *fakeFetcher) requested(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r == url {
			return true
		}
	}
	return false
}

func htmlPage(text string) crawl.FetchResult {
	return crawl.FetchResult{
		StatusCode:  200,
		Body:        []byte("<html><body><p>" + text + "</p></body></html>"),
		ContentType: "text/html",
		Status:      crawl.StatusOK,
		Text:        text,
	}
}

type harness struct {
	orch    *Orchestrator
	fetcher *fakeFetcher
	store   *storemem.Store
	blobs   *storagemem.BlobStore
}

func newHarness(t *testing.T, pages map[string]crawl.FetchResult) *harness {
	t.Helper()
	logger := zap.NewNop()
	fetcher := &fakeFetcher{pages: pages}
	store := storemem.New()
	blobs := storagemem.NewBlobStore()

	ev := evidence.New(blobs, store, sha256.New(), system.New(), logger)
	disc := discover.New(discover.Config{
		MaxPagesPerFirm: 5,
		OnCaptcha:       NewCaptchaSink(store, system.New(), logger),
	}, fetcher, logger)
	pipeline := extract.New(extract.Config{}, nil, logger)

	orch := New(Config{}, fetcher, disc, ev, store, pipeline, system.New(), logger)
	return &harness{orch: orch, fetcher: fetcher, store: store, blobs: blobs}
}

func TestCrawlFirmSatisfiedFromCandidates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]crawl.FetchResult{
		firmRoot: htmlPage(`welcome home
			<a href="/trading-rules">Trading Rules</a>
			<a href="/pricing">Pricing</a>`),
		firmRoot + "/trading-rules": htmlPage(rulesText),
		firmRoot + "/pricing":       htmlPage(priceText),
	})
	// The homepage body needs real anchors for discovery to score.
	h.fetcher.pages[firmRoot] = crawl.FetchResult{
		StatusCode:  200,
		Body:        []byte(`<html><body><nav><a href="/trading-rules">Trading Rules</a><a href="/pricing">Pricing</a></nav></body></html>`),
		ContentType: "text/html",
		Status:      crawl.StatusOK,
		Text:        "welcome home",
	}

	result := h.orch.CrawlFirm(context.Background(), crawl.Firm{ID: "f1", WebsiteRoot: firmRoot})

	require.Equal(t, StateDone, result.FinalState)
	require.Empty(t, result.Fatal)
	require.True(t, result.Satisfied[crawl.KindRules])
	require.True(t, result.Satisfied[crawl.KindPricing])

	// Satisfaction was reached without the aggregator escalation.
	require.False(t, h.fetcher.requested("https://www.trustpilot.com/review/example-firm.com"))

	dp, err := h.store.LatestDatapoint(context.Background(), "f1", "rules")
	require.NoError(t, err)
	record, ok := dp.Value.(*extract.Record)
	require.True(t, ok)
	require.Equal(t, "80/20", record.Fields["payout_split"])
	require.NotEmpty(t, dp.EvidenceHash)

	var keys []string
	for _, rec := range h.store.Evidence() {
		keys = append(keys, rec.Key)
	}
	require.Contains(t, keys, "home_html")
	require.Contains(t, keys, "rules_html")
	require.Contains(t, keys, "pricing_html")
}

func TestCrawlFirmHomepageUnreachableIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	result := h.orch.CrawlFirm(context.Background(), crawl.Firm{ID: "f1", WebsiteRoot: firmRoot})

	require.Equal(t, StateDone, result.FinalState)
	require.Equal(t, "homepage_unreachable", result.Fatal)
	// Both www and non-www variants were attempted.
	require.True(t, h.fetcher.requested(firmRoot))
	require.True(t, h.fetcher.requested("https://www.example-firm.com"))

	dp, err := h.store.LatestDatapoint(context.Background(), "f1", "crawl_error")
	require.NoError(t, err)
	require.Equal(t, "f1", dp.FirmID)
}

func TestCrawlFirmFallsBackToHomepageText(t *testing.T) {
	t.Parallel()

	// No candidate pages resolve; the homepage text itself carries the facts.
	h := newHarness(t, map[string]crawl.FetchResult{
		firmRoot: htmlPage(rulesText + " " + priceText),
	})
	result := h.orch.CrawlFirm(context.Background(), crawl.Firm{ID: "f1", WebsiteRoot: firmRoot})

	require.True(t, result.Satisfied[crawl.KindRules])
	require.True(t, result.Satisfied[crawl.KindPricing])

	// Failed candidates left an error trail.
	dp, err := h.store.LatestDatapoint(context.Background(), "f1", "rules_fetch_error")
	require.NoError(t, err)
	require.Equal(t, "f1", dp.FirmID)
}

func TestCrawlFirmEscalatesToExternalSources(t *testing.T) {
	t.Parallel()

	// Homepage loads but yields no text; everything on-site 404s. The
	// top-trust aggregator page carries both kinds of facts.
	h := newHarness(t, map[string]crawl.FetchResult{
		firmRoot: {
			StatusCode:  200,
			Body:        []byte("<html><body><div id=\"app\"></div></body></html>"),
			ContentType: "text/html",
			Status:      crawl.StatusOK,
		},
		"https://www.trustpilot.com/review/example-firm.com": htmlPage(rulesText + " " + priceText),
	})
	result := h.orch.CrawlFirm(context.Background(), crawl.Firm{ID: "f1", WebsiteRoot: firmRoot})

	require.True(t, result.Satisfied[crawl.KindRules])
	require.True(t, result.Satisfied[crawl.KindPricing])
	require.True(t, h.fetcher.requested("https://www.trustpilot.com/review/example-firm.com"))

	var keys []string
	for _, rec := range h.store.Evidence() {
		keys = append(keys, rec.Key)
	}
	require.Contains(t, keys, "external_html")
}

func TestCrawlFirmRecordsCaptchaSignal(t *testing.T) {
	t.Parallel()

	blocked := crawl.FetchResult{
		StatusCode: 200,
		Status:     crawl.StatusCaptchaBlocked,
		Captcha: &crawl.CaptchaSignal{
			URL:     firmRoot,
			Kind:    crawl.CaptchaCloudflare,
			Outcome: "no_solver",
		},
	}
	h := newHarness(t, map[string]crawl.FetchResult{
		firmRoot:                       blocked,
		"https://www.example-firm.com": blocked,
	})
	result := h.orch.CrawlFirm(context.Background(), crawl.Firm{ID: "f1", WebsiteRoot: firmRoot})

	require.Equal(t, "homepage_unreachable", result.Fatal)
	dp, err := h.store.LatestDatapoint(context.Background(), "f1", "captcha_detected")
	require.NoError(t, err)
	signal, ok := dp.Value.(*crawl.CaptchaSignal)
	require.True(t, ok)
	require.Equal(t, crawl.CaptchaCloudflare, signal.Kind)
}

func TestCrawlFirmRecordsCaptchaOnExternalSources(t *testing.T) {
	t.Parallel()

	// Nothing on-site yields text, so the crawl escalates; the top-trust
	// aggregator page is challenged. The sighting must still be recorded.
	aggregatorURL := "https://www.trustpilot.com/review/example-firm.com"
	h := newHarness(t, map[string]crawl.FetchResult{
		firmRoot: {
			StatusCode:  200,
			Body:        []byte("<html><body><div id=\"app\"></div></body></html>"),
			ContentType: "text/html",
			Status:      crawl.StatusOK,
		},
		aggregatorURL: {
			StatusCode: 200,
			Status:     crawl.StatusCaptchaBlocked,
			Captcha: &crawl.CaptchaSignal{
				URL:     aggregatorURL,
				Kind:    crawl.CaptchaHCaptcha,
				Outcome: "no_solver",
			},
		},
	})
	result := h.orch.CrawlFirm(context.Background(), crawl.Firm{ID: "f1", WebsiteRoot: firmRoot})

	require.True(t, h.fetcher.requested(aggregatorURL))
	require.False(t, result.Satisfied[crawl.KindRules])

	dp, err := h.store.LatestDatapoint(context.Background(), "f1", "captcha_detected")
	require.NoError(t, err)
	signal, ok := dp.Value.(*crawl.CaptchaSignal)
	require.True(t, ok)
	require.Equal(t, crawl.CaptchaHCaptcha, signal.Kind)
	require.Equal(t, aggregatorURL, dp.SourceURL)
}

func TestRootVariantsToggleWWW(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		[]string{"https://example.com", "https://www.example.com"},
		rootVariants("https://example.com"))
	require.Equal(t,
		[]string{"https://www.example.com/", "https://example.com/"},
		rootVariants("https://www.example.com/"))
}

func TestCrawlFirmBudgetExhaustionStopsGracefully(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]crawl.FetchResult{
		firmRoot: htmlPage("welcome"),
	})
	// After the homepage, every further fetch reports budget exhaustion.
	h.fetcher.pages = map[string]crawl.FetchResult{firmRoot: h.fetcher.pages[firmRoot]}
	exhausted := crawl.FetchResult{Status: crawl.StatusBudgetExceeded}
	h.fetcher.pages["https://example-firm.com/sitemap.xml"] = exhausted
	for _, path := range []string{"/rules", "/trading-rules", "/faq", "/terms", "/payouts", "/challenge", "/how-it-works", "/pricing", "/plans", "/price", "/fees", "/accounts"} {
		h.fetcher.pages[firmRoot+path] = exhausted
	}

	result := h.orch.CrawlFirm(context.Background(), crawl.Firm{ID: "f1", WebsiteRoot: firmRoot})
	require.Equal(t, StateDone, result.FinalState)
	require.Empty(t, result.Fatal)
	require.False(t, result.Satisfied[crawl.KindRules])
}
