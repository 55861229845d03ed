// Package fetch implements the budget-governed fetch engine: bounded HTTP
// fetches over colly, URL-repair retries, headless render fallback, CAPTCHA
// handling, and PDF/OCR text extraction.
//
// The engine never returns an error from Fetch; every failure mode degrades
// to a FetchResult with an error-indicating status.
package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/firmlens/firmcrawl/internal/crawl"
	"github.com/firmlens/firmcrawl/internal/metrics"
)

// Config controls engine behavior.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	MaxBytes      int
	MinTextChars  int
	MaxTextChars  int
	PDFEnabled    bool
	OCREnabled    bool
	OCRMaxPages   int
	SolverTimeout time.Duration
	// RenderPageBudget caps headless renders per run. Zero disables rendering
	// even when a renderer is configured.
	RenderPageBudget int
}

// tokenRenderer is implemented by renderers that can resubmit a page with a
// solved captcha token.
type tokenRenderer interface {
	RenderWithToken(ctx context.Context, url, token string) (crawl.RenderedPage, error)
}

// Engine performs one logical "get me this URL" operation.
type Engine struct {
	cfg      Config
	governor crawl.Governor
	renderer crawl.Renderer
	solver   crawl.CaptchaSolver
	retry    *ExponentialRetryPolicy
	logger   *zap.Logger

	mu          sync.Mutex
	renderCount int
}

// NewEngine builds an Engine. Renderer and solver are optional; pass nil to
// disable the corresponding fallback.
func NewEngine(cfg Config, governor crawl.Governor, renderer crawl.Renderer, solver crawl.CaptchaSolver, logger *zap.Logger) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 2 << 20
	}
	if cfg.SolverTimeout <= 0 {
		cfg.SolverTimeout = 2 * time.Minute
	}
	return &Engine{
		cfg:      cfg,
		governor: governor,
		renderer: renderer,
		solver:   solver,
		retry:    NewExponentialRetryPolicy(),
		logger:   logger,
	}
}

// Fetch executes the full fetch algorithm: budget check, throttled GET,
// URL-repair retries, render fallback, CAPTCHA handling, PDF/OCR extraction.
func (e *Engine) Fetch(ctx context.Context, req crawl.FetchRequest) crawl.FetchResult {
	start := time.Now()
	result := e.fetchWithRepairs(ctx, req.URL)

	if result.Status == crawl.StatusOK {
		result = e.postProcess(ctx, req, result)
	}

	metrics.ObserveFetch(string(result.Status), len(result.Body), time.Since(start))
	return result
}

// fetchWithRepairs tries the exact URL, then each repair candidate once,
// keeping the first success.
func (e *Engine) fetchWithRepairs(ctx context.Context, rawURL string) crawl.FetchResult {
	result := e.fetchOnce(ctx, rawURL)
	if result.Status == crawl.StatusOK || result.Status == crawl.StatusBudgetExceeded {
		return result
	}

	for _, candidate := range repairCandidates(rawURL) {
		repaired := e.fetchOnce(ctx, candidate)
		if repaired.Status == crawl.StatusBudgetExceeded {
			return result
		}
		if repaired.Status == crawl.StatusOK {
			repaired.URL = rawURL
			repaired.Repaired = true
			e.logger.Debug("url repair succeeded",
				zap.String("original", rawURL),
				zap.String("repaired", candidate),
			)
			return repaired
		}
	}
	return result
}

// fetchOnce performs a single governed HTTP GET with transient-error retries.
func (e *Engine) fetchOnce(ctx context.Context, rawURL string) crawl.FetchResult {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return crawl.FetchResult{URL: rawURL, Status: crawl.StatusNetworkError, ErrText: "unparseable url"}
	}

	var result crawl.FetchResult
	for attempt := 0; ; attempt++ {
		if !e.governor.Admit() {
			metrics.ObserveBudgetExhausted()
			return crawl.FetchResult{URL: rawURL, Status: crawl.StatusBudgetExceeded}
		}
		throttleStart := time.Now()
		if err := e.governor.Throttle(ctx, parsed.Hostname()); err != nil {
			if errors.Is(err, crawl.ErrBudgetExhausted) {
				metrics.ObserveBudgetExhausted()
				return crawl.FetchResult{URL: rawURL, Status: crawl.StatusBudgetExceeded}
			}
			return crawl.FetchResult{URL: rawURL, Status: crawl.StatusNetworkError, ErrText: err.Error()}
		}
		metrics.ObserveThrottleDelay(time.Since(throttleStart))

		var fetchErr error
		result, fetchErr = e.doGet(ctx, rawURL)
		if fetchErr == nil {
			return result
		}
		if !e.retry.ShouldRetry(fetchErr, attempt) {
			if result.Status == "" {
				result = crawl.FetchResult{URL: rawURL, Status: crawl.StatusNetworkError, ErrText: fetchErr.Error()}
			}
			return result
		}
		select {
		case <-ctx.Done():
			return crawl.FetchResult{URL: rawURL, Status: crawl.StatusNetworkError, ErrText: ctx.Err().Error()}
		case <-time.After(e.retry.Backoff(attempt)):
		}
	}
}

// doGet issues one colly request. HTTP >= 400 is returned as a FetchResult
// with StatusHTTPError and a nil error; transport failures return an error
// for the retry policy to inspect.
func (e *Engine) doGet(ctx context.Context, rawURL string) (crawl.FetchResult, error) {
	collector := colly.NewCollector(
		colly.UserAgent(e.cfg.UserAgent),
		colly.MaxBodySize(e.cfg.MaxBytes),
		colly.IgnoreRobotsTxt(),
	)
	collector.SetRequestTimeout(e.cfg.Timeout)
	collector.WithTransport(newHTTPTransport())

	var (
		result   crawl.FetchResult
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		result = crawl.FetchResult{
			URL:         rawURL,
			FinalURL:    r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			Body:        append([]byte(nil), r.Body...),
			ContentType: r.Headers.Get("Content-Type"),
			Truncated:   len(r.Body) >= e.cfg.MaxBytes,
			Status:      crawl.StatusOK,
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			result = crawl.FetchResult{
				URL:        rawURL,
				FinalURL:   r.Request.URL.String(),
				StatusCode: r.StatusCode,
				Status:     crawl.StatusHTTPError,
				ErrText:    err.Error(),
			}
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()
	select {
	case <-ctx.Done():
		return crawl.FetchResult{URL: rawURL, Status: crawl.StatusNetworkError, ErrText: ctx.Err().Error()}, nil
	case visitErr := <-done:
		if fetchErr != nil {
			return result, fetchErr
		}
		if result.Status != "" {
			return result, nil
		}
		if visitErr != nil {
			return crawl.FetchResult{}, visitErr
		}
		return crawl.FetchResult{URL: rawURL, Status: crawl.StatusEmptyBody}, nil
	}
}

// postProcess handles PDF extraction, render fallback, captcha scanning, and
// plain-text extraction for a successful raw fetch.
func (e *Engine) postProcess(ctx context.Context, req crawl.FetchRequest, result crawl.FetchResult) crawl.FetchResult {
	if looksLikePDF(result.Body, result.ContentType, result.FinalURL) {
		return e.processPDF(result, req.AllowPDF)
	}

	result.Text = HTMLToText(result.Body, result.FinalURL, e.cfg.MaxTextChars)

	// Script-heavy pages hide their content from the raw fetch; render when
	// the decoded text is suspiciously short.
	if req.AllowJS && len(result.Text) < e.cfg.MinTextChars {
		result = e.renderFallback(ctx, result)
	}

	if signal, found := detectCaptcha(result.Body, result.FinalURL); found {
		result = e.handleCaptcha(ctx, result, signal)
	}

	if len(result.Text) == 0 && len(result.Body) == 0 {
		result.Status = crawl.StatusEmptyBody
	}
	return result
}

func (e *Engine) processPDF(result crawl.FetchResult, allowPDF bool) crawl.FetchResult {
	if !allowPDF || !e.cfg.PDFEnabled {
		result.Text = ""
		return result
	}
	text, err := extractPDFText(result.Body, 0)
	if err != nil {
		e.logger.Warn("pdf text extraction failed", zap.String("url", result.FinalURL), zap.Error(err))
		result.ErrText = err.Error()
		return result
	}
	if text == "" && e.cfg.OCREnabled {
		ocrText, ocrErr := ocrPDF(result.Body, e.cfg.OCRMaxPages, e.logger)
		if ocrErr != nil {
			e.logger.Warn("pdf ocr failed", zap.String("url", result.FinalURL), zap.Error(ocrErr))
		} else {
			text = ocrText
		}
	}
	result.Text = clipText(text, e.cfg.MaxTextChars)
	return result
}

// renderFallback attempts a headless render within the render page budget.
// A failed render silently degrades to the non-rendered result.
func (e *Engine) renderFallback(ctx context.Context, result crawl.FetchResult) crawl.FetchResult {
	if e.renderer == nil || !e.takeRenderSlot() {
		return result
	}
	if !e.governor.Admit() {
		e.returnRenderSlot()
		metrics.ObserveBudgetExhausted()
		return result
	}
	if host := hostOf(result.FinalURL); host != "" {
		if err := e.governor.Throttle(ctx, host); err != nil {
			e.returnRenderSlot()
			if errors.Is(err, crawl.ErrBudgetExhausted) {
				metrics.ObserveBudgetExhausted()
			}
			return result
		}
	}

	page, err := e.renderer.Render(ctx, result.FinalURL)
	if err != nil {
		metrics.ObserveRender("error")
		e.logger.Debug("render fallback failed", zap.String("url", result.FinalURL), zap.Error(err))
		return result
	}
	metrics.ObserveRender("ok")

	rendered := result
	rendered.Rendered = true
	rendered.Body = []byte(page.HTML)
	if page.FinalURL != "" {
		rendered.FinalURL = page.FinalURL
	}
	if page.StatusCode > 0 {
		rendered.StatusCode = page.StatusCode
	}
	rendered.Text = HTMLToText(rendered.Body, rendered.FinalURL, e.cfg.MaxTextChars)
	if len(rendered.Text) < len(result.Text) {
		// Render produced less than the raw fetch; keep the original.
		return result
	}
	return rendered
}

// handleCaptcha records the challenge, attempts a solve, and resubmits the
// page with the token. An unsolved challenge marks the page unusable.
func (e *Engine) handleCaptcha(ctx context.Context, result crawl.FetchResult, signal crawl.CaptchaSignal) crawl.FetchResult {
	token := e.trySolveCaptcha(ctx, &signal)
	defer func() { metrics.ObserveCaptcha(string(signal.Kind), signal.Outcome) }()

	if token != "" {
		if tr, ok := e.renderer.(tokenRenderer); ok && e.takeRenderSlot() {
			page, err := tr.RenderWithToken(ctx, result.FinalURL, token)
			if err == nil {
				result.Body = []byte(page.HTML)
				result.Rendered = true
				result.Text = HTMLToText(result.Body, result.FinalURL, e.cfg.MaxTextChars)
				if _, still := detectCaptcha(result.Body, result.FinalURL); !still {
					result.Captcha = &signal
					return result
				}
				signal.Outcome = "solved_but_still_challenged"
			} else {
				signal.Outcome = "resubmit_failed"
			}
		} else {
			signal.Outcome = "no_token_renderer"
		}
	}

	result.Captcha = &signal
	result.Status = crawl.StatusCaptchaBlocked
	result.Text = ""
	return result
}

func (e *Engine) takeRenderSlot() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.renderCount >= e.cfg.RenderPageBudget {
		return false
	}
	e.renderCount++
	return true
}

// returnRenderSlot refunds a slot taken for a render that never ran.
func (e *Engine) returnRenderSlot() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.renderCount > 0 {
		e.renderCount--
	}
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
