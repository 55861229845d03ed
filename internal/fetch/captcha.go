package fetch

import (
	"bytes"
	"context"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/firmlens/firmcrawl/internal/crawl"
)

// Marker substrings scanned case-insensitively in any fetched HTML.
var captchaMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("cf-challenge"),
	[]byte("cf-turnstile"),
	[]byte("verify you are human"),
	[]byte("are you a robot"),
	[]byte("attention required! | cloudflare"),
}

var siteKeyPattern = regexp.MustCompile(`data-sitekey\s*=\s*["']([A-Za-z0-9_-]+)["']`)

// detectCaptcha scans HTML for challenge markers and classifies the kind.
func detectCaptcha(html []byte, pageURL string) (crawl.CaptchaSignal, bool) {
	if len(html) == 0 {
		return crawl.CaptchaSignal{}, false
	}
	lower := bytes.ToLower(html)
	found := false
	for _, marker := range captchaMarkers {
		if bytes.Contains(lower, marker) {
			found = true
			break
		}
	}
	if !found {
		return crawl.CaptchaSignal{}, false
	}

	signal := crawl.CaptchaSignal{
		URL:  pageURL,
		Kind: classifyCaptcha(lower),
	}
	if m := siteKeyPattern.FindSubmatch(html); m != nil {
		signal.SiteKey = string(m[1])
	}
	return signal, true
}

func classifyCaptcha(lower []byte) crawl.CaptchaKind {
	switch {
	case bytes.Contains(lower, []byte("g-recaptcha")) || bytes.Contains(lower, []byte("grecaptcha")):
		return crawl.CaptchaRecaptcha
	case bytes.Contains(lower, []byte("h-captcha")) || bytes.Contains(lower, []byte("hcaptcha")):
		return crawl.CaptchaHCaptcha
	case bytes.Contains(lower, []byte("cf-challenge")) || bytes.Contains(lower, []byte("cf-turnstile")) ||
		bytes.Contains(lower, []byte("cloudflare")):
		return crawl.CaptchaCloudflare
	default:
		return crawl.CaptchaGeneric
	}
}

// trySolveCaptcha runs the configured solver against a detected challenge and
// reports the outcome on the signal. Solving is best-effort: any failure
// leaves the page unusable but never propagates as an error.
func (e *Engine) trySolveCaptcha(ctx context.Context, signal *crawl.CaptchaSignal) string {
	if e.solver == nil {
		signal.Outcome = "no_solver"
		return ""
	}
	if !e.solver.Supports(signal.Kind) {
		signal.Outcome = "unsupported_kind"
		return ""
	}
	if signal.SiteKey == "" {
		signal.Outcome = "missing_sitekey"
		return ""
	}

	solveCtx, cancel := context.WithTimeout(ctx, e.cfg.SolverTimeout)
	defer cancel()

	start := time.Now()
	token, err := e.solver.Solve(solveCtx, signal.Kind, signal.SiteKey, signal.URL)
	if err != nil {
		signal.Outcome = "solve_failed"
		e.logger.Warn("captcha solve failed",
			zap.String("url", signal.URL),
			zap.String("kind", string(signal.Kind)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return ""
	}
	signal.Solved = true
	signal.Outcome = "solved"
	return token
}
