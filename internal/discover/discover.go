// Package discover produces ranked candidate document URLs for a firm.
//
// Sources are merged in a fixed precedence order, each deduplicated against
// the ones before it: operator seeds, scored homepage links, static fallback
// paths, sitemap entries, and (optionally) a bounded breadth-first link
// expansion. The result never exceeds the per-firm page cap.
package discover

import (
	"bytes"
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/firmlens/firmcrawl/internal/crawl"
	"github.com/firmlens/firmcrawl/internal/metrics"
)

// Link scoring weights. A blacklist hit zeroes the link out entirely.
const (
	scoreURLMatch    = 3.0
	scoreAnchorMatch = 2.0
	scoreNavAncestor = 1.0
	scoreSeed        = 100.0
	scoreFallback    = 0.5
	scoreSitemap     = 1.0
	scoreDeepLink    = 0.25
)

// Config bounds discovery fan-out.
type Config struct {
	MaxPagesPerFirm int
	SitemapMaxURLs  int
	CrawlDepth      int
	MaxDeepLinks    int
	// Seeds maps firm IDs to operator-supplied candidate URLs.
	Seeds map[string][]string
	// OnCaptcha receives challenge signals observed on discovery's own
	// fetches (sitemaps, deep links). Optional.
	OnCaptcha func(ctx context.Context, firmID string, signal *crawl.CaptchaSignal)
}

// Discoverer builds candidate lists. The fetcher is only used for sitemaps
// and deep-link expansion; the homepage bytes are supplied by the caller.
type Discoverer struct {
	cfg     Config
	fetcher crawl.Fetcher
	logger  *zap.Logger
}

// New constructs a Discoverer.
func New(cfg Config, fetcher crawl.Fetcher, logger *zap.Logger) *Discoverer {
	if cfg.MaxPagesPerFirm <= 0 {
		cfg.MaxPagesPerFirm = 10
	}
	if cfg.SitemapMaxURLs <= 0 {
		cfg.SitemapMaxURLs = 200
	}
	return &Discoverer{cfg: cfg, fetcher: fetcher, logger: logger}
}

// Discover returns an ordered, de-duplicated candidate list for one kind,
// capped at MaxPagesPerFirm.
func (d *Discoverer) Discover(ctx context.Context, firm crawl.Firm, root string, homepage []byte, kind crawl.Kind) []crawl.CandidateURL {
	rootURL, err := url.Parse(root)
	if err != nil {
		d.logger.Warn("unparseable firm root", zap.String("firm_id", firm.ID), zap.String("root", root))
		return nil
	}

	var merged []crawl.CandidateURL
	seen := make(map[string]struct{})
	add := func(c crawl.CandidateURL) {
		key := canonical(c.URL)
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		merged = append(merged, c)
	}

	for _, seed := range d.cfg.Seeds[firm.ID] {
		if seedForKind(seed, kind) {
			add(crawl.CandidateURL{URL: seed, Score: scoreSeed})
		}
	}

	for _, link := range scoreHomepageLinks(homepage, rootURL, kind) {
		add(link)
	}

	for _, path := range fallbackPaths[kind] {
		add(crawl.CandidateURL{
			URL:   strings.TrimSuffix(root, "/") + path,
			Score: scoreFallback,
		})
	}

	for _, loc := range d.sitemapURLs(ctx, firm.ID, root, kind) {
		add(crawl.CandidateURL{URL: loc, Score: scoreSitemap})
	}

	if d.cfg.CrawlDepth > 0 {
		d.expandFrontier(ctx, firm.ID, rootURL, kind, merged, add)
	}

	// Stable ordering: score descending, source order as tiebreak.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > d.cfg.MaxPagesPerFirm {
		merged = merged[:d.cfg.MaxPagesPerFirm]
	}
	metrics.ObserveCandidates(len(merged))
	return merged
}

// scoreHomepageLinks extracts anchors from the homepage and scores them by
// where the kind keyword appears: URL, anchor text, or a nav-like ancestor.
func scoreHomepageLinks(homepage []byte, rootURL *url.URL, kind crawl.Kind) []crawl.CandidateURL {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(homepage))
	if err != nil {
		return nil
	}

	var out []crawl.CandidateURL
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
			return
		}
		resolved := resolveHref(rootURL, href)
		if resolved == "" || !sameSite(rootURL, resolved) {
			return
		}

		anchorText := strings.TrimSpace(sel.Text())
		if blacklisted(resolved) || blacklisted(anchorText) {
			return
		}

		score := 0.0
		if matchesKind(resolved, kind) {
			score += scoreURLMatch
		}
		if matchesKind(anchorText, kind) {
			score += scoreAnchorMatch
		}
		if score > 0 && hasNavAncestor(sel) {
			score += scoreNavAncestor
		}
		if score == 0 {
			return
		}
		out = append(out, crawl.CandidateURL{URL: resolved, Score: score})
	})
	return out
}

// seedForKind keeps kind-matching seeds on their kind. A seed matching no
// kind at all is an operator override with no keyword hint, so it goes to
// every kind rather than being dropped.
func seedForKind(seed string, kind crawl.Kind) bool {
	if matchesKind(seed, kind) {
		return true
	}
	for _, other := range crawl.Kinds {
		if matchesKind(seed, other) {
			return false
		}
	}
	return true
}

// reportCaptcha forwards a challenge sighting from a discovery fetch.
func (d *Discoverer) reportCaptcha(ctx context.Context, firmID string, result crawl.FetchResult) {
	if d.cfg.OnCaptcha == nil || result.Captcha == nil {
		return
	}
	d.cfg.OnCaptcha(ctx, firmID, result.Captcha)
}

// expandFrontier fetches already-discovered candidates breadth-first and
// harvests further keyword-matching links, bounded per level.
func (d *Discoverer) expandFrontier(ctx context.Context, firmID string, rootURL *url.URL, kind crawl.Kind, frontier []crawl.CandidateURL, add func(crawl.CandidateURL)) {
	current := frontier
	for depth := 0; depth < d.cfg.CrawlDepth; depth++ {
		var next []crawl.CandidateURL
		for _, candidate := range current {
			if len(next) >= d.cfg.MaxDeepLinks {
				break
			}
			result := d.fetcher.Fetch(ctx, crawl.FetchRequest{URL: candidate.URL})
			d.reportCaptcha(ctx, firmID, result)
			if !result.OK() {
				continue
			}
			for _, link := range scoreHomepageLinks(result.Body, rootURL, kind) {
				if len(next) >= d.cfg.MaxDeepLinks {
					break
				}
				deep := crawl.CandidateURL{URL: link.URL, Score: scoreDeepLink}
				next = append(next, deep)
				add(deep)
			}
		}
		if len(next) == 0 {
			return
		}
		current = next
	}
}

func hasNavAncestor(sel *goquery.Selection) bool {
	return sel.ParentsFiltered("nav, header, footer").Length() > 0
}

func resolveHref(rootURL *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := rootURL.ResolveReference(ref)
	resolved.Fragment = ""
	return resolved.String()
}

// sameSite accepts the root host and its www/non-www twin.
func sameSite(rootURL *url.URL, raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	a := strings.TrimPrefix(strings.ToLower(rootURL.Hostname()), "www.")
	b := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	return a != "" && a == b
}

// canonical normalizes a URL for deduplication: lowercased scheme/host,
// no fragment, no trailing slash.
func canonical(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
