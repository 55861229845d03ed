package discover

import (
	"context"
	"encoding/xml"
	"strings"

	"go.uber.org/zap"

	"github.com/firmlens/firmcrawl/internal/crawl"
)

// sitemapIndexDepth bounds recursion through nested sitemap indexes.
const sitemapIndexDepth = 2

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapLoc `xml:"url"`
}

type sitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// sitemapURLs fetches {root}/sitemap.xml and returns every listed URL that
// matches a kind keyword, following index files up to sitemapIndexDepth and
// stopping at the configured URL cap.
func (d *Discoverer) sitemapURLs(ctx context.Context, firmID, root string, kind crawl.Kind) []string {
	sitemapURL := strings.TrimSuffix(root, "/") + "/sitemap.xml"
	var out []string
	d.walkSitemap(ctx, firmID, sitemapURL, kind, sitemapIndexDepth, &out)
	return out
}

func (d *Discoverer) walkSitemap(ctx context.Context, firmID, sitemapURL string, kind crawl.Kind, depth int, out *[]string) {
	if depth < 0 || len(*out) >= d.cfg.SitemapMaxURLs {
		return
	}
	result := d.fetcher.Fetch(ctx, crawl.FetchRequest{URL: sitemapURL})
	d.reportCaptcha(ctx, firmID, result)
	if !result.OK() {
		d.logger.Debug("sitemap unavailable", zap.String("url", sitemapURL), zap.String("status", string(result.Status)))
		return
	}

	var index sitemapIndex
	if err := xml.Unmarshal(result.Body, &index); err == nil && len(index.Sitemaps) > 0 {
		for _, sm := range index.Sitemaps {
			if len(*out) >= d.cfg.SitemapMaxURLs {
				return
			}
			d.walkSitemap(ctx, firmID, strings.TrimSpace(sm.Loc), kind, depth-1, out)
		}
		return
	}

	var urlset sitemapURLSet
	if err := xml.Unmarshal(result.Body, &urlset); err != nil {
		d.logger.Debug("sitemap parse failed", zap.String("url", sitemapURL), zap.Error(err))
		return
	}
	for _, u := range urlset.URLs {
		if len(*out) >= d.cfg.SitemapMaxURLs {
			return
		}
		loc := strings.TrimSpace(u.Loc)
		if loc == "" || !matchesKind(loc, kind) || blacklisted(loc) {
			continue
		}
		*out = append(*out, loc)
	}
}
