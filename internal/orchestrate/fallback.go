package orchestrate

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/firmlens/firmcrawl/internal/crawl"
)

// maxPerSlugVariant caps how many aggregator URLs any single slug variant
// may contribute, so one guessed spelling cannot dominate the fallback list.
const maxPerSlugVariant = 3

// aggregatorSource is one known third-party review/aggregator site. Trust is
// a fixed editorial ranking, not learned.
type aggregatorSource struct {
	name     string
	trust    float64
	template string
}

var aggregatorSources = []aggregatorSource{
	{name: "trustpilot", trust: 0.9, template: "https://www.trustpilot.com/review/%s"},
	{name: "propfirmmatch", trust: 0.8, template: "https://www.propfirmmatch.com/prop-firms/%s"},
	{name: "forexpropreviews", trust: 0.7, template: "https://forexpropreviews.com/%s-review/"},
	{name: "propfirmsreviews", trust: 0.6, template: "https://propfirmsreviews.com/reviews/%s"},
	{name: "forexpeacearmy", trust: 0.5, template: "https://www.forexpeacearmy.com/forex-reviews/%s"},
}

// slugVariants derives the spellings of a firm's name that aggregator sites
// are likely to key on: the bare hostname, the hostname without TLD, and a
// hyphen-stripped form.
func slugVariants(root string) []string {
	parsed, err := url.Parse(root)
	if err != nil || parsed.Hostname() == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")

	var variants []string
	seen := make(map[string]struct{})
	add := func(v string) {
		if v == "" {
			return
		}
		if _, dup := seen[v]; dup {
			return
		}
		seen[v] = struct{}{}
		variants = append(variants, v)
	}

	add(host)
	if i := strings.Index(host, "."); i > 0 {
		name := host[:i]
		add(name)
		add(strings.ReplaceAll(name, "-", ""))
	}
	return variants
}

// externalCandidates builds the ranked aggregator URL list for a firm root,
// trust-ordered, bounded per slug variant.
func externalCandidates(root string) []crawl.CandidateURL {
	variants := slugVariants(root)
	if len(variants) == 0 {
		return nil
	}

	perVariant := make(map[string]int, len(variants))
	var out []crawl.CandidateURL
	for _, source := range aggregatorSources {
		for _, variant := range variants {
			if perVariant[variant] >= maxPerSlugVariant {
				continue
			}
			perVariant[variant]++
			out = append(out, crawl.CandidateURL{
				URL:   fmt.Sprintf(source.template, variant),
				Score: source.trust,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
