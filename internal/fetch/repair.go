package fetch

import (
	"net/url"
	"regexp"
	"strings"
)

// pathTypoFixes maps common path misspellings seen in firm navigation links
// to their usual correction.
var pathTypoFixes = map[string]string{
	"/rule":     "/rules",
	"/princing": "/pricing",
	"/pricings": "/pricing",
	"/payout":   "/payouts",
	"/faqs":     "/faq",
	"/term":     "/terms",
}

var duplicateSlashes = regexp.MustCompile(`//+`)

// repairCandidates generates alternate URLs to retry after a failed fetch:
// www prefix toggled, trailing slash toggled, duplicate slashes collapsed,
// scheme toggled, and known path typos fixed. The original URL is excluded
// and order is deterministic.
func repairCandidates(rawURL string) []string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil
	}

	var out []string
	seen := map[string]struct{}{rawURL: {}}
	add := func(u *url.URL) {
		s := u.String()
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	// www toggle.
	withHost := cloneURL(parsed)
	if strings.HasPrefix(parsed.Host, "www.") {
		withHost.Host = strings.TrimPrefix(parsed.Host, "www.")
	} else {
		withHost.Host = "www." + parsed.Host
	}
	add(withHost)

	// Trailing slash toggle.
	slashed := cloneURL(parsed)
	switch {
	case slashed.Path == "" || slashed.Path == "/":
		// Nothing to toggle at the root.
	case strings.HasSuffix(slashed.Path, "/"):
		slashed.Path = strings.TrimSuffix(slashed.Path, "/")
		add(slashed)
	default:
		slashed.Path += "/"
		add(slashed)
	}

	// Collapse duplicate slashes.
	if collapsed := duplicateSlashes.ReplaceAllString(parsed.Path, "/"); collapsed != parsed.Path {
		c := cloneURL(parsed)
		c.Path = collapsed
		add(c)
	}

	// Scheme toggle.
	schemed := cloneURL(parsed)
	if parsed.Scheme == "https" {
		schemed.Scheme = "http"
	} else {
		schemed.Scheme = "https"
	}
	add(schemed)

	// Known path typos.
	lowerPath := strings.ToLower(strings.TrimSuffix(parsed.Path, "/"))
	for typo, fixed := range pathTypoFixes {
		if lowerPath == typo {
			c := cloneURL(parsed)
			c.Path = fixed
			add(c)
		}
	}

	return out
}

func cloneURL(u *url.URL) *url.URL {
	c := *u
	return &c
}
