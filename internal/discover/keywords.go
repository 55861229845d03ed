package discover

import (
	"strings"

	"github.com/firmlens/firmcrawl/internal/crawl"
)

// kindKeywords drives link relevance scoring per target kind.
var kindKeywords = map[crawl.Kind][]string{
	crawl.KindRules: {
		"rules", "trading-rules", "trading_rules", "faq", "terms", "conditions",
		"payout", "payouts", "drawdown", "risk", "objectives", "evaluation",
		"challenge", "agreement", "legal", "how-it-works",
	},
	crawl.KindPricing: {
		"pricing", "price", "plans", "plan", "fees", "cost", "packages",
		"accounts", "account-sizes", "buy", "purchase", "checkout", "offers",
	},
}

// blacklistTerms zero out a link's score no matter what else matched.
var blacklistTerms = []string{
	"login", "signin", "sign-in", "signup", "sign-up", "register", "logout",
	"careers", "jobs", "affiliate", "partners", "blog", "news", "press",
	"privacy", "cookie", "sitemap", "unsubscribe", "cart",
	"facebook.com", "twitter.com", "x.com", "instagram.com", "linkedin.com",
	"youtube.com", "discord.gg", "t.me",
}

// fallbackPaths are joined to the firm root when nothing better is known.
var fallbackPaths = map[crawl.Kind][]string{
	crawl.KindRules:   {"/rules", "/trading-rules", "/faq", "/terms", "/payouts", "/challenge", "/how-it-works"},
	crawl.KindPricing: {"/pricing", "/plans", "/price", "/fees", "/accounts"},
}

func matchesKind(s string, kind crawl.Kind) bool {
	lower := strings.ToLower(s)
	for _, kw := range kindKeywords[kind] {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func blacklisted(s string) bool {
	lower := strings.ToLower(s)
	for _, term := range blacklistTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
