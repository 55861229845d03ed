package extract

import (
	"regexp"
	"strings"

	"github.com/firmlens/firmcrawl/internal/crawl"
)

// regexVersion tags the deterministic extractor in audit blocks. Bump when
// a pattern changes so old datapoints remain attributable.
const regexVersion = "regex-v1"

var (
	splitSlashRe = regexp.MustCompile(`(?i)(\d{2}\s*/\s*\d{2})\s*(?:%\s*)?(?:profit\s+)?(?:split|payout)`)
	splitPctRe   = regexp.MustCompile(`(?i)(?:profit|payout)\s+split(?:\s+of)?[:\s]+(?:up\s+to\s+)?(\d{2,3})\s*%`)
	dailyLossRe  = regexp.MustCompile(`(?i)(?:max(?:imum)?\s+)?daily\s+(?:loss|drawdown)(?:\s+limit)?[^0-9%]{0,24}(\d{1,2}(?:\.\d+)?)\s*%`)
	drawdownRe   = regexp.MustCompile(`(?i)(?:max(?:imum)?|total|overall|trailing)\s+drawdown(?:\s+limit)?[^0-9%]{0,24}(\d{1,2}(?:\.\d+)?)\s*%`)
	targetRe     = regexp.MustCompile(`(?i)profit\s+target[^0-9%]{0,24}(\d{1,2}(?:\.\d+)?)\s*%`)
	leverageRe   = regexp.MustCompile(`(?i)leverage[^0-9]{0,24}(1\s*:\s*\d{1,4})`)
	frequencyRe  = regexp.MustCompile(`(?i)(weekly|bi-?weekly|fortnightly|monthly|every\s+\d+\s+(?:business\s+|calendar\s+)?days?)[^.]{0,40}payout|payouts?[^.]{0,40}\b(weekly|bi-?weekly|fortnightly|monthly|every\s+\d+\s+(?:business\s+|calendar\s+)?days?)\b`)
	priceRe      = regexp.MustCompile(`[$€£]\s?(\d{1,3}(?:[,.]\d{3})*(?:\.\d{2})?)`)
	accountRe    = regexp.MustCompile(`(?i)[$€£]\s?(\d{1,3})\s*[kK]\b`)
	refundRe     = regexp.MustCompile(`(?i)(refund(?:able)?[^.]{0,120}\.)`)
	discountRe   = regexp.MustCompile(`(?i)(?:code|coupon)[:\s]+"?([A-Z0-9]{4,16})"?`)
	currencyRe   = regexp.MustCompile(`\b(USD|EUR|GBP)\b|([$€£])`)
)

var currencySymbols = map[string]string{"$": "USD", "€": "EUR", "£": "GBP"}

// RegexExtract runs the deterministic patterns for a kind over raw text.
// It returns only the fields it matched; callers merge fill-the-gaps.
func RegexExtract(kind crawl.Kind, text string) map[string]any {
	switch kind {
	case crawl.KindRules:
		return regexRules(text)
	case crawl.KindPricing:
		return regexPricing(text)
	default:
		return nil
	}
}

func regexRules(text string) map[string]any {
	out := make(map[string]any)

	if m := splitSlashRe.FindStringSubmatch(text); m != nil {
		out["payout_split"] = strings.ReplaceAll(strings.ReplaceAll(m[1], " ", ""), "\t", "")
	} else if m := splitPctRe.FindStringSubmatch(text); m != nil {
		out["payout_split"] = m[1] + "%"
	}
	if m := dailyLossRe.FindStringSubmatch(text); m != nil {
		out["max_daily_loss"] = m[1] + "%"
	}
	if m := drawdownRe.FindStringSubmatch(text); m != nil {
		out["max_total_drawdown"] = m[1] + "%"
	}
	if m := targetRe.FindStringSubmatch(text); m != nil {
		out["profit_target"] = m[1] + "%"
	}
	if m := leverageRe.FindStringSubmatch(text); m != nil {
		out["leverage"] = strings.ReplaceAll(m[1], " ", "")
	}
	if m := frequencyRe.FindStringSubmatch(text); m != nil {
		freq := m[1]
		if freq == "" {
			freq = m[2]
		}
		out["payout_frequency"] = strings.ToLower(freq)
	}
	return out
}

func regexPricing(text string) map[string]any {
	out := make(map[string]any)

	if m := currencyRe.FindStringSubmatch(text); m != nil {
		if m[1] != "" {
			out["currency"] = m[1]
		} else if code, ok := currencySymbols[m[2]]; ok {
			out["currency"] = code
		}
	}
	if m := refundRe.FindStringSubmatch(text); m != nil {
		out["refund_policy"] = strings.TrimSpace(m[1])
	}
	if m := discountRe.FindStringSubmatch(text); m != nil {
		out["discount_code"] = m[1]
	}

	// Pair account sizes with prices positionally when both lists line up;
	// otherwise emit price-only plan stubs for the merge to union.
	prices := priceRe.FindAllStringSubmatch(text, 8)
	sizes := accountRe.FindAllStringSubmatch(text, 8)
	var plans []any
	for i, p := range prices {
		plan := map[string]any{"price": p[0]}
		if i < len(sizes) {
			plan["account_size"] = "$" + sizes[i][1] + "K"
		}
		plans = append(plans, plan)
	}
	if len(plans) > 0 {
		out["plans"] = plans
	}
	return out
}
