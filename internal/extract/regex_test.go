package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/firmlens/firmcrawl/internal/crawl"
)

func TestRegexRulesPatterns(t *testing.T) {
	t.Parallel()

	text := `Our evaluation offers a profit target of just 10% with a maximum
daily loss of 5% and a maximum drawdown of 12%. Funded traders keep an
80/20 profit split with bi-weekly payouts and leverage of 1:50.`

	got := RegexExtract(crawl.KindRules, text)
	require.Equal(t, "80/20", got["payout_split"])
	require.Equal(t, "5%", got["max_daily_loss"])
	require.Equal(t, "12%", got["max_total_drawdown"])
	require.Equal(t, "10%", got["profit_target"])
	require.Equal(t, "1:50", got["leverage"])
	require.Equal(t, "bi-weekly", got["payout_frequency"])
}

func TestRegexRulesPercentSplitFallback(t *testing.T) {
	t.Parallel()

	got := RegexExtract(crawl.KindRules, "Traders receive a profit split of up to 90% on all withdrawals.")
	require.Equal(t, "90%", got["payout_split"])
}

func TestRegexPricingPatterns(t *testing.T) {
	t.Parallel()

	text := `Starter plan $99.00 and the Pro plan $299.00. All prices in USD.
Fees are fully refundable with your first payout. Use code WELCOME10 at checkout.`

	got := RegexExtract(crawl.KindPricing, text)
	require.Equal(t, "USD", got["currency"])
	require.Equal(t, "WELCOME10", got["discount_code"])
	require.Contains(t, got["refund_policy"], "refundable")

	plans, ok := got["plans"].([]any)
	require.True(t, ok)
	require.Len(t, plans, 2)
	first, ok := plans[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "$99.00", first["price"])
}

func TestRegexNoMatchesYieldsEmptyMap(t *testing.T) {
	t.Parallel()

	got := RegexExtract(crawl.KindRules, "Welcome to our company blog about markets.")
	require.Empty(t, got)
}
