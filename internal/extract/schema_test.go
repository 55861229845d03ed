package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/firmlens/firmcrawl/internal/crawl"
)

func TestMergeIsMonotone(t *testing.T) {
	t.Parallel()

	record := NewRecord(crawl.KindRules)
	record.Merge(map[string]any{
		"payout_split":   "80/20",
		"max_daily_loss": "5%",
		"instruments":    []any{"forex"},
	})

	// A later pass never clears or changes an already populated scalar.
	record.Merge(map[string]any{
		"payout_split":   "50/50",
		"max_daily_loss": nil,
		"profit_target":  "10%",
		"instruments":    []any{"indices", "forex"},
	})

	require.Equal(t, "80/20", record.Fields["payout_split"])
	require.Equal(t, "5%", record.Fields["max_daily_loss"])
	require.Equal(t, "10%", record.Fields["profit_target"])
	require.Equal(t, []any{"forex", "indices"}, record.Fields["instruments"])
}

func TestMergeIgnoresEmptyIncoming(t *testing.T) {
	t.Parallel()

	record := NewRecord(crawl.KindRules)
	record.Merge(map[string]any{
		"payout_split": "",
		"leverage":     nil,
		"instruments":  []any{},
	})

	require.Nil(t, record.Fields["payout_split"])
	require.Nil(t, record.Fields["leverage"])
	require.Nil(t, record.Fields["instruments"])
}

func TestMergeUnionsStructuredLists(t *testing.T) {
	t.Parallel()

	record := NewRecord(crawl.KindPricing)
	record.Merge(map[string]any{
		"plans": []any{map[string]any{"name": "starter", "price": "$99"}},
	})
	record.Merge(map[string]any{
		"plans": []any{
			map[string]any{"name": "starter", "price": "$99"},
			map[string]any{"name": "pro", "price": "$299"},
		},
	})

	plans, ok := record.Fields["plans"].([]any)
	require.True(t, ok)
	require.Len(t, plans, 2)
}

func TestSatisfiedRequiresKeyField(t *testing.T) {
	t.Parallel()

	record := NewRecord(crawl.KindRules)
	require.False(t, record.Satisfied())

	record.Merge(map[string]any{"instruments": []any{"forex"}})
	require.False(t, record.Satisfied(), "non-key fields alone do not satisfy")

	record.Merge(map[string]any{"max_total_drawdown": "10%"})
	require.True(t, record.Satisfied())

	pricing := NewRecord(crawl.KindPricing)
	pricing.Merge(map[string]any{"currency": "USD"})
	require.False(t, pricing.Satisfied())
	pricing.Merge(map[string]any{"plans": []any{map[string]any{"price": "$99"}}})
	require.True(t, pricing.Satisfied())
}

func TestNewRecordCarriesEverySchemaField(t *testing.T) {
	t.Parallel()

	for _, kind := range crawl.Kinds {
		record := NewRecord(kind)
		require.Len(t, record.Fields, len(Schema(kind)))
		for _, def := range Schema(kind) {
			require.Contains(t, record.Fields, def.Name)
		}
	}
}
