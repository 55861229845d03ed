package orchestrate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlugVariants(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		[]string{"example-firm.com", "example-firm", "examplefirm"},
		slugVariants("https://www.example-firm.com"))
	require.Equal(t,
		[]string{"ftmo.com", "ftmo"},
		slugVariants("https://ftmo.com/en"))
	require.Empty(t, slugVariants("not a url at all ://"))
}

func TestExternalCandidatesTrustOrderedAndCapped(t *testing.T) {
	t.Parallel()

	got := externalCandidates("https://example-firm.com")
	require.NotEmpty(t, got)

	// Trust never increases down the list.
	for i := 1; i < len(got); i++ {
		require.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}

	// No slug variant exceeds its cap.
	perVariant := make(map[string]int)
	for _, c := range got {
		for _, variant := range []string{"example-firm.com", "example-firm", "examplefirm"} {
			if strings.Contains(c.URL, variant) {
				perVariant[variant]++
				break
			}
		}
	}
	for variant, count := range perVariant {
		require.LessOrEqual(t, count, maxPerSlugVariant, "variant %s", variant)
	}

	// Highest-trust source leads.
	require.Contains(t, got[0].URL, "trustpilot.com")
}
