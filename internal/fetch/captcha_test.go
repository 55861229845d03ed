package fetch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/firmlens/firmcrawl/internal/crawl"
)

func TestDetectCaptchaClassifiesKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		want crawl.CaptchaKind
	}{
		{"recaptcha", `<div class="g-recaptcha" data-sitekey="key123"></div>`, crawl.CaptchaRecaptcha},
		{"hcaptcha", `<div class="h-captcha" data-sitekey="key456"></div>`, crawl.CaptchaHCaptcha},
		{"cloudflare", `<title>Attention Required! | Cloudflare</title><div id="cf-challenge-running"></div>`, crawl.CaptchaCloudflare},
		{"generic", `<p>please complete the CAPTCHA below</p>`, crawl.CaptchaGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal, found := detectCaptcha([]byte(tt.html), "https://example.com")
			require.True(t, found)
			require.Equal(t, tt.want, signal.Kind)
		})
	}
}

func TestDetectCaptchaExtractsSiteKey(t *testing.T) {
	t.Parallel()

	signal, found := detectCaptcha([]byte(`<div class="g-recaptcha" data-sitekey="6LeIxAcT-key_1"></div>`), "https://example.com")
	require.True(t, found)
	require.Equal(t, "6LeIxAcT-key_1", signal.SiteKey)
}

func TestDetectCaptchaIgnoresCleanPages(t *testing.T) {
	t.Parallel()

	_, found := detectCaptcha([]byte(`<html><body><h1>Trading Rules</h1></body></html>`), "https://example.com")
	require.False(t, found)
}

func TestPDFStreamTextExtraction(t *testing.T) {
	t.Parallel()

	stream := []byte("BT\n/F1 12 Tf\n72 720 Td\n(Profit split: 80/20) Tj\nT*\n(Max drawdown 10\\%) Tj\nET\n")
	text := extractTextFromStream(stream)
	require.Contains(t, text, "Profit split: 80/20")
	require.Contains(t, text, "Max drawdown 10%")
}

func TestLooksLikePDF(t *testing.T) {
	t.Parallel()

	require.True(t, looksLikePDF([]byte("%PDF-1.7"), "", ""))
	require.True(t, looksLikePDF(nil, "application/pdf", ""))
	require.True(t, looksLikePDF(nil, "", "https://example.com/docs/terms.PDF?v=2"))
	require.False(t, looksLikePDF([]byte("<html>"), "text/html", "https://example.com/terms"))
}
