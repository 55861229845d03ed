package fetch

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// HTMLToText extracts readable text from an HTML document. Readability gets
// first shot since it strips boilerplate; when it finds no article body the
// whole visible DOM text is used instead. maxChars of 0 means unbounded.
func HTMLToText(body []byte, rawURL string, maxChars int) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		parsedURL = &url.URL{}
	}

	var text string
	if article, err := readability.FromReader(bytes.NewReader(body), parsedURL); err == nil {
		text = strings.TrimSpace(article.TextContent)
	}
	if text == "" {
		text = domText(body)
	}
	return clipText(text, maxChars)
}

// domText falls back to concatenating visible DOM text.
func domText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, iframe").Remove()
	return normalizeWhitespace(doc.Find("body").Text())
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clipText(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
