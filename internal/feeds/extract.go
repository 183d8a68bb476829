package feeds

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractText strips HTML markup from feed content, returning plain text.
// Script and style elements are removed entirely. Input that is not valid
// HTML is returned whitespace-normalized.
func ExtractText(content string) string {
	if !strings.Contains(content, "<") {
		return normalizeWhitespace(content)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return normalizeWhitespace(content)
	}

	doc.Find("script, style, noscript").Remove()
	return normalizeWhitespace(doc.Text())
}

func normalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
