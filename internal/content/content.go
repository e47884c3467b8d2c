// Package content extracts page metadata from fetched HTML bodies.
package content

import (
	"bytes"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Page holds everything extracted from one HTML document. Links and Images
// are deduplicated sets of absolute URLs, sorted for stable output.
type Page struct {
	Title       string
	Description string
	TextContent string
	Links       []string
	Images      []string
}

// Extract parses the body and pulls out the title, meta description,
// distinct outbound links, distinct image references, and best-effort main
// text. pageURL anchors readability's relative-reference handling.
func Extract(pageURL string, body []byte) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}

	page := Page{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: description(doc),
		Links:       collectAttr(doc, "a[href]", "href"),
		Images:      collectAttr(doc, "img[src]", "src"),
	}
	page.TextContent = mainText(pageURL, body)
	return page, nil
}

func description(doc *goquery.Document) string {
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		return strings.TrimSpace(desc)
	}
	if desc, ok := doc.Find(`meta[property="og:description"]`).First().Attr("content"); ok {
		return strings.TrimSpace(desc)
	}
	return ""
}

func collectAttr(doc *goquery.Document, selector, attr string) []string {
	seen := make(map[string]struct{})
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		value, ok := sel.Attr(attr)
		if !ok {
			return
		}
		value = strings.TrimSpace(value)
		if !isAbsoluteURL(value) {
			return
		}
		seen[value] = struct{}{}
	})

	out := make([]string, 0, len(seen))
	for value := range seen {
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}

// isAbsoluteURL keeps only references with both a scheme and a host,
// matching how occurrence counts are defined.
func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

func mainText(pageURL string, body []byte) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		parsed = nil
	}
	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.TextContent)
}
