package crawl

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is the parsed form of a fetched HTML document.
type Page struct {
	// Text is the concatenated visible text with collapsed whitespace.
	Text string
	// Links are the raw href values resolved against the page URL.
	Links []string
}

// nonContentSelectors lists elements whose text is never page content.
const nonContentSelectors = "script, style, noscript"

// ParsePage parses HTML, extracts the visible text, and resolves every
// <a href> link against baseURL. Only http/https links with a non-empty
// host are kept.
func ParsePage(body []byte, baseURL string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}

	return &Page{
		Text:  extractText(doc),
		Links: extractLinks(doc, base),
	}, nil
}

// extractText returns the document's visible text with runs of whitespace
// collapsed to single spaces.
func extractText(doc *goquery.Document) string {
	doc.Find(nonContentSelectors).Remove()

	root := doc.Find("body").First()
	if root.Length() == 0 {
		root = doc.Selection
	}

	return strings.Join(strings.Fields(root.Text()), " ")
}

// extractLinks resolves each anchor href against the base URL, keeping
// only absolute http/https results.
func extractLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}

		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}

		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if resolved.Host == "" {
			return
		}

		links = append(links, resolved.String())
	})

	return links
}
