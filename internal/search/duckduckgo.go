// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// =============================================================================
// DUCKDUCKGO PROVIDER
// =============================================================================

// DefaultDuckDuckGoURL is the HTML search endpoint.
const DefaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"

// DuckDuckGo searches via DuckDuckGo's HTML interface.
type DuckDuckGo struct {
	// BaseURL is the HTML search endpoint (default: DefaultDuckDuckGoURL).
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

// NewDuckDuckGo returns a provider using client (nil for a default).
func NewDuckDuckGo(client *http.Client, userAgent string) *DuckDuckGo {
	return &DuckDuckGo{BaseURL: DefaultDuckDuckGoURL, UserAgent: userAgent, Client: newHTTPClient(client)}
}

// Name implements Provider.
func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search implements Provider.
func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	base := d.BaseURL
	if base == "" {
		base = DefaultDuckDuckGoURL
	}
	ua := d.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	// Go's transport negotiates gzip itself; setting Accept-Encoding would
	// disable transparent decompression.
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := newHTTPClient(d.Client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse results page: %w", err)
	}
	return parseDuckDuckGo(doc, maxResults), nil
}

// parseDuckDuckGo extracts results from the HTML endpoint's markup:
//
//	<div class="result results_links web-result">
//	  <a class="result__a" href="//duckduckgo.com/l/?uddg=URL">Title</a>
//	  <a class="result__snippet" href="...">Snippet</a>
//	</div>
func parseDuckDuckGo(doc *html.Node, maxResults int) []Result {
	var results []Result
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if maxResults > 0 && len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") && !hasClass(n, "result--ad") {
			if r, ok := resultFromNode(n); ok {
				results = append(results, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

func resultFromNode(n *html.Node) (Result, bool) {
	title := findElement(n, "a", "result__a")
	if title == nil {
		return Result{}, false
	}
	link := extractActualURL(attr(title, "href"))
	text := nodeText(title)
	if link == "" || text == "" {
		return Result{}, false
	}
	r := Result{Title: text, URL: link}
	if snippet := findElement(n, "", "result__snippet"); snippet != nil {
		r.Snippet = nodeText(snippet)
	}
	return r, true
}

// extractActualURL unwraps DuckDuckGo's //duckduckgo.com/l/?uddg=<url>
// redirect. Direct http(s) links are returned unchanged.
func extractActualURL(ddgURL string) string {
	if strings.HasPrefix(ddgURL, "//") {
		ddgURL = "https:" + ddgURL
	} else if strings.HasPrefix(ddgURL, "/") {
		ddgURL = "https://duckduckgo.com" + ddgURL
	}
	if strings.Contains(ddgURL, "uddg=") {
		parsed, err := url.Parse(ddgURL)
		if err != nil {
			return ""
		}
		if target := parsed.Query().Get("uddg"); target != "" {
			return target
		}
	}
	if strings.HasPrefix(ddgURL, "http://") || strings.HasPrefix(ddgURL, "https://") {
		return ddgURL
	}
	return ""
}

// =============================================================================
// NODE HELPERS
// =============================================================================

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// findElement returns the first descendant with the given tag (any tag
// when empty) and class.
func findElement(n *html.Node, tag, class string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (tag == "" || c.Data == tag) && hasClass(c, class) {
			return c
		}
		if found := findElement(c, tag, class); found != nil {
			return found
		}
	}
	return nil
}

// nodeText returns n's text content with whitespace collapsed. Entities
// are already decoded by the parser.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
