// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fetch

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/offline"
	"github.com/jeranaias/meri-bot/internal/util"
)

// Defaults for page fetching.
const (
	DefaultMaxPageChars = 15000
	DefaultTimeout      = 30 * time.Second
	maxPageBytes        = 10 * 1024 * 1024
	maxRedirects        = 5
)

// TruncationMarker is appended to page text cut at the character limit.
const TruncationMarker = "\n\n[Content truncated]"

var (
	scriptRegex  = regexp.MustCompile(`(?is)<(script|style|noscript|svg|iframe)\b.*?</(script|style|noscript|svg|iframe)>`)
	commentRegex = regexp.MustCompile(`(?s)<!--.*?-->`)
	titleRegex   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	blockRegex   = regexp.MustCompile(`(?i)</?(p|div|br|li|h[1-6]|tr|section|article|header|footer|blockquote)\b[^>]*>`)
)

// Page is a fetched and cleaned web page.
type Page struct {
	URL       string
	Title     string
	Text      string
	Truncated bool
}

// Pages fetches web pages as plain text.
type Pages struct {
	Client    *http.Client
	UserAgent string
	MaxChars  int
	Guard     *offline.Guard
	Logger    *slog.Logger

	policy *bluemonday.Policy
}

// NewPages returns a fetcher. A nil client gets a default one with timeout.
func NewPages(client *http.Client, userAgent string, maxChars int, guard *offline.Guard, logger *slog.Logger) *Pages {
	if client == nil {
		client = &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errors.New("too many redirects")
				}
				return nil
			},
		}
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxPageChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pages{
		Client:    client,
		UserAgent: userAgent,
		MaxChars:  maxChars,
		Guard:     guard,
		Logger:    logger,
		policy:    bluemonday.StrictPolicy(),
	}
}

// Fetch downloads url and returns its readable text.
func (p *Pages) Fetch(ctx context.Context, url string) (Page, error) {
	if err := p.Guard.CheckWebAccess(); err != nil {
		return Page{}, apperr.ExternalTool("web fetch", err.Error(), err)
	}
	u, err := offline.ParseWebURL(url)
	if err != nil {
		return Page{}, apperr.ExternalTool("web fetch", "invalid URL", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, apperr.ExternalTool("web fetch", "invalid URL", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		return Page{}, apperr.ExternalTool("web fetch", "could not reach the page", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Page{}, apperr.ExternalTool("web fetch", fmt.Sprintf("HTTP error: %s", resp.Status), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Page{}, apperr.ExternalTool("web fetch", "failed to read the page", err)
	}

	page := Page{URL: resp.Request.URL.String()}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(contentType, "text/plain") {
		page.Text = util.CollapseWhitespace(string(body))
	} else {
		page.Title, page.Text = p.Clean(string(body))
	}
	if page.Text == "" {
		return Page{}, apperr.ExternalTool("web fetch", "the page has no readable text", nil)
	}
	if util.RuneLen(page.Text) > p.MaxChars {
		page.Text = util.TruncateRunesNoEllipsis(page.Text, p.MaxChars) + TruncationMarker
		page.Truncated = true
	}

	p.Logger.InfoContext(ctx, "fetched page",
		slog.String("host", u.Hostname()),
		slog.Int("chars", util.RuneLen(page.Text)),
		slog.Bool("truncated", page.Truncated),
		slog.Duration("elapsed", time.Since(start)))
	return page, nil
}

// Clean strips markup from an HTML document and returns its title and
// plain text. Block elements become line breaks.
func (p *Pages) Clean(doc string) (title, text string) {
	if m := titleRegex.FindStringSubmatch(doc); m != nil {
		title = strings.Join(strings.Fields(html.UnescapeString(m[1])), " ")
	}
	doc = scriptRegex.ReplaceAllString(doc, "")
	doc = commentRegex.ReplaceAllString(doc, "")
	doc = titleRegex.ReplaceAllString(doc, "")
	doc = blockRegex.ReplaceAllString(doc, "\n")

	policy := p.policy
	if policy == nil {
		policy = bluemonday.StrictPolicy()
	}
	text = html.UnescapeString(policy.Sanitize(doc))
	return title, util.CollapseWhitespace(text)
}
