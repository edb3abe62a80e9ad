// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package search runs web searches for search-augmented answers.
//
// Two providers are supported: DuckDuckGo's HTML endpoint (no key) and
// SerpAPI's Google engine (key required). A Searcher tries its primary
// provider first and falls back to the other one when the primary fails or
// finds nothing. Outgoing requests share one rate limiter.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/offline"
	"github.com/jeranaias/meri-bot/internal/util"
)

// =============================================================================
// TYPES
// =============================================================================

// Result is one search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Provider performs a search against one engine.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// ErrNoResults is returned when every provider came back empty.
var ErrNoResults = errors.New("no results found")

// Default limits.
const (
	DefaultMaxResults = 5
	DefaultTimeout    = 15 * time.Second
	DefaultUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	maxBodyBytes = 5 * 1024 * 1024
)

// =============================================================================
// SEARCHER
// =============================================================================

// Config configures a Searcher.
type Config struct {
	Primary  Provider
	Fallback Provider // optional

	MaxResults        int
	Timeout           time.Duration
	RequestsPerMinute int

	Guard  *offline.Guard
	Logger *slog.Logger
}

// Searcher runs queries with fallback, throttling and the offline guard.
type Searcher struct {
	primary    Provider
	fallback   Provider
	maxResults int
	timeout    time.Duration
	limiter    *rate.Limiter
	guard      *offline.Guard
	logger     *slog.Logger
}

// New creates a Searcher. Primary must be set.
func New(cfg Config) *Searcher {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		primary:    cfg.Primary,
		fallback:   cfg.Fallback,
		maxResults: cfg.MaxResults,
		timeout:    cfg.Timeout,
		limiter:    rate.NewLimiter(limit, 1),
		guard:      cfg.Guard,
		logger:     logger.With(slog.String("component", "search")),
	}
}

// Providers returns the configured provider names, primary first.
func (s *Searcher) Providers() []string {
	names := []string{s.primary.Name()}
	if s.fallback != nil {
		names = append(names, s.fallback.Name())
	}
	return names
}

// Search returns up to MaxResults hits for query. Failures are reported as
// ExternalToolError; an empty result set wraps ErrNoResults.
func (s *Searcher) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.ExternalTool("web search", "empty search query", nil)
	}
	if err := s.guard.CheckWebAccess(); err != nil {
		return nil, apperr.ExternalTool("web search", err.Error(), err)
	}

	var errs []error
	for _, p := range []Provider{s.primary, s.fallback} {
		if p == nil {
			continue
		}
		results, err := s.run(ctx, p, query)
		if err == nil && len(results) > 0 {
			return results, nil
		}
		if err == nil {
			err = fmt.Errorf("%s: %w", p.Name(), ErrNoResults)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.WarnContext(ctx, "search provider failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	joined := errors.Join(errs...)
	if allNoResults(errs) {
		return nil, apperr.ExternalTool("web search", fmt.Sprintf("no results found for %q", query), joined)
	}
	return nil, apperr.ExternalTool("web search", "search failed", joined)
}

func (s *Searcher) run(ctx context.Context, p Provider, query string) ([]Result, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	results, err := p.Search(ctx, query, s.maxResults)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	if len(results) > s.maxResults {
		results = results[:s.maxResults]
	}
	s.logger.DebugContext(ctx, "search complete",
		slog.String("provider", p.Name()),
		slog.Int("results", len(results)),
		slog.Duration("elapsed", time.Since(start)))
	return results, nil
}

func allNoResults(errs []error) bool {
	for _, err := range errs {
		if !errors.Is(err, ErrNoResults) {
			return false
		}
	}
	return len(errs) > 0
}

// =============================================================================
// FORMATTING
// =============================================================================

// FormatForModel renders results as the context block given to the model.
func FormatForModel(results []Result) string {
	var b strings.Builder
	for i, r := range results {
		snippet := r.Snippet
		if snippet == "" {
			snippet = "No description available"
		}
		fmt.Fprintf(&b, "Source %d: %s\nURL: %s\nContent: %s\n\n", i+1, r.Title, r.URL, snippet)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatForUser renders results as a chat message.
func FormatForUser(query string, results []Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 **Search Results for:** `%s`\n\n", query)
	for i, r := range results {
		snippet := util.TruncateRunes(r.Snippet, 300)
		if snippet == "" {
			snippet = "*No description available*"
		}
		fmt.Fprintf(&b, "**%d. %s**\n%s\n🔗 <%s>\n\n", i+1, r.Title, snippet, r.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Sources renders a compact numbered link list for a response footer.
func Sources(results []Result) string {
	var b strings.Builder
	b.WriteString("\n\n**Sources:**")
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. [%s](<%s>)", i+1, util.TruncateRunes(r.Title, 80), r.URL)
	}
	return b.String()
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

func newHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
}

// ProvidersFor returns the primary and fallback providers for the named
// primary ("duckduckgo" or "serpapi"). SerpAPI is only used as a fallback
// when a key is set.
func ProvidersFor(primary, serpAPIKey, userAgent string, client *http.Client) (Provider, Provider) {
	ddg := NewDuckDuckGo(client, userAgent)
	serp := NewSerpAPI(client, serpAPIKey)
	if strings.EqualFold(primary, "serpapi") {
		return serp, ddg
	}
	if serpAPIKey == "" {
		return ddg, nil
	}
	return ddg, serp
}
