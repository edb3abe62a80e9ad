// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/offline"
)

const ddgPage = `<!DOCTYPE html>
<html><body>
<div class="result results_links result--ad">
  <a class="result__a" href="https://ads.example.com">Sponsored</a>
</div>
<div class="result results_links results_links_deep web-result ">
  <h2 class="result__title">
    <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&amp;rut=abc">The <b>Go</b> Programming   Language</a>
  </h2>
  <a class="result__snippet" href="//duckduckgo.com/l/?uddg=x">Documentation &amp; <b>tutorials</b> for Go.</a>
</div>
<div class="result results_links web-result">
  <a class="result__a" href="https://pkg.go.dev/">Go Packages</a>
</div>
<div class="result results_links web-result">
  <a class="result__a" href="javascript:void(0)">Broken</a>
</div>
</body></html>`

func TestDuckDuckGo_Search(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotUA = r.Header.Get("User-Agent")
		io.WriteString(w, ddgPage)
	}))
	defer srv.Close()

	d := &DuckDuckGo{BaseURL: srv.URL + "/html/", UserAgent: "test-agent", Client: srv.Client()}
	results, err := d.Search(context.Background(), "golang docs", 5)
	require.NoError(t, err)

	assert.Equal(t, "golang docs", gotQuery)
	assert.Equal(t, "test-agent", gotUA)
	require.Len(t, results, 2)
	assert.Equal(t, Result{
		Title:   "The Go Programming Language",
		URL:     "https://go.dev/doc/",
		Snippet: "Documentation & tutorials for Go.",
	}, results[0])
	assert.Equal(t, "https://pkg.go.dev/", results[1].URL)
	assert.Empty(t, results[1].Snippet)
}

func TestDuckDuckGo_MaxResultsAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "blocked" {
			http.Error(w, "nope", http.StatusForbidden)
			return
		}
		io.WriteString(w, ddgPage)
	}))
	defer srv.Close()

	d := &DuckDuckGo{BaseURL: srv.URL, Client: srv.Client()}
	results, err := d.Search(context.Background(), "x", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	_, err = d.Search(context.Background(), "blocked", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestExtractActualURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fa%3Fb%3Dc&rut=1", "https://example.com/a?b=c"},
		{"/l/?uddg=https%3A%2F%2Fexample.org", "https://example.org"},
		{"https://direct.example.com/", "https://direct.example.com/"},
		{"javascript:void(0)", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := extractActualURL(tt.in); got != tt.want {
			t.Errorf("extractActualURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSerpAPI_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "google", q.Get("engine"))
		assert.Equal(t, "secret", q.Get("api_key"))
		switch q.Get("q") {
		case "none":
			io.WriteString(w, `{"error":"Google hasn't returned any results for this query."}`)
		case "bad key":
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":"Invalid API key."}`)
		default:
			io.WriteString(w, `{"organic_results":[
				{"title":"One","link":"https://one.example","snippet":" first "},
				{"title":"","link":"https://skip.example"},
				{"title":"Two","link":"https://two.example","snippet":"second"}]}`)
		}
	}))
	defer srv.Close()

	s := &SerpAPI{BaseURL: srv.URL, APIKey: "secret", Client: srv.Client()}

	results, err := s.Search(context.Background(), "go", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Snippet)
	assert.Equal(t, "https://two.example", results[1].URL)

	results, err = s.Search(context.Background(), "none", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = s.Search(context.Background(), "bad key", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API key")

	_, err = (&SerpAPI{}).Search(context.Background(), "go", 5)
	assert.ErrorContains(t, err, "SERPAPI_KEY")
}

type fakeProvider struct {
	name    string
	results []Result
	err     error
	calls   atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	f.calls.Add(1)
	return f.results, f.err
}

func hits(n int) []Result {
	var out []Result
	for i := 1; i <= n; i++ {
		out = append(out, Result{Title: fmt.Sprintf("t%d", i), URL: fmt.Sprintf("https://%d.example", i)})
	}
	return out
}

func TestSearcher_Fallback(t *testing.T) {
	tests := []struct {
		name          string
		primary       *fakeProvider
		fallback      *fakeProvider
		wantResults   int
		wantFallback  int32
		wantErrSubstr string
	}{
		{
			name:         "primary succeeds",
			primary:      &fakeProvider{name: "a", results: hits(3)},
			fallback:     &fakeProvider{name: "b", results: hits(1)},
			wantResults:  3,
			wantFallback: 0,
		},
		{
			name:         "primary errors",
			primary:      &fakeProvider{name: "a", err: errors.New("boom")},
			fallback:     &fakeProvider{name: "b", results: hits(2)},
			wantResults:  2,
			wantFallback: 1,
		},
		{
			name:         "primary empty",
			primary:      &fakeProvider{name: "a"},
			fallback:     &fakeProvider{name: "b", results: hits(1)},
			wantResults:  1,
			wantFallback: 1,
		},
		{
			name:          "both empty",
			primary:       &fakeProvider{name: "a"},
			fallback:      &fakeProvider{name: "b"},
			wantFallback:  1,
			wantErrSubstr: "no results found",
		},
		{
			name:          "both fail",
			primary:       &fakeProvider{name: "a", err: errors.New("boom")},
			fallback:      &fakeProvider{name: "b", err: errors.New("bang")},
			wantFallback:  1,
			wantErrSubstr: "search failed",
		},
		{
			name:        "truncates",
			primary:     &fakeProvider{name: "a", results: hits(9)},
			fallback:    &fakeProvider{name: "b"},
			wantResults: DefaultMaxResults,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{Primary: tt.primary, Fallback: tt.fallback})
			results, err := s.Search(context.Background(), "query")
			if tt.wantErrSubstr != "" {
				require.Error(t, err)
				assert.True(t, apperr.IsKind(err, apperr.KindExternalTool))
				assert.Contains(t, err.Error(), tt.wantErrSubstr)
			} else {
				require.NoError(t, err)
				assert.Len(t, results, tt.wantResults)
			}
			assert.Equal(t, tt.wantFallback, tt.fallback.calls.Load())
		})
	}
}

func TestSearcher_OfflineAndEmptyQuery(t *testing.T) {
	p := &fakeProvider{name: "a", results: hits(1)}
	s := New(Config{Primary: p, Guard: offline.NewGuard(true)})

	_, err := s.Search(context.Background(), "anything")
	assert.ErrorIs(t, err, offline.ErrWebBlocked)
	assert.Zero(t, p.calls.Load())

	s = New(Config{Primary: p})
	_, err = s.Search(context.Background(), "   ")
	assert.True(t, apperr.IsKind(err, apperr.KindExternalTool))
}

func TestProvidersFor(t *testing.T) {
	p, f := ProvidersFor("duckduckgo", "", "", nil)
	assert.Equal(t, "duckduckgo", p.Name())
	assert.Nil(t, f)

	p, f = ProvidersFor("duckduckgo", "key", "", nil)
	assert.Equal(t, "serpapi", f.Name())

	p, f = ProvidersFor("SerpAPI", "key", "", nil)
	assert.Equal(t, "serpapi", p.Name())
	assert.Equal(t, "duckduckgo", f.Name())
}

func TestFormatting(t *testing.T) {
	results := []Result{
		{Title: "One", URL: "https://one.example", Snippet: "first"},
		{Title: "Two", URL: "https://two.example"},
	}

	model := FormatForModel(results)
	assert.Equal(t, "Source 1: One\nURL: https://one.example\nContent: first\n\n"+
		"Source 2: Two\nURL: https://two.example\nContent: No description available", model)

	user := FormatForUser("q", results)
	assert.True(t, strings.HasPrefix(user, "🔍 **Search Results for:** `q`"))
	assert.Contains(t, user, "**2. Two**\n*No description available*")

	assert.Contains(t, Sources(results), "1. [One](<https://one.example>)")
}
