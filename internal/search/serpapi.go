// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DefaultSerpAPIURL is SerpAPI's JSON search endpoint.
const DefaultSerpAPIURL = "https://serpapi.com/search.json"

// SerpAPI searches Google through SerpAPI.
type SerpAPI struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewSerpAPI returns a provider using client (nil for a default).
func NewSerpAPI(client *http.Client, apiKey string) *SerpAPI {
	return &SerpAPI{BaseURL: DefaultSerpAPIURL, APIKey: apiKey, Client: newHTTPClient(client)}
}

// Name implements Provider.
func (s *SerpAPI) Name() string { return "serpapi" }

type serpResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
}

// Search implements Provider.
func (s *SerpAPI) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if s.APIKey == "" {
		return nil, errors.New("no SerpAPI key configured (SERPAPI_KEY in botconfig.txt)")
	}
	base := s.BaseURL
	if base == "" {
		base = DefaultSerpAPIURL
	}

	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("api_key", s.APIKey)
	if maxResults > 0 {
		params.Set("num", strconv.Itoa(maxResults))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := newHTTPClient(s.Client).Do(req)
	if err != nil {
		// The request URL carries the key; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return nil, fmt.Errorf("request failed: %w", uerr.Err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	var parsed serpResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("HTTP error: %s", resp.Status)
		}
		return nil, fmt.Errorf("invalid SerpAPI response: %w", err)
	}
	if parsed.Error != "" {
		// "Google hasn't returned any results" is reported as an error.
		if strings.Contains(strings.ToLower(parsed.Error), "any results") {
			return nil, nil
		}
		return nil, fmt.Errorf("SerpAPI: %s", parsed.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	var results []Result
	for _, r := range parsed.OrganicResults {
		if r.Title == "" || r.Link == "" {
			continue
		}
		results = append(results, Result{
			Title:   strings.TrimSpace(r.Title),
			URL:     r.Link,
			Snippet: strings.TrimSpace(r.Snippet),
		})
		if maxResults > 0 && len(results) >= maxResults {
			break
		}
	}
	return results, nil
}
