// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fetch

import (
	"context"
	"strings"
)

// Kind says where fetched content came from.
type Kind string

const (
	KindVideo Kind = "video"
	KindPage  Kind = "page"
)

// Content is extracted text ready for a model.
type Content struct {
	URL       string
	Title     string
	Text      string
	Kind      Kind
	Truncated bool
	Cached    bool
}

// Fetcher routes a URL to the transcript or the page fetcher.
type Fetcher struct {
	Transcripts *Transcripts
	Pages       *Pages
}

// Fetch returns the text behind url: a transcript for YouTube URLs, the
// readable page text otherwise.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Content, error) {
	url = strings.Trim(strings.TrimSpace(url), "<>")
	if IsYouTubeURL(url) {
		t, err := f.Transcripts.Fetch(ctx, url)
		if err != nil {
			return Content{}, err
		}
		return Content{URL: t.URL, Text: t.Text, Kind: KindVideo, Cached: t.Cached}, nil
	}
	p, err := f.Pages.Fetch(ctx, url)
	if err != nil {
		return Content{}, err
	}
	return Content{URL: p.URL, Title: p.Title, Text: p.Text, Kind: KindPage, Truncated: p.Truncated}, nil
}

// FetchText is Fetch for callers that only need the text.
func (f *Fetcher) FetchText(ctx context.Context, url string) (string, error) {
	c, err := f.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return c.Text, nil
}
