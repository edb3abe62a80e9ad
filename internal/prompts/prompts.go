// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompts resolves the bot's system prompts by logical name.
//
// Each name maps to candidate file names, tried in every search directory.
// The first readable file wins; its text is BOM-stripped, trimmed and
// NFC-normalised. When no file exists a built-in default is used, so a
// fresh checkout works without any prompt files.
package prompts

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/meri-bot/internal/util"
)

// Name is a logical prompt name.
type Name string

const (
	System               Name = "system"
	Reasoning            Name = "reasoning"
	ReasoningSearch      Name = "reasoning-search-analysis"
	SearchSummary        Name = "search-summary"
	Summarization        Name = "summarization"
	YouTubeSummarization Name = "youtube-summarization"
	Ranking              Name = "ranking"
	YouTubeRanking       Name = "youtube-ranking"
	Probe                Name = "probe"
)

// BuiltIn is the source reported for a prompt with no file.
const BuiltIn = "built-in"

// candidates lists file names per prompt, most specific first.
var candidates = map[Name][]string{
	System:               {"system_prompt.txt", "example_system_prompt.txt"},
	Reasoning:            {"reasoning_prompt.txt", "example_reasoning_prompt.txt"},
	ReasoningSearch:      {"reasoning_search_analysis_prompt.txt", "example_reasoning_search_analysis_prompt.txt"},
	SearchSummary:        {"summarize_search_prompt.txt", "example_summarize_search_prompt.txt"},
	Summarization:        {"summarization_prompt.txt", "example_summarization_prompt.txt"},
	YouTubeSummarization: {"youtube_summarization_prompt.txt", "example_youtube_summarization_prompt.txt"},
	Ranking:              {"ranking_analysis_prompt.txt", "rank_system_prompt.txt", "example_ranking_analysis_prompt.txt"},
	YouTubeRanking:       {"youtube_ranking_analysis_prompt.txt", "example_youtube_ranking_analysis_prompt.txt"},
	Probe:                {"probe_prompt.txt", "example_probe_prompt.txt"},
}

var defaults = map[Name]string{
	System: "You are Meri, a helpful and friendly assistant in a Discord server. " +
		"Answer clearly and concisely. Use Markdown where it helps readability.",
	Reasoning: "You are a careful reasoning assistant. Work through the problem step by step, " +
		"check your assumptions, and finish with a clear, well-supported conclusion.",
	ReasoningSearch: "You are an analytical research assistant. Using the search results provided, " +
		"analyse the question in depth, compare the sources, note disagreements, " +
		"and give a reasoned conclusion. Cite sources by number.",
	SearchSummary: "You are a research assistant. Using only the search results provided, " +
		"answer the user's question accurately. Cite sources by number and say so when " +
		"the results do not contain the answer.",
	Summarization: "Summarise the following web page. Start with a one-sentence overview, " +
		"then list the key points. Keep the summary faithful to the source.",
	YouTubeSummarization: "Summarise the following video transcript. Start with a one-sentence overview, " +
		"then list the main topics and key takeaways in the order they appear.",
	Ranking: "Evaluate the following content. Rate its quality, accuracy, clarity and usefulness " +
		"on a scale of 1 to 10 each, justify every score briefly, and finish with an overall verdict.",
	YouTubeRanking: "Evaluate the following video transcript. Rate its quality, accuracy, clarity and " +
		"usefulness on a scale of 1 to 10 each, justify every score briefly, and finish with an overall verdict.",
	Probe: "Decide whether the user's message needs a live web search to answer well " +
		"(current events, recent releases, prices, or facts you are unsure about). " +
		"If it does, reply with exactly one line: SEARCH_NEEDED: <search query>. " +
		"Otherwise reply with: ANSWER_DIRECTLY.",
}

// Names returns every logical prompt name.
func Names() []Name {
	return []Name{System, Reasoning, ReasoningSearch, SearchSummary,
		Summarization, YouTubeSummarization, Ranking, YouTubeRanking, Probe}
}

// Candidates returns the file names tried for name.
func Candidates(name Name) []string {
	return append([]string(nil), candidates[name]...)
}

// Normalize prepares prompt file text for use.
func Normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(util.StripBOM(s)))
}

type entry struct {
	text   string
	source string
}

// Library caches resolved prompts. It is safe for concurrent use.
type Library struct {
	dirs   []string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[Name]entry
}

// NewLibrary searches dirs in order for prompt files.
func NewLibrary(dirs []string, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		dirs:   append([]string(nil), dirs...),
		logger: logger.With(slog.String("component", "prompts")),
		cache:  make(map[Name]entry),
	}
}

// Dirs returns the search directories.
func (l *Library) Dirs() []string {
	return append([]string(nil), l.dirs...)
}

// Get returns the prompt text for name.
func (l *Library) Get(name Name) string {
	return l.resolve(name).text
}

// Source returns the file the prompt came from, or BuiltIn.
func (l *Library) Source(name Name) string {
	return l.resolve(name).source
}

// Invalidate drops every cached prompt; the next Get rereads the files.
func (l *Library) Invalidate() {
	l.mu.Lock()
	l.cache = make(map[Name]entry)
	l.mu.Unlock()
	l.logger.Debug("prompt cache invalidated")
}

// SetDirs replaces the search directories and invalidates the cache.
func (l *Library) SetDirs(dirs []string) {
	l.mu.Lock()
	l.dirs = append([]string(nil), dirs...)
	l.cache = make(map[Name]entry)
	l.mu.Unlock()
}

func (l *Library) resolve(name Name) entry {
	l.mu.RLock()
	e, ok := l.cache[name]
	dirs := l.dirs
	l.mu.RUnlock()
	if ok {
		return e
	}

	e = l.load(name, dirs)

	l.mu.Lock()
	l.cache[name] = e
	l.mu.Unlock()
	return e
}

func (l *Library) load(name Name, dirs []string) entry {
	for _, dir := range dirs {
		for _, file := range candidates[name] {
			path := filepath.Join(dir, file)
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			text := Normalize(string(data))
			if text == "" {
				l.logger.Warn("prompt file is empty, skipping", slog.String("path", path))
				continue
			}
			l.logger.Debug("loaded prompt", slog.String("name", string(name)), slog.String("path", path))
			return entry{text: text, source: path}
		}
	}
	return entry{text: defaults[name], source: BuiltIn}
}

// isPromptFile reports whether base is a candidate for any prompt.
func isPromptFile(base string) bool {
	for _, files := range candidates {
		for _, f := range files {
			if f == base {
				return true
			}
		}
	}
	return false
}
