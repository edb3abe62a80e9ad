// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tokens estimates prompt sizes so history and fetched content fit
// the model's context window.
//
// Counting uses the cl100k_base encoding. Local models use many different
// tokenizers, so counts are an estimate either way; when the encoding
// cannot be loaded (it is fetched once and cached by tiktoken-go) the
// counter falls back to four characters per token.
package tokens

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jeranaias/meri-bot/internal/llm"
)

// Encoding is the tiktoken encoding used for estimates.
const Encoding = "cl100k_base"

// Per-message framing overhead, as counted for chat-format prompts.
const (
	messageOverhead = 4
	replyOverhead   = 3
)

// Counter counts tokens. The zero value estimates from length.
type Counter struct {
	enc *tiktoken.Tiktoken
}

var (
	sharedOnce    sync.Once
	sharedCounter *Counter
)

// Shared returns a process-wide counter, loading the encoding on first use.
func Shared() *Counter {
	sharedOnce.Do(func() {
		sharedCounter = NewCounter()
	})
	return sharedCounter
}

// NewCounter loads the encoding, or returns an estimating counter when it
// is unavailable.
func NewCounter() *Counter {
	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		return &Counter{}
	}
	return &Counter{enc: enc}
}

// Exact reports whether counts come from the tokenizer.
func (c *Counter) Exact() bool {
	return c != nil && c.enc != nil
}

// Count returns the token count of s.
func (c *Counter) Count(s string) int {
	if s == "" {
		return 0
	}
	if !c.Exact() {
		return (utf8.RuneCountInString(s) + 3) / 4
	}
	return len(c.enc.Encode(s, nil, nil))
}

// CountMessages returns the prompt size of msgs including framing.
func (c *Counter) CountMessages(msgs []llm.Message) int {
	n := replyOverhead
	for _, m := range msgs {
		n += messageOverhead + c.Count(string(m.Role)) + c.Count(m.Content)
	}
	return n
}

// FitHistory drops the oldest history messages until system, history and
// prompt together fit budget. Messages are dropped from the front in
// user/assistant pairs so the history never starts with a reply. The
// returned slice may be empty; system and prompt are never dropped.
func (c *Counter) FitHistory(system, history []llm.Message, prompt llm.Message, budget int) []llm.Message {
	fixed := c.CountMessages(system) + messageOverhead + c.Count(string(prompt.Role)) + c.Count(prompt.Content)

	sizes := make([]int, len(history))
	total := fixed
	for i, m := range history {
		sizes[i] = messageOverhead + c.Count(string(m.Role)) + c.Count(m.Content)
		total += sizes[i]
	}

	start := 0
	for total > budget && start < len(history) {
		total -= sizes[start]
		start++
		for start < len(history) && history[start].Role == llm.RoleAssistant {
			total -= sizes[start]
			start++
		}
	}
	return history[start:]
}

// Split breaks text into pieces of at most maxTokens each, preferring line
// boundaries. Lines longer than maxTokens are cut on rune boundaries.
func (c *Counter) Split(text string, maxTokens int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxTokens <= 0 || c.Count(text) <= maxTokens {
		return []string{text}
	}

	var (
		pieces  []string
		current strings.Builder
		used    int
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			pieces = append(pieces, s)
		}
		current.Reset()
		used = 0
	}

	for _, line := range strings.Split(text, "\n") {
		n := c.Count(line) + 1
		if n > maxTokens {
			flush()
			for _, part := range c.cutLine(line, maxTokens) {
				pieces = append(pieces, part)
			}
			continue
		}
		if used+n > maxTokens {
			flush()
		}
		current.WriteString(line)
		current.WriteByte('\n')
		used += n
	}
	flush()
	return pieces
}

// cutLine splits one oversized line, shrinking each cut until it fits.
func (c *Counter) cutLine(line string, maxTokens int) []string {
	var out []string
	runes := []rune(line)
	for len(runes) > 0 {
		size := min(len(runes), maxTokens*4)
		for size > 1 && c.Count(string(runes[:size])) > maxTokens {
			size = size * 3 / 4
		}
		if s := strings.TrimSpace(string(runes[:size])); s != "" {
			out = append(out, s)
		}
		runes = runes[size:]
	}
	return out
}
