// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"fmt"
	"strings"
)

// Overhead is the most characters Format adds around a chunk for titles up
// to 32 characters and part numbers below 1000. Padding must be at least
// this large.
const Overhead = 72

// Format renders relayed chunks as chat messages.
type Format struct {
	// Title names the output, e.g. "AI Response".
	Title string

	// Placeholder is posted before the first delta in live-edit mode.
	Placeholder string

	// CodeBlock wraps chunk text in a fenced block.
	CodeBlock bool

	// Empty replaces the placeholder when the model produced no visible text.
	Empty string

	// Footer is appended to the final part, e.g. a source link.
	Footer string
}

// NewFormat returns the chat response format for title.
func NewFormat(title string, codeBlock bool) Format {
	return Format{
		Title:       title,
		Placeholder: "🤔 **AI is thinking...**",
		CodeBlock:   codeBlock,
		Empty:       "*The model returned an empty response.*",
	}
}

// Part renders an in-progress or sealed non-final part.
func (f Format) Part(n int, text string) string {
	return f.wrap(fmt.Sprintf("**%s (Part %d):**", f.Title, n), text, "")
}

// Final renders the last part of a response.
func (f Format) Final(n int, text string) string {
	return f.wrap(fmt.Sprintf("**%s Complete (Part %d/%d)**", f.Title, n, n), text, f.Footer)
}

func (f Format) wrap(header, text, footer string) string {
	var b strings.Builder
	b.WriteString(header)
	if f.CodeBlock {
		b.WriteString("\n```\n")
		b.WriteString(strings.ReplaceAll(text, "```", "ˋˋˋ"))
		b.WriteString("\n```")
	} else {
		b.WriteString("\n\n")
		b.WriteString(text)
	}
	if footer != "" {
		b.WriteString("\n\n")
		b.WriteString(footer)
	}
	return b.String()
}
