// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package console

import (
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TERMINAL DETECTION
// =============================================================================

const (
	// DefaultWidth is used when the terminal width cannot be read.
	DefaultWidth = 80

	minWidth = 40
)

// isTerminal reports whether v is an *os.File attached to a terminal.
func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// colorProfile picks the color profile for out. NO_COLOR disables colors,
// FORCE_COLOR enables them for non-terminals.
func colorProfile(out io.Writer) termenv.Profile {
	if os.Getenv("NO_COLOR") != "" {
		return termenv.Ascii
	}
	if os.Getenv("FORCE_COLOR") == "" && !isTerminal(out) {
		return termenv.Ascii
	}
	return termenv.NewOutput(out).ColorProfile()
}

// width returns the terminal width of out, or DefaultWidth.
func width(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok {
		return DefaultWidth
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return DefaultWidth
	}
	if w < minWidth {
		return minWidth
	}
	return w
}

// =============================================================================
// STYLES
// =============================================================================

type styles struct {
	prompt  lipgloss.Style
	speaker lipgloss.Style
	label   lipgloss.Style
	value   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	errorS  lipgloss.Style
	dim     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		prompt:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		speaker: r.NewStyle().Bold(true).Foreground(lipgloss.Color("82")),
		label:   r.NewStyle().Foreground(lipgloss.Color("245")),
		value:   r.NewStyle().Foreground(lipgloss.Color("252")),
		success: r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		warning: r.NewStyle().Foreground(lipgloss.Color("214")),
		errorS:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("242")),
	}
}

// =============================================================================
// MARKDOWN
// =============================================================================

// markdown renders bot replies. A nil renderer prints text as is.
type markdown struct {
	r *glamour.TermRenderer
}

func newMarkdown(profile termenv.Profile, wrap int) markdown {
	if profile == termenv.Ascii {
		return markdown{}
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(wrap),
		glamour.WithEmoji(),
	)
	if err != nil {
		return markdown{}
	}
	return markdown{r: r}
}

func (m markdown) render(content string) string {
	if m.r == nil {
		return content + "\n"
	}
	out, err := m.r.Render(content)
	if err != nil {
		return content + "\n"
	}
	return out
}
