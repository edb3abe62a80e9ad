// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package thinkfilter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

// feed pushes deltas through a fresh filter and returns everything emitted.
func feed(deltas ...string) (string, Stats) {
	f := New()
	var out strings.Builder
	for _, d := range deltas {
		out.WriteString(f.Push(d))
	}
	tail, stats := f.Finish()
	out.WriteString(tail)
	return out.String(), stats
}

// splitEvery breaks s into pieces of n bytes.
func splitEvery(s string, n int) []string {
	var parts []string
	for len(s) > n {
		parts = append(parts, s[:n])
		s = s[n:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}

func TestNoTagsIsIdentity(t *testing.T) {
	inputs := []string{
		"",
		"plain text",
		"a < b and c > d",
		"<thin air>",
		"ends with <thi",
		"ends with <",
		"</think> without open",
		"<THINK>upper case is not a marker</THINK>",
	}

	for _, in := range inputs {
		for _, size := range []int{1, 2, 3, 7, 100} {
			got, stats := feed(splitEvery(in, size)...)
			if got != in {
				t.Errorf("feed(%q, size %d) = %q, want identity", in, size, got)
			}
			if stats.RemovedChars != 0 {
				t.Errorf("feed(%q) removed %d chars, want 0", in, stats.RemovedChars)
			}
		}
	}
}

func TestRemovesSpan(t *testing.T) {
	tests := []struct {
		name    string
		deltas  []string
		want    string
		thought string
	}{
		{"single delta", []string{"Hello <think>ignore me</think>world"}, "Hello world", "ignore me"},
		{"split open marker", []string{"Hello <th", "ink>ignore me</think>world"}, "Hello world", "ignore me"},
		{"split close marker", []string{"Hello <think>ignore me</th", "ink>world"}, "Hello world", "ignore me"},
		{"marker per delta", []string{"Hello ", "<think>", "ignore me", "</think>", "world"}, "Hello world", "ignore me"},
		{"empty span", []string{"a<think></think>b"}, "ab", ""},
		{"unicode inside", []string{"x<think>héllo 世界</think>y"}, "xy", "héllo 世界"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, stats := feed(tt.deltas...)
			if got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
			wantRemoved := utf8.RuneCountInString(tt.thought) + len(OpenTag) + len(CloseTag)
			if stats.RemovedChars != wantRemoved {
				t.Errorf("RemovedChars = %d, want %d", stats.RemovedChars, wantRemoved)
			}
			if stats.Unclosed {
				t.Error("Unclosed = true for a closed span")
			}
		})
	}
}

func TestRemovesSpanAtEveryBoundary(t *testing.T) {
	in := "Before <think>reasoning here</think> after <think>more</think>."
	want := "Before  after ."
	for size := 1; size <= len(in); size++ {
		got, stats := feed(splitEvery(in, size)...)
		if got != want {
			t.Fatalf("size %d: output = %q, want %q", size, got, want)
		}
		if stats.Spans != 2 {
			t.Fatalf("size %d: Spans = %d, want 2", size, stats.Spans)
		}
	}
}

func TestUnclosedSpanIsDiscarded(t *testing.T) {
	in := "Answer first. <think>this reasoning never ends"
	for _, size := range []int{1, 4, 9, len(in)} {
		got, stats := feed(splitEvery(in, size)...)
		if got != "Answer first. " {
			t.Errorf("size %d: output = %q, want %q", size, got, "Answer first. ")
		}
		if !stats.Unclosed {
			t.Errorf("size %d: Unclosed = false", size)
		}
		wantRemoved := len(in) - len("Answer first. ")
		if stats.RemovedChars != wantRemoved {
			t.Errorf("size %d: RemovedChars = %d, want %d", size, stats.RemovedChars, wantRemoved)
		}
	}
}

func TestNeverEmitsMarkerPrefixBeforeResolution(t *testing.T) {
	f := New()
	prefixes := []string{"<", "<t", "<th", "<thi", "<thin", "<think"}
	for _, p := range prefixes {
		f = New()
		if got := f.Push("text " + p); got != "text " {
			t.Errorf("Push(%q) = %q, want %q", "text "+p, got, "text ")
		}
		if f.Pending() != p {
			t.Errorf("Pending() = %q, want %q", f.Pending(), p)
		}
	}

	// A non-matching continuation proves the prefix was not a marker.
	f = New()
	out := f.Push("a <thi")
	out += f.Push("s is fine")
	if out != "a <this is fine" {
		t.Errorf("output = %q, want %q", out, "a <this is fine")
	}
}

func TestFinishResolvesHeldSuffix(t *testing.T) {
	tests := []struct {
		name    string
		deltas  []string
		want    string
		removed int
	}{
		{"prefix outside a span is text", []string{"compare a ", "<thi"}, "compare a <thi", 0},
		{"lone angle bracket", []string{"x <"}, "x <", 0},
		{"prefix after a closed span", []string{"<think>r</think>ok <th"}, "ok <th", 16},
		{"prefix inside an unclosed span", []string{"a<think>b", "</thi"}, "a", 13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, stats := feed(tt.deltas...)
			if got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
			if stats.RemovedChars != tt.removed {
				t.Errorf("RemovedChars = %d, want %d", stats.RemovedChars, tt.removed)
			}
		})
	}
}

func TestNestedOpenEndsAtFirstClose(t *testing.T) {
	got, _ := feed("a<think>x<think>y</think>z</think>b")
	if got != "az</think>b" {
		t.Errorf("output = %q, want %q", got, "az</think>b")
	}
}

func TestStateTransitions(t *testing.T) {
	f := New()
	if f.State() != Outside {
		t.Fatalf("initial state = %v, want outside", f.State())
	}
	f.Push("<think>abc")
	if f.State() != Inside {
		t.Fatalf("state = %v, want inside", f.State())
	}
	f.Push("</think>")
	if f.State() != Outside {
		t.Fatalf("state = %v, want outside", f.State())
	}
}

func TestStrip(t *testing.T) {
	got, stats := Strip("Here is some content <think>internal</think> and more <think>More</think>.")
	if got != "Here is some content  and more ." {
		t.Errorf("Strip = %q", got)
	}
	if stats.Spans != 2 {
		t.Errorf("Spans = %d, want 2", stats.Spans)
	}
}
