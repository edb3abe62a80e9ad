// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package thinkfilter removes <think>...</think> reasoning spans from a live
// text stream without ever emitting a fragment of either marker.
//
// The filter is a two-state machine (Outside, Inside). Deltas are pushed as
// they arrive; text that is provably outside a span is returned immediately,
// and a suffix that could still become a marker is held back until the next
// delta resolves it.
//
// At end of stream a held suffix outside a span (e.g. a reply ending in
// "<thi") is emitted unchanged: no opening marker was ever seen, so text
// without markers passes through intact. A stream that ends inside an
// unclosed span discards everything after the opening marker, held
// suffix included.
//
// Example:
//
//	f := thinkfilter.New()
//	out := f.Push("Hello <thi")   // "Hello "
//	out += f.Push("nk>hidden</think>world") // "world"
//	tail, stats := f.Finish()
package thinkfilter

import (
	"strings"
	"unicode/utf8"
)

const (
	// OpenTag starts a reasoning span.
	OpenTag = "<think>"
	// CloseTag ends a reasoning span.
	CloseTag = "</think>"
)

// State is the position of the filter relative to a reasoning span.
type State int

const (
	Outside State = iota
	Inside
)

func (s State) String() string {
	if s == Inside {
		return "inside"
	}
	return "outside"
}

// Stats describes what the filter removed.
type Stats struct {
	// RemovedChars counts discarded characters, markers included.
	RemovedChars int
	// Spans counts opening markers seen.
	Spans int
	// Unclosed is true when the stream ended inside a span.
	Unclosed bool
}

// Filter is a streaming <think> span remover. Not safe for concurrent use;
// one Filter serves one response stream.
type Filter struct {
	state   State
	partial string
	stats   Stats
}

// New returns a filter in the Outside state.
func New() *Filter {
	return &Filter{}
}

// State returns the current state.
func (f *Filter) State() State {
	return f.state
}

// Pending returns the held-back suffix that may still become a marker.
func (f *Filter) Pending() string {
	return f.partial
}

// Stats returns the statistics collected so far.
func (f *Filter) Stats() Stats {
	return f.stats
}

// Push feeds one delta and returns the text that is safe to emit.
func (f *Filter) Push(delta string) string {
	buf := f.partial + delta
	f.partial = ""

	var out strings.Builder
	for len(buf) > 0 {
		switch f.state {
		case Outside:
			if i := strings.Index(buf, OpenTag); i >= 0 {
				out.WriteString(buf[:i])
				buf = buf[i+len(OpenTag):]
				f.state = Inside
				f.stats.Spans++
				f.stats.RemovedChars += utf8.RuneCountInString(OpenTag)
				continue
			}
			k := heldSuffix(buf, OpenTag)
			out.WriteString(buf[:len(buf)-k])
			f.partial = buf[len(buf)-k:]
			buf = ""

		case Inside:
			if i := strings.Index(buf, CloseTag); i >= 0 {
				f.stats.RemovedChars += utf8.RuneCountInString(buf[:i]) + utf8.RuneCountInString(CloseTag)
				buf = buf[i+len(CloseTag):]
				f.state = Outside
				continue
			}
			k := heldSuffix(buf, CloseTag)
			f.stats.RemovedChars += utf8.RuneCountInString(buf[:len(buf)-k])
			f.partial = buf[len(buf)-k:]
			buf = ""
		}
	}
	return out.String()
}

// Finish ends the stream. A held suffix outside a span is emitted since no
// more input can complete the marker. Content of an unclosed span is
// discarded and counted.
func (f *Filter) Finish() (string, Stats) {
	tail := ""
	switch f.state {
	case Outside:
		tail = f.partial
	case Inside:
		f.stats.RemovedChars += utf8.RuneCountInString(f.partial)
		f.stats.Unclosed = true
	}
	f.partial = ""
	return tail, f.stats
}

// Strip filters a complete text in one call.
func Strip(text string) (string, Stats) {
	f := New()
	out := f.Push(text)
	tail, stats := f.Finish()
	return out + tail, stats
}

// heldSuffix returns the length of the longest suffix of s that is a proper
// prefix of marker.
func heldSuffix(s, marker string) int {
	n := len(marker) - 1
	if len(s) < n {
		n = len(s)
	}
	for k := n; k > 0; k-- {
		if strings.HasSuffix(s, marker[:k]) {
			return k
		}
	}
	return 0
}
