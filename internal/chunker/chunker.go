// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chunker splits a growing response into platform-message-sized
// chunks at sentence or word boundaries.
//
// Sizes are measured in characters (runes), which is how chat platforms
// count their message ceiling. Concatenating every emitted chunk reproduces
// the input exactly.
package chunker

import (
	"fmt"
	"unicode"
)

// DefaultLookback is how far back from the threshold a sentence terminator
// is searched for before falling back to plain whitespace.
const DefaultLookback = 300

// Chunk is one flushed piece of the response.
type Chunk struct {
	Text  string
	Part  int  // 1-based, monotonic
	Final bool // last chunk of the response
}

// Accumulator buffers filtered text and flushes chunks no longer than its
// threshold. Not safe for concurrent use.
type Accumulator struct {
	threshold int
	lookback  int
	buf       []rune
	part      int
	finished  bool
}

// New returns an accumulator whose chunks hold at most limit-padding
// characters.
func New(limit, padding int) (*Accumulator, error) {
	threshold := limit - padding
	if threshold <= 0 {
		return nil, fmt.Errorf("chunk threshold must be positive: limit %d, padding %d", limit, padding)
	}
	return &Accumulator{threshold: threshold, lookback: DefaultLookback}, nil
}

// WithLookback overrides the sentence terminator search window.
func (a *Accumulator) WithLookback(n int) *Accumulator {
	if n > 0 {
		a.lookback = n
	}
	return a
}

// Threshold returns the maximum chunk size in characters.
func (a *Accumulator) Threshold() int {
	return a.threshold
}

// Pending returns the buffered text that has not been flushed yet.
func (a *Accumulator) Pending() string {
	return string(a.buf)
}

// Parts returns how many chunks have been emitted.
func (a *Accumulator) Parts() int {
	return a.part
}

// Add appends text and returns every chunk the buffer had to give up to stay
// within the threshold. Returned chunks are never final.
func (a *Accumulator) Add(text string) []Chunk {
	if a.finished || text == "" {
		return nil
	}
	a.buf = append(a.buf, []rune(text)...)

	var out []Chunk
	for len(a.buf) > a.threshold {
		cut := a.cutPoint()
		out = append(out, a.emit(cut, false))
	}
	return out
}

// Finish flushes the remaining buffer as the final chunk. It returns nil when
// nothing was ever added.
func (a *Accumulator) Finish() []Chunk {
	if a.finished {
		return nil
	}
	a.finished = true

	if len(a.buf) == 0 {
		return nil
	}
	return []Chunk{a.emit(len(a.buf), true)}
}

func (a *Accumulator) emit(cut int, final bool) Chunk {
	a.part++
	c := Chunk{Text: string(a.buf[:cut]), Part: a.part, Final: final}
	a.buf = append(a.buf[:0:0], a.buf[cut:]...)
	return c
}

// cutPoint picks where to end the next chunk. The result is in
// [1, threshold].
func (a *Accumulator) cutPoint() int {
	limit := a.threshold
	floor := limit - a.lookback
	if floor < 1 {
		floor = 1
	}

	// Sentence terminator: newline, or ". " / "! " / "? ".
	for i := limit; i >= floor; i-- {
		if a.buf[i-1] == '\n' {
			return i
		}
		if i >= 2 && a.buf[i-1] == ' ' && isTerminator(a.buf[i-2]) {
			return i
		}
	}

	// Any whitespace.
	for i := limit; i >= 1; i-- {
		if unicode.IsSpace(a.buf[i-1]) {
			return i
		}
	}

	// One unbroken token longer than the limit.
	return limit
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Split chunks a complete text in one call.
func Split(text string, limit, padding int) ([]Chunk, error) {
	a, err := New(limit, padding)
	if err != nil {
		return nil, err
	}
	chunks := a.Add(text)
	return append(chunks, a.Finish()...), nil
}
