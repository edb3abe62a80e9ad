// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jeranaias/meri-bot/internal/apperr"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

const (
	// readBufferSize is the size of each raw network read.
	readBufferSize = 32 * 1024

	// MaxLineSize bounds one SSE line; longer lines are dropped as malformed.
	MaxLineSize = 1024 * 1024
)

var doneMarker = []byte("[DONE]")

// =============================================================================
// LINE BUFFER
// =============================================================================

// LineBuffer turns arbitrary network reads into complete lines. A trailing
// partial line is held until a later Feed completes it.
type LineBuffer struct {
	pending  []byte
	overflow bool
}

// Feed appends data and returns every line it completed, without the
// trailing "\n" or "\r\n". Returned slices are only valid until the next call.
func (b *LineBuffer) Feed(data []byte) [][]byte {
	var lines [][]byte
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			b.hold(data)
			break
		}
		if b.overflow {
			// Tail of an oversized line: drop it and resync.
			b.overflow = false
			b.pending = b.pending[:0]
		} else {
			line := append(b.pending, data[:i]...)
			lines = append(lines, bytes.TrimSuffix(line, []byte("\r")))
			b.pending = nil
		}
		data = data[i+1:]
	}
	return lines
}

// Flush returns the held partial line, if any, and resets the buffer.
func (b *LineBuffer) Flush() []byte {
	if b.overflow || len(b.pending) == 0 {
		b.pending, b.overflow = nil, false
		return nil
	}
	line := bytes.TrimSuffix(b.pending, []byte("\r"))
	b.pending = nil
	return line
}

// Len returns the number of held bytes.
func (b *LineBuffer) Len() int {
	return len(b.pending)
}

func (b *LineBuffer) hold(data []byte) {
	if b.overflow {
		return
	}
	if len(b.pending)+len(data) > MaxLineSize {
		b.overflow = true
		b.pending = b.pending[:0]
		return
	}
	b.pending = append(b.pending, data...)
}

// =============================================================================
// STREAM
// =============================================================================

// Stream is a lazy, finite, non-restartable sequence of Events read from one
// streaming response. Not safe for concurrent use.
type Stream struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	ctx    context.Context
	logger *slog.Logger

	lines   LineBuffer
	readBuf []byte
	queue   []Event

	delivered strings.Builder
	done      bool
	err       error
	malformed int
}

func newStream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, logger *slog.Logger) *Stream {
	return &Stream{
		body:    body,
		cancel:  cancel,
		ctx:     ctx,
		logger:  logger,
		readBuf: make([]byte, readBufferSize),
	}
}

// Recv returns the next event. After EventDone it returns io.EOF. A
// connection that ends before the terminal event yields an apperr
// StreamInterrupted whose Partial is every delta already returned.
func (s *Stream) Recv() (Event, error) {
	for {
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			if ev.Type == EventDelta {
				s.delivered.WriteString(ev.Text)
			}
			return ev, nil
		}
		if s.err != nil {
			return Event{}, s.err
		}
		if s.done {
			return Event{}, io.EOF
		}
		s.fill()
	}
}

// Text returns everything delivered so far.
func (s *Stream) Text() string {
	return s.delivered.String()
}

// Malformed returns how many lines were skipped because they did not decode.
func (s *Stream) Malformed() int {
	return s.malformed
}

// Close aborts the HTTP connection. Safe to call more than once.
func (s *Stream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.body.Close()
}

// fill performs one network read and queues the events it completed.
func (s *Stream) fill() {
	n, readErr := s.body.Read(s.readBuf)
	if n > 0 {
		for _, line := range s.lines.Feed(s.readBuf[:n]) {
			if s.done || s.err != nil {
				break
			}
			s.handleLine(line)
		}
	}
	if readErr == nil || s.done || s.err != nil {
		return
	}

	if errors.Is(readErr, io.EOF) {
		if line := s.lines.Flush(); line != nil {
			s.handleLine(line)
		}
		if s.done || s.err != nil {
			return
		}
		readErr = io.ErrUnexpectedEOF
	}
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		readErr = fmt.Errorf("%w (%v)", ctxErr, readErr)
	}
	s.err = s.interrupted(readErr)
}

// interrupted builds the StreamInterrupted error including deltas still
// queued, since the caller will receive those before the error.
func (s *Stream) interrupted(cause error) error {
	partial := s.delivered.String()
	for _, ev := range s.queue {
		partial += ev.Text
	}
	return apperr.StreamInterrupted(partial, cause)
}

// handleLine decodes one SSE or NDJSON line.
func (s *Stream) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == ':' {
		return
	}

	var payload []byte
	switch {
	case bytes.HasPrefix(line, []byte("data:")):
		payload = bytes.TrimSpace(line[5:])
	case line[0] == '{':
		payload = line
	default:
		// event:, id:, retry: and anything else carry no content.
		return
	}

	if bytes.Equal(payload, doneMarker) {
		s.finish("")
		return
	}

	var chunk streamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		s.malformed++
		s.logger.Warn("skipping malformed stream line",
			slog.Int("bytes", len(payload)),
			slog.String("error", err.Error()))
		return
	}
	if chunk.Error != nil {
		s.err = apperr.Backend(0, chunk.Error.Message)
		return
	}

	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			s.queue = append(s.queue, Event{Type: EventDelta, Text: choice.Delta.Content})
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			s.finish(*choice.FinishReason)
			return
		}
	}
}

func (s *Stream) finish(reason string) {
	s.queue = append(s.queue, Event{Type: EventDone, FinishReason: reason})
	s.done = true
}
