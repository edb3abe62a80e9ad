// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package relay moves a streamed model response onto the chat platform:
// deltas pass the thinking-tag filter, the chunk accumulator and a Sink that
// either live-edits messages or posts buffered parts.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/chunker"
	"github.com/jeranaias/meri-bot/internal/llm"
	"github.com/jeranaias/meri-bot/internal/thinkfilter"
)

// Source yields stream events; *llm.Stream satisfies it.
type Source interface {
	Recv() (llm.Event, error)
}

// Result summarizes one relayed response.
type Result struct {
	// Text is the visible response with thinking spans removed.
	Text string

	Parts  int
	Deltas int
	Filter thinkfilter.Stats
}

// Run relays src through a fresh thinking filter and acc into sink.
//
// On a stream error, everything already received is still delivered, then
// the user-facing notice for the error is shown and the error is returned
// together with the partial Result.
func Run(ctx context.Context, src Source, acc *chunker.Accumulator, sink *Sink) (Result, error) {
	filter := thinkfilter.New()
	var visible strings.Builder
	var res Result

	if err := sink.Open(ctx); err != nil {
		return res, err
	}

	var streamErr error
	for {
		ev, err := src.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				streamErr = err
			}
			break
		}
		if ev.Type == llm.EventDone {
			break
		}
		res.Deltas++

		out := filter.Push(ev.Text)
		if out == "" {
			continue
		}
		visible.WriteString(out)
		for _, c := range acc.Add(out) {
			if err := sink.Deliver(ctx, c); err != nil {
				return finish(res, &visible, filter, acc), err
			}
		}
		if err := sink.Progress(ctx, acc.Parts()+1, acc.Pending()); err != nil {
			return finish(res, &visible, filter, acc), err
		}
	}

	tail, _ := filter.Finish()
	visible.WriteString(tail)
	chunks := append(acc.Add(tail), acc.Finish()...)
	for _, c := range chunks {
		// An interrupted answer is never labelled complete.
		if streamErr != nil {
			c.Final = false
		}
		if err := sink.Deliver(ctx, c); err != nil {
			return finish(res, &visible, filter, acc), err
		}
	}
	res = finish(res, &visible, filter, acc)

	if streamErr != nil {
		sink.logger.WarnContext(ctx, "stream ended with error",
			slog.Int("deltas", res.Deltas),
			slog.Int("parts", res.Parts),
			slog.String("kind", apperr.KindOf(streamErr).String()),
			slog.String("error", streamErr.Error()))
		if err := sink.Fail(ctx, apperr.UserMessage(streamErr)); err != nil {
			return res, errors.Join(streamErr, err)
		}
		return res, streamErr
	}

	if res.Parts == 0 {
		if err := sink.Empty(ctx); err != nil {
			return res, err
		}
	}
	if res.Filter.RemovedChars > 0 {
		sink.logger.DebugContext(ctx, "removed thinking spans",
			slog.Int("spans", res.Filter.Spans),
			slog.Int("chars", res.Filter.RemovedChars),
			slog.Bool("unclosed", res.Filter.Unclosed))
	}
	return res, nil
}

func finish(res Result, visible *strings.Builder, filter *thinkfilter.Filter, acc *chunker.Accumulator) Result {
	res.Text = visible.String()
	res.Parts = acc.Parts()
	res.Filter = filter.Stats()
	return res
}
