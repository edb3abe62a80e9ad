// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package platformtest provides an in-memory Platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jeranaias/meri-bot/internal/platform"
)

// Op is one recorded Messenger call.
type Op struct {
	Kind      string // "send", "reply" or "edit"
	ChannelID string
	MessageID string
	ReplyTo   string
	Content   string
}

// Recorder is a Platform that keeps every message in memory.
type Recorder struct {
	mu       sync.Mutex
	ops      []Op
	contents map[string]string
	order    []string
	next     int

	// FailEdit, when set, is returned by Edit for the given call number
	// (1-based) and consumed.
	FailEdit map[int]error
	// FailSend works like FailEdit for Send and Reply.
	FailSend map[int]error

	// Self is returned by SelfID.
	Self string

	handler platform.Handler
	edits   int
	sends   int
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{contents: make(map[string]string)}
}

func (r *Recorder) Send(ctx context.Context, channelID, content string) (string, error) {
	return r.create(channelID, "", content)
}

func (r *Recorder) Reply(ctx context.Context, channelID, replyToID, content string) (string, error) {
	return r.create(channelID, replyToID, content)
}

func (r *Recorder) create(channelID, replyTo, content string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sends++
	if err, ok := r.FailSend[r.sends]; ok {
		delete(r.FailSend, r.sends)
		return "", err
	}

	r.next++
	id := fmt.Sprintf("m%d", r.next)
	kind := "send"
	if replyTo != "" {
		kind = "reply"
	}
	r.ops = append(r.ops, Op{Kind: kind, ChannelID: channelID, MessageID: id, ReplyTo: replyTo, Content: content})
	r.contents[id] = content
	r.order = append(r.order, id)
	return id, nil
}

func (r *Recorder) Edit(ctx context.Context, channelID, messageID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.edits++
	if err, ok := r.FailEdit[r.edits]; ok {
		delete(r.FailEdit, r.edits)
		return err
	}
	if _, ok := r.contents[messageID]; !ok {
		return fmt.Errorf("unknown message %s", messageID)
	}
	r.ops = append(r.ops, Op{Kind: "edit", ChannelID: channelID, MessageID: messageID, Content: content})
	r.contents[messageID] = content
	return nil
}

// Ops returns every successful call in order.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Messages returns the final content of every created message in order.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.contents[id])
	}
	return out
}

// Transcript joins Messages with newlines.
func (r *Recorder) Transcript() string {
	return strings.Join(r.Messages(), "\n")
}

// Count returns how many calls of kind were recorded.
func (r *Recorder) Count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, op := range r.ops {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// =============================================================================
// PLATFORM
// =============================================================================

// Name implements platform.Platform.
func (r *Recorder) Name() string { return "test" }

// SelfID returns Self, the bot's user ID in tests.
func (r *Recorder) SelfID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Self
}

// Start records handler; Deliver passes messages to it.
func (r *Recorder) Start(ctx context.Context, handler platform.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
	return nil
}

// Deliver hands msg to the handler given to Start.
func (r *Recorder) Deliver(ctx context.Context, msg *platform.Message) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(ctx, msg)
	}
}

// Close implements platform.Platform.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = nil
	return nil
}

// Content returns the current content of message id.
func (r *Recorder) Content(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contents[id]
}
