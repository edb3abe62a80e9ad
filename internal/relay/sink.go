// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/chunker"
	"github.com/jeranaias/meri-bot/internal/platform"
)

// =============================================================================
// SINK CONFIGURATION
// =============================================================================

// Mode selects how a Sink shows a response.
type Mode int

const (
	// ModeLiveEdit posts one message per part and edits it as text arrives.
	ModeLiveEdit Mode = iota

	// ModeBuffered never edits; each completed part is posted once.
	ModeBuffered
)

// String returns the config spelling of the mode.
func (m Mode) String() string {
	if m == ModeBuffered {
		return "buffered"
	}
	return "live"
}

// ParseMode accepts "live", "live-edit", "edit" or "buffered".
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "live", "live-edit", "edit":
		return ModeLiveEdit, true
	case "buffered", "buffer":
		return ModeBuffered, true
	}
	return ModeLiveEdit, false
}

const (
	// DefaultInterval is the minimum time between progress edits.
	DefaultInterval = 800 * time.Millisecond

	// DefaultBackoff is used when a rate-limit error carries no retry hint.
	DefaultBackoff = time.Second

	// maxBackoff caps a platform-requested retry delay.
	maxBackoff = 30 * time.Second
)

// Config holds the settings for a Sink.
type Config struct {
	Mode     Mode
	Interval time.Duration
	Backoff  time.Duration
	Logger   *slog.Logger
}

// Target is where a response goes.
type Target struct {
	ChannelID string

	// ReplyTo, when set, makes the first posted message a reply.
	ReplyTo string
}

// =============================================================================
// SINK
// =============================================================================

// Sink is the single writer of one response to the chat platform.
// Not safe for concurrent use.
type Sink struct {
	messenger platform.Messenger
	target    Target
	format    Format
	mode      Mode
	limiter   *rate.Limiter
	backoff   time.Duration
	logger    *slog.Logger

	// sleep waits out a rate-limit backoff; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	current     string // live message receiving progress edits
	lastContent string
	placeholder bool // current still shows the placeholder
	messages    []string
	parts       int
}

// NewSink creates a sink writing to target through messenger.
func NewSink(messenger platform.Messenger, target Target, format Format, cfg Config) *Sink {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		messenger: messenger,
		target:    target,
		format:    format,
		mode:      cfg.Mode,
		limiter:   rate.NewLimiter(rate.Every(cfg.Interval), 1),
		backoff:   cfg.Backoff,
		logger:    logger.With(slog.String("component", "relay")),
		sleep:     sleepContext,
	}
}

// Mode returns the sink's mode.
func (s *Sink) Mode() Mode {
	return s.mode
}

// Messages returns the IDs of every message the sink posted, in order.
func (s *Sink) Messages() []string {
	return append([]string(nil), s.messages...)
}

// Parts returns how many parts have been delivered.
func (s *Sink) Parts() int {
	return s.parts
}

// Open posts the placeholder in live-edit mode.
func (s *Sink) Open(ctx context.Context) error {
	if s.mode != ModeLiveEdit || s.format.Placeholder == "" {
		return nil
	}
	id, err := s.post(ctx, s.format.Placeholder)
	if err != nil {
		return err
	}
	s.current, s.lastContent, s.placeholder = id, s.format.Placeholder, true
	return nil
}

// Progress shows the unflushed buffer of part in the live message. Edits
// are spaced at least Interval apart; calls in between are dropped since a
// later call carries a superset of the text. Buffered sinks ignore it.
func (s *Sink) Progress(ctx context.Context, part int, pending string) error {
	if s.mode != ModeLiveEdit || pending == "" {
		return nil
	}
	content := s.format.Part(part, pending)

	if s.current == "" {
		id, err := s.post(ctx, content)
		if err != nil {
			return err
		}
		s.current, s.lastContent, s.placeholder = id, content, false
		return nil
	}
	if content == s.lastContent || !s.limiter.Allow() {
		return nil
	}

	err := s.edit(ctx, s.current, content)
	if apperr.IsKind(err, apperr.KindRateLimited) {
		// The next progress edit or the seal carries this text.
		s.logger.WarnContext(ctx, "skipping progress edit after rate limit",
			slog.String("message", s.current),
			slog.Int("part", part))
		return nil
	}
	if err != nil {
		return err
	}
	s.lastContent, s.placeholder = content, false
	return nil
}

// Deliver writes a completed chunk. In live-edit mode the current message
// is sealed with it and the next part starts a new message.
func (s *Sink) Deliver(ctx context.Context, c chunker.Chunk) error {
	content := s.format.Part(c.Part, c.Text)
	if c.Final {
		content = s.format.Final(c.Part, c.Text)
	}

	if s.mode == ModeLiveEdit && s.current != "" {
		if err := s.edit(ctx, s.current, content); err != nil {
			return err
		}
	} else if _, err := s.post(ctx, content); err != nil {
		return err
	}

	s.current, s.lastContent, s.placeholder = "", "", false
	s.parts = c.Part
	return nil
}

// Empty reports a response with no visible text.
func (s *Sink) Empty(ctx context.Context) error {
	return s.replace(ctx, s.format.Empty)
}

// Fail shows notice: it replaces the placeholder when nothing was shown
// yet, otherwise it is posted as a new message.
func (s *Sink) Fail(ctx context.Context, notice string) error {
	return s.replace(ctx, notice)
}

func (s *Sink) replace(ctx context.Context, content string) error {
	if s.mode == ModeLiveEdit && s.current != "" && s.placeholder {
		err := s.edit(ctx, s.current, content)
		if err == nil {
			s.current, s.lastContent, s.placeholder = "", "", false
		}
		return err
	}
	_, err := s.post(ctx, content)
	return err
}

// =============================================================================
// PLATFORM CALLS
// =============================================================================

func (s *Sink) post(ctx context.Context, content string) (string, error) {
	var id string
	err := s.withRetry(ctx, "post", func() error {
		var err error
		if len(s.messages) == 0 && s.target.ReplyTo != "" {
			id, err = s.messenger.Reply(ctx, s.target.ChannelID, s.target.ReplyTo, content)
		} else {
			id, err = s.messenger.Send(ctx, s.target.ChannelID, content)
		}
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to post message",
			slog.String("channel", s.target.ChannelID),
			slog.String("error", err.Error()))
		return "", err
	}
	s.messages = append(s.messages, id)
	return id, nil
}

func (s *Sink) edit(ctx context.Context, messageID, content string) error {
	err := s.withRetry(ctx, "edit", func() error {
		return s.messenger.Edit(ctx, s.target.ChannelID, messageID, content)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to edit message",
			slog.String("channel", s.target.ChannelID),
			slog.String("message", messageID),
			slog.String("error", err.Error()))
	}
	return err
}

// withRetry runs fn and, on a RateLimited error, waits out the requested
// backoff and runs it exactly once more.
func (s *Sink) withRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil || !apperr.IsKind(err, apperr.KindRateLimited) {
		return err
	}

	wait, _ := apperr.RetryAfterOf(err)
	if wait <= 0 {
		wait = s.backoff
	}
	if wait > maxBackoff {
		wait = maxBackoff
	}
	s.logger.WarnContext(ctx, "rate limited, backing off",
		slog.String("op", op),
		slog.Duration("retry_after", wait))

	if err := s.sleep(ctx, wait); err != nil {
		return err
	}
	if err := fn(); err != nil {
		s.logger.ErrorContext(ctx, "giving up after rate-limit retry",
			slog.String("op", op),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
