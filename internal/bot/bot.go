// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bot turns incoming chat messages into command invocations.
//
// Every prefixed command or bot mention runs in its own goroutine with its
// own invocation ID. Failures stop at the invocation boundary: they are
// logged and shown to the user, never propagated to the platform.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/cli"
	"github.com/jeranaias/meri-bot/internal/config"
	"github.com/jeranaias/meri-bot/internal/console"
	"github.com/jeranaias/meri-bot/internal/conversation"
	"github.com/jeranaias/meri-bot/internal/fetch"
	"github.com/jeranaias/meri-bot/internal/llm"
	"github.com/jeranaias/meri-bot/internal/offline"
	"github.com/jeranaias/meri-bot/internal/platform"
	"github.com/jeranaias/meri-bot/internal/prompts"
	"github.com/jeranaias/meri-bot/internal/search"
	"github.com/jeranaias/meri-bot/internal/tokens"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Completer runs short non-streaming calls; *llm.Completer satisfies it.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (string, error)
	ListModels(ctx context.Context) ([]string, error)
}

// Searcher runs web searches; *search.Searcher satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

// Fetcher extracts text from a URL; *fetch.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetch.Content, error)
}

// Deps is everything the bot needs. Config, LLM, Completer and Stores are
// required.
type Deps struct {
	Config    *config.Holder
	LLM       *llm.Client
	Completer Completer
	Search    Searcher
	Fetch     Fetcher
	Prompts   *prompts.Library
	Stores    *conversation.Set
	Tokens    *tokens.Counter
	Guard     *offline.Guard

	// HTTPClient downloads attachments.
	HTTPClient *http.Client

	// Stop is called by the shutdown and restart commands.
	Stop func(restart bool)

	Logger *slog.Logger
}

// =============================================================================
// BOT
// =============================================================================

// Bot dispatches messages from any number of platforms.
type Bot struct {
	Deps

	registry *Registry
	mention  *Command
	logger   *slog.Logger
	started  time.Time
	now      func() time.Time

	inFlight atomic.Int64
	closing  atomic.Bool
	wg       sync.WaitGroup

	mu        sync.Mutex
	platforms []platform.Platform
}

// New builds a bot and registers the built-in commands.
func New(d Deps) (*Bot, error) {
	if d.Config == nil || d.Config.Current() == nil {
		return nil, apperr.Configuration("bot", "configuration is required")
	}
	if d.LLM == nil || d.Completer == nil {
		return nil, apperr.Configuration("bot", "an LLM client is required")
	}
	if d.Stores == nil {
		return nil, apperr.Configuration("bot", "conversation stores are required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tokens == nil {
		d.Tokens = tokens.Shared()
	}
	if d.Guard == nil {
		d.Guard = offline.NewGuard(d.Config.Current().Offline)
	}
	if d.Prompts == nil {
		d.Prompts = prompts.NewLibrary(d.Config.Current().Prompts.Dirs, d.Logger)
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	b := &Bot{
		Deps:     d,
		registry: NewRegistry(),
		logger:   d.Logger.With(slog.String("component", "bot")),
		now:      time.Now,
	}
	b.started = b.now()
	b.registerBuiltins()
	return b, nil
}

// Registry returns the command registry.
func (b *Bot) Registry() *Registry {
	return b.registry
}

// HandlerFor returns the message handler to pass to p.Start.
func (b *Bot) HandlerFor(p platform.Platform) platform.Handler {
	b.mu.Lock()
	b.platforms = append(b.platforms, p)
	b.mu.Unlock()
	return func(ctx context.Context, msg *platform.Message) {
		b.Handle(ctx, p, msg)
	}
}

// Handle routes one message. Matching messages start an invocation in a new
// goroutine; everything else is ignored.
func (b *Bot) Handle(ctx context.Context, p platform.Platform, msg *platform.Message) {
	if msg == nil || msg.AuthorBot || b.closing.Load() {
		return
	}
	if self := p.SelfID(); self != "" && msg.AuthorID == self {
		return
	}

	cfg := b.Config.Current()
	var (
		cmd  *Command
		args string
	)
	if name, rest, ok := cli.ParseCommand(msg.Content, cfg.Discord.Prefix); ok {
		cmd = b.registry.Get(name)
		if cmd == nil {
			b.suggest(ctx, p, msg, cfg.Discord.Prefix, name)
			return
		}
		args = rest
	} else if msg.MentionsBot {
		cmd = b.mention
		args = stripMention(msg.Content, p.SelfID())
	} else {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.invoke(ctx, p, msg, cmd, args, cfg)
	}()
}

// suggest answers an unknown command with the closest public command name.
// Input that resembles no command is ignored.
func (b *Bot) suggest(ctx context.Context, p platform.Platform, msg *platform.Message, prefix, name string) {
	match := cli.Suggest(name, b.registry.Names(false))
	b.logger.DebugContext(ctx, "unknown command",
		slog.String("name", name),
		slog.String("suggestion", match))
	if match == "" {
		return
	}
	text := fmt.Sprintf("Unknown command `%s%s`. Did you mean `%s%s`?", prefix, name, prefix, match)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if _, err := p.Reply(ctx, msg.ChannelID, msg.ID, text); err != nil && ctx.Err() == nil {
			b.logger.WarnContext(ctx, "failed to send suggestion", slog.String("error", err.Error()))
		}
	}()
}

// Wait stops accepting messages and waits for running invocations, up to
// timeout. It reports whether every invocation finished.
func (b *Bot) Wait(timeout time.Duration) bool {
	b.closing.Store(true)
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		b.logger.Warn("invocations still running at shutdown", slog.Int64("in_flight", b.inFlight.Load()))
		return false
	}
}

// InFlight returns the number of running invocations.
func (b *Bot) InFlight() int {
	return int(b.inFlight.Load())
}

// Uptime returns the time since New.
func (b *Bot) Uptime() time.Duration {
	return b.now().Sub(b.started)
}

// Status describes the bot for the operator console.
func (b *Bot) Status() console.Status {
	b.mu.Lock()
	names := make([]string, 0, len(b.platforms))
	for _, p := range b.platforms {
		names = append(names, p.Name())
	}
	b.mu.Unlock()
	sort.Strings(names)

	convs := make(map[string]int)
	for _, st := range b.Stores.All() {
		convs[st.Name()] = st.Len()
	}
	return console.Status{
		Platform:      strings.Join(names, ", "),
		Model:         b.LLM.Model(),
		Uptime:        b.Uptime(),
		InFlight:      b.InFlight(),
		Offline:       b.Guard.Enabled(),
		Conversations: convs,
	}
}

// =============================================================================
// INVOCATION BOUNDARY
// =============================================================================

func (b *Bot) invoke(ctx context.Context, p platform.Platform, msg *platform.Message, cmd *Command, args string, cfg *config.Config) {
	b.inFlight.Add(1)
	defer b.inFlight.Add(-1)

	inv := &Invocation{
		ID:       uuid.NewString(),
		Command:  cmd,
		Platform: p,
		Msg:      msg,
		Args:     args,
		Config:   cfg,
		bot:      b,
	}
	inv.Logger = b.logger.With(
		slog.String("invocation", inv.ID),
		slog.String("command", cmd.Name),
		slog.String("user", msg.AuthorID),
		slog.String("platform", p.Name()))

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			inv.Logger.ErrorContext(ctx, "command panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			inv.notify(ctx, "❌ An internal error occurred while running this command.")
		}
	}()

	if cmd.Admin {
		if !b.authorize(ctx, inv) {
			return
		}
	}

	inv.Logger.DebugContext(ctx, "command started")
	err := cmd.Run(ctx, inv)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		inv.Logger.InfoContext(ctx, "command finished", slog.Duration("elapsed", elapsed))
	case ctx.Err() != nil:
		inv.Logger.InfoContext(ctx, "command cancelled", slog.Duration("elapsed", elapsed))
	default:
		inv.Logger.WarnContext(ctx, "command failed",
			slog.String("kind", apperr.KindOf(err).String()),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed))
		var rep *reportedError
		if !errors.As(err, &rep) {
			inv.notify(ctx, apperr.UserMessage(err))
		}
	}
}

// reportedError marks an error the user has already been told about.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}

// stripMention removes the bot's mention tokens from content.
func stripMention(content, selfID string) string {
	if selfID != "" {
		content = strings.ReplaceAll(content, fmt.Sprintf("<@%s>", selfID), "")
		content = strings.ReplaceAll(content, fmt.Sprintf("<@!%s>", selfID), "")
	}
	return strings.TrimSpace(content)
}
