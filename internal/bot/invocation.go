// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"log/slog"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/chunker"
	"github.com/jeranaias/meri-bot/internal/config"
	"github.com/jeranaias/meri-bot/internal/conversation"
	"github.com/jeranaias/meri-bot/internal/llm"
	"github.com/jeranaias/meri-bot/internal/platform"
	"github.com/jeranaias/meri-bot/internal/relay"
)

// Invocation is one running command.
type Invocation struct {
	ID       string
	Command  *Command
	Platform platform.Platform
	Msg      *platform.Message

	// Args is the text after the command name, or the mention text.
	Args string

	// Config is the configuration active when the message arrived.
	Config *config.Config
	Logger *slog.Logger

	bot *Bot
}

// Reply answers the triggering message. Text longer than the platform limit
// is split; the first piece is a reply and the rest follow as plain
// messages.
func (inv *Invocation) Reply(ctx context.Context, text string) error {
	chunks, err := chunker.Split(text, inv.messageLimit(), 0)
	if err != nil {
		return err
	}
	for i, c := range chunks {
		if i == 0 {
			_, err = inv.Platform.Reply(ctx, inv.Msg.ChannelID, inv.Msg.ID, c.Text)
		} else {
			_, err = inv.Platform.Send(ctx, inv.Msg.ChannelID, c.Text)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// notify replies and only logs a failure.
func (inv *Invocation) notify(ctx context.Context, text string) {
	if err := inv.Reply(ctx, text); err != nil && ctx.Err() == nil {
		inv.Logger.WarnContext(ctx, "failed to send reply", slog.String("error", err.Error()))
	}
}

func (inv *Invocation) messageLimit() int {
	if inv.Config.Relay.MessageLimit > 0 {
		return inv.Config.Relay.MessageLimit
	}
	return platform.DefaultMessageLimit
}

// =============================================================================
// STREAMED RESPONSES
// =============================================================================

// response describes one streamed model answer.
type response struct {
	Title     string
	CodeBlock bool
	Footer    string
	Messages  []llm.Message
	Options   []llm.CallOption
}

// bufferedOnly is implemented by platforms that cannot show live edits.
type bufferedOnly interface {
	BufferedOnly() bool
}

// stream relays a completion to the channel as a reply to the triggering
// message. Stream failures are shown in the channel by the relay, so the
// returned error is marked as reported.
func (inv *Invocation) stream(ctx context.Context, r response) (relay.Result, error) {
	cfg := inv.Config.Relay
	acc, err := chunker.New(inv.messageLimit(), max(cfg.Padding, relay.Overhead))
	if err != nil {
		return relay.Result{}, apperr.Configuration("relay.padding", err.Error())
	}

	mode, ok := relay.ParseMode(cfg.Mode)
	if !ok {
		inv.Logger.WarnContext(ctx, "unknown relay mode, using live edits", slog.String("mode", cfg.Mode))
	}
	if b, ok := inv.Platform.(bufferedOnly); ok && b.BufferedOnly() {
		mode = relay.ModeBuffered
	}

	format := relay.NewFormat(r.Title, r.CodeBlock)
	format.Footer = r.Footer
	sink := relay.NewSink(inv.Platform,
		relay.Target{ChannelID: inv.Msg.ChannelID, ReplyTo: inv.Msg.ID},
		format,
		relay.Config{
			Mode:     mode,
			Interval: cfg.Interval.Duration,
			Backoff:  cfg.Backoff.Duration,
			Logger:   inv.Logger,
		})

	src, err := inv.bot.LLM.Stream(ctx, r.Messages, r.Options...)
	if err != nil {
		return relay.Result{}, err
	}
	defer src.Close()

	res, err := relay.Run(ctx, src, acc, sink)
	inv.Logger.InfoContext(ctx, "response relayed",
		slog.Int("parts", res.Parts),
		slog.Int("deltas", res.Deltas),
		slog.Int("chars", len([]rune(res.Text))),
		slog.Int("thinking_removed", res.Filter.RemovedChars))
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindStreamInterrupted, apperr.KindBackend:
			return res, reported(err)
		}
	}
	return res, err
}

// chat streams prompt after the user's history in store and records the
// exchange when the response completes. The caller holds the user's lock.
func (inv *Invocation) chat(ctx context.Context, store *conversation.Store, system string, prompt llm.Message, r response) error {
	user := inv.Msg.AuthorID
	var sys []llm.Message
	if system != "" {
		sys = []llm.Message{llm.NewSystemMessage(system)}
	}
	history := inv.bot.Tokens.FitHistory(sys, store.History(user), prompt, inv.historyBudget())

	msgs := make([]llm.Message, 0, len(sys)+len(history)+1)
	msgs = append(msgs, sys...)
	msgs = append(msgs, history...)
	msgs = append(msgs, prompt)
	r.Messages = msgs

	res, err := inv.stream(ctx, r)
	if err != nil {
		return err
	}
	if res.Text != "" {
		store.Append(user, prompt.Content, res.Text)
	}
	return nil
}

// historyBudget is the prompt token budget: the context window minus room
// for the answer.
func (inv *Invocation) historyBudget() int {
	llmCfg := inv.Config.LLM
	budget := llmCfg.ContextTokens - llmCfg.MaxTokens
	if budget < llmCfg.ContextTokens/4 {
		budget = llmCfg.ContextTokens / 4
	}
	return budget
}

// lock takes the user's lock on store for the rest of the invocation.
func (inv *Invocation) lock(ctx context.Context, store *conversation.Store) (func(), error) {
	if store.Busy(inv.Msg.AuthorID) {
		inv.Logger.DebugContext(ctx, "waiting for the user's previous command", slog.String("store", store.Name()))
	}
	return store.Acquire(ctx, inv.Msg.AuthorID)
}

// complete runs a non-streaming call and strips thinking spans from the
// answer.
func (inv *Invocation) complete(ctx context.Context, msgs []llm.Message, opts ...llm.CallOption) (string, error) {
	out, err := inv.bot.Completer.Complete(ctx, msgs, opts...)
	if err != nil {
		return "", err
	}
	return stripThinking(out), nil
}

// seedOption returns a seed override when the user gave --seed.
func seedOption(value string) ([]llm.CallOption, error) {
	if value == "" {
		return nil, nil
	}
	seed, err := parseInt64(value)
	if err != nil {
		return nil, err
	}
	return []llm.CallOption{llm.WithSeed(seed)}, nil
}
