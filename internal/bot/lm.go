// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/cli"
	"github.com/jeranaias/meri-bot/internal/conversation"
	"github.com/jeranaias/meri-bot/internal/llm"
	"github.com/jeranaias/meri-bot/internal/platform"
	"github.com/jeranaias/meri-bot/internal/prompts"
)

// loopWindow is how long after posting the bot refuses questions about its
// own message.
const loopWindow = 5 * time.Second

var lmFlags = []cli.FlagSpec{
	cli.Bool("test", "t"),
	cli.Bool("clear", "c"),
	cli.Bool("clear-global", ""),
	cli.Bool("models", ""),
	cli.Rest("search", "s"),
	cli.Rest("vision", "v"),
	cli.Value("seed", ""),
}

// =============================================================================
// LM
// =============================================================================

func (b *Bot) runLM(ctx context.Context, inv *Invocation) error {
	args := cli.ParseLine(inv.Args, lmFlags...)
	if err := args.Err(); err != nil {
		return inv.Reply(ctx, "❌ "+err.Error())
	}
	prefix := inv.Config.Discord.Prefix

	switch {
	case args.BoolFlag("test"):
		return b.testConnection(ctx, inv)
	case args.BoolFlag("models"):
		return b.listModels(ctx, inv)
	case args.BoolFlag("clear"):
		return b.clearLM(ctx, inv)
	case args.BoolFlag("clear-global"):
		return inv.clearHistory(ctx, b.Stores.Global,
			"✅ Your mention conversation history has been cleared.",
			"ℹ️ You don't have any mention conversation history to clear.")
	case args.HasFlag("search"):
		query := args.Flag("search")
		if query == "" {
			return inv.Reply(ctx, fmt.Sprintf("Please provide a search query! Usage: `%slm -s <query>`", prefix))
		}
		return inv.searchAnswer(ctx, searchRequest{
			Query:    query,
			Question: query,
			Title:    "AI-Enhanced Search Results",
			System:   prompts.SearchSummary,
		})
	case args.HasFlag("vision"):
		prompt := args.Flag("vision")
		if prompt == "" {
			return inv.Reply(ctx, fmt.Sprintf("Please provide a prompt for vision analysis! Usage: `%slm -v <prompt>` with image attached.", prefix))
		}
		return b.vision(ctx, inv, prompt)
	}

	prompt := args.Text()
	if prompt == "" {
		return inv.Reply(ctx, fmt.Sprintf("Please provide a prompt! Usage: `%slm <your prompt>`", prefix))
	}
	opts, err := seedOption(args.Flag("seed"))
	if err != nil {
		return inv.Reply(ctx, "❌ --seed: "+err.Error())
	}
	return b.answer(ctx, inv, b.Stores.LM, prompt, prompt, opts)
}

func (b *Bot) runClearLM(ctx context.Context, inv *Invocation) error {
	return b.clearLM(ctx, inv)
}

func (b *Bot) clearLM(ctx context.Context, inv *Invocation) error {
	return inv.clearHistory(ctx, b.Stores.LM,
		"✅ Your conversation history has been cleared.",
		"ℹ️ You don't have any conversation history to clear.")
}

// answer replies to prompt from store's history. When the probe is enabled
// and decides question needs current information, the answer is search
// augmented instead.
func (b *Bot) answer(ctx context.Context, inv *Invocation, store *conversation.Store, question, prompt string, opts []llm.CallOption) error {
	release, err := inv.lock(ctx, store)
	if err != nil {
		return err
	}
	defer release()

	if inv.Config.Probe.Enabled && b.Search != nil && !b.Guard.Enabled() {
		probe := llm.NewProbe(b.Completer, b.Prompts.Get(prompts.Probe))
		probe.MaxTokens = inv.Config.Probe.MaxTokens
		d, err := probe.Decide(ctx, question)
		if err != nil {
			inv.Logger.DebugContext(ctx, "probe failed, answering directly", slog.String("error", err.Error()))
		}
		if d.Search {
			inv.Logger.InfoContext(ctx, "probe requested search", slog.String("query", d.Query))
			return inv.searchAnswer(ctx, searchRequest{
				Query:    d.Query,
				Question: question,
				Title:    "AI-Enhanced Search Results",
				System:   prompts.SearchSummary,
				Options:  opts,
				Store:    store,
			})
		}
	}

	return inv.chat(ctx, store, b.Prompts.Get(prompts.System), llm.NewUserMessage(prompt), response{
		Title:     "AI Response",
		CodeBlock: true,
		Options:   opts,
	})
}

// clearHistory removes the user's conversation from store and saves it.
func (inv *Invocation) clearHistory(ctx context.Context, store *conversation.Store, cleared, empty string) error {
	release, err := inv.lock(ctx, store)
	if err != nil {
		return err
	}
	existed := store.Clear(inv.Msg.AuthorID)
	release()

	if !existed {
		return inv.Reply(ctx, empty)
	}
	if err := store.Flush(ctx); err != nil {
		inv.Logger.WarnContext(ctx, "failed to save cleared history",
			slog.String("store", store.Name()),
			slog.String("error", err.Error()))
	}
	return inv.Reply(ctx, cleared)
}

// =============================================================================
// BACKEND CHECKS
// =============================================================================

// progress posts a status reply and returns a function that edits it.
func (inv *Invocation) progress(ctx context.Context, initial string) (func(string), error) {
	id, err := inv.Platform.Reply(ctx, inv.Msg.ChannelID, inv.Msg.ID, initial)
	if err != nil {
		return nil, err
	}
	return func(content string) {
		if err := inv.Platform.Edit(ctx, inv.Msg.ChannelID, id, content); err != nil && ctx.Err() == nil {
			inv.Logger.WarnContext(ctx, "failed to update status message", slog.String("error", err.Error()))
		}
	}, nil
}

func (b *Bot) testConnection(ctx context.Context, inv *Invocation) error {
	update, err := inv.progress(ctx, "🔍 Testing API connectivity...")
	if err != nil {
		return err
	}
	cfg := b.LLM.Config()
	if err := b.LLM.Ping(ctx); err != nil {
		update(fmt.Sprintf("❌ **Connection Failed**\n\nError: %s", err.Error()))
		return reported(err)
	}
	update(fmt.Sprintf("✅ **Connection Successful**\n\n**Server:** %s\n**Model:** %s\n**Temperature:** %g\n**Max Tokens:** %d",
		cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens))
	return nil
}

func (b *Bot) listModels(ctx context.Context, inv *Invocation) error {
	update, err := inv.progress(ctx, "🔍 Checking available models...")
	if err != nil {
		return err
	}
	models, err := b.Completer.ListModels(ctx)
	if err != nil {
		update("❌ Failed to get models: " + err.Error())
		return reported(err)
	}

	configured := b.LLM.Model()
	var sb strings.Builder
	sb.WriteString("**Available Models** 📋\n\n")
	if len(models) == 0 {
		sb.WriteString("*The server reports no models.*\n")
	}
	for i, id := range models {
		status := "⚪"
		if id == configured {
			status = "✅ **CONFIGURED**"
		}
		fmt.Fprintf(&sb, "%d. %s %s\n", i+1, status, id)
	}
	fmt.Fprintf(&sb, "\n**Current Configuration:**\n• Default Model: `%s`\n• Server: `%s`", configured, b.LLM.Config().BaseURL)
	update(sb.String())
	return nil
}

// =============================================================================
// VISION
// =============================================================================

func (b *Bot) vision(ctx context.Context, inv *Invocation, prompt string) error {
	att, ok := inv.Msg.FirstImage()
	if !ok {
		return inv.Reply(ctx, "Please attach an image for vision analysis!")
	}
	data, err := platform.ReadAttachment(ctx, b.HTTPClient, att)
	if err != nil {
		return apperr.ExternalTool("attachment", "could not download the image", err)
	}
	mime := att.ContentType
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	image := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)

	inv.Logger.InfoContext(ctx, "vision request",
		slog.String("file", att.Filename),
		slog.Int("bytes", len(data)))

	_, err = inv.stream(ctx, response{
		Title:     "Vision Analysis",
		CodeBlock: true,
		Messages: []llm.Message{
			llm.NewSystemMessage(b.Prompts.Get(prompts.System)),
			{Role: llm.RoleUser, Content: prompt, Images: []string{image}},
		},
		Options: []llm.CallOption{llm.WithModel(inv.Config.LLM.VisionModel)},
	})
	return err
}

// =============================================================================
// MENTIONS
// =============================================================================

var mentionFlags = []cli.FlagSpec{cli.Rest("vision", "v")}

func (b *Bot) runMention(ctx context.Context, inv *Invocation) error {
	self := inv.Platform.SelfID()
	if ref := inv.Msg.Reference; ref != nil && self != "" && ref.AuthorID == self &&
		b.now().Sub(ref.Timestamp) < loopWindow {
		return inv.Reply(ctx, "Please wait a moment before asking about my recent response to avoid loops.")
	}

	mention := "@bot"
	if self != "" {
		mention = fmt.Sprintf("<@%s>", self)
	}

	args := cli.ParseLine(inv.Args, mentionFlags...)
	if args.HasFlag("vision") {
		prompt := args.Flag("vision")
		if prompt == "" {
			return inv.Reply(ctx, fmt.Sprintf("Please provide a prompt for vision analysis! Usage: `%s -v <prompt>` with image attached.", mention))
		}
		return b.vision(ctx, inv, prompt)
	}

	question := inv.Args
	if question == "" {
		return inv.Reply(ctx, fmt.Sprintf("Please provide a prompt! Usage: `%s <your prompt>`\n\n"+
			"To ask about a specific message, reply to that message with your question.", mention))
	}
	return b.answer(ctx, inv, b.Stores.Global, question, mentionPrompt(inv.Msg, question), nil)
}

// mentionPrompt frames question with who is asking and, for replies, the
// message being asked about.
func mentionPrompt(msg *platform.Message, question string) string {
	asker := msg.AuthorName
	if asker == "" {
		asker = msg.AuthorID
	}
	ref := msg.Reference
	if ref == nil || strings.TrimSpace(ref.Content) == "" {
		return fmt.Sprintf("CONTEXT: The user %s is asking you a direct question (not about a specific message).\n\n"+
			"USER'S QUESTION:\n\"%s\"\n\n"+
			"Please respond to %s's question directly.", asker, question, asker)
	}
	author := ref.AuthorName
	if author == "" {
		author = ref.AuthorID
	}
	return fmt.Sprintf("CONTEXT: The user %s is asking you about a message posted by %s.\n\n"+
		"ORIGINAL MESSAGE BY %s:\n\"%s\"\n\n"+
		"USER'S QUESTION ABOUT THIS MESSAGE:\n\"%s\"\n\n"+
		"Please respond to %s's question specifically about %s's message above. "+
		"Reference the original message content when relevant to provide context and clarity.",
		asker, author, author, ref.Content, question, asker, author)
}
