// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"fmt"

	"github.com/jeranaias/meri-bot/internal/cli"
	"github.com/jeranaias/meri-bot/internal/llm"
	"github.com/jeranaias/meri-bot/internal/prompts"
)

var reasonFlags = []cli.FlagSpec{
	cli.Bool("clear", "c"),
	cli.Rest("search", "s"),
	cli.Value("seed", ""),
}

func (b *Bot) runReason(ctx context.Context, inv *Invocation) error {
	args := cli.ParseLine(inv.Args, reasonFlags...)
	if err := args.Err(); err != nil {
		return inv.Reply(ctx, "❌ "+err.Error())
	}
	prefix := inv.Config.Discord.Prefix
	model := llm.WithModel(inv.Config.LLM.ReasonModel)

	opts, err := seedOption(args.Flag("seed"))
	if err != nil {
		return inv.Reply(ctx, "❌ --seed: "+err.Error())
	}
	opts = append([]llm.CallOption{model}, opts...)

	switch {
	case args.BoolFlag("clear"):
		return b.clearReason(ctx, inv)
	case args.HasFlag("search"):
		query := args.Flag("search")
		if query == "" {
			return inv.Reply(ctx, fmt.Sprintf("Please provide a search query! Usage: `%sreason -s <query>`", prefix))
		}
		return inv.searchAnswer(ctx, searchRequest{
			Query:    query,
			Question: query,
			Title:    "Analytical Summary",
			System:   prompts.ReasoningSearch,
			Options:  opts,
		})
	}

	question := args.Text()
	if question == "" {
		return inv.Reply(ctx, fmt.Sprintf("Please provide a question! Usage: `%sreason <your question>`", prefix))
	}

	store := b.Stores.Reason
	release, err := inv.lock(ctx, store)
	if err != nil {
		return err
	}
	defer release()

	return inv.chat(ctx, store, b.Prompts.Get(prompts.Reasoning), llm.NewUserMessage(question), response{
		Title:     "Reasoning Analysis",
		CodeBlock: true,
		Options:   opts,
	})
}

func (b *Bot) runClearReason(ctx context.Context, inv *Invocation) error {
	return b.clearReason(ctx, inv)
}

func (b *Bot) clearReason(ctx context.Context, inv *Invocation) error {
	return inv.clearHistory(ctx, b.Stores.Reason,
		"**Reasoning Context Cleared** ✅\nYour reasoning conversation history has been reset.",
		"**No Reasoning Context Found** ℹ️\nYou don't have any active reasoning conversation history to clear.")
}
