// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/fetch"
	"github.com/jeranaias/meri-bot/internal/llm"
	"github.com/jeranaias/meri-bot/internal/prompts"
	"github.com/jeranaias/meri-bot/internal/relay"
	"github.com/jeranaias/meri-bot/internal/util"
)

const (
	// answerReserve is kept free of content in the prompt budget for the
	// instructions around it.
	answerReserve = 256

	// maxReduceRounds bounds how often section summaries are summarised
	// again.
	maxReduceRounds = 3
)

// analysis describes a URL command.
type analysis struct {
	Command string
	Verb    string // "Summarize" or "Evaluate"

	PagePrompt  prompts.Name
	VideoPrompt prompts.Name
	PageTitle   string
	VideoTitle  string

	Model string
}

func (b *Bot) runSum(ctx context.Context, inv *Invocation) error {
	return b.analyzeURL(ctx, inv, analysis{
		Command:     "sum",
		Verb:        "Summarize",
		PagePrompt:  prompts.Summarization,
		VideoPrompt: prompts.YouTubeSummarization,
		PageTitle:   "Webpage Summary",
		VideoTitle:  "YouTube Summary",
		Model:       inv.Config.LLM.SummarizationModel,
	})
}

func (b *Bot) runRank(ctx context.Context, inv *Invocation) error {
	return b.analyzeURL(ctx, inv, analysis{
		Command:     "rank",
		Verb:        "Evaluate",
		PagePrompt:  prompts.Ranking,
		VideoPrompt: prompts.YouTubeRanking,
		PageTitle:   "Ranking Analysis",
		VideoTitle:  "Ranking Analysis",
		Model:       inv.Config.LLM.RankingModel,
	})
}

func (b *Bot) analyzeURL(ctx context.Context, inv *Invocation, a analysis) error {
	fields := strings.Fields(inv.Args)
	if len(fields) == 0 {
		return inv.Reply(ctx, fmt.Sprintf("Please provide a URL! Usage: `%s%s <url>`", inv.Config.Discord.Prefix, a.Command))
	}
	url := strings.Trim(fields[0], "<>")
	if b.Fetch == nil {
		return apperr.ExternalTool("fetch", "content fetching is not configured", nil)
	}

	update, err := inv.progress(ctx, fmt.Sprintf("🔍 Fetching content from <%s>...", url))
	if err != nil {
		return err
	}
	content, err := b.Fetch.Fetch(ctx, url)
	if err != nil {
		update(apperr.UserMessage(err))
		return reported(err)
	}

	system, title, noun := a.PagePrompt, a.PageTitle, "web page"
	if content.Kind == fetch.KindVideo {
		system, title, noun = a.VideoPrompt, a.VideoTitle, "video transcript"
	}
	systemText := b.Prompts.Get(system)

	text := content.Text
	budget := inv.historyBudget() - b.Tokens.Count(systemText) - answerReserve
	if budget < answerReserve {
		budget = answerReserve
	}
	if b.Tokens.Count(text) > budget {
		text, err = inv.mapReduce(ctx, text, budget, a.Model, update)
		if err != nil {
			update(apperr.UserMessage(err))
			return reported(err)
		}
	}
	update(fmt.Sprintf("📄 Fetched %s (%d characters). Analyzing...", noun, util.RuneLen(content.Text)))

	var header strings.Builder
	fmt.Fprintf(&header, "%s this %s.\n\nURL: %s\n", a.Verb, noun, content.URL)
	if content.Title != "" {
		fmt.Fprintf(&header, "Title: %s\n", content.Title)
	}
	if content.Truncated {
		header.WriteString("Note: the content was truncated.\n")
	}

	footer := fmt.Sprintf("*Source: <%s>*", url)
	r := response{
		Title: title,
		Messages: []llm.Message{
			llm.NewSystemMessage(systemText),
			llm.NewUserMessage(header.String() + "\nContent:\n" + text),
		},
		Options: []llm.CallOption{llm.WithModel(a.Model)},
	}
	fits := inv.footerFits(footer)
	if fits {
		r.Footer = footer
	}

	res, err := inv.stream(ctx, r)
	if err != nil {
		return err
	}
	if !fits && res.Text != "" {
		if _, err := inv.Platform.Send(ctx, inv.Msg.ChannelID, footer); err != nil {
			inv.Logger.WarnContext(ctx, "failed to post source", slog.String("error", err.Error()))
		}
	}
	return nil
}

// footerFits reports whether footer fits in the relay padding next to the
// part header.
func (inv *Invocation) footerFits(footer string) bool {
	return util.RuneLen(footer)+2 <= inv.Config.Relay.Padding-relay.Overhead
}

// mapReduce condenses text that does not fit budget: each token-bounded
// section is summarised on its own, and the joined summaries replace the
// text. Rounds repeat while the result is still too long.
func (inv *Invocation) mapReduce(ctx context.Context, text string, budget int, model string, status func(string)) (string, error) {
	counter := inv.bot.Tokens
	instruction := inv.bot.Prompts.Get(prompts.Summarization)

	for round := 1; round <= maxReduceRounds && counter.Count(text) > budget; round++ {
		sections := counter.Split(text, budget)
		inv.Logger.InfoContext(ctx, "summarising long content in sections",
			slog.Int("round", round),
			slog.Int("sections", len(sections)))

		summaries := make([]string, 0, len(sections))
		for i, section := range sections {
			status(fmt.Sprintf("📚 Content is long, summarising section %d of %d...", i+1, len(sections)))
			out, err := inv.complete(ctx, []llm.Message{
				llm.NewSystemMessage(instruction),
				llm.NewUserMessage(fmt.Sprintf("Summarize section %d of %d. Keep every important fact.\n\n%s", i+1, len(sections), section)),
			}, llm.WithModel(model))
			if err != nil {
				return "", err
			}
			summaries = append(summaries, fmt.Sprintf("--- Section %d ---\n%s", i+1, out))
		}
		text = strings.Join(summaries, "\n\n")
	}

	if counter.Count(text) > budget {
		if parts := counter.Split(text, budget); len(parts) > 0 {
			text = parts[0] + fetch.TruncationMarker
		}
	}
	return text, nil
}
