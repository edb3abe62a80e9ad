// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/conversation"
	"github.com/jeranaias/meri-bot/internal/llm"
	"github.com/jeranaias/meri-bot/internal/prompts"
	"github.com/jeranaias/meri-bot/internal/search"
	"github.com/jeranaias/meri-bot/internal/util"
)

const (
	refineMaxTokens   = 48
	refineInstruction = "Rewrite the user's question as a short web search query. " +
		"Reply with the query only, without quotes or explanation."
)

// searchRequest is one search-augmented answer.
type searchRequest struct {
	// Query is sent to the search providers.
	Query string

	// Question is what the user asked; it is shown to the model and
	// recorded in Store.
	Question string

	Title   string
	System  prompts.Name
	Options []llm.CallOption

	// Store, when set, records Question and the answer.
	Store *conversation.Store
}

// searchAnswer searches the web, streams the model's analysis of the
// results and posts the source list as a separate message.
func (inv *Invocation) searchAnswer(ctx context.Context, req searchRequest) error {
	b := inv.bot
	if b.Search == nil {
		return apperr.ExternalTool("search", "web search is not configured", nil)
	}
	if err := b.Guard.CheckWebAccess(); err != nil {
		return apperr.ExternalTool("search", err.Error(), err)
	}

	query := req.Query
	if inv.Config.Search.RefineQuery {
		query = inv.refineQuery(ctx, query)
	}

	results, err := b.Search.Search(ctx, query)
	if err != nil {
		return err
	}
	inv.Logger.InfoContext(ctx, "search finished",
		slog.String("query", util.TruncateRunes(query, 80)),
		slog.Int("results", len(results)))

	user := fmt.Sprintf("User's search query: %s\n\nSources to analyze:\n%s\n\n"+
		"Answer the user's question directly, cite the most relevant sources with [title](URL) links "+
		"and point out the key insights.", req.Question, search.FormatForModel(results))

	res, err := inv.stream(ctx, response{
		Title: req.Title,
		Messages: []llm.Message{
			llm.NewSystemMessage(b.Prompts.Get(req.System)),
			llm.NewUserMessage(user),
		},
		Options: req.Options,
	})
	if err != nil {
		return err
	}
	if res.Text == "" {
		return nil
	}
	if req.Store != nil {
		req.Store.Append(inv.Msg.AuthorID, req.Question, res.Text)
	}
	if _, err := inv.Platform.Send(ctx, inv.Msg.ChannelID, strings.TrimSpace(search.Sources(results))); err != nil {
		inv.Logger.WarnContext(ctx, "failed to post sources", slog.String("error", err.Error()))
	}
	return nil
}

// refineQuery asks the model for a better search query. Any failure keeps
// the original.
func (inv *Invocation) refineQuery(ctx context.Context, question string) string {
	out, err := inv.complete(ctx, []llm.Message{
		llm.NewSystemMessage(refineInstruction),
		llm.NewUserMessage(question),
	}, llm.WithMaxTokens(refineMaxTokens))
	if err != nil {
		inv.Logger.DebugContext(ctx, "query refinement failed", slog.String("error", err.Error()))
		return question
	}
	refined := strings.Trim(firstLine(out), "\"'` ")
	if refined == "" {
		return question
	}
	inv.Logger.DebugContext(ctx, "refined search query", slog.String("query", refined))
	return refined
}
