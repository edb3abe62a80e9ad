// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"strings"
)

const (
	// SearchSentinel starts a probe answer that asks for a web search.
	SearchSentinel = "SEARCH_NEEDED"

	defaultProbeTokens = 64

	defaultProbeInstruction = "Decide whether answering the user's question requires current information " +
		"from the web. If it does, reply with exactly one line: " + SearchSentinel + ": <search query>. " +
		"Otherwise reply with ANSWER_DIRECTLY. Do not answer the question itself."
)

// Decision is the outcome of a capability probe.
type Decision struct {
	Search bool
	Query  string
}

// completer is the subset of Completer a Probe needs.
type completer interface {
	Complete(ctx context.Context, messages []Message, opts ...CallOption) (string, error)
}

// Probe asks the model, with a small token budget, whether a question needs
// a web search before the real answer is streamed.
type Probe struct {
	Completer   completer
	Instruction string
	MaxTokens   int
}

// NewProbe creates a probe using instruction, or the built-in one when empty.
func NewProbe(c completer, instruction string) *Probe {
	return &Probe{Completer: c, Instruction: instruction}
}

// Decide runs the probe. Any failure means "answer directly": the returned
// Decision is zero and the error is for logging only.
func (p *Probe) Decide(ctx context.Context, question string) (Decision, error) {
	instruction := p.Instruction
	if strings.TrimSpace(instruction) == "" {
		instruction = defaultProbeInstruction
	}
	tokens := p.MaxTokens
	if tokens <= 0 {
		tokens = defaultProbeTokens
	}

	reply, err := p.Completer.Complete(ctx, []Message{
		NewSystemMessage(instruction),
		NewUserMessage(question),
	}, WithMaxTokens(tokens), WithTemperature(0))
	if err != nil {
		return Decision{}, err
	}
	return ParseDecision(reply, question), nil
}

// ParseDecision reads a probe reply. The sentinel may appear on any line;
// an empty query after it falls back to the question itself.
func ParseDecision(reply, question string) Decision {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "`*"))
		idx := strings.Index(strings.ToUpper(line), SearchSentinel)
		if idx < 0 {
			continue
		}
		query := strings.TrimSpace(line[idx+len(SearchSentinel):])
		query = strings.TrimSpace(strings.TrimLeft(query, ":-"))
		query = strings.Trim(query, `"'`)
		if query == "" {
			query = strings.TrimSpace(question)
		}
		return Decision{Search: true, Query: query}
	}
	return Decision{}
}
