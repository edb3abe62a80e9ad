// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/meri-bot/internal/apperr"
)

// DefaultCompleteTimeout bounds one non-streaming call.
const DefaultCompleteTimeout = 60 * time.Second

// Completer performs short non-streaming calls against the same server as a
// Client: capability probes, query refinement, map-reduce summary steps and
// model listing.
type Completer struct {
	api     *openai.Client
	model   string
	temp    float32
	seed    *int
	timeout time.Duration
}

// NewCompleter builds a Completer that shares client's server, model and
// transport.
func NewCompleter(client *Client) *Completer {
	cfg := openai.DefaultConfig("")
	cfg.BaseURL = client.config.BaseURL + "/v1"
	cfg.HTTPClient = client.httpClient

	var seed *int
	if client.config.Seed != nil {
		s := int(*client.config.Seed)
		seed = &s
	}

	timeout := DefaultCompleteTimeout
	if client.config.Timeout > 0 && client.config.Timeout < timeout {
		timeout = client.config.Timeout
	}

	return &Completer{
		api:     openai.NewClientWithConfig(cfg),
		model:   client.config.Model,
		temp:    float32(client.config.Temperature),
		seed:    seed,
		timeout: timeout,
	}
}

// Complete returns the trimmed text of one non-streaming completion.
func (c *Completer) Complete(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	req := ChatRequest{Model: c.model, Temperature: float64(c.temp)}
	for _, opt := range opts {
		opt(&req)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Seed:        c.seed,
	})
	if err != nil {
		return "", translateError(err, req.Model)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.Backend(0, "response contained no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ListModels returns the model IDs the server reports.
func (c *Completer) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	list, err := c.api.ListModels(ctx)
	if err != nil {
		return nil, translateError(err, "")
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// translateError maps go-openai errors onto the apperr taxonomy.
func translateError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "model_not_found" {
			return apperr.Backend(apiErr.HTTPStatusCode, fmt.Sprintf("model %q is not loaded on the backend; load it and try again", model))
		}
		return backendError(apiErr.HTTPStatusCode, []byte(apiErr.Message), model)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return backendError(reqErr.HTTPStatusCode, []byte(reqErr.Error()), model)
	}
	return apperr.BackendCause("completion", err)
}
