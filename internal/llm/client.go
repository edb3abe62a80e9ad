// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/meri-bot/internal/apperr"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

const (
	// DefaultConnectTimeout bounds the TCP/TLS handshake.
	DefaultConnectTimeout = 10 * time.Second

	// maxErrorBody bounds how much of a failed response is read.
	maxErrorBody = 64 * 1024

	completionsPath = "/v1/chat/completions"
)

// ClientConfig holds the settings for a Client.
//
// BaseURL, Model, MaxTokens and Timeout are mandatory; NewClient rejects a
// config that leaves any of them unset rather than guessing.
type ClientConfig struct {
	// BaseURL of the server, e.g. http://127.0.0.1:1234 (no /v1 suffix).
	BaseURL string

	// Model used when a call does not override it.
	Model string

	Temperature float64
	MaxTokens   int

	// Seed makes generation deterministic when the backend supports it.
	Seed *int64

	// ConnectTimeout bounds connection setup (default 10s).
	ConnectTimeout time.Duration

	// Timeout bounds a whole request including generation.
	Timeout time.Duration

	// HTTPClient replaces the default transport (tests).
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Validate reports the first missing or malformed mandatory setting.
func (c ClientConfig) Validate() error {
	base := strings.TrimSpace(c.BaseURL)
	switch {
	case base == "":
		return apperr.Configuration("base_url", "LLM base URL is not set")
	case !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://"):
		return apperr.Configuration("base_url", fmt.Sprintf("%q must start with http:// or https://", base))
	case strings.TrimSpace(c.Model) == "":
		return apperr.Configuration("model", "model name is not set")
	case c.MaxTokens <= 0:
		return apperr.Configuration("max_tokens", "must be a positive number")
	case c.Timeout <= 0:
		return apperr.Configuration("timeout", "must be a positive duration")
	case c.Temperature < 0 || c.Temperature > 2:
		return apperr.Configuration("temperature", fmt.Sprintf("%.2f is outside 0.0-2.0", c.Temperature))
	}
	return nil
}

// =============================================================================
// CLIENT
// =============================================================================

// Client streams chat completions from an OpenAI-compatible server.
// It is safe for concurrent use.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates config and builds a client.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.BaseURL = strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		// No client timeout: streaming length is bounded through the context.
		httpClient = &http.Client{Transport: newTransport(config.ConnectTimeout)}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "llm")),
	}, nil
}

// newTransport applies the connect timeout to dialing and the TLS handshake.
// Everything after that is bounded by the request context.
func newTransport(connectTimeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: connectTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Config returns a copy of the client configuration.
func (c *Client) Config() ClientConfig {
	return c.config
}

// Model returns the default model.
func (c *Client) Model() string {
	return c.config.Model
}

// HTTPClient exposes the underlying HTTP client so sibling helpers share
// the same transport.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) newRequest(messages []Message, opts []CallOption) ChatRequest {
	req := ChatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
		Stream:      true,
		Seed:        c.config.Seed,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// Stream opens a streaming completion. The returned Stream owns the
// connection; callers must Close it. The total timeout starts now.
func (c *Client) Stream(ctx context.Context, messages []Message, opts ...CallOption) (*Stream, error) {
	req := c.newRequest(messages, opts)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	c.logger.DebugContext(ctx, "opening completion stream",
		slog.String("model", req.Model),
		slog.Int("messages", len(messages)),
		slog.Int("max_tokens", req.MaxTokens))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, apperr.BackendCause("connect "+c.config.BaseURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, backendError(resp.StatusCode, data, req.Model)
	}

	return newStream(ctx, cancel, resp.Body, c.logger), nil
}

// StreamCallback receives each text delta in arrival order.
type StreamCallback func(delta string) error

// ChatStream streams a completion into callback and returns the full text.
// A callback error stops the stream and is returned as-is.
func (c *Client) ChatStream(ctx context.Context, messages []Message, callback StreamCallback, opts ...CallOption) (string, error) {
	stream, err := c.Stream(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return stream.Text(), nil
			}
			return stream.Text(), err
		}
		if ev.Type == EventDone {
			return stream.Text(), nil
		}
		if callback != nil {
			if err := callback(ev.Text); err != nil {
				return stream.Text(), err
			}
		}
	}
}

// Ping checks that the server answers at all.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.BackendCause("ping "+c.config.BaseURL, err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	return nil
}

// backendError maps a failed response to a BackendError, recognising the
// messages servers use when the model is not loaded.
func backendError(status int, body []byte, model string) error {
	text := strings.TrimSpace(string(body))
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && len(envelope.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(envelope.Error, &nested) == nil && nested.Message != "" {
			text = nested.Message
		} else {
			var plain string
			if json.Unmarshal(envelope.Error, &plain) == nil && plain != "" {
				text = plain
			}
		}
	}

	if strings.Contains(text, "No models loaded") || strings.Contains(text, "model_not_found") ||
		strings.Contains(string(body), "model_not_found") {
		return apperr.Backend(status, fmt.Sprintf("model %q is not loaded on the backend; load it and try again", model))
	}
	if text == "" {
		text = http.StatusText(status)
	}
	return apperr.Backend(status, text)
}

// IsModelNotLoaded reports whether err says the requested model is missing.
func IsModelNotLoaded(err error) bool {
	var e *apperr.Error
	return errors.As(err, &e) && e.Kind == apperr.KindBackend && strings.Contains(e.Message, "is not loaded")
}
