// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"encoding/json"
)

// =============================================================================
// MESSAGE TYPES
// =============================================================================

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation.
//
// Images holds data or https URLs; when present the message is sent in the
// multimodal content-parts form.
type Message struct {
	Role    Role     `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// MarshalJSON encodes the wire form: plain string content, or a list of
// content parts when images are attached.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Images) == 0 {
		return json.Marshal(struct {
			Role    Role   `json:"role"`
			Content string `json:"content"`
		}{m.Role, m.Content})
	}

	parts := make([]contentPart, 0, len(m.Images)+1)
	parts = append(parts, contentPart{Type: "text", Text: m.Content})
	for _, u := range m.Images {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: u}})
	}
	return json.Marshal(struct {
		Role    Role          `json:"role"`
		Content []contentPart `json:"content"`
	}{m.Role, parts})
}

// =============================================================================
// REQUEST / RESPONSE TYPES
// =============================================================================

// ChatRequest is the body of POST /v1/chat/completions.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
	Seed        *int64    `json:"seed,omitempty"`
}

// CallOption adjusts a single request.
type CallOption func(*ChatRequest)

// WithModel overrides the configured model.
func WithModel(model string) CallOption {
	return func(r *ChatRequest) {
		if model != "" {
			r.Model = model
		}
	}
}

// WithMaxTokens overrides the configured token limit.
func WithMaxTokens(n int) CallOption {
	return func(r *ChatRequest) {
		if n > 0 {
			r.MaxTokens = n
		}
	}
}

// WithTemperature overrides the configured temperature.
func WithTemperature(t float64) CallOption {
	return func(r *ChatRequest) {
		r.Temperature = t
	}
}

// WithSeed requests deterministic sampling for one call.
func WithSeed(seed int64) CallOption {
	return func(r *ChatRequest) {
		r.Seed = &seed
	}
}

// streamChunk is one decoded SSE data payload.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// =============================================================================
// STREAM EVENTS
// =============================================================================

// EventType discriminates stream events.
type EventType int

const (
	EventDelta EventType = iota
	EventDone
)

// Event is one element of a response stream: a text delta or the terminal
// Done marker.
type Event struct {
	Type         EventType
	Text         string
	FinishReason string
}
