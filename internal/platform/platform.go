// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package platform defines the chat-platform surface the bot talks to:
// incoming messages, and the create/edit/reply operations used to relay
// responses. Adapters live in sub-packages (discord) and in the operator
// console.
package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultMessageLimit is Discord's per-message character limit.
const DefaultMessageLimit = 2000

// Attachment is a file attached to a message.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
	Size        int
}

// IsImage reports whether the attachment looks like an image.
func (a Attachment) IsImage() bool {
	if strings.HasPrefix(a.ContentType, "image/") {
		return true
	}
	name := strings.ToLower(a.Filename)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// User is a user mentioned in a message.
type User struct {
	ID   string
	Name string

	// AvatarURL is empty when the user has no custom avatar.
	AvatarURL string
}

// Message is an incoming chat message.
type Message struct {
	ID         string
	ChannelID  string
	AuthorID   string
	AuthorName string
	AuthorBot  bool
	Content    string
	Timestamp  time.Time

	// MentionsBot is set when the message mentions the bot account.
	MentionsBot bool

	// Mentions lists the mentioned users in order, the bot included.
	Mentions []User

	Attachments []Attachment

	// Reference is the message this one replies to, if any.
	Reference *Message

	// Local marks messages typed by the operator at the console.
	Local bool
}

// FirstImage returns the first image attachment of m or, failing that, of
// the message it replies to.
func (m *Message) FirstImage() (Attachment, bool) {
	for _, a := range m.Attachments {
		if a.IsImage() {
			return a, true
		}
	}
	if m.Reference != nil {
		for _, a := range m.Reference.Attachments {
			if a.IsImage() {
				return a, true
			}
		}
	}
	return Attachment{}, false
}

// Messenger creates and edits messages. Implementations return an apperr
// RateLimited error when the platform pushes back.
type Messenger interface {
	// Send posts content to channelID and returns the new message ID.
	Send(ctx context.Context, channelID, content string) (string, error)

	// Reply posts content as a reply to replyToID.
	Reply(ctx context.Context, channelID, replyToID, content string) (string, error)

	// Edit replaces the content of an existing message.
	Edit(ctx context.Context, channelID, messageID, content string) error
}

// Handler receives every incoming message.
type Handler func(ctx context.Context, msg *Message)

// Platform is a connected chat platform.
type Platform interface {
	Messenger

	// Name identifies the platform in logs and status output.
	Name() string

	// SelfID returns the bot's own user ID once connected.
	SelfID() string

	// Start connects and delivers messages to handler until Close.
	Start(ctx context.Context, handler Handler) error

	Close() error
}

// maxAttachmentBytes bounds ReadAttachment.
const maxAttachmentBytes = 20 << 20

// ReadAttachment downloads an attachment's bytes.
func ReadAttachment(ctx context.Context, client *http.Client, a Attachment) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", a.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download %s: HTTP %d", a.Filename, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", a.Filename, err)
	}
	if len(data) > maxAttachmentBytes {
		return nil, fmt.Errorf("attachment %s exceeds %d MB", a.Filename, maxAttachmentBytes>>20)
	}
	return data, nil
}
