// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation keeps per-user chat histories for one logical store
// ("lm", "reason", "global").
//
// Histories are bounded: at most MaxMessages/2 user messages and
// MaxMessages/2 assistant messages are kept, oldest dropped first. Commands
// from the same user serialize on a per-user lock; different users never
// wait on each other. Persistence goes through a storage.Backend and is only
// triggered explicitly (Flush): on clear, on a checkpoint tick and at
// shutdown.
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/llm"
	"github.com/jeranaias/meri-bot/internal/storage"
)

// DefaultMaxMessages bounds a history: 50 user plus 50 assistant messages.
const DefaultMaxMessages = 100

// Conversation is one user's history.
type Conversation struct {
	Messages          []llm.Message
	LastUpdated       time.Time
	TotalInteractions int
}

// Store holds the histories of one logical store.
type Store struct {
	name        string
	backend     storage.Backend
	maxMessages int
	logger      *slog.Logger
	now         func() time.Time

	// mu guards convs and dirty; it is held only for map access and
	// copying, never across a model call.
	mu    sync.RWMutex
	convs map[string]*Conversation
	dirty bool

	locks *userLocks
}

// Option configures a Store.
type Option func(*Store)

// WithMaxMessages sets the history bound. Odd values round down.
func WithMaxMessages(n int) Option {
	return func(s *Store) {
		if n >= 2 {
			s.maxMessages = n - n%2
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an empty store persisted through backend.
func New(name string, backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		name:        name,
		backend:     backend,
		maxMessages: DefaultMaxMessages,
		logger:      slog.Default(),
		now:         time.Now,
		convs:       make(map[string]*Conversation),
		locks:       newUserLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "conversation"), slog.String("store", name))
	return s
}

// Name returns the logical store name.
func (s *Store) Name() string {
	return s.name
}

// MaxMessages returns the history bound.
func (s *Store) MaxMessages() int {
	return s.maxMessages
}

// =============================================================================
// PER-USER LOCKING
// =============================================================================

// Acquire takes the per-user command lock. The returned release must be
// called exactly once. Acquire fails only when ctx ends first.
func (s *Store) Acquire(ctx context.Context, userID string) (release func(), err error) {
	return s.locks.acquire(ctx, userID)
}

// Busy reports whether userID currently holds its lock.
func (s *Store) Busy(userID string) bool {
	return s.locks.busy(userID)
}

// =============================================================================
// READ / WRITE
// =============================================================================

// History returns a copy of userID's messages in conversation order.
func (s *Store) History(userID string) []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[userID]
	if !ok {
		return nil
	}
	return append([]llm.Message(nil), conv.Messages...)
}

// Get returns a copy of userID's conversation.
func (s *Store) Get(userID string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[userID]
	if !ok {
		return Conversation{}, false
	}
	c := *conv
	c.Messages = append([]llm.Message(nil), conv.Messages...)
	return c, true
}

// Append records one request/response pair, creating the conversation on
// first use, and trims it to the bound.
func (s *Store) Append(userID, request, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[userID]
	if !ok {
		conv = &Conversation{}
		s.convs[userID] = conv
	}
	conv.Messages = append(conv.Messages,
		llm.NewUserMessage(request),
		llm.NewAssistantMessage(response))
	conv.Messages = Trim(conv.Messages, s.maxMessages)
	conv.LastUpdated = s.now()
	conv.TotalInteractions++
	s.dirty = true
}

// Clear removes userID's conversation and reports whether one existed.
func (s *Store) Clear(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[userID]; !ok {
		return false
	}
	delete(s.convs, userID)
	s.dirty = true
	return true
}

// Len returns how many users have a conversation.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// Dirty reports whether there are unsaved changes.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// =============================================================================
// TRIM POLICY
// =============================================================================

// Trim bounds messages to maxMessages/2 user and maxMessages/2 assistant
// messages, dropping the oldest of each role first. System messages and
// relative order are preserved.
func Trim(messages []llm.Message, maxMessages int) []llm.Message {
	perRole := maxMessages / 2
	var users, assistants int
	for _, m := range messages {
		switch m.Role {
		case llm.RoleUser:
			users++
		case llm.RoleAssistant:
			assistants++
		}
	}
	dropUsers := max(users-perRole, 0)
	dropAssistants := max(assistants-perRole, 0)
	if dropUsers == 0 && dropAssistants == 0 {
		return messages
	}

	out := make([]llm.Message, 0, len(messages)-dropUsers-dropAssistants)
	for _, m := range messages {
		switch {
		case m.Role == llm.RoleUser && dropUsers > 0:
			dropUsers--
		case m.Role == llm.RoleAssistant && dropAssistants > 0:
			dropAssistants--
		default:
			out = append(out, m)
		}
	}
	return out
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Load replaces the in-memory state with the backend's copy. Histories that
// exceed the current bound are trimmed.
func (s *Store) Load(ctx context.Context) error {
	records, err := s.backend.Load(ctx, s.name)
	if err != nil {
		return apperr.Persistence("load "+s.name, err)
	}

	convs := make(map[string]*Conversation, len(records))
	for userID, rec := range records {
		conv := &Conversation{
			LastUpdated:       rec.LastUpdated,
			TotalInteractions: rec.TotalInteractions,
		}
		for _, m := range rec.Messages {
			conv.Messages = append(conv.Messages, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
		}
		conv.Messages = Trim(conv.Messages, s.maxMessages)
		convs[userID] = conv
	}

	s.mu.Lock()
	s.convs = convs
	s.dirty = false
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "loaded conversations",
		slog.String("backend", s.backend.Name()),
		slog.Int("users", len(convs)))
	return nil
}

// Flush saves the store if it has unsaved changes. Failures come back as
// a PersistenceError and leave the store dirty for the next attempt.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	records := s.snapshotLocked()
	s.dirty = false
	s.mu.Unlock()

	if err := s.backend.Save(ctx, s.name, records); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return apperr.Persistence("save "+s.name, err)
	}
	s.logger.DebugContext(ctx, "saved conversations", slog.Int("users", len(records)))
	return nil
}

func (s *Store) snapshotLocked() storage.Records {
	records := make(storage.Records, len(s.convs))
	for userID, conv := range s.convs {
		rec := &storage.StoredConversation{
			LastUpdated:       conv.LastUpdated,
			TotalInteractions: conv.TotalInteractions,
			Messages:          make([]storage.StoredMessage, 0, len(conv.Messages)),
		}
		for _, m := range conv.Messages {
			rec.Messages = append(rec.Messages, storage.StoredMessage{Role: string(m.Role), Content: m.Content})
		}
		records[userID] = rec
	}
	return records
}
