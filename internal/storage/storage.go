// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// STORED TYPES
// =============================================================================

// StoredMessage is one persisted chat message.
type StoredMessage struct {
	Role      string    `json:"role"` // "user", "assistant", "system"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// StoredConversation is one user's persisted history.
type StoredConversation struct {
	Messages          []StoredMessage `json:"messages"`
	LastUpdated       time.Time       `json:"last_updated"`
	TotalInteractions int             `json:"total_interactions"`
}

// Records maps user IDs to their conversation within one store.
type Records map[string]*StoredConversation

// =============================================================================
// BACKEND
// =============================================================================

// Backend loads and saves whole stores.
type Backend interface {
	// Name identifies the backend kind.
	Name() string

	// Load returns every record of store. A store that was never saved
	// loads as empty, not as an error.
	Load(ctx context.Context, store string) (Records, error)

	// Save replaces the persisted content of store with records.
	Save(ctx context.Context, store string, records Records) error

	Close() error
}

// Kinds accepted by Open.
const (
	KindMemory = "memory"
	KindJSON   = "json"
	KindSQLite = "sqlite"
)

// DefaultDir is where the json backend writes when no directory is set.
const DefaultDir = "contexts"

// Options selects and configures a backend.
type Options struct {
	Kind string

	// Dir holds json store files (default "contexts").
	Dir string

	// Path is the sqlite database file (default <Dir>/conversations.db).
	Path string
}

// Open creates the backend described by opts.
func Open(opts Options) (Backend, error) {
	dir := opts.Dir
	if dir == "" {
		dir = DefaultDir
	}
	switch strings.ToLower(opts.Kind) {
	case KindMemory:
		return NewMemoryBackend(), nil
	case "", KindJSON:
		return NewJSONBackend(dir)
	case KindSQLite:
		path := opts.Path
		if path == "" {
			path = filepath.Join(dir, "conversations.db")
		}
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want memory, json or sqlite)", opts.Kind)
	}
}

var storeNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

// ValidStoreName reports whether name can be used as a store name. Store
// names become file names, so they are restricted to a safe alphabet.
func ValidStoreName(name string) bool {
	return storeNamePattern.MatchString(name)
}

func checkStoreName(name string) error {
	if !ValidStoreName(name) {
		return fmt.Errorf("invalid store name %q", name)
	}
	return nil
}

// Clone returns a deep copy of r.
func (r Records) Clone() Records {
	out := make(Records, len(r))
	for id, conv := range r {
		if conv == nil {
			continue
		}
		c := *conv
		c.Messages = append([]StoredMessage(nil), conv.Messages...)
		out[id] = &c
	}
	return out
}
