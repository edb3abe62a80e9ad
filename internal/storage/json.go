// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeranaias/meri-bot/internal/util"
)

// JSONBackend keeps one JSON document per store in BaseDir.
type JSONBackend struct {
	// BaseDir is the directory holding <store>_contexts.json files.
	BaseDir string

	mu sync.Mutex
}

// NewJSONBackend creates baseDir if needed.
func NewJSONBackend(baseDir string) (*JSONBackend, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &JSONBackend{BaseDir: baseDir}, nil
}

func (b *JSONBackend) Name() string { return KindJSON }

// Load reads the store file. A missing file is an empty store.
func (b *JSONBackend) Load(ctx context.Context, store string) (Records, error) {
	if err := checkStoreName(store); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.filePath(store))
	if err != nil {
		if os.IsNotExist(err) {
			return Records{}, nil
		}
		return nil, err
	}

	records := Records{}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", b.filePath(store), err)
	}
	for id, conv := range records {
		if conv == nil {
			delete(records, id)
		}
	}
	return records, nil
}

// Save writes the store file atomically.
func (b *JSONBackend) Save(ctx context.Context, store string, records Records) error {
	if err := checkStoreName(store); err != nil {
		return err
	}
	if records == nil {
		records = Records{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return util.AtomicWriteFile(b.filePath(store), data, 0644)
}

func (b *JSONBackend) Close() error { return nil }

// filePath returns the file for store.
func (b *JSONBackend) filePath(store string) string {
	return filepath.Join(b.BaseDir, store+"_contexts.json")
}
