// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sync"
)

// MemoryBackend keeps stores in process memory.
type MemoryBackend struct {
	mu     sync.Mutex
	stores map[string]Records
}

// NewMemoryBackend returns an empty memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{stores: make(map[string]Records)}
}

func (b *MemoryBackend) Name() string { return KindMemory }

func (b *MemoryBackend) Load(ctx context.Context, store string) (Records, error) {
	if err := checkStoreName(store); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stores[store].Clone(), nil
}

func (b *MemoryBackend) Save(ctx context.Context, store string, records Records) error {
	if err := checkStoreName(store); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stores[store] = records.Clone()
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
