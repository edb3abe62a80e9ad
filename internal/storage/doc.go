// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists per-user conversation histories.
//
// A logical store ("lm", "reason", "global") maps user IDs to a
// StoredConversation. Backends load and save a whole store at once; the
// conversation package owns locking and trimming.
//
// # Backends
//
//   - memory: nothing survives a restart
//   - json:   one file per store, contexts/<store>_contexts.json, written
//     atomically
//   - sqlite: one table keyed by (store, user_id), modernc.org/sqlite
//
// # Usage
//
//	backend, err := storage.Open(storage.Options{Kind: "json", Dir: "contexts"})
//	records, err := backend.Load(ctx, "lm")
//	err = backend.Save(ctx, "lm", records)
package storage
