// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
    store TEXT NOT NULL,
    user_id TEXT NOT NULL,
    messages TEXT NOT NULL,          -- JSON array of StoredMessage
    last_updated INTEGER NOT NULL,   -- Unix milliseconds
    total_interactions INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (store, user_id)
) WITHOUT ROWID;
`

// SQLiteBackend keeps every store in one SQLite database.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteBackend{db: db, path: path}, nil
}

func (b *SQLiteBackend) Name() string { return KindSQLite }

// Path returns the database file.
func (b *SQLiteBackend) Path() string { return b.path }

func (b *SQLiteBackend) Load(ctx context.Context, store string) (Records, error) {
	if err := checkStoreName(store); err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT user_id, messages, last_updated, total_interactions FROM conversations WHERE store = ?`, store)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", store, err)
	}
	defer rows.Close()

	records := Records{}
	for rows.Next() {
		var (
			userID   string
			messages string
			updated  int64
			total    int
		)
		if err := rows.Scan(&userID, &messages, &updated, &total); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		conv := &StoredConversation{
			LastUpdated:       time.UnixMilli(updated),
			TotalInteractions: total,
		}
		if err := json.Unmarshal([]byte(messages), &conv.Messages); err != nil {
			return nil, fmt.Errorf("failed to decode messages for %s/%s: %w", store, userID, err)
		}
		records[userID] = conv
	}
	return records, rows.Err()
}

// Save replaces store's rows in one transaction.
func (b *SQLiteBackend) Save(ctx context.Context, store string, records Records) error {
	if err := checkStoreName(store); err != nil {
		return err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE store = ?`, store); err != nil {
		return fmt.Errorf("failed to clear %s: %w", store, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO conversations (store, user_id, messages, last_updated, total_interactions) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for userID, conv := range records {
		if conv == nil {
			continue
		}
		msgs := conv.Messages
		if msgs == nil {
			msgs = []StoredMessage{}
		}
		data, err := json.Marshal(msgs)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, store, userID, string(data), conv.LastUpdated.UnixMilli(), conv.TotalInteractions); err != nil {
			return fmt.Errorf("failed to insert %s/%s: %w", store, userID, err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
