// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jeranaias/meri-bot/internal/storage"
)

// Logical store names.
const (
	StoreLM     = "lm"
	StoreReason = "reason"
	StoreGlobal = "global"
)

// DefaultShutdownTimeout bounds the final flush.
const DefaultShutdownTimeout = 10 * time.Second

// Set is the bot's collection of stores sharing one backend.
type Set struct {
	LM     *Store
	Reason *Store
	Global *Store

	backend storage.Backend
	logger  *slog.Logger
}

// NewSet creates the lm, reason and global stores on backend.
func NewSet(backend storage.Backend, logger *slog.Logger, opts ...Option) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append(opts, WithLogger(logger))
	return &Set{
		LM:      New(StoreLM, backend, opts...),
		Reason:  New(StoreReason, backend, opts...),
		Global:  New(StoreGlobal, backend, opts...),
		backend: backend,
		logger:  logger.With(slog.String("component", "conversation")),
	}
}

// All returns the stores in a fixed order.
func (s *Set) All() []*Store {
	return []*Store{s.LM, s.Reason, s.Global}
}

// Backend returns the shared backend.
func (s *Set) Backend() storage.Backend {
	return s.backend
}

// Load loads every store. A store that fails to load starts empty; the
// errors are joined and returned for logging.
func (s *Set) Load(ctx context.Context) error {
	var errs []error
	for _, st := range s.All() {
		if err := st.Load(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush saves every dirty store.
func (s *Set) Flush(ctx context.Context) error {
	var errs []error
	for _, st := range s.All() {
		if err := st.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FlushWithin saves every store, giving up after timeout. It is the
// best-effort save run at shutdown, so the caller's context is not used:
// it is usually already cancelled by then.
func (s *Set) FlushWithin(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.Flush(ctx)
	if err != nil {
		s.logger.Error("final conversation save failed", slog.String("error", err.Error()))
	} else {
		s.logger.Info("conversations saved")
	}
	return err
}

// RunCheckpoints flushes every interval until ctx ends. Failures are logged
// and retried on the next tick.
func (s *Set) RunCheckpoints(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.logger.WarnContext(ctx, "checkpoint failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close closes the backend.
func (s *Set) Close() error {
	return s.backend.Close()
}
