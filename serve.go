// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/term"

	"github.com/jeranaias/meri-bot/internal/bot"
	"github.com/jeranaias/meri-bot/internal/config"
	"github.com/jeranaias/meri-bot/internal/console"
	"github.com/jeranaias/meri-bot/internal/conversation"
	"github.com/jeranaias/meri-bot/internal/fetch"
	"github.com/jeranaias/meri-bot/internal/llm"
	"github.com/jeranaias/meri-bot/internal/offline"
	"github.com/jeranaias/meri-bot/internal/platform"
	"github.com/jeranaias/meri-bot/internal/platform/discord"
	"github.com/jeranaias/meri-bot/internal/prompts"
	"github.com/jeranaias/meri-bot/internal/search"
	"github.com/jeranaias/meri-bot/internal/storage"
	"github.com/jeranaias/meri-bot/internal/tokens"
)

// promptDebounce collapses bursts of prompt file events.
const promptDebounce = 500 * time.Millisecond

type serveOptions struct {
	ConfigPath  string
	ConsoleOnly bool
	Logger      *slog.Logger
}

// serve wires the bot and runs it until ctx is done, the operator quits, or
// an owner asks for shutdown. It reports whether a restart was requested.
func serve(ctx context.Context, cfg *config.Config, opts serveOptions) (bool, error) {
	logger := opts.Logger
	if !opts.ConsoleOnly {
		if err := cfg.ValidateDiscord(); err != nil {
			return false, err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Persistence
	backend, err := storage.Open(storage.Options{
		Kind: cfg.Storage.Backend,
		Dir:  cfg.Storage.Dir,
		Path: cfg.Storage.Path,
	})
	if err != nil {
		return false, fmt.Errorf("failed to open conversation storage: %w", err)
	}
	stores := conversation.NewSet(backend, logger, conversation.WithMaxMessages(cfg.Storage.MaxMessages))
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Warn("failed to close conversation storage", slog.String("error", err.Error()))
		}
	}()
	if err := stores.Load(ctx); err != nil {
		logger.Warn("some conversations could not be loaded", slog.String("error", err.Error()))
	}
	go stores.RunCheckpoints(ctx, cfg.Storage.CheckpointInterval.Duration)

	// Prompts
	library := prompts.NewLibrary(cfg.Prompts.Dirs, logger)
	if cfg.Prompts.Watch {
		w, err := library.Watch(ctx, promptDebounce)
		if err != nil {
			logger.Warn("prompt file watching disabled", slog.String("error", err.Error()))
		} else {
			defer w.Close()
		}
	}

	// Tools
	guard := offline.NewGuard(cfg.Offline)
	primary, fallback := search.ProvidersFor(cfg.Search.Provider, cfg.Search.SerpAPIKey, cfg.Fetch.UserAgent, nil)
	searcher := search.New(search.Config{
		Primary:           primary,
		Fallback:          fallback,
		MaxResults:        cfg.Search.MaxResults,
		Timeout:           cfg.Search.Timeout.Duration,
		RequestsPerMinute: cfg.Search.RequestsPerMinute,
		Guard:             guard,
		Logger:            logger,
	})
	fetcher := &fetch.Fetcher{
		Transcripts: &fetch.Transcripts{
			Binary:    cfg.Fetch.YTDLPPath,
			Lang:      cfg.Fetch.SubtitleLang,
			CacheDir:  cfg.Fetch.CacheDir,
			UserAgent: cfg.Fetch.UserAgent,
			Guard:     guard,
			Logger:    logger,
		},
		Pages: fetch.NewPages(nil, cfg.Fetch.UserAgent, cfg.Fetch.MaxPageChars, guard, logger),
	}

	// Model
	client, err := newLLMClient(cfg, logger)
	if err != nil {
		return false, err
	}

	var restart atomic.Bool
	b, err := bot.New(bot.Deps{
		Config:    config.NewHolder(cfg, opts.ConfigPath),
		LLM:       client,
		Completer: llm.NewCompleter(client),
		Search:    searcher,
		Fetch:     fetcher,
		Prompts:   library,
		Stores:    stores,
		Tokens:    tokens.Shared(),
		Guard:     guard,
		Stop: func(r bool) {
			restart.Store(r)
			cancel()
		},
		Logger: logger,
	})
	if err != nil {
		return false, err
	}

	// Platforms
	var platforms []platform.Platform
	defer func() {
		for _, p := range platforms {
			if err := p.Close(); err != nil {
				logger.Warn("failed to close platform", slog.String("platform", p.Name()), slog.String("error", err.Error()))
			}
		}
	}()

	if !opts.ConsoleOnly {
		dc, err := discord.New(cfg.Discord.Token, logger)
		if err != nil {
			return false, err
		}
		if err := dc.Start(ctx, b.HandlerFor(dc)); err != nil {
			return false, err
		}
		platforms = append(platforms, dc)
		logger.Info("connected to discord", slog.String("bot_user", dc.SelfID()))
	}

	if opts.ConsoleOnly || term.IsTerminal(int(os.Stdin.Fd())) {
		con := console.New(console.Options{
			OperatorID:   "operator",
			OperatorName: "operator",
			Prefix:       cfg.Discord.Prefix,
			HistoryFile:  historyFile(),
			Status:       b.Status,
			Logger:       logger,
		})
		if err := con.Start(ctx, b.HandlerFor(con)); err != nil {
			return false, err
		}
		platforms = append(platforms, con)
		go func() {
			if err := con.Run(ctx); err != nil {
				logger.Error("operator console stopped", slog.String("error", err.Error()))
			}
			cancel()
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down", slog.Int("in_flight", b.InFlight()))

	timeout := cfg.Storage.ShutdownTimeout.Duration
	if !b.Wait(timeout) {
		logger.Warn("some commands did not finish before shutdown")
	}
	if err := stores.FlushWithin(timeout); err != nil {
		logger.Error("conversations were not fully saved", slog.String("error", err.Error()))
	}
	return restart.Load(), nil
}

// historyFile is the console line history in the user's config directory,
// or "" when there is none.
func historyFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "meri-bot")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return ""
	}
	return filepath.Join(dir, "console_history")
}
