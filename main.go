// meri-bot - A Discord assistant backed by a local OpenAI-compatible LLM server.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/cli"
	"github.com/jeranaias/meri-bot/internal/config"
	"github.com/jeranaias/meri-bot/internal/llm"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Exit codes.
const (
	exitOK      = 0
	exitError   = 1
	exitUsage   = 2
	exitRestart = 3 // a supervisor should start the bot again
)

var processFlags = []cli.FlagSpec{
	cli.Value("config", "c"),
	cli.Bool("console-only", ""),
	cli.Value("log-level", ""),
	cli.Bool("help", "h"),
	cli.Bool("version", ""),
}

var subcommands = []string{"run", "check", "version", "help"}

const usage = `meri-bot - Discord assistant for a local LLM server

Usage:
  meri-bot [run] [flags]   Connect to Discord and serve commands (default)
  meri-bot check [flags]   Validate the configuration and probe the backend
  meri-bot version         Print version information
  meri-bot help            Show this help

Flags:
  -c, --config <path>      Configuration file (default: meri.toml, searched)
      --console-only       Serve the operator console only, without Discord
      --log-level <level>  debug, info, warn or error
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	p := cli.NewArgParser(args, processFlags...)
	if err := p.Err(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n\n%s", err, usage)
		return exitUsage
	}
	if p.BoolFlag("help") {
		fmt.Fprint(stdout, usage)
		return exitOK
	}
	if p.BoolFlag("version") {
		printVersion(stdout)
		return exitOK
	}

	switch cmd := p.Subcommand(); cmd {
	case "", "run":
		return runBot(p, stderr)
	case "check":
		return runCheck(p, stdout, stderr)
	case "version":
		printVersion(stdout)
		return exitOK
	case "help":
		fmt.Fprint(stdout, usage)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n", cmd)
		if s := cli.Suggest(cmd, subcommands); s != "" {
			fmt.Fprintf(stderr, "Did you mean %q?\n", s)
		}
		fmt.Fprintf(stderr, "\n%s", usage)
		return exitUsage
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "meri-bot %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
}

// =============================================================================
// LOGGING
// =============================================================================

// newLogger builds the process logger from the log settings. A non-empty
// override replaces the configured level.
func newLogger(w io.Writer, cfg config.LogConfig, override string) (*slog.Logger, error) {
	level := cfg.Level
	if override != "" {
		level = override
	}
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
			return nil, apperr.Configuration("log.level", fmt.Sprintf("%q is not one of debug, info, warn, error", level))
		}
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, apperr.Configuration("log.format", fmt.Sprintf("%q is not text or json", cfg.Format))
	}
	return slog.New(h), nil
}

// loadConfig loads the configuration and builds the logger, reporting
// problems on stderr.
func loadConfig(p *cli.ArgParser, stderr io.Writer) (*config.Config, *slog.Logger, bool) {
	cfg, err := config.Load(p.Flag("config"))
	if err != nil {
		fmt.Fprintln(stderr, apperr.UserMessage(err))
		var verrs config.ValidateErrors
		if errors.As(err, &verrs) {
			for _, e := range verrs {
				fmt.Fprintf(stderr, "  - %s\n", e.Error())
			}
		}
		return nil, nil, false
	}
	logger, err := newLogger(stderr, cfg.Log, p.Flag("log-level"))
	if err != nil {
		fmt.Fprintln(stderr, apperr.UserMessage(err))
		return nil, nil, false
	}
	for _, w := range cfg.Warnings {
		logger.Warn("config warning", slog.String("warning", w))
	}
	return cfg, logger, true
}

// newLLMClient builds the streaming client from the LLM settings.
func newLLMClient(cfg *config.Config, logger *slog.Logger) (*llm.Client, error) {
	var temp float64
	if cfg.LLM.Temperature != nil {
		temp = *cfg.LLM.Temperature
	}
	return llm.NewClient(llm.ClientConfig{
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Temperature:    temp,
		MaxTokens:      cfg.LLM.MaxTokens,
		Seed:           cfg.LLM.Seed,
		ConnectTimeout: cfg.LLM.ConnectTimeout.Duration,
		Timeout:        cfg.LLM.Timeout.Duration,
		Logger:         logger,
	})
}

// =============================================================================
// RUN
// =============================================================================

func runBot(p *cli.ArgParser, stderr io.Writer) int {
	cfg, logger, ok := loadConfig(p, stderr)
	if !ok {
		return exitError
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting meri-bot",
		slog.String("version", Version),
		slog.Any("config", cfg.Sources),
		slog.String("model", cfg.LLM.Model),
		slog.String("server", cfg.LLM.BaseURL))

	restart, err := serve(ctx, cfg, serveOptions{
		ConfigPath:  p.Flag("config"),
		ConsoleOnly: p.BoolFlag("console-only"),
		Logger:      logger,
	})
	if err != nil {
		logger.Error("bot stopped with an error", slog.String("error", err.Error()))
		fmt.Fprintln(stderr, apperr.UserMessage(err))
		return exitError
	}
	if restart {
		logger.Info("exiting for restart", slog.Int("code", exitRestart))
		return exitRestart
	}
	logger.Info("shutdown complete")
	return exitOK
}

// =============================================================================
// CHECK
// =============================================================================

// checkTimeout bounds each backend probe of the check command.
const checkTimeout = 15 * time.Second

func runCheck(p *cli.ArgParser, stdout, stderr io.Writer) int {
	cfg, logger, ok := loadConfig(p, stderr)
	if !ok {
		return exitError
	}

	fmt.Fprintln(stdout, "Configuration")
	if len(cfg.Sources) == 0 {
		fmt.Fprintln(stdout, "  sources:  (defaults and environment only)")
	}
	for _, src := range cfg.Sources {
		fmt.Fprintf(stdout, "  source:   %s\n", src)
	}
	fmt.Fprintf(stdout, "  server:   %s\n  model:    %s\n  relay:    %s\n  storage:  %s\n",
		cfg.LLM.BaseURL, cfg.LLM.Model, cfg.Relay.Mode, cfg.Storage.Backend)
	if err := cfg.ValidateDiscord(); err != nil {
		fmt.Fprintf(stdout, "  discord:  %s (only --console-only will work)\n", apperr.UserMessage(err))
	} else {
		fmt.Fprintln(stdout, "  discord:  token set")
	}

	client, err := newLLMClient(cfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, apperr.UserMessage(err))
		return exitError
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	fmt.Fprintln(stdout, "\nBackend")
	start := time.Now()
	if err := client.Ping(ctx); err != nil {
		fmt.Fprintf(stdout, "  FAIL  %s unreachable: %v\n", cfg.LLM.BaseURL, err)
		return exitError
	}
	fmt.Fprintf(stdout, "  ok    reachable in %dms\n", time.Since(start).Milliseconds())

	models, err := llm.NewCompleter(client).ListModels(ctx)
	if err != nil {
		fmt.Fprintf(stdout, "  FAIL  model list: %v\n", err)
		return exitError
	}
	found := false
	for _, m := range models {
		mark := " "
		if m == cfg.LLM.Model {
			mark, found = "*", true
		}
		fmt.Fprintf(stdout, "  %s %s\n", mark, m)
	}
	if !found {
		fmt.Fprintf(stdout, "  WARN  configured model %q is not loaded\n", cfg.LLM.Model)
	}
	return exitOK
}
