// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/meri-bot/internal/config"
)

func TestRun_Dispatch(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
		wantErr  string
	}{
		{"version", []string{"version"}, exitOK, "meri-bot " + Version, ""},
		{"version flag", []string{"--version"}, exitOK, "meri-bot " + Version, ""},
		{"help", []string{"help"}, exitOK, "Usage:", ""},
		{"help flag", []string{"-h"}, exitOK, "--console-only", ""},
		{"unknown command", []string{"launch"}, exitUsage, "", `unknown command "launch"`},
		{"typo", []string{"chek"}, exitUsage, "", `Did you mean "check"?`},
		{"unknown flag", []string{"run", "--verbose"}, exitUsage, "", "unknown flag --verbose"},
		{"missing value", []string{"check", "--config"}, exitUsage, "", "--config requires a value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(tt.args, &stdout, &stderr)
			if code != tt.wantCode {
				t.Errorf("run(%v) = %d, want %d (stderr: %s)", tt.args, code, tt.wantCode, stderr.String())
			}
			if tt.wantOut != "" && !strings.Contains(stdout.String(), tt.wantOut) {
				t.Errorf("stdout = %q, want it to contain %q", stdout.String(), tt.wantOut)
			}
			if tt.wantErr != "" && !strings.Contains(stderr.String(), tt.wantErr) {
				t.Errorf("stderr = %q, want it to contain %q", stderr.String(), tt.wantErr)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"}, "")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("component", "test"))
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"component":"test"`)

	buf.Reset()
	logger, err = newLogger(&buf, config.LogConfig{Level: "warn"}, "debug")
	require.NoError(t, err)
	logger.Debug("override wins")
	assert.Contains(t, buf.String(), "level=DEBUG")

	_, err = newLogger(io.Discard, config.LogConfig{Level: "loud"}, "")
	assert.ErrorContains(t, err, "log.level")
	_, err = newLogger(io.Discard, config.LogConfig{Format: "xml"}, "")
	assert.ErrorContains(t, err, "log.format")
}

func TestRunCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			io.WriteString(w, `{"object":"list","data":[{"id":"test-model","object":"model"},{"id":"other","object":"model"}]}`)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "meri.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[llm]
base_url = "`+srv.URL+`"
model = "test-model"
temperature = 0.7
max_tokens = 512
timeout = "30s"
`), 0600))

	var stdout, stderr bytes.Buffer
	code := run([]string{"check", "--config", path}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), "source:   "+path)
	assert.Contains(t, stdout.String(), "* test-model")
	assert.Contains(t, stdout.String(), "discord:  ")
}

func TestServe_ConsoleOnlyStopsWithContext(t *testing.T) {
	cfg := config.Default()
	temp := 0.5
	cfg.LLM.BaseURL = "http://127.0.0.1:1"
	cfg.LLM.Model = "m"
	cfg.LLM.Temperature = &temp
	cfg.LLM.MaxTokens = 64
	cfg.LLM.Timeout = config.Duration{Duration: 5e9}
	cfg.Storage.Backend = "memory"
	cfg.Prompts.Watch = false
	cfg.SetDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	restart, err := serve(ctx, cfg, serveOptions{
		ConsoleOnly: true,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	assert.False(t, restart)
}
