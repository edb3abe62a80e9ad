// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/meri-bot/internal/apperr"
)

const lmapiconf = "\uFEFFLM_STUDIO_BASE_URL=http://localhost:1234\n" +
	"LM_STUDIO_TIMEOUT=300\n" +
	"DEFAULT_MODEL=qwen3-8b\n" +
	"DEFAULT_REASON_MODEL=deepseek-r1\n" +
	"DEFAULT_TEMPERATURE=0.7\n" +
	"DEFAULT_MAX_TOKENS=4096\n" +
	"DEFAULT_SEED=42\n" +
	"MAX_DISCORD_MESSAGE_LENGTH=2000\n" +
	"RESPONSE_FORMAT_PADDING=120\n"

const botconfig = "# bot settings\n" +
	"DISCORD_TOKEN=\"abc.def\"\n" +
	"PREFIX=!\n" +
	"BOT_OWNER_ID=1234\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_LegacyFiles(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, LLMFileName, lmapiconf)
	writeFile(t, dir, BotFileName, botconfig)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LLM.BaseURL != "http://localhost:1234" {
		t.Errorf("BaseURL = %q (BOM not stripped?)", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Timeout.Duration != 300*time.Second {
		t.Errorf("Timeout = %v, want 5m", cfg.LLM.Timeout.Duration)
	}
	if cfg.LLM.Temperature == nil || *cfg.LLM.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", cfg.LLM.Temperature)
	}
	if cfg.LLM.Seed == nil || *cfg.LLM.Seed != 42 {
		t.Errorf("Seed = %v, want 42", cfg.LLM.Seed)
	}
	if cfg.LLM.ReasonModel != "deepseek-r1" {
		t.Errorf("ReasonModel = %q", cfg.LLM.ReasonModel)
	}
	if cfg.LLM.VisionModel != "qwen3-8b" {
		t.Errorf("VisionModel = %q, want fallback to default model", cfg.LLM.VisionModel)
	}
	if cfg.Relay.Padding != 120 {
		t.Errorf("Padding = %d, want 120", cfg.Relay.Padding)
	}
	if cfg.Discord.Token != "abc.def" || cfg.Discord.Prefix != "!" || cfg.Discord.OwnerID != "1234" {
		t.Errorf("Discord = %+v", cfg.Discord)
	}
	if len(cfg.Sources) != 2 {
		t.Errorf("Sources = %v, want both legacy files", cfg.Sources)
	}
}

func TestLoad_MissingMandatory(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load("")
	if err == nil {
		t.Fatal("Load() should fail without mandatory settings")
	}
	if !apperr.IsKind(err, apperr.KindConfiguration) {
		t.Errorf("error kind = %v, want ConfigurationError", apperr.KindOf(err))
	}

	var verrs ValidateErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error %v does not wrap ValidateErrors", err)
	}
	fields := map[string]bool{}
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, want := range []string{"llm.base_url", "llm.model", "llm.temperature", "llm.max_tokens", "llm.timeout"} {
		if !fields[want] {
			t.Errorf("missing validation error for %s", want)
		}
	}
}

func TestLoad_MalformedLegacyValue(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, LLMFileName, strings.Replace(lmapiconf, "DEFAULT_MAX_TOKENS=4096", "DEFAULT_MAX_TOKENS=lots", 1))

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "DEFAULT_MAX_TOKENS") {
		t.Fatalf("Load() error = %v, want it to name DEFAULT_MAX_TOKENS", err)
	}
}

func TestLoad_SearchesSrcDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, filepath.Join("src", LLMFileName), lmapiconf)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Model != "qwen3-8b" {
		t.Errorf("Model = %q", cfg.LLM.Model)
	}
}

func TestLoad_TOMLOverridesLegacy(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, LLMFileName, lmapiconf)
	writeFile(t, dir, FileName, `
[llm]
model = "llama-3.1-8b"
timeout = "2m"

[relay]
mode = "buffered"

[storage]
backend = "sqlite"
`)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Model != "llama-3.1-8b" {
		t.Errorf("Model = %q, want TOML value", cfg.LLM.Model)
	}
	if cfg.LLM.Timeout.Duration != 2*time.Minute {
		t.Errorf("Timeout = %v", cfg.LLM.Timeout.Duration)
	}
	if cfg.LLM.ReasonModel != "deepseek-r1" {
		t.Errorf("ReasonModel = %q, want legacy value kept", cfg.LLM.ReasonModel)
	}
	if cfg.Relay.Mode != "buffered" || cfg.Storage.Backend != "sqlite" {
		t.Errorf("Relay.Mode = %q, Storage.Backend = %q", cfg.Relay.Mode, cfg.Storage.Backend)
	}
}

func TestLoad_UnknownTOMLKeyWarns(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, LLMFileName, lmapiconf)
	writeFile(t, dir, FileName, "[llm]\nmodle = \"typo\"\n")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Warnings) == 0 || !strings.Contains(cfg.Warnings[0], "llm.modle") {
		t.Errorf("Warnings = %v, want unknown key warning", cfg.Warnings)
	}
}

func TestLoad_ExplicitPathMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("does-not-exist.toml")
	if !apperr.IsKind(err, apperr.KindConfiguration) {
		t.Fatalf("Load() error = %v, want ConfigurationError", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, LLMFileName, lmapiconf)
	t.Setenv("MERI_MODEL", "env-model")
	t.Setenv("MERI_TEMPERATURE", "0.2")
	t.Setenv("MERI_OFFLINE", "true")
	t.Setenv("MERI_LLM_TIMEOUT", "45s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Model != "env-model" {
		t.Errorf("Model = %q", cfg.LLM.Model)
	}
	if *cfg.LLM.Temperature != 0.2 {
		t.Errorf("Temperature = %v", *cfg.LLM.Temperature)
	}
	if !cfg.Offline {
		t.Error("Offline should be set")
	}
	if cfg.LLM.Timeout.Duration != 45*time.Second {
		t.Errorf("Timeout = %v", cfg.LLM.Timeout.Duration)
	}
}

func TestValidate_OptionalSettings(t *testing.T) {
	valid := func() *Config {
		temp := 0.5
		c := Default()
		c.LLM.BaseURL = "http://localhost:1234"
		c.LLM.Model = "m"
		c.LLM.Temperature = &temp
		c.LLM.MaxTokens = 100
		c.LLM.Timeout = Duration{time.Minute}
		c.SetDefaults()
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad scheme", func(c *Config) { c.LLM.BaseURL = "localhost:1234" }, "llm.base_url"},
		{"temperature range", func(c *Config) { t := 3.0; c.LLM.Temperature = &t }, "llm.temperature"},
		{"padding too large", func(c *Config) { c.Relay.Padding = 2000 }, "relay.padding"},
		{"padding below header room", func(c *Config) { c.Relay.Padding = 0 }, "relay.padding"},
		{"padding just below minimum", func(c *Config) { c.Relay.Padding = MinPadding - 1 }, "relay.padding"},
		{"padding at minimum", func(c *Config) { c.Relay.Padding = MinPadding }, ""},
		{"relay mode", func(c *Config) { c.Relay.Mode = "carrier-pigeon" }, "relay.mode"},
		{"serpapi without key", func(c *Config) { c.Search.Provider = "serpapi" }, "search.serpapi_key"},
		{"storage backend", func(c *Config) { c.Storage.Backend = "postgres" }, "storage.backend"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() error = %v, want ValidateErrors", err)
			}
			if verrs[0].Field != tt.field {
				t.Errorf("field = %q, want %q", verrs[0].Field, tt.field)
			}
		})
	}
}

func TestValidateDiscord(t *testing.T) {
	c := Default()
	if err := c.ValidateDiscord(); !apperr.IsKind(err, apperr.KindConfiguration) {
		t.Errorf("ValidateDiscord() = %v, want ConfigurationError", err)
	}
	c.Discord.Token = "t"
	if err := c.ValidateDiscord(); err != nil {
		t.Errorf("ValidateDiscord() = %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"300", 300 * time.Second, false},
		{"1.5", 1500 * time.Millisecond, false},
		{"800ms", 800 * time.Millisecond, false},
		{" 5m ", 5 * time.Minute, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	cfg := Default()
	cfg.LLM.BaseURL = "http://127.0.0.1:1234"
	cfg.Relay.Mode = "buffered"

	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML() error = %v", err)
	}

	loaded := Default()
	if err := loaded.LoadTOML(path); err != nil {
		t.Fatalf("LoadTOML() error = %v", err)
	}
	if loaded.LLM.BaseURL != cfg.LLM.BaseURL || loaded.Relay.Mode != "buffered" {
		t.Errorf("round trip lost values: %+v", loaded.LLM)
	}
	if loaded.Relay.Interval != cfg.Relay.Interval {
		t.Errorf("Interval = %v, want %v", loaded.Relay.Interval, cfg.Relay.Interval)
	}
}

// TestHolder_ConcurrentAccess checks Current and Set under contention.
// Run with: go test -race ./internal/config/
func TestHolder_ConcurrentAccess(t *testing.T) {
	h := NewHolder(Default(), "")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := Default()
			c.LLM.Model = "test-model"
			h.Set(c)
		}()
		go func() {
			defer wg.Done()
			if h.Current() == nil {
				t.Error("Current() returned nil")
			}
		}()
	}
	wg.Wait()

	if h.Current().LLM.Model != "test-model" {
		t.Errorf("Model = %q", h.Current().LLM.Model)
	}
}

func TestHolder_ReloadKeepsOldOnError(t *testing.T) {
	t.Chdir(t.TempDir())
	orig := Default()
	h := NewHolder(orig, "")
	if _, err := h.Reload(); err == nil {
		t.Fatal("Reload() should fail without mandatory settings")
	}
	if h.Current() != orig {
		t.Error("failed reload replaced the active config")
	}
}
