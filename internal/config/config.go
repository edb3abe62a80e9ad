// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete meri-bot configuration.
type Config struct {
	LLM     LLMConfig     `toml:"llm"`
	Discord DiscordConfig `toml:"discord"`
	Relay   RelayConfig   `toml:"relay"`
	Search  SearchConfig  `toml:"search"`
	Fetch   FetchConfig   `toml:"fetch"`
	Storage StorageConfig `toml:"storage"`
	Probe   ProbeConfig   `toml:"probe"`
	Prompts PromptsConfig `toml:"prompts"`
	Admin   AdminConfig   `toml:"admin"`
	Log     LogConfig     `toml:"log"`

	// Offline blocks web search and content fetching.
	Offline bool `toml:"offline"`

	// Sources lists the files that contributed, in load order.
	Sources []string `toml:"-"`

	// Warnings collects non-fatal problems found while loading; they are
	// logged once the logger exists.
	Warnings []string `toml:"-"`
}

// LLMConfig configures the chat-completion backend.
type LLMConfig struct {
	// BaseURL of the OpenAI-compatible server, without /v1. Mandatory.
	BaseURL string `toml:"base_url"`

	// Model is the default chat model. Mandatory.
	Model string `toml:"model"`

	// Task-specific models fall back to Model when empty.
	ReasonModel        string `toml:"reason_model"`
	VisionModel        string `toml:"vision_model"`
	SummarizationModel string `toml:"summarization_model"`
	RankingModel       string `toml:"ranking_model"`

	// Temperature is mandatory; nil means it was never set.
	Temperature *float64 `toml:"temperature"`

	// MaxTokens is mandatory.
	MaxTokens int `toml:"max_tokens"`

	Seed *int64 `toml:"seed"`

	// Timeout bounds a whole generation. Mandatory.
	Timeout Duration `toml:"timeout"`

	// ConnectTimeout bounds connection setup (default 10s).
	ConnectTimeout Duration `toml:"connect_timeout"`

	// ContextTokens is the prompt budget used to fit history and fetched
	// content (default 8192).
	ContextTokens int `toml:"context_tokens"`
}

// DiscordConfig configures the chat platform.
type DiscordConfig struct {
	Token     string `toml:"token"`
	Prefix    string `toml:"prefix"`
	OwnerID   string `toml:"owner_id"`
	BotUserID string `toml:"bot_user_id"`
}

// RelayConfig configures how responses reach the chat.
type RelayConfig struct {
	// Mode is "live" (edit in place) or "buffered".
	Mode string `toml:"mode"`

	// Interval is the minimum time between live edits.
	Interval Duration `toml:"interval"`

	// MessageLimit is the platform's per-message character limit.
	MessageLimit int `toml:"message_limit"`

	// Padding is reserved for part headers and code fences. At least
	// MinPadding.
	Padding int `toml:"padding"`

	// Backoff is used when a rate-limit error has no retry hint.
	Backoff Duration `toml:"backoff"`
}

// SearchConfig configures web search.
type SearchConfig struct {
	// Provider is the primary provider: "duckduckgo" or "serpapi". The
	// other one is the fallback when configured.
	Provider   string   `toml:"provider"`
	SerpAPIKey string   `toml:"serpapi_key"`
	MaxResults int      `toml:"max_results"`
	Timeout    Duration `toml:"timeout"`

	// RefineQuery rewrites the user's query with a short completion first.
	RefineQuery bool `toml:"refine_query"`

	// RequestsPerMinute throttles outgoing search requests.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// FetchConfig configures transcript and web page fetching.
type FetchConfig struct {
	YTDLPPath    string   `toml:"ytdlp_path"`
	SubtitleLang string   `toml:"subtitle_lang"`
	CacheDir     string   `toml:"cache_dir"`
	MaxPageChars int      `toml:"max_page_chars"`
	UserAgent    string   `toml:"user_agent"`
	Timeout      Duration `toml:"timeout"`
}

// StorageConfig configures conversation persistence.
type StorageConfig struct {
	// Backend is "memory", "json" or "sqlite".
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"`
	Path    string `toml:"path"`

	MaxMessages        int      `toml:"max_messages"`
	CheckpointInterval Duration `toml:"checkpoint_interval"`
	ShutdownTimeout    Duration `toml:"shutdown_timeout"`
}

// ProbeConfig configures the search-vs-answer capability probe.
type ProbeConfig struct {
	Enabled   bool `toml:"enabled"`
	MaxTokens int  `toml:"max_tokens"`
}

// PromptsConfig configures prompt file discovery.
type PromptsConfig struct {
	// Dirs overrides the default search directories.
	Dirs []string `toml:"dirs"`

	// Watch reloads prompt files when they change.
	Watch bool `toml:"watch"`
}

// AdminConfig configures owner-only commands.
type AdminConfig struct {
	// TOTPSecret, when set, makes admin commands require a current code.
	TOTPSecret string `toml:"totp_secret"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration that decodes from "90s"/"5m" strings or from
// a bare number of seconds, as used by the legacy files.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ParseDuration accepts Go duration syntax or a number of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// FileName is the TOML configuration file searched for.
const FileName = "meri.toml"

// MinPadding is the smallest relay padding that leaves room for a part
// header and code fences around a full-size chunk.
const MinPadding = 72

// Default returns a configuration holding only optional defaults. The
// mandatory LLM settings stay empty.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			ConnectTimeout: Duration{10 * time.Second},
			ContextTokens:  8192,
		},
		Discord: DiscordConfig{
			Prefix: "^",
		},
		Relay: RelayConfig{
			Mode:         "live",
			Interval:     Duration{800 * time.Millisecond},
			MessageLimit: 2000,
			Padding:      100,
			Backoff:      Duration{time.Second},
		},
		Search: SearchConfig{
			Provider:          "duckduckgo",
			MaxResults:        5,
			Timeout:           Duration{15 * time.Second},
			RequestsPerMinute: 30,
		},
		Fetch: FetchConfig{
			YTDLPPath:    "yt-dlp",
			SubtitleLang: "en",
			CacheDir:     "cache",
			MaxPageChars: 15000,
			UserAgent:    "Mozilla/5.0 (compatible; meri-bot/1.0)",
			Timeout:      Duration{30 * time.Second},
		},
		Storage: StorageConfig{
			Backend:            "json",
			Dir:                "contexts",
			MaxMessages:        100,
			CheckpointInterval: Duration{5 * time.Minute},
			ShutdownTimeout:    Duration{10 * time.Second},
		},
		Probe: ProbeConfig{
			Enabled:   true,
			MaxTokens: 64,
		},
		Prompts: PromptsConfig{
			Watch: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults fills optional settings left empty and resolves the
// task-specific model fallbacks.
func (c *Config) SetDefaults() {
	d := Default()

	if c.LLM.ReasonModel == "" {
		c.LLM.ReasonModel = c.LLM.Model
	}
	if c.LLM.VisionModel == "" {
		c.LLM.VisionModel = c.LLM.Model
	}
	if c.LLM.SummarizationModel == "" {
		c.LLM.SummarizationModel = c.LLM.Model
	}
	if c.LLM.RankingModel == "" {
		c.LLM.RankingModel = c.LLM.Model
	}
	if c.LLM.ConnectTimeout.Duration <= 0 {
		c.LLM.ConnectTimeout = d.LLM.ConnectTimeout
	}
	if c.LLM.ContextTokens <= 0 {
		c.LLM.ContextTokens = d.LLM.ContextTokens
	}

	if c.Discord.Prefix == "" {
		c.Discord.Prefix = d.Discord.Prefix
	}

	if c.Relay.Mode == "" {
		c.Relay.Mode = d.Relay.Mode
	}
	if c.Relay.Interval.Duration <= 0 {
		c.Relay.Interval = d.Relay.Interval
	}
	if c.Relay.MessageLimit <= 0 {
		c.Relay.MessageLimit = d.Relay.MessageLimit
	}
	if c.Relay.Backoff.Duration <= 0 {
		c.Relay.Backoff = d.Relay.Backoff
	}

	if c.Search.Provider == "" {
		c.Search.Provider = d.Search.Provider
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = d.Search.MaxResults
	}
	if c.Search.Timeout.Duration <= 0 {
		c.Search.Timeout = d.Search.Timeout
	}
	if c.Search.RequestsPerMinute <= 0 {
		c.Search.RequestsPerMinute = d.Search.RequestsPerMinute
	}

	if c.Fetch.YTDLPPath == "" {
		c.Fetch.YTDLPPath = d.Fetch.YTDLPPath
	}
	if c.Fetch.SubtitleLang == "" {
		c.Fetch.SubtitleLang = d.Fetch.SubtitleLang
	}
	if c.Fetch.CacheDir == "" {
		c.Fetch.CacheDir = d.Fetch.CacheDir
	}
	if c.Fetch.MaxPageChars <= 0 {
		c.Fetch.MaxPageChars = d.Fetch.MaxPageChars
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = d.Fetch.UserAgent
	}
	if c.Fetch.Timeout.Duration <= 0 {
		c.Fetch.Timeout = d.Fetch.Timeout
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = d.Storage.Dir
	}
	if c.Storage.MaxMessages <= 0 {
		c.Storage.MaxMessages = d.Storage.MaxMessages
	}
	if c.Storage.ShutdownTimeout.Duration <= 0 {
		c.Storage.ShutdownTimeout = d.Storage.ShutdownTimeout
	}

	if c.Probe.MaxTokens <= 0 {
		c.Probe.MaxTokens = d.Probe.MaxTokens
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load builds the configuration. explicitPath, when set, must name a
// readable TOML file; otherwise meri.toml is searched for and may be absent
// as long as the legacy files or environment supply the mandatory settings.
func Load(explicitPath string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadLegacyFiles(); err != nil {
		return nil, err
	}

	path := explicitPath
	if path == "" {
		path, _ = FindFile(nil, FileName)
	} else if _, err := os.Stat(path); err != nil {
		return nil, apperr.Configuration("--config", fmt.Sprintf("cannot read %s: %v", path, err))
	}
	if path != "" {
		if err := cfg.LoadTOML(path); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML decodes path over the current values. Keys absent from the file
// keep their value.
func (c *Config) LoadTOML(path string) error {
	c.checkPermissions(path)

	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return apperr.Configuration(path, fmt.Sprintf("failed to decode TOML: %v", err))
	}
	for _, key := range md.Undecoded() {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s: unknown key %q", path, key.String()))
	}
	c.Sources = append(c.Sources, path)
	return nil
}

// checkPermissions warns when a file holding secrets is readable by others.
func (c *Config) checkPermissions(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		c.Warnings = append(c.Warnings,
			fmt.Sprintf("%s is accessible by other users (mode %o); consider chmod 600", path, mode))
	}
}

// SaveTOML writes c to path as TOML. Mandatory settings are written as
// found, so an empty Default() produces a commented template to fill in.
func SaveTOML(c *Config, path string) error {
	var b strings.Builder
	b.WriteString("# meri-bot configuration\n")
	b.WriteString("# Mandatory: llm.base_url, llm.model, llm.temperature, llm.max_tokens, llm.timeout\n\n")
	enc := toml.NewEncoder(&b)
	enc.Indent = "  "
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, []byte(b.String()), 0600)
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every setting and returns a ConfigurationError wrapping
// ValidateErrors when any is invalid.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// ==========================================================================
	// Mandatory LLM settings
	// ==========================================================================

	base := strings.TrimSpace(c.LLM.BaseURL)
	switch {
	case base == "":
		add("llm.base_url", "is required (LM_STUDIO_BASE_URL in lmapiconf.txt)")
	case !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://"):
		add("llm.base_url", "%q must start with http:// or https://", base)
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		add("llm.model", "is required (DEFAULT_MODEL in lmapiconf.txt)")
	}
	switch {
	case c.LLM.Temperature == nil:
		add("llm.temperature", "is required (DEFAULT_TEMPERATURE in lmapiconf.txt)")
	case *c.LLM.Temperature < 0 || *c.LLM.Temperature > 2:
		add("llm.temperature", "%.2f is outside 0.0-2.0", *c.LLM.Temperature)
	}
	if c.LLM.MaxTokens <= 0 {
		add("llm.max_tokens", "is required and must be positive (DEFAULT_MAX_TOKENS in lmapiconf.txt)")
	}
	if c.LLM.Timeout.Duration <= 0 {
		add("llm.timeout", "is required and must be positive (LM_STUDIO_TIMEOUT in lmapiconf.txt)")
	}

	// ==========================================================================
	// Optional settings
	// ==========================================================================

	if c.Relay.Padding < MinPadding || c.Relay.Padding >= c.Relay.MessageLimit {
		add("relay.padding", "%d must be at least %d and below message_limit (%d)", c.Relay.Padding, MinPadding, c.Relay.MessageLimit)
	}
	switch strings.ToLower(c.Relay.Mode) {
	case "live", "live-edit", "edit", "buffered", "buffer":
	default:
		add("relay.mode", "invalid mode %q, must be one of: live, buffered", c.Relay.Mode)
	}
	switch strings.ToLower(c.Search.Provider) {
	case "duckduckgo", "ddg":
	case "serpapi":
		if c.Search.SerpAPIKey == "" {
			add("search.serpapi_key", "is required when search.provider is serpapi")
		}
	default:
		add("search.provider", "invalid provider %q, must be one of: duckduckgo, serpapi", c.Search.Provider)
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "memory", "json", "sqlite":
	default:
		add("storage.backend", "invalid backend %q, must be one of: memory, json, sqlite", c.Storage.Backend)
	}
	if c.Storage.MaxMessages < 2 {
		add("storage.max_messages", "must be at least 2")
	}
	if c.Storage.CheckpointInterval.Duration < 0 {
		add("storage.checkpoint_interval", "must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "invalid level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format", "invalid format %q, must be text or json", c.Log.Format)
	}

	if len(errs) == 0 {
		return nil
	}
	e := apperr.Configuration("", "")
	e.Cause = errs
	return e
}

// ValidateDiscord checks the settings needed to connect to Discord.
func (c *Config) ValidateDiscord() error {
	if strings.TrimSpace(c.Discord.Token) == "" {
		return apperr.Configuration("discord.token", "is required to connect (DISCORD_TOKEN in botconfig.txt)")
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies MERI_* environment variables.
//
// Supported environment variables:
//   - MERI_LLM_BASE_URL, MERI_MODEL, MERI_REASON_MODEL, MERI_MAX_TOKENS,
//     MERI_TEMPERATURE, MERI_LLM_TIMEOUT
//   - MERI_DISCORD_TOKEN, MERI_PREFIX, MERI_OWNER_ID
//   - MERI_SERPAPI_KEY, MERI_SEARCH_PROVIDER
//   - MERI_STORAGE_BACKEND, MERI_RELAY_MODE
//   - MERI_OFFLINE: "1" or "true" blocks search and fetching
//   - MERI_LOG_LEVEL, MERI_LOG_FORMAT
func (c *Config) ApplyEnvOverrides() {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	str("MERI_LLM_BASE_URL", &c.LLM.BaseURL)
	str("MERI_MODEL", &c.LLM.Model)
	str("MERI_REASON_MODEL", &c.LLM.ReasonModel)
	str("MERI_DISCORD_TOKEN", &c.Discord.Token)
	str("MERI_PREFIX", &c.Discord.Prefix)
	str("MERI_OWNER_ID", &c.Discord.OwnerID)
	str("MERI_SERPAPI_KEY", &c.Search.SerpAPIKey)
	str("MERI_SEARCH_PROVIDER", &c.Search.Provider)
	str("MERI_STORAGE_BACKEND", &c.Storage.Backend)
	str("MERI_RELAY_MODE", &c.Relay.Mode)
	str("MERI_LOG_LEVEL", &c.Log.Level)
	str("MERI_LOG_FORMAT", &c.Log.Format)

	if v := os.Getenv("MERI_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LLM.MaxTokens = n
		} else {
			c.Warnings = append(c.Warnings, fmt.Sprintf("MERI_MAX_TOKENS: %q is not a number", v))
		}
	}
	if v := os.Getenv("MERI_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.LLM.Temperature = &f
		} else {
			c.Warnings = append(c.Warnings, fmt.Sprintf("MERI_TEMPERATURE: %q is not a number", v))
		}
	}
	if v := os.Getenv("MERI_LLM_TIMEOUT"); v != "" {
		if d, err := ParseDuration(v); err == nil {
			c.LLM.Timeout = Duration{d}
		} else {
			c.Warnings = append(c.Warnings, "MERI_LLM_TIMEOUT: "+err.Error())
		}
	}
	if v := os.Getenv("MERI_OFFLINE"); v != "" {
		c.Offline = parseBool(v)
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// =============================================================================
// SHARED HOLDER
// =============================================================================

// Holder shares the live configuration between the bot and the admin
// reload command.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewHolder wraps cfg, which was loaded from path ("" for discovery).
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

// Current returns the active configuration. Callers must not modify it.
func (h *Holder) Current() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Set replaces the active configuration.
func (h *Holder) Set(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
}

// Reload loads the configuration again from the original sources. On
// failure the active configuration is kept.
func (h *Holder) Reload() (*Config, error) {
	cfg, err := Load(h.path)
	if err != nil {
		return nil, err
	}
	h.Set(cfg)
	return cfg, nil
}
