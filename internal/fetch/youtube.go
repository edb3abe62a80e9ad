// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/offline"
	"github.com/jeranaias/meri-bot/internal/util"
)

// IsYouTubeURL reports whether u points at YouTube.
func IsYouTubeURL(u string) bool {
	lower := strings.ToLower(u)
	return strings.Contains(lower, "youtube.com/") || strings.Contains(lower, "youtu.be/")
}

// CacheKey returns the transcript cache key for a URL.
func CacheKey(u string) string {
	sum := sha256.Sum256([]byte(u))
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// SUBPROCESS RUNNER
// =============================================================================

// Runner runs an external program. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// =============================================================================
// TRANSCRIPTS
// =============================================================================

// Transcript is a cleaned video transcript.
type Transcript struct {
	URL    string
	Text   string
	Cached bool
}

// Transcripts fetches YouTube captions with yt-dlp and caches the cleaned
// text on disk.
type Transcripts struct {
	Runner    Runner
	Binary    string // yt-dlp executable (default "yt-dlp")
	Lang      string // subtitle language (default "en")
	CacheDir  string
	UserAgent string
	Guard     *offline.Guard
	Logger    *slog.Logger
}

func (t *Transcripts) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

// Args returns the yt-dlp arguments used to fetch subtitles for url into
// outputBase.
func (t *Transcripts) Args(url, outputBase string) []string {
	lang := t.Lang
	if lang == "" {
		lang = "en"
	}
	args := []string{
		"--write-auto-sub",
		"--write-sub",
		"--sub-langs", lang,
		"--sub-format", "vtt",
		"--skip-download",
		"--no-warnings",
		"--no-playlist",
	}
	if t.UserAgent != "" {
		args = append(args, "--user-agent", t.UserAgent)
	}
	return append(args, "--output", outputBase, url)
}

// Fetch returns the transcript for url, from the cache when present.
func (t *Transcripts) Fetch(ctx context.Context, url string) (Transcript, error) {
	if err := t.Guard.CheckWebAccess(); err != nil {
		return Transcript{}, apperr.ExternalTool("yt-dlp", err.Error(), err)
	}
	if _, err := offline.ParseWebURL(url); err != nil {
		return Transcript{}, apperr.ExternalTool("yt-dlp", "invalid video URL", err)
	}

	key := CacheKey(url)
	cachePath := filepath.Join(t.CacheDir, key+".txt")
	if data, err := os.ReadFile(cachePath); err == nil && len(data) > 0 {
		t.logger().DebugContext(ctx, "transcript cache hit", slog.String("key", key[:12]))
		return Transcript{URL: url, Text: string(data), Cached: true}, nil
	}

	if err := os.MkdirAll(t.CacheDir, 0755); err != nil {
		return Transcript{}, apperr.ExternalTool("yt-dlp", "cannot create cache directory", err)
	}
	workDir, err := os.MkdirTemp(t.CacheDir, "yt-")
	if err != nil {
		return Transcript{}, apperr.ExternalTool("yt-dlp", "cannot create work directory", err)
	}
	defer os.RemoveAll(workDir)

	binary := t.Binary
	if binary == "" {
		binary = "yt-dlp"
	}
	runner := t.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	start := time.Now()
	_, stderr, err := runner.Run(ctx, binary, t.Args(url, filepath.Join(workDir, key))...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Transcript{}, apperr.ExternalTool("yt-dlp",
				"yt-dlp is not installed. Install yt-dlp to summarise YouTube videos.", err)
		}
		if ctx.Err() != nil {
			return Transcript{}, ctx.Err()
		}
		return Transcript{}, apperr.ExternalTool("yt-dlp", explainYTDLPError(string(stderr)), err)
	}

	vttPath, ok := findVTT(workDir)
	if !ok {
		return Transcript{}, apperr.ExternalTool("yt-dlp", "No captions are available for this video.", nil)
	}
	raw, err := os.ReadFile(vttPath)
	if err != nil {
		return Transcript{}, apperr.ExternalTool("yt-dlp", "cannot read subtitles", err)
	}
	text := CleanVTT(string(raw))
	if text == "" {
		return Transcript{}, apperr.ExternalTool("yt-dlp", "The captions for this video are empty.", nil)
	}

	if err := util.AtomicWriteFile(cachePath, []byte(text), 0644); err != nil {
		t.logger().WarnContext(ctx, "failed to cache transcript", slog.String("error", err.Error()))
	}
	t.logger().InfoContext(ctx, "fetched transcript",
		slog.Int("chars", util.RuneLen(text)),
		slog.Duration("elapsed", time.Since(start)))
	return Transcript{URL: url, Text: text}, nil
}

// findVTT returns the first .vtt file in dir in name order.
func findVTT(dir string) (string, bool) {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.vtt"))
	if len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[0], true
}

// explainYTDLPError maps common yt-dlp failures to a user-facing message.
func explainYTDLPError(stderr string) string {
	switch {
	case strings.Contains(stderr, "Sign in to confirm you're not a bot"):
		return "YouTube is blocking requests right now. Try again later or use a different video."
	case strings.Contains(stderr, "Private video"), strings.Contains(stderr, "Video unavailable"):
		return "The video is private or unavailable."
	case strings.Contains(stderr, "429"), strings.Contains(stderr, "Too Many Requests"):
		return "YouTube is rate limiting requests. Please wait a few minutes and try again."
	case strings.Contains(stderr, "403"), strings.Contains(stderr, "Forbidden"):
		return "YouTube refused access to this video (403). It may be age-restricted or region-locked; updating yt-dlp (`yt-dlp -U`) can also help."
	case strings.Contains(stderr, "Did not get any data blocks"), strings.Contains(stderr, "fragment 1 not found"):
		return "yt-dlp could not download the subtitles. Try updating it with `yt-dlp -U`."
	case strings.Contains(stderr, "No subtitles"), strings.Contains(stderr, "no automatic captions"):
		return "No captions are available for this video."
	}
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		return "yt-dlp failed"
	}
	return fmt.Sprintf("yt-dlp failed: %s", util.TruncateRunes(lastLine(msg), 200))
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
