// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorsIsMatchesKind(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"configuration", Configuration("base_url", "missing"), ErrConfiguration, true},
		{"wrapped backend", fmt.Errorf("chat: %w", Backend(500, "boom")), ErrBackend, true},
		{"kind mismatch", Backend(500, "boom"), ErrRateLimited, false},
		{"plain error", errors.New("x"), ErrBackend, false},
		{"interrupted", StreamInterrupted("abc", errors.New("eof")), ErrStreamInterrupted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPartialOf(t *testing.T) {
	err := fmt.Errorf("relay: %w", StreamInterrupted("Hello ", errors.New("unexpected EOF")))

	partial, ok := PartialOf(err)
	if !ok {
		t.Fatal("PartialOf returned ok = false")
	}
	if partial != "Hello " {
		t.Errorf("partial = %q, want %q", partial, "Hello ")
	}

	if _, ok := PartialOf(Backend(500, "x")); ok {
		t.Error("PartialOf on backend error returned ok = true")
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := RateLimited("edit", 2*time.Second, nil)
	d, ok := RetryAfterOf(err)
	if !ok || d != 2*time.Second {
		t.Errorf("RetryAfterOf = %v, %v; want 2s, true", d, ok)
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Persistence("save lm", cause)
	if !errors.Is(err, cause) {
		t.Error("Persistence error does not unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Error() = %q, want it to contain the cause", err.Error())
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{Configuration("llm.base_url", "must not be empty"), "llm.base_url"},
		{StreamInterrupted("x", nil), "may be incomplete"},
		{Backend(404, "model not loaded"), "HTTP 404"},
		{ExternalTool("yt-dlp", "yt-dlp is not installed", nil), "not installed"},
		{errors.New("plain"), "plain"},
	}

	for _, tt := range tests {
		if got := UserMessage(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("UserMessage(%v) = %q, want substring %q", tt.err, got, tt.want)
		}
	}
}

func TestKindString(t *testing.T) {
	if KindRateLimited.String() != "RateLimited" {
		t.Errorf("KindRateLimited.String() = %q", KindRateLimited.String())
	}
	if KindOf(errors.New("x")) != KindUnknown {
		t.Error("KindOf(plain) should be KindUnknown")
	}
}
