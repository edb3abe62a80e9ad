// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"sync"
	"testing"
)

// =============================================================================
// MODE MANAGEMENT TESTS
// =============================================================================

func TestGuard_SetAndEnabled(t *testing.T) {
	g := NewGuard(false)
	if g.Enabled() {
		t.Error("Enabled() should be false for NewGuard(false)")
	}
	g.Set(true)
	if !g.Enabled() {
		t.Error("Enabled() should be true after Set(true)")
	}
	if err := g.CheckWebAccess(); !errors.Is(err, ErrWebBlocked) {
		t.Errorf("CheckWebAccess() = %v, want ErrWebBlocked", err)
	}
	if g.StatusBadge() != "[OFFLINE]" {
		t.Errorf("StatusBadge() = %q", g.StatusBadge())
	}
}

func TestGuard_NilIsOnline(t *testing.T) {
	var g *Guard
	if g.Enabled() {
		t.Error("nil guard should be online")
	}
	if err := g.CheckWebAccess(); err != nil {
		t.Errorf("CheckWebAccess() = %v", err)
	}
	if err := g.ValidateURL("https://example.com"); err != nil {
		t.Errorf("ValidateURL() = %v", err)
	}
}

func TestGuard_ThreadSafe(t *testing.T) {
	g := NewGuard(false)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g.Set(j%2 == 0)
				_ = g.Enabled()
			}
		}()
	}
	wg.Wait()
}

// =============================================================================
// LOCALHOST DETECTION TESTS
// =============================================================================

func TestIsLocalhost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"LOCALHOST", true},
		{"localhost:1234", true},
		{"127.0.0.1", true},
		{"127.0.0.1:8080", true},
		{"127.1.2.3", true},
		{"::1", true},
		{"[::1]:1234", true},
		{"0:0:0:0:0:0:0:1", true},
		{"192.168.1.10", false},
		{"example.com", false},
		{"localhost.evil.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsLocalhost(tt.host); got != tt.want {
			t.Errorf("IsLocalhost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

// =============================================================================
// URL VALIDATION TESTS
// =============================================================================

func TestParseWebURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr error
	}{
		{"https://example.com/page", nil},
		{"  http://example.com  ", nil},
		{"file:///etc/passwd", ErrInvalidURLScheme},
		{"javascript:alert(1)", ErrInvalidURLScheme},
		{"ftp://ftp.example.com", ErrInvalidURLScheme},
		{"example.com/page", ErrInvalidURLScheme},
		{"https://", ErrInvalidURL},
		{"http://[::1", ErrInvalidURL},
	}
	for _, tt := range tests {
		_, err := ParseWebURL(tt.url)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("ParseWebURL(%q) error = %v, want %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestGuard_ValidateURL_Offline(t *testing.T) {
	g := NewGuard(true)

	if err := g.ValidateURL("http://localhost:1234/v1"); err != nil {
		t.Errorf("local URL blocked: %v", err)
	}

	blocked := []string{
		"https://www.youtube.com/watch?v=abc",
		"http://localhost.evil.com:1234",
		"http://127.0.0.1.evil.com",
		"http://evil.com#localhost",
		"http://localhost@evil.com",
	}
	for _, u := range blocked {
		if err := g.ValidateURL(u); !errors.Is(err, ErrNonLocalhost) {
			t.Errorf("ValidateURL(%q) = %v, want ErrNonLocalhost", u, err)
		}
	}

	// Scheme validation applies regardless of mode.
	if err := g.ValidateURL("file:///etc/passwd"); !errors.Is(err, ErrInvalidURLScheme) {
		t.Errorf("ValidateURL(file) = %v", err)
	}
}
