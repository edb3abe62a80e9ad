// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrWebBlocked is returned for web search or fetching in offline mode.
	ErrWebBlocked = errors.New("web access is disabled in offline mode")

	// ErrNonLocalhost is returned for a non-local URL in offline mode.
	ErrNonLocalhost = errors.New("only localhost connections are allowed in offline mode")

	// ErrInvalidURLScheme is returned when a URL is not http or https.
	ErrInvalidURLScheme = errors.New("only http and https URLs are allowed")

	// ErrInvalidURL is returned for a URL that does not parse or has no host.
	ErrInvalidURL = errors.New("invalid URL")
)

// =============================================================================
// MODE MANAGEMENT
// =============================================================================

// Guard holds the offline switch. A nil Guard is always online.
type Guard struct {
	offline atomic.Bool
}

// NewGuard returns a guard in the given mode.
func NewGuard(offline bool) *Guard {
	g := &Guard{}
	g.offline.Store(offline)
	return g
}

// Set enables or disables offline mode.
func (g *Guard) Set(offline bool) {
	g.offline.Store(offline)
}

// Enabled reports whether offline mode is on.
func (g *Guard) Enabled() bool {
	return g != nil && g.offline.Load()
}

// CheckWebAccess returns ErrWebBlocked in offline mode.
func (g *Guard) CheckWebAccess() error {
	if g.Enabled() {
		return ErrWebBlocked
	}
	return nil
}

// StatusBadge returns "[OFFLINE]" in offline mode, "" otherwise.
func (g *Guard) StatusBadge() string {
	if g.Enabled() {
		return "[OFFLINE]"
	}
	return ""
}

// =============================================================================
// URL VALIDATION
// =============================================================================

// IsLocalhost reports whether host (optionally with port) is a loopback
// name or address.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ParseWebURL parses rawURL and requires an http or https scheme and a host.
// The scheme check applies in every mode.
func ParseWebURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, ErrInvalidURL
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, ErrInvalidURLScheme
	}
	if u.Hostname() == "" {
		return nil, ErrInvalidURL
	}
	return u, nil
}

// ValidateURL checks rawURL with ParseWebURL and, in offline mode, also
// requires a loopback host.
func (g *Guard) ValidateURL(rawURL string) error {
	u, err := ParseWebURL(rawURL)
	if err != nil {
		return err
	}
	if g.Enabled() && !IsLocalhost(u.Hostname()) {
		return ErrNonLocalhost
	}
	return nil
}
