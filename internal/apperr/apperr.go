// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apperr defines the error taxonomy shared by every meri-bot component.
//
// Each error carries a Kind that decides how the command boundary reports it:
// configuration problems become setup instructions, interrupted streams keep
// their partial output, tool failures carry install guidance, and persistence
// failures are only logged.
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind categorizes errors for handling at the command boundary.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindStreamInterrupted
	KindBackend
	KindRateLimited
	KindExternalTool
	KindPersistence
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindStreamInterrupted:
		return "StreamInterrupted"
	case KindBackend:
		return "BackendError"
	case KindRateLimited:
		return "RateLimited"
	case KindExternalTool:
		return "ExternalToolError"
	case KindPersistence:
		return "PersistenceError"
	default:
		return "UnknownError"
	}
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is the concrete error type for every kind in the taxonomy.
type Error struct {
	Kind    Kind
	Op      string // operation or setting that failed
	Message string

	// Status is the HTTP status for BackendError, zero otherwise.
	Status int

	// Partial is the text already delivered before a StreamInterrupted.
	Partial string

	// RetryAfter is the platform's requested backoff for RateLimited.
	RetryAfter time.Duration

	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" (")
		b.WriteString(e.Op)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Cause == nil && t.Kind == e.Kind
}

// Sentinel errors for errors.Is checks.
var (
	ErrConfiguration     = &Error{Kind: KindConfiguration}
	ErrStreamInterrupted = &Error{Kind: KindStreamInterrupted}
	ErrBackend           = &Error{Kind: KindBackend}
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	ErrExternalTool      = &Error{Kind: KindExternalTool}
	ErrPersistence       = &Error{Kind: KindPersistence}
)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// Configuration reports a missing or malformed setting.
func Configuration(setting, message string) *Error {
	return &Error{Kind: KindConfiguration, Op: setting, Message: message}
}

// StreamInterrupted reports a backend stream that ended before its terminal
// event. partial is everything delivered to the caller so far.
func StreamInterrupted(partial string, cause error) *Error {
	return &Error{
		Kind:    KindStreamInterrupted,
		Message: fmt.Sprintf("stream ended early after %d chars", len(partial)),
		Partial: partial,
		Cause:   cause,
	}
}

// Backend reports a non-2xx or malformed top-level backend response.
func Backend(status int, message string) *Error {
	return &Error{Kind: KindBackend, Status: status, Message: message}
}

// BackendCause wraps a transport failure talking to the backend.
func BackendCause(op string, cause error) *Error {
	return &Error{Kind: KindBackend, Op: op, Cause: cause}
}

// RateLimited reports platform pushback with the requested backoff.
func RateLimited(op string, retryAfter time.Duration, cause error) *Error {
	return &Error{Kind: KindRateLimited, Op: op, RetryAfter: retryAfter, Cause: cause}
}

// ExternalTool reports a failed or unusable subprocess run.
func ExternalTool(tool, message string, cause error) *Error {
	return &Error{Kind: KindExternalTool, Op: tool, Message: message, Cause: cause}
}

// Persistence reports a failed store write or read.
func Persistence(op string, cause error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Cause: cause}
}

// =============================================================================
// HELPERS
// =============================================================================

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err's chain contains an *Error of kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// PartialOf returns the partial output carried by a StreamInterrupted error.
func PartialOf(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindStreamInterrupted {
		return e.Partial, true
	}
	return "", false
}

// RetryAfterOf returns the backoff requested by a RateLimited error.
func RetryAfterOf(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRateLimited {
		return e.RetryAfter, true
	}
	return 0, false
}

// UserMessage turns err into the text shown to the chat user.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "❌ Error: " + err.Error()
	}

	switch e.Kind {
	case KindConfiguration:
		msg := "❌ Configuration error"
		if e.Op != "" {
			msg += " in `" + e.Op + "`"
		}
		if e.Message != "" {
			msg += ": " + e.Message
		}
		return msg + "\nCheck meri.toml (or lmapiconf.txt) and try again."
	case KindStreamInterrupted:
		return "⚠️ The connection to the model dropped. The response above may be incomplete."
	case KindBackend:
		if e.Status != 0 {
			return fmt.Sprintf("❌ Backend error (HTTP %d): %s", e.Status, e.Message)
		}
		return "❌ Backend error: " + e.Error()
	case KindRateLimited:
		return "⏳ The chat platform is rate limiting me. Please try again shortly."
	case KindExternalTool:
		msg := "❌ " + e.Message
		if e.Op != "" {
			msg = fmt.Sprintf("❌ %s: %s", e.Op, e.Message)
		}
		return msg
	case KindPersistence:
		// Never shown in normal flow; persistence failures are log-only.
		return "⚠️ Conversation history could not be saved."
	default:
		return "❌ Error: " + e.Error()
	}
}
