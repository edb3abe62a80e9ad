// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lm_contexts.json")
	data := []byte(`{"111":{"messages":[]}}`)

	if err := AtomicWriteFile(path, data, 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != string(data) {
		t.Errorf("Content mismatch: got %q, want %q", string(content), string(data))
	}
}

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "youtube", "abc.txt")

	if err := AtomicWriteFile(path, []byte("transcript"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("File not created: %v", err)
	}
}

func TestAtomicWriteFile_Overwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := AtomicWriteFile(path, []byte("initial"), 0644); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("updated"), 0644); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != "updated" {
		t.Errorf("Content not updated: got %q", string(content))
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1 (temp files must not leak)", len(entries))
	}
}

func TestAtomicWriteFile_EmptyData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")

	if err := AtomicWriteFile(path, []byte{}, 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed for empty data: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("File not created: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("Expected empty file, got size %d", info.Size())
	}
}

// =============================================================================
// TEXT TESTS
// =============================================================================

func TestTruncateRunes(t *testing.T) {
	testCases := []struct {
		input    string
		maxRunes int
		expected string
	}{
		{"hello world", 5, "he..."},
		{"hello", 5, "hello"},
		{"", 5, ""},
		{"hello world", 0, ""},
		{"abcd", 3, "abc"}, // no room for an ellipsis
		{"こんにちは世界", 5, "こん..."},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			result := TruncateRunes(tc.input, tc.maxRunes)
			if result != tc.expected {
				t.Errorf("TruncateRunes(%q, %d) = %q, want %q",
					tc.input, tc.maxRunes, result, tc.expected)
			}
		})
	}
}

func TestTruncateRunesNoEllipsis(t *testing.T) {
	testCases := []struct {
		input    string
		maxRunes int
		expected string
	}{
		{"hello world", 5, "hello"},
		{"hi", 5, "hi"},
		{"hello world", 0, ""},
		{"日本語テキスト", 3, "日本語"},
	}

	for _, tc := range testCases {
		result := TruncateRunesNoEllipsis(tc.input, tc.maxRunes)
		if result != tc.expected {
			t.Errorf("TruncateRunesNoEllipsis(%q, %d) = %q, want %q",
				tc.input, tc.maxRunes, result, tc.expected)
		}
	}
}

func TestStringWidth(t *testing.T) {
	testCases := []struct {
		input    string
		expected int
	}{
		{"hello", 5},
		{"", 0},
		{"日本語", 6},
		{"hello世界", 9},
	}

	for _, tc := range testCases {
		if result := StringWidth(tc.input); result != tc.expected {
			t.Errorf("StringWidth(%q) = %d, want %d", tc.input, result, tc.expected)
		}
	}
}

func TestTruncateWidthAndPad(t *testing.T) {
	if got := TruncateWidth("hello world", 8); StringWidth(got) > 8 {
		t.Errorf("TruncateWidth() = %q, width %d > 8", got, StringWidth(got))
	}
	if got := TruncateWidth("short", 10); got != "short" {
		t.Errorf("TruncateWidth() = %q, want unchanged", got)
	}
	if got := TruncateWidth("日本語日本語", 5); StringWidth(got) > 5 {
		t.Errorf("TruncateWidth() = %q, width %d > 5", got, StringWidth(got))
	}
	if got := PadWidth("日本", 6); got != "日本  " {
		t.Errorf("PadWidth() = %q, want %q", got, "日本  ")
	}
}

func TestRuneLen(t *testing.T) {
	if got := RuneLen("hello 👋"); got != 7 {
		t.Errorf("RuneLen() = %d, want 7", got)
	}
}

func TestStripBOM(t *testing.T) {
	if got := StripBOM("\uFEFFDISCORD_TOKEN=x"); got != "DISCORD_TOKEN=x" {
		t.Errorf("StripBOM() = %q", got)
	}
	if got := StripBOM("plain"); got != "plain" {
		t.Errorf("StripBOM() = %q, want unchanged", got)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"spaces", "a   b\t\tc", "a b c"},
		{"blank runs", "a\n\n\n\nb", "a\n\nb"},
		{"edges", "\n\n  a  \n\n", "a"},
		{"crlf", "a\r\nb", "a\nb"},
		{"nbsp", "a\u00a0\u00a0b", "a b"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CollapseWhitespace(tc.input); got != tc.expected {
				t.Errorf("CollapseWhitespace(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}
