// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared across meri-bot.
//
// # Key Functions
//
// Text:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth, PadWidth, StringWidth: terminal-column aware layout
//   - StripBOM, CollapseWhitespace: cleanup of loaded files and page text
//
// Files:
//   - AtomicWriteFile: crash-safe writes with fsync and rename
//
// # Usage
//
//	preview := util.TruncateRunes(prompt, 80)
//	err := util.AtomicWriteFile(path, data, 0644)
package util
