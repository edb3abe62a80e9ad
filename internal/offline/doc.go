// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline implements the offline switch that blocks web search and
// content fetching. The LLM backend is local and is never blocked.
//
// # Usage
//
//	guard := offline.NewGuard(cfg.Offline)
//	if err := guard.CheckWebAccess(); err != nil {
//		return err
//	}
package offline
