// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads meri-bot's configuration.
//
// # Sources
//
// Configuration is loaded from (lowest precedence first):
//   - Built-in defaults for optional settings
//   - lmapiconf.txt and botconfig.txt (KEY=VALUE)
//   - meri.toml
//   - Environment variables (MERI_*)
//
// Files are discovered in ".", "..", "../.." and "src/" unless --config
// names a file explicitly.
//
// # Mandatory Settings
//
// The LLM base URL, default model, temperature, max tokens and timeout have
// no defaults. Load fails with a ConfigurationError naming every missing or
// invalid key.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	holder := config.NewHolder(cfg, "")
package config
