// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli parses arguments for the meri-bot executable and for chat
// commands.
//
// NewArgParser handles process arguments where flags may appear anywhere.
// ParseLine handles the text after a chat command name: leading declared
// flags are parsed and everything from the first other token on is kept as
// typed, so prompts containing dashes or newlines survive intact.
//
//	name, rest, ok := cli.ParseCommand(msg.Content, "^")
//	args := cli.ParseLine(rest, cli.Bool("clear", "c"), cli.Rest("search", "s"))
//	if args.HasFlag("search") {
//	    query := args.Flag("search")
//	}
package cli
