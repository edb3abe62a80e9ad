// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jeranaias/meri-bot/internal/thinkfilter"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// Command is a prefixed chat command.
type Command struct {
	// Name is the primary command name without prefix (e.g., "lm").
	Name string

	// Aliases are alternative names (e.g., "llm", "ai").
	Aliases []string

	// Usage shows argument syntax without prefix (e.g., "lm <prompt>").
	Usage string

	// Description is shown in help.
	Description string

	// Category groups commands in help.
	Category string

	// Admin commands are restricted to the bot owner.
	Admin bool

	// Run executes the command. A returned error is logged and shown to the
	// user unless it was already reported.
	Run func(ctx context.Context, inv *Invocation) error
}

// Help categories in display order.
const (
	CategoryBasic    = "Basic Commands"
	CategoryAI       = "AI Commands"
	CategoryAnalysis = "Analysis Commands"
	CategoryAdmin    = "Admin Commands"
)

var categoryOrder = []string{CategoryBasic, CategoryAI, CategoryAnalysis, CategoryAdmin}

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Registry holds all registered commands.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]*Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
	}
}

// Register adds a command to the registry.
func (r *Registry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[alias] = cmd
	}
}

// Get retrieves a command by name or alias, case-insensitively.
func (r *Registry) Get(name string) *Command {
	name = strings.ToLower(name)
	if cmd, ok := r.commands[name]; ok {
		return cmd
	}
	if cmd, ok := r.aliases[name]; ok {
		return cmd
	}
	return nil
}

// All returns all registered commands sorted by name.
func (r *Registry) All() []*Command {
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Names returns every command name and alias, leaving out admin commands
// unless includeAdmin is set.
func (r *Registry) Names(includeAdmin bool) []string {
	var names []string
	for _, cmd := range r.All() {
		if cmd.Admin && !includeAdmin {
			continue
		}
		names = append(names, cmd.Name)
		names = append(names, cmd.Aliases...)
	}
	return names
}

// ByCategory returns commands grouped by category.
func (r *Registry) ByCategory() map[string][]*Command {
	result := make(map[string][]*Command)
	for _, cmd := range r.All() {
		category := cmd.Category
		if category == "" {
			category = CategoryBasic
		}
		result[category] = append(result[category], cmd)
	}
	return result
}

// =============================================================================
// BUILT-IN COMMANDS
// =============================================================================

func (b *Bot) registerBuiltins() {
	r := b.registry

	r.Register(&Command{
		Name:        "ping",
		Usage:       "ping",
		Description: "Check the bot's response time",
		Category:    CategoryBasic,
		Run:         b.runPing,
	})
	r.Register(&Command{
		Name:        "echo",
		Usage:       "echo <text>",
		Description: "Repeat a message",
		Category:    CategoryBasic,
		Run:         b.runEcho,
	})
	r.Register(&Command{
		Name:        "ppfp",
		Aliases:     []string{"avatar", "pfp", "profilepic"},
		Usage:       "ppfp @user",
		Description: "Show a user's profile picture",
		Category:    CategoryBasic,
		Run:         b.runAvatar,
	})
	r.Register(&Command{
		Name:        "help",
		Aliases:     []string{"h", "commands"},
		Usage:       "help [command]",
		Description: "Show this help or details for one command",
		Category:    CategoryBasic,
		Run:         b.runHelp,
	})

	r.Register(&Command{
		Name:    "lm",
		Aliases: []string{"llm", "ai", "chat"},
		Usage:   "lm <prompt> | -s <query> | -v <prompt> | -t | -c | --models",
		Description: "Chat with the AI (per-user memory). -s searches the web, " +
			"-v analyses an attached image, -t tests the connection, -c clears your history",
		Category: CategoryAI,
		Run:      b.runLM,
	})
	r.Register(&Command{
		Name:        "clearcontext",
		Aliases:     []string{"clearlm", "resetlm"},
		Usage:       "clearcontext",
		Description: "Clear your lm conversation history",
		Category:    CategoryAI,
		Run:         b.runClearLM,
	})
	r.Register(&Command{
		Name:        "reason",
		Aliases:     []string{"reasoning"},
		Usage:       "reason <question> | -s <query> | -c",
		Description: "Ask the reasoning model (per-user memory). -s runs an analytical search",
		Category:    CategoryAI,
		Run:         b.runReason,
	})
	r.Register(&Command{
		Name:        "clearreasoncontext",
		Aliases:     []string{"clearreason"},
		Usage:       "clearreasoncontext",
		Description: "Clear your reasoning conversation history",
		Category:    CategoryAI,
		Run:         b.runClearReason,
	})

	r.Register(&Command{
		Name:        "sum",
		Aliases:     []string{"summarize", "summary"},
		Usage:       "sum <url>",
		Description: "Summarise a web page or YouTube video",
		Category:    CategoryAnalysis,
		Run:         b.runSum,
	})
	r.Register(&Command{
		Name:        "rank",
		Aliases:     []string{"analyze", "evaluate"},
		Usage:       "rank <url>",
		Description: "Rate the quality of a web page or YouTube video",
		Category:    CategoryAnalysis,
		Run:         b.runRank,
	})

	r.Register(&Command{
		Name:        "shutdown",
		Usage:       "shutdown [code]",
		Description: "Save conversations and stop the bot",
		Category:    CategoryAdmin,
		Admin:       true,
		Run:         b.runShutdown,
	})
	r.Register(&Command{
		Name:        "restart",
		Usage:       "restart [code]",
		Description: "Save conversations and restart the bot",
		Category:    CategoryAdmin,
		Admin:       true,
		Run:         b.runRestart,
	})
	r.Register(&Command{
		Name:        "reload",
		Usage:       "reload [code]",
		Description: "Reload configuration and prompt files",
		Category:    CategoryAdmin,
		Admin:       true,
		Run:         b.runReload,
	})
	r.Register(&Command{
		Name:        "diagnose",
		Aliases:     []string{"diag"},
		Usage:       "diagnose [code]",
		Description: "Check backend connectivity and bot health",
		Category:    CategoryAdmin,
		Admin:       true,
		Run:         b.runDiagnose,
	})

	b.mention = &Command{
		Name:        "mention",
		Usage:       "@bot <prompt>",
		Description: "Chat with the AI by mentioning the bot",
		Category:    CategoryAI,
		Run:         b.runMention,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// stripThinking removes thinking spans from a complete model answer.
func stripThinking(s string) string {
	out, _ := thinkfilter.Strip(s)
	return strings.TrimSpace(out)
}

func parseInt64(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return n, nil
}

// firstLine returns the first non-empty line of s.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
