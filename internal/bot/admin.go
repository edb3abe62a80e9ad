// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/jeranaias/meri-bot/internal/apperr"
)

const accessDenied = "❌ **Access Denied**\nThis command can only be used by the bot owner."

// isOwner reports whether the invocation comes from the configured owner
// or the local console operator.
func (b *Bot) isOwner(inv *Invocation) bool {
	if inv.Msg.Local {
		return true
	}
	owner := inv.Config.Discord.OwnerID
	return owner != "" && inv.Msg.AuthorID == owner
}

// authorize checks an admin invocation. When a TOTP secret is configured,
// remote owners must give a current code as the first argument, which is
// then removed from Args.
func (b *Bot) authorize(ctx context.Context, inv *Invocation) bool {
	if !b.isOwner(inv) {
		inv.Logger.WarnContext(ctx, "admin command denied")
		inv.notify(ctx, accessDenied)
		return false
	}
	secret := inv.Config.Admin.TOTPSecret
	if secret == "" || inv.Msg.Local {
		return true
	}

	code, rest, _ := strings.Cut(strings.TrimSpace(inv.Args), " ")
	if !totp.Validate(code, secret) {
		inv.Logger.WarnContext(ctx, "admin command rejected: bad or missing code")
		inv.notify(ctx, fmt.Sprintf("❌ **Access Denied**\nA current authenticator code is required: `%s%s <code>`",
			inv.Config.Discord.Prefix, inv.Command.Name))
		return false
	}
	inv.Args = strings.TrimSpace(rest)
	return true
}

func (b *Bot) runShutdown(ctx context.Context, inv *Invocation) error {
	inv.Logger.InfoContext(ctx, "shutdown requested")
	inv.notify(ctx, "🛑 **Bot Shutdown Initiated**\n\nSaving contexts and shutting down gracefully...")
	if b.Stop != nil {
		b.Stop(false)
	}
	return nil
}

func (b *Bot) runRestart(ctx context.Context, inv *Invocation) error {
	inv.Logger.InfoContext(ctx, "restart requested")
	inv.notify(ctx, "🔄 **Bot Restart Initiated**\n\nSaving contexts and shutting down gracefully...\nThe bot will restart automatically.")
	if b.Stop != nil {
		b.Stop(true)
	}
	return nil
}

func (b *Bot) runReload(ctx context.Context, inv *Invocation) error {
	cfg, err := b.Config.Reload()
	if err != nil {
		inv.notify(ctx, "❌ **Reload Failed**\nThe previous configuration is still active.\n\n"+apperr.UserMessage(err))
		return reported(err)
	}
	b.Prompts.SetDirs(cfg.Prompts.Dirs)
	b.Guard.Set(cfg.Offline)

	inv.Logger.InfoContext(ctx, "configuration reloaded", slog.Any("sources", cfg.Sources))
	for _, w := range cfg.Warnings {
		inv.Logger.WarnContext(ctx, "config warning", slog.String("warning", w))
	}

	var sb strings.Builder
	sb.WriteString("🔄 **Configuration Reloaded**\n\n")
	fmt.Fprintf(&sb, "• Prompt files: cache cleared\n• Prefix: `%s`\n• Relay mode: `%s`\n• Offline mode: %s\n",
		cfg.Discord.Prefix, cfg.Relay.Mode, onOff(cfg.Offline))
	if len(cfg.Warnings) > 0 {
		fmt.Fprintf(&sb, "• Warnings: %d (see the log)\n", len(cfg.Warnings))
	}
	sb.WriteString("\nLLM backend and Discord connection settings take effect after a restart.")
	return inv.Reply(ctx, sb.String())
}

func (b *Bot) runDiagnose(ctx context.Context, inv *Invocation) error {
	update, err := inv.progress(ctx, "🔍 Running diagnostics...")
	if err != nil {
		return err
	}

	cfg := b.LLM.Config()
	var sb strings.Builder
	sb.WriteString("🔍 **LM Studio Connectivity Diagnosis**\n\n")
	fmt.Fprintf(&sb, "**Server:** `%s`\n", cfg.BaseURL)

	start := time.Now()
	if err := b.LLM.Ping(ctx); err != nil {
		fmt.Fprintf(&sb, "❌ Server unreachable: %s\n", err.Error())
	} else {
		fmt.Fprintf(&sb, "✅ Server reachable (%dms)\n", time.Since(start).Milliseconds())
	}

	models, err := b.Completer.ListModels(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(&sb, "❌ Model list failed: %s\n", err.Error())
	case slices.Contains(models, cfg.Model):
		fmt.Fprintf(&sb, "✅ %d models available, `%s` is loaded\n", len(models), cfg.Model)
	default:
		fmt.Fprintf(&sb, "⚠️ %d models available, but `%s` is not among them\n", len(models), cfg.Model)
	}

	status := b.Status()
	sb.WriteString("\n**Bot:**\n")
	fmt.Fprintf(&sb, "• Uptime: %s\n", status.Uptime.Round(time.Second))
	fmt.Fprintf(&sb, "• Running commands: %d\n", status.InFlight)
	fmt.Fprintf(&sb, "• Platforms: %s\n", status.Platform)
	fmt.Fprintf(&sb, "• Offline mode: %s\n", onOff(status.Offline))

	sb.WriteString("\n**Conversations:**\n")
	names := make([]string, 0, len(status.Conversations))
	for name := range status.Conversations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "• %s: %d users\n", name, status.Conversations[name])
	}

	update(strings.TrimRight(sb.String(), "\n"))
	return nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
