// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"fmt"
	"strings"
	"time"
)

func (b *Bot) runPing(ctx context.Context, inv *Invocation) error {
	start := time.Now()
	id, err := inv.Platform.Reply(ctx, inv.Msg.ChannelID, inv.Msg.ID, "Pong! Calculating delay...")
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	return inv.Platform.Edit(ctx, inv.Msg.ChannelID, id,
		fmt.Sprintf("Pong! Response time: %dms", elapsed.Milliseconds()))
}

func (b *Bot) runEcho(ctx context.Context, inv *Invocation) error {
	if inv.Args == "" {
		return inv.Reply(ctx, "Please provide text to echo!")
	}
	return inv.Reply(ctx, inv.Args)
}

func (b *Bot) runAvatar(ctx context.Context, inv *Invocation) error {
	self := inv.Platform.SelfID()
	for _, u := range inv.Msg.Mentions {
		if u.ID == self {
			continue
		}
		if u.AvatarURL == "" {
			return inv.Reply(ctx, "User does not have a profile picture.")
		}
		return inv.Reply(ctx, fmt.Sprintf("**%s's Profile Picture**\n%s\n*Requested by %s*",
			u.Name, u.AvatarURL, inv.Msg.AuthorName))
	}
	return inv.Reply(ctx, fmt.Sprintf("Please mention a user! Usage: `%sppfp @user`", inv.Config.Discord.Prefix))
}

func (b *Bot) runHelp(ctx context.Context, inv *Invocation) error {
	prefix := inv.Config.Discord.Prefix
	if name := strings.TrimPrefix(strings.TrimSpace(inv.Args), prefix); name != "" {
		cmd := b.registry.Get(name)
		if cmd == nil {
			return inv.Reply(ctx, fmt.Sprintf("Unknown command `%s`. Use `%shelp` to list commands.", name, prefix))
		}
		return inv.Reply(ctx, commandHelp(cmd, prefix))
	}

	mention := "@bot"
	if self := inv.Platform.SelfID(); self != "" {
		mention = fmt.Sprintf("<@%s>", self)
	}

	var sb strings.Builder
	sb.WriteString("**🤖 Meri Bot - Command Help**\n\n")
	groups := b.registry.ByCategory()
	for _, category := range categoryOrder {
		if category == CategoryAdmin && !b.isOwner(inv) {
			continue
		}
		cmds := groups[category]
		if len(cmds) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "**%s:**\n", category)
		for _, cmd := range cmds {
			fmt.Fprintf(&sb, "• `%s%s` - %s\n", prefix, cmd.Usage, cmd.Description)
		}
		if category == CategoryAI {
			fmt.Fprintf(&sb, "• `%s <prompt>` - Chat by mention; reply to a message to ask about it\n", mention)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Use `%shelp <command>` for details and aliases.", prefix)
	return inv.Reply(ctx, sb.String())
}

func commandHelp(cmd *Command, prefix string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**`%s%s`**", prefix, cmd.Name)
	if cmd.Admin {
		sb.WriteString(" (owner only)")
	}
	fmt.Fprintf(&sb, "\n%s\n\n**Usage:** `%s%s`", cmd.Description, prefix, cmd.Usage)
	if len(cmd.Aliases) > 0 {
		aliases := make([]string, len(cmd.Aliases))
		for i, a := range cmd.Aliases {
			aliases[i] = fmt.Sprintf("`%s%s`", prefix, a)
		}
		fmt.Fprintf(&sb, "\n**Aliases:** %s", strings.Join(aliases, ", "))
	}
	return sb.String()
}
