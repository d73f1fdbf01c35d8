package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fleetbot/internal/service/command"
	"fleetbot/internal/service/session"
	"fleetbot/internal/utils/jid"
)

var menuOrder = []command.Category{
	command.CategoryGeneral,
	command.CategorySettings,
	command.CategoryGroup,
	command.CategoryTools,
	command.CategoryOwner,
}

func (b *builtins) general() []*command.Command {
	return []*command.Command{
		{
			Name:        "menu",
			Aliases:     []string{"help"},
			Category:    command.CategoryGeneral,
			Description: "Show this menu",
			React:       "📜",
			Handler:     b.menu,
		},
		{
			Name:        "ping",
			Category:    command.CategoryGeneral,
			Description: "Check the response time",
			React:       "🏓",
			Handler:     b.ping,
		},
		{
			Name:        "alive",
			Category:    command.CategoryGeneral,
			Description: "Check that the bot is running",
			React:       "⚡",
			Handler:     b.alive,
		},
		{
			Name:        "uptime",
			Category:    command.CategoryGeneral,
			Description: "Show how long the bot has been running",
			React:       "⏱️",
			Handler: func(context.Context, *command.Invocation) (string, error) {
				return "⏱️ Uptime: " + formatDuration(b.Now().Sub(b.StartedAt)), nil
			},
		},
		{
			Name:        "owner",
			Category:    command.CategoryGeneral,
			Description: "Show the bot owners",
			React:       "👑",
			Handler:     b.owner,
		},
		{
			Name:        "repo",
			Aliases:     []string{"sc"},
			Category:    command.CategoryGeneral,
			Description: "Show the source repository",
			React:       "📦",
			Handler: func(context.Context, *command.Invocation) (string, error) {
				if b.RepoURL == "" {
					return "📦 No repository configured.", nil
				}
				return "📦 " + b.RepoURL, nil
			},
		},
		{
			Name:        "pair",
			Category:    command.CategoryGeneral,
			Description: "Link another number to the bot",
			Usage:       "<number>",
			React:       "🔗",
			Handler:     b.pair,
		},
	}
}

func (b *builtins) menu(_ context.Context, inv *command.Invocation) (string, error) {
	byCategory := make(map[command.Category][]*command.Command)
	for _, cmd := range b.Commands.List() {
		byCategory[cmd.Category] = append(byCategory[cmd.Category], cmd)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "╭── *%s* ──\n", b.BotName)
	prefix := inv.Settings.Prefix
	if prefix == "" {
		prefix = "none"
	}
	fmt.Fprintf(&sb, "│ Prefix: %s\n", prefix)
	fmt.Fprintf(&sb, "│ Mode: %s\n", inv.Settings.Mode)
	fmt.Fprintf(&sb, "│ Uptime: %s\n", formatDuration(b.Now().Sub(b.StartedAt)))
	sb.WriteString("╰────────")

	for _, cat := range menuOrder {
		cmds := byCategory[cat]
		if len(cmds) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n\n*%s*", strings.ToUpper(string(cat)))
		for _, cmd := range cmds {
			fmt.Fprintf(&sb, "\n• %s%s", inv.Settings.Prefix, cmd.Name)
			if cmd.Usage != "" {
				sb.WriteString(" " + cmd.Usage)
			}
			if cmd.Description != "" {
				sb.WriteString(" - " + cmd.Description)
			}
		}
	}
	return sb.String(), nil
}

func (b *builtins) ping(_ context.Context, inv *command.Invocation) (string, error) {
	ts := inv.Message.Timestamp
	if ts.IsZero() {
		return "🏓 Pong!", nil
	}
	latency := b.Now().Sub(ts)
	if latency < 0 {
		latency = 0
	}
	return fmt.Sprintf("🏓 Pong! %dms", latency.Milliseconds()), nil
}

func (b *builtins) alive(_ context.Context, inv *command.Invocation) (string, error) {
	return fmt.Sprintf("⚡ *%s* is alive\nUptime: %s\nMode: %s",
		b.BotName, formatDuration(b.Now().Sub(b.StartedAt)), inv.Settings.Mode), nil
}

func (b *builtins) owner(_ context.Context, inv *command.Invocation) (string, error) {
	var sb strings.Builder
	sb.WriteString("👑 *Owners*")
	seen := map[string]bool{inv.AccountID: true}
	fmt.Fprintf(&sb, "\n• wa.me/%s", inv.AccountID)
	for _, n := range b.Owners {
		n = jid.SanitizeNumber(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		fmt.Fprintf(&sb, "\n• wa.me/%s", n)
	}
	return sb.String(), nil
}

func (b *builtins) pair(ctx context.Context, inv *command.Invocation) (string, error) {
	if len(inv.Args) == 0 {
		return usage(inv, "<number>"), nil
	}
	number, err := jid.NormalizeNumber(inv.Text())
	if err != nil {
		return "❌ Invalid number. Include the country code, digits only.", nil
	}

	out, err := b.Pairer.Pair(ctx, number)
	switch {
	case errors.Is(err, session.ErrAlreadyConnected):
		return fmt.Sprintf("✅ %s is already connected.", number), nil
	case err != nil:
		return "", fmt.Errorf("pair %s: %w", number, err)
	case out.Connected:
		return fmt.Sprintf("✅ %s was already linked and is now connected.", number), nil
	}
	return fmt.Sprintf("🔗 Pairing code for %s: *%s*\n\nOpen WhatsApp > Linked devices > Link with phone number and enter the code.",
		number, out.Code), nil
}
