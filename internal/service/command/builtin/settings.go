package builtin

import (
	"context"
	"fmt"
	"strings"

	"fleetbot/internal/service/command"
	"fleetbot/internal/service/settings"
)

type toggle struct {
	name    string
	aliases []string
	key     string
	label   string
}

var toggles = []toggle{
	{name: "autotyping", key: "autoTyping", label: "Auto typing"},
	{name: "autorecording", aliases: []string{"autorec"}, key: "autoRecording", label: "Auto recording"},
	{name: "autoread", key: "readMessage", label: "Auto read"},
	{name: "autoview", key: "autoViewStatus", label: "Auto view status"},
	{name: "autolike", key: "autoLikeStatus", label: "Auto like status"},
	{name: "anticall", key: "antiCall", label: "Anti call"},
	{name: "antilink", key: "antiLink", label: "Anti link"},
	{name: "antilinkkick", key: "antiLinkKick", label: "Anti link kick"},
	{name: "antibadword", key: "antiBadWord", label: "Anti bad word"},
	{name: "welcome", key: "welcome", label: "Welcome messages"},
	{name: "goodbye", key: "goodbye", label: "Goodbye messages"},
	{name: "viewoncereveal", key: "viewOnceReveal", label: "View-once reveal"},
	{name: "autoreply", key: "autoReply", label: "Auto reply"},
	{name: "autobio", key: "autoBio", label: "Auto bio"},
}

func (b *builtins) settingsCommands() []*command.Command {
	cmds := []*command.Command{
		{
			Name:        "settings",
			Aliases:     []string{"setting"},
			Description: "Show the current settings",
			Handler:     b.showSettings,
		},
		{
			Name:        "mode",
			Description: "Set who can use the bot",
			Usage:       "<public|private|groups|inbox>",
			Handler:     b.setValue("mode", "Mode"),
		},
		{
			Name:        "setprefix",
			Description: "Change the command prefix",
			Usage:       "<prefix|none>",
			Handler:     b.setValue("prefix", "Prefix"),
		},
		{
			Name:        "setemoji",
			Description: "Change the status reaction emoji",
			Usage:       "<emoji>",
			Handler:     b.setValue("statusEmoji", "Status emoji"),
		},
		{
			Name:        "antidelete",
			Description: "Forward deleted messages to your chat",
			Usage:       "<off|chat|group|all>",
			Handler:     b.setValue("antiDelete", "Anti delete"),
		},
	}
	for _, t := range toggles {
		cmds = append(cmds, &command.Command{
			Name:        t.name,
			Aliases:     t.aliases,
			Description: "Turn " + strings.ToLower(t.label) + " on or off",
			Usage:       "<on|off>",
			Handler:     b.toggle(t),
		})
	}
	cmds = append(cmds,
		&command.Command{
			Name:        "addbadword",
			Description: "Add words to the bad word list",
			Usage:       "<word...>",
			Handler:     b.addBadWords,
		},
		&command.Command{
			Name:        "delbadword",
			Description: "Remove words from the bad word list",
			Usage:       "<word...>",
			Handler:     b.delBadWords,
		},
		&command.Command{
			Name:        "badwords",
			Description: "List the bad words",
			Handler:     b.listBadWords,
		},
	)

	for _, cmd := range cmds {
		cmd.Category = command.CategorySettings
		cmd.OwnerOnly = true
		cmd.React = "⚙️"
	}
	return cmds
}

func (b *builtins) showSettings(_ context.Context, inv *command.Invocation) (string, error) {
	s := inv.Settings
	prefix := s.Prefix
	if prefix == settings.NoPrefix {
		prefix = "none"
	}

	var sb strings.Builder
	sb.WriteString("⚙️ *Settings*\n")
	fmt.Fprintf(&sb, "\n• Mode: %s", s.Mode)
	fmt.Fprintf(&sb, "\n• Prefix: %s", prefix)
	fmt.Fprintf(&sb, "\n• Status emoji: %s", s.StatusEmoji)
	fmt.Fprintf(&sb, "\n• Anti delete: %s", s.AntiDelete)
	for _, t := range toggles {
		v, _ := s.Bool(t.key)
		fmt.Fprintf(&sb, "\n• %s: %s", t.label, onOff(v))
	}
	return sb.String(), nil
}

func (b *builtins) setValue(key, label string) command.Handler {
	return func(ctx context.Context, inv *command.Invocation) (string, error) {
		if len(inv.Args) == 0 {
			return usage(inv, inv.Command.Usage), nil
		}
		if _, err := b.Settings.Set(ctx, inv.AccountID, key, inv.Text()); err != nil {
			return "❌ " + err.Error(), nil
		}
		return fmt.Sprintf("✅ %s set to %s", label, inv.Text()), nil
	}
}

func (b *builtins) toggle(t toggle) command.Handler {
	return func(ctx context.Context, inv *command.Invocation) (string, error) {
		if len(inv.Args) == 0 {
			cur, _ := inv.Settings.Bool(t.key)
			return fmt.Sprintf("%s is %s\n%s", t.label, onOff(cur), usage(inv, "<on|off>")), nil
		}
		s, err := b.Settings.Set(ctx, inv.AccountID, t.key, inv.Args[0])
		if err != nil {
			return "❌ " + err.Error(), nil
		}
		v, _ := s.Bool(t.key)
		return fmt.Sprintf("✅ %s turned %s", t.label, onOff(v)), nil
	}
}

func (b *builtins) addBadWords(ctx context.Context, inv *command.Invocation) (string, error) {
	if len(inv.Args) == 0 {
		return usage(inv, "<word...>"), nil
	}
	for _, w := range inv.Args {
		if err := b.BadWords.Add(ctx, inv.AccountID, strings.ToLower(w)); err != nil {
			return "", fmt.Errorf("add bad word: %w", err)
		}
	}
	return fmt.Sprintf("✅ Added %d word(s) to the bad word list", len(inv.Args)), nil
}

func (b *builtins) delBadWords(ctx context.Context, inv *command.Invocation) (string, error) {
	if len(inv.Args) == 0 {
		return usage(inv, "<word...>"), nil
	}
	removed := 0
	for _, w := range inv.Args {
		ok, err := b.BadWords.Remove(ctx, inv.AccountID, strings.ToLower(w))
		if err != nil {
			return "", fmt.Errorf("remove bad word: %w", err)
		}
		if ok {
			removed++
		}
	}
	return fmt.Sprintf("✅ Removed %d word(s) from the bad word list", removed), nil
}

func (b *builtins) listBadWords(ctx context.Context, inv *command.Invocation) (string, error) {
	words, err := b.BadWords.List(ctx, inv.AccountID)
	if err != nil {
		return "", fmt.Errorf("list bad words: %w", err)
	}
	if len(words) == 0 {
		return "The bad word list is empty.", nil
	}
	return "🚫 *Bad words*\n" + strings.Join(words, ", "), nil
}
