// Package builtin registers the stock chat commands.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fleetbot/internal/service/command"
	"fleetbot/internal/service/session"
	"fleetbot/internal/service/settings"
	"fleetbot/internal/utils/jid"
)

// BadWords is the per-account bad word list.
type BadWords interface {
	Add(ctx context.Context, accountID, word string) error
	Remove(ctx context.Context, accountID, word string) (bool, error)
	List(ctx context.Context, accountID string) ([]string, error)
}

// Pairer starts another account and returns its pairing code.
type Pairer interface {
	Pair(ctx context.Context, accountID string) (session.Outcome, error)
}

// Accounts lists and restarts the linked accounts of this process.
type Accounts interface {
	Linked(ctx context.Context) ([]string, error)
	Restart(accountID string, delay time.Duration) bool
}

// Asker answers free-form questions.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Deps are the collaborators of the builtin commands.
type Deps struct {
	Commands *command.Registry
	Settings *settings.Cache
	BadWords BadWords
	Pairer   Pairer
	Accounts Accounts
	AI       Asker
	Owners   []string

	BotName   string
	RepoURL   string
	StartedAt time.Time
	Now       func() time.Time

	RestartDelay time.Duration
	BroadcastGap time.Duration
}

type builtins struct {
	Deps
}

// Register adds every builtin command to d.Commands.
func Register(d Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.StartedAt.IsZero() {
		d.StartedAt = d.Now()
	}
	if d.RestartDelay <= 0 {
		d.RestartDelay = restartDelay
	}
	if d.BroadcastGap <= 0 {
		d.BroadcastGap = broadcastGap
	}
	b := &builtins{Deps: d}

	for _, cmds := range [][]*command.Command{
		b.general(),
		b.settingsCommands(),
		b.groupCommands(),
		b.tools(),
		b.ownerCommands(),
	} {
		for _, cmd := range cmds {
			d.Commands.Register(cmd)
		}
	}
}

// usage renders a usage line with the account's prefix.
func usage(inv *command.Invocation, rest string) string {
	return fmt.Sprintf("Usage: %s%s %s", inv.Settings.Prefix, inv.Command.Name, rest)
}

// targets collects the users a moderation command applies to: mentions, the
// quoted sender and numeric arguments, in that order, without duplicates.
func targets(inv *command.Invocation) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(j string) {
		if j == "" || jid.SameUser(j, jid.UserJID(inv.AccountID)) {
			return
		}
		u := jid.Number(j) + "@" + jid.Server(j)
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	for _, m := range inv.Message.Mentions {
		add(m)
	}
	if q := inv.Message.Quoted; q != nil {
		add(q.Key.Sender)
	}
	for _, arg := range inv.Args {
		if n, err := jid.NormalizeNumber(arg); err == nil {
			add(jid.UserJID(n))
		}
	}
	return out
}

func mentionList(users []string) string {
	parts := make([]string, len(users))
	for i, u := range users {
		parts[i] = jid.Mention(u)
	}
	return strings.Join(parts, " ")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	seconds := (d - minutes*time.Minute) / time.Second

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
