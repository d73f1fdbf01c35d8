package builtin

import (
	"context"
	"fmt"
	"time"

	"fleetbot/internal/service/command"
	"fleetbot/internal/transport"
	"fleetbot/internal/utils/jid"
)

const (
	restartDelay = 3 * time.Second
	broadcastGap = time.Second
)

func (b *builtins) ownerCommands() []*command.Command {
	cmds := []*command.Command{
		{Name: "restart", Description: "Reconnect this account", React: "♻️",
			Handler: b.restart},
		{Name: "broadcast", Aliases: []string{"bc"}, Description: "Message every linked account", Usage: "<text>", React: "📢",
			Handler: b.broadcast},
	}
	for _, cmd := range cmds {
		cmd.Category = command.CategoryOwner
		cmd.OwnerOnly = true
	}
	return cmds
}

func (b *builtins) restart(_ context.Context, inv *command.Invocation) (string, error) {
	if !b.Accounts.Restart(inv.AccountID, b.RestartDelay) {
		return "❌ This account is not running.", nil
	}
	return "♻️ *Restarting...*\n\nBack in a few seconds.", nil
}

func (b *builtins) broadcast(ctx context.Context, inv *command.Invocation) (string, error) {
	text := inv.Text()
	if text == "" {
		return usage(inv, "<text>"), nil
	}
	ids, err := b.Accounts.Linked(ctx)
	if err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}

	body := fmt.Sprintf("📢 *Broadcast*\n\n%s\n\n_From the %s owner_", text, b.BotName)
	sent := 0
	for i, id := range ids {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Sprintf("📢 Broadcast interrupted after %d of %d.", sent, len(ids)), nil
			case <-time.After(b.BroadcastGap):
			}
		}
		if _, err := inv.Session.Send(ctx, jid.UserJID(id), transport.Outgoing{Text: body}); err != nil {
			inv.Log.Warnf("[transient] broadcast to %s: %v", id, err)
			continue
		}
		sent++
	}
	return fmt.Sprintf("📢 *Broadcast done*\n\nSent to %d of %d accounts.", sent, len(ids)), nil
}
