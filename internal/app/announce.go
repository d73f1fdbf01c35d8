package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fleetbot/internal/transport"
	"fleetbot/internal/utils/jid"
)

// announce sends the connection notice to the account's own chat.
func (a *App) announce(ctx context.Context, accountID string, sess transport.Session) error {
	own := sess.OwnID()
	if own == "" {
		own = accountID
	}
	s := a.Settings.Get(ctx, accountID)

	prefix := s.Prefix
	if !s.HasPrefix() {
		prefix = "none"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ *%s connected*\n\n", a.Config.BotName)
	fmt.Fprintf(&b, "• Number: %s\n", accountID)
	fmt.Fprintf(&b, "• Time: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "• Prefix: %s\n", prefix)
	fmt.Fprintf(&b, "• Mode: %s\n", s.Mode)
	fmt.Fprintf(&b, "• Commands: %d\n\n", len(a.Commands.List()))
	menu := "menu"
	if s.HasPrefix() {
		menu = s.Prefix + menu
	}
	fmt.Fprintf(&b, "Send %s to get started.", menu)

	_, err := sess.Send(ctx, jid.UserJID(own), transport.Outgoing{Text: b.String()})
	return err
}
