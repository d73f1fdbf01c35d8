package pipeline

import (
	"context"
	"time"

	"fleetbot/internal/transport"
	"fleetbot/internal/utils/jid"
)

// sideEffects applies read receipts and typing indicators. They are gated
// only by their own settings and never stop the stage chain.
func (p *Pipeline) sideEffects(ctx context.Context, ev *event) {
	msg := ev.msg
	if msg.Key.FromMe || jid.IsStatus(msg.Key.Chat) || msg.Kind == transport.KindRevoke {
		return
	}

	if ev.settings.ReadMessage {
		if err := ev.sess.MarkRead(ctx, msg.Key); err != nil {
			ev.log.Debugf("[transient] mark read %s: %v", msg.Key.ID, err)
		}
	}

	var presence transport.ChatPresence
	switch {
	case ev.settings.AutoRecording:
		presence = transport.PresenceRecording
	case ev.settings.AutoTyping:
		presence = transport.PresenceComposing
	default:
		return
	}
	if err := ev.sess.SetChatPresence(ctx, msg.Key.Chat, presence); err != nil {
		ev.log.Debugf("[transient] set presence in %s: %v", msg.Key.Chat, err)
		return
	}

	sess, chat, log := ev.sess, msg.Key.Chat, ev.log
	time.AfterFunc(p.opts.PresenceHold, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sess.SetChatPresence(ctx, chat, transport.PresencePaused); err != nil {
			log.Debugf("[transient] clear presence in %s: %v", chat, err)
		}
	})
}
