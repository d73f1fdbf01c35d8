package pipeline

import (
	"context"
	"errors"
	"time"

	"fleetbot/internal/data/store"
	"fleetbot/internal/service/command"
	"fleetbot/internal/service/settings"
	"fleetbot/internal/transport"
	"fleetbot/internal/utils/jid"
)

// statusStage views and likes status updates. Status updates never reach
// later stages.
func (p *Pipeline) statusStage(ctx context.Context, ev *event) bool {
	msg := ev.msg
	if !jid.IsStatus(msg.Key.Chat) {
		return false
	}
	if msg.Key.FromMe || msg.Kind == transport.KindRevoke {
		return true
	}

	if ev.settings.AutoViewStatus {
		if err := ev.sess.MarkRead(ctx, msg.Key); err != nil {
			ev.log.Warnf("[transient] view status %s from %s: %v", msg.Key.ID, msg.Key.Sender, err)
		}
	}
	if ev.settings.AutoLikeStatus {
		if err := ev.sess.React(ctx, msg.Key, ev.settings.StatusEmoji); err != nil {
			ev.log.Warnf("[transient] like status %s from %s: %v", msg.Key.ID, msg.Key.Sender, err)
		}
	}
	return true
}

// viewOnceStage re-sends view-once media as a regular message.
func (p *Pipeline) viewOnceStage(ctx context.Context, ev *event) bool {
	msg := ev.msg
	if !ev.settings.ViewOnceReveal || !msg.ViewOnce || msg.Media == nil || msg.Key.FromMe {
		return false
	}

	data, err := ev.sess.Download(ctx, msg.Media)
	if err != nil {
		ev.log.Warnf("[transient] download view-once %s: %v", msg.Key.ID, err)
		return false
	}
	_, err = ev.sess.Send(ctx, msg.Key.Chat, transport.Outgoing{
		Text:    msg.Media.Caption,
		ReplyTo: msg,
		Media: &transport.OutgoingMedia{
			Kind:     msg.Media.Kind,
			Data:     data,
			Mimetype: msg.Media.Mimetype,
			FileName: msg.Media.FileName,
		},
	})
	if err != nil {
		ev.log.Warnf("[transient] resend view-once %s: %v", msg.Key.ID, err)
	}
	return false
}

// deleteAuditStage records revoked messages and forwards a notice to the
// account's own chat when the scope covers the chat kind. Revoke
// notifications carry no content, so they end here.
func (p *Pipeline) deleteAuditStage(ctx context.Context, ev *event) bool {
	msg := ev.msg
	if msg.Kind != transport.KindRevoke {
		return false
	}
	if ev.settings.AntiDelete == settings.AntiDeleteOff || msg.Key.FromMe {
		return true
	}

	record := store.DeletedMessage{
		AccountID:   ev.accountID,
		MessageID:   msg.RevokedID,
		ChatJID:     msg.Key.Chat,
		SenderJID:   msg.Key.Sender,
		MessageType: string(transport.KindOther),
		DeletedAt:   msg.Timestamp,
	}
	if orig, ok := p.recent.get(ev.accountID, msg.RevokedID); ok {
		record.SenderJID = orig.sender
		record.MessageType = string(orig.kind)
		record.Content = orig.text
		record.SentAt = orig.timestamp
	}
	if record.DeletedAt.IsZero() {
		record.DeletedAt = time.Now()
	}

	if err := p.audit.Append(ctx, record); err != nil {
		ev.log.Errorf("[persistence] record deleted message %s: %v", record.MessageID, err)
	}

	if !ev.settings.AntiDelete.Covers(msg.IsGroup) {
		return true
	}
	_, err := ev.sess.Send(ctx, jid.UserJID(ev.accountID), transport.Outgoing{
		Text:     deletedNotice(record.ChatJID, record.SenderJID, record.MessageType, record.Content),
		Mentions: []string{record.SenderJID},
	})
	if err != nil {
		ev.log.Warnf("[transient] forward deleted message %s: %v", record.MessageID, err)
	}
	p.metrics.ModerationActions.WithLabelValues("antidelete").Inc()
	return true
}

// linkStage removes links posted in groups.
func (p *Pipeline) linkStage(ctx context.Context, ev *event) bool {
	msg := ev.msg
	if !msg.IsGroup || !ev.settings.AntiLink || ev.owner || !ContainsLink(ev.text) {
		return false
	}

	sender := msg.Key.Sender
	ev.log.Infof("Link from %s in %s", sender, msg.Key.Chat)
	p.metrics.ModerationActions.WithLabelValues("link").Inc()

	if err := ev.sess.Revoke(ctx, msg.Key); err != nil {
		ev.log.Warnf("[transient] delete link message %s: %v", msg.Key.ID, err)
	}
	if _, err := ev.sess.Send(ctx, msg.Key.Chat, transport.Outgoing{
		Text:     linkWarning(sender),
		Mentions: []string{sender},
	}); err != nil {
		ev.log.Warnf("[transient] warn %s: %v", sender, err)
	}
	if ev.settings.AntiLinkKick {
		if err := ev.sess.UpdateParticipants(ctx, msg.Key.Chat, []string{sender}, transport.ActionRemove); err != nil {
			ev.log.Warnf("[transient] remove %s from %s: %v", sender, msg.Key.Chat, err)
		} else {
			p.metrics.ModerationActions.WithLabelValues("kick").Inc()
		}
	}
	return true
}

// badWordStage deletes messages containing a banned word.
func (p *Pipeline) badWordStage(ctx context.Context, ev *event) bool {
	if !ev.settings.AntiBadWord || ev.owner || ev.text == "" {
		return false
	}

	words, err := p.badWords.List(ctx, ev.accountID)
	if err != nil {
		ev.log.Errorf("[persistence] load bad words: %v", err)
		return false
	}
	word, found := ContainsBadWord(ev.text, words)
	if !found {
		return false
	}

	msg := ev.msg
	ev.log.Infof("Bad word %q from %s in %s", word, msg.Key.Sender, msg.Key.Chat)
	p.metrics.ModerationActions.WithLabelValues("badword").Inc()

	if _, err := ev.sess.Send(ctx, msg.Key.Chat, transport.Outgoing{
		Text:     badWordWarning(msg.Key.Sender),
		Mentions: []string{msg.Key.Sender},
	}); err != nil {
		ev.log.Warnf("[transient] warn %s: %v", msg.Key.Sender, err)
	}
	if err := ev.sess.Revoke(ctx, msg.Key); err != nil {
		ev.log.Warnf("[transient] delete message %s: %v", msg.Key.ID, err)
	}
	return true
}

// modeGateStage silently drops messages the account's mode does not serve.
func (p *Pipeline) modeGateStage(_ context.Context, ev *event) bool {
	if ev.owner {
		return false
	}
	return !modeAllows(ev.settings.Mode, ev.accountID, ev.msg)
}

func modeAllows(mode settings.Mode, accountID string, msg *transport.Message) bool {
	switch mode {
	case settings.ModePrivate:
		return isSelfChat(accountID, msg.Key.Chat)
	case settings.ModeGroups:
		return msg.IsGroup
	case settings.ModeInbox:
		return !msg.IsGroup && !isSelfChat(accountID, msg.Key.Chat)
	}
	return true
}

// commandStage resolves and runs a command.
func (p *Pipeline) commandStage(ctx context.Context, ev *event) bool {
	cmd, name, args, ok := p.commands.Resolve(ev.settings.Prefix, ev.text)
	if !ok {
		return false
	}
	msg := ev.msg
	ev.log.Infof("Command %s from %s in %s", cmd.Name, msg.Key.Sender, msg.Key.Chat)

	inv := &command.Invocation{
		AccountID: ev.accountID,
		Session:   ev.sess,
		Message:   msg,
		Command:   cmd,
		Name:      name,
		Args:      args,
		Settings:  ev.settings,
		IsOwner:   ev.owner,
		Log:       ev.log.Sub("Command"),
	}
	if cmd.React != "" && (!cmd.OwnerOnly || ev.owner) {
		if err := inv.React(ctx, cmd.React); err != nil {
			ev.log.Debugf("[transient] react to %s: %v", msg.Key.ID, err)
		}
	}

	hctx, cancel := context.WithTimeout(ctx, p.opts.HandlerTimeout)
	reply, err := command.Dispatch(hctx, inv)
	cancel()

	result := "ok"
	switch {
	case errors.Is(err, command.ErrOwnerOnly):
		result, reply = "owner_only", ReplyOwnerOnly
	case errors.Is(err, command.ErrGroupOnly):
		result, reply = "group_only", ReplyGroupOnly
	case err != nil:
		result, reply = "error", ReplyFailure
		ev.log.Errorf("[handler] command %s failed: %v", cmd.Name, err)
	}
	p.metrics.CommandsDispatched.WithLabelValues(cmd.Name, result).Inc()

	if reply != "" {
		if err := inv.Reply(ctx, reply); err != nil {
			ev.log.Warnf("[transient] reply to %s: %v", cmd.Name, err)
		}
	}
	return true
}

// autoReplyStage answers well-known greetings in direct chats.
func (p *Pipeline) autoReplyStage(ctx context.Context, ev *event) bool {
	msg := ev.msg
	if msg.IsGroup || ev.owner {
		return false
	}
	if !ev.settings.AutoReply && ev.settings.Mode != settings.ModeInbox {
		return false
	}
	reply, ok := AutoReply(ev.text)
	if !ok {
		return false
	}
	if _, err := ev.sess.Send(ctx, msg.Key.Chat, transport.Outgoing{Text: reply, ReplyTo: msg}); err != nil {
		ev.log.Warnf("[transient] auto-reply to %s: %v", msg.Key.Sender, err)
	}
	return true
}
