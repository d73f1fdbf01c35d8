package builtin

import (
	"context"
	"fmt"
	"strings"

	"fleetbot/internal/service/command"
	"fleetbot/internal/transport"
	"fleetbot/internal/utils/jid"
)

func (b *builtins) groupCommands() []*command.Command {
	cmds := []*command.Command{
		{Name: "kick", OwnerOnly: true, Description: "Remove members", Usage: "<@user|reply>", React: "🦶",
			Handler: participants(transport.ActionRemove, "Removed")},
		{Name: "add", OwnerOnly: true, Description: "Add members", Usage: "<number...>", React: "➕",
			Handler: participants(transport.ActionAdd, "Added")},
		{Name: "promote", OwnerOnly: true, Description: "Make members admins", Usage: "<@user|reply>", React: "⬆️",
			Handler: participants(transport.ActionPromote, "Promoted")},
		{Name: "demote", OwnerOnly: true, Description: "Revoke admin rights", Usage: "<@user|reply>", React: "⬇️",
			Handler: participants(transport.ActionDemote, "Demoted")},
		{Name: "mute", OwnerOnly: true, Description: "Only admins can send messages", React: "🔇",
			Handler: announce(true)},
		{Name: "unmute", OwnerOnly: true, Description: "Everyone can send messages", React: "🔊",
			Handler: announce(false)},
		{Name: "tagall", OwnerOnly: true, Description: "Mention every member", Usage: "[message]", React: "📢",
			Handler: tagAll},
		{Name: "hidetag", OwnerOnly: true, Description: "Notify every member without visible tags", Usage: "[message]", React: "👻",
			Handler: hideTag},
		{Name: "link", Description: "Show the invite link", React: "🔗",
			Handler: inviteLink(false)},
		{Name: "revoke", OwnerOnly: true, Description: "Reset the invite link", React: "♻️",
			Handler: inviteLink(true)},
		{Name: "ginfo", Description: "Show group information", React: "ℹ️",
			Handler: groupInfo},
	}
	for _, cmd := range cmds {
		cmd.Category = command.CategoryGroup
		cmd.GroupOnly = true
	}
	return cmds
}

func participants(action transport.ParticipantAction, verb string) command.Handler {
	return func(ctx context.Context, inv *command.Invocation) (string, error) {
		users := targets(inv)
		if action == transport.ActionAdd {
			users = users[:0]
			for _, arg := range inv.Args {
				if n, err := jid.NormalizeNumber(arg); err == nil {
					users = append(users, jid.UserJID(n))
				}
			}
		}
		if len(users) == 0 {
			return usage(inv, inv.Command.Usage), nil
		}

		if err := inv.Session.UpdateParticipants(ctx, inv.Chat(), users, action); err != nil {
			return "", fmt.Errorf("%s participants: %w", action, err)
		}
		return "", inv.Reply(ctx, fmt.Sprintf("✅ %s %s", verb, mentionList(users)), users...)
	}
}

func announce(on bool) command.Handler {
	return func(ctx context.Context, inv *command.Invocation) (string, error) {
		if err := inv.Session.SetAnnounce(ctx, inv.Chat(), on); err != nil {
			return "", fmt.Errorf("set announce: %w", err)
		}
		if on {
			return "🔇 Group muted. Only admins can send messages.", nil
		}
		return "🔊 Group unmuted. Everyone can send messages.", nil
	}
}

func members(ctx context.Context, inv *command.Invocation) ([]string, error) {
	info, err := inv.Session.GroupInfo(ctx, inv.Chat())
	if err != nil {
		return nil, fmt.Errorf("group info: %w", err)
	}
	users := make([]string, 0, len(info.Participants))
	for _, p := range info.Participants {
		users = append(users, p.JID)
	}
	return users, nil
}

func tagAll(ctx context.Context, inv *command.Invocation) (string, error) {
	users, err := members(ctx, inv)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("📢 *Attention everyone*")
	if text := inv.Text(); text != "" {
		sb.WriteString("\n" + text)
	}
	sb.WriteString("\n")
	for _, u := range users {
		sb.WriteString("\n• " + jid.Mention(u))
	}
	return "", inv.Reply(ctx, sb.String(), users...)
}

func hideTag(ctx context.Context, inv *command.Invocation) (string, error) {
	users, err := members(ctx, inv)
	if err != nil {
		return "", err
	}
	text := inv.Text()
	if text == "" {
		text = "📢"
	}
	_, err = inv.Session.Send(ctx, inv.Chat(), transport.Outgoing{Text: text, Mentions: users})
	return "", err
}

func inviteLink(reset bool) command.Handler {
	return func(ctx context.Context, inv *command.Invocation) (string, error) {
		link, err := inv.Session.InviteLink(ctx, inv.Chat(), reset)
		if err != nil {
			return "", fmt.Errorf("invite link: %w", err)
		}
		if reset {
			return "♻️ Invite link reset\n" + link, nil
		}
		return "🔗 " + link, nil
	}
}

func groupInfo(ctx context.Context, inv *command.Invocation) (string, error) {
	info, err := inv.Session.GroupInfo(ctx, inv.Chat())
	if err != nil {
		return "", fmt.Errorf("group info: %w", err)
	}

	admins := 0
	for _, p := range info.Participants {
		if p.IsAdmin || p.IsSuperAdmin {
			admins++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "ℹ️ *%s*\n", info.Name)
	fmt.Fprintf(&sb, "\n• ID: %s", info.JID)
	if info.Owner != "" {
		fmt.Fprintf(&sb, "\n• Owner: %s", jid.Mention(info.Owner))
	}
	fmt.Fprintf(&sb, "\n• Members: %d", len(info.Participants))
	fmt.Fprintf(&sb, "\n• Admins: %d", admins)
	fmt.Fprintf(&sb, "\n• Muted: %s", onOff(info.Announce))
	if !info.Created.IsZero() {
		fmt.Fprintf(&sb, "\n• Created: %s", info.Created.Format("2006-01-02"))
	}
	if info.Topic != "" {
		fmt.Fprintf(&sb, "\n\n%s", info.Topic)
	}

	var mentions []string
	if info.Owner != "" {
		mentions = append(mentions, info.Owner)
	}
	return "", inv.Reply(ctx, sb.String(), mentions...)
}
