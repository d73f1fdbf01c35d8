package builtin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"fleetbot/internal/service/ai"
	"fleetbot/internal/service/command"
	"fleetbot/internal/transport"
)

var inviteCode = regexp.MustCompile(`(?i)chat\.whatsapp\.com/([0-9A-Za-z]{10,})`)

func (b *builtins) tools() []*command.Command {
	cmds := []*command.Command{
		{Name: "delete", Aliases: []string{"del"}, OwnerOnly: true, Description: "Delete the replied message", React: "🗑️",
			Handler: deleteQuoted},
		{Name: "viewonce", Aliases: []string{"vv"}, Description: "Reveal the replied view-once message", React: "👀",
			Handler: revealQuoted},
		{Name: "ai", Aliases: []string{"gpt"}, Description: "Ask the assistant", Usage: "<question>", React: "🤖",
			Handler: b.ask},
		{Name: "join", OwnerOnly: true, Description: "Join a group by invite link", Usage: "<link>", React: "➕",
			Handler: join},
	}
	for _, cmd := range cmds {
		cmd.Category = command.CategoryTools
	}
	return cmds
}

func deleteQuoted(ctx context.Context, inv *command.Invocation) (string, error) {
	q := inv.Message.Quoted
	if q == nil {
		return "Reply to the message you want to delete.", nil
	}
	key := q.Key
	if key.Chat == "" {
		key.Chat = inv.Chat()
	}
	if err := inv.Session.Revoke(ctx, key); err != nil {
		return "", fmt.Errorf("revoke quoted: %w", err)
	}
	return "", nil
}

func revealQuoted(ctx context.Context, inv *command.Invocation) (string, error) {
	q := inv.Message.Quoted
	if q == nil || !q.ViewOnce || q.Media == nil {
		return "Reply to a view-once message.", nil
	}
	data, err := inv.Session.Download(ctx, q.Media)
	if err != nil {
		return "", fmt.Errorf("download view-once: %w", err)
	}
	_, err = inv.Session.Send(ctx, inv.Chat(), transport.Outgoing{
		Text:    q.Media.Caption,
		ReplyTo: inv.Message,
		Media: &transport.OutgoingMedia{
			Kind:     q.Media.Kind,
			Data:     data,
			Mimetype: q.Media.Mimetype,
			FileName: q.Media.FileName,
		},
	})
	return "", err
}

func (b *builtins) ask(ctx context.Context, inv *command.Invocation) (string, error) {
	question := inv.Text()
	if question == "" && inv.Message.Quoted != nil {
		question = inv.Message.Quoted.Text
	}
	if question == "" {
		return usage(inv, "<question>"), nil
	}
	if b.AI == nil {
		return "🤖 The assistant is not configured.", nil
	}

	answer, err := b.AI.Ask(ctx, question)
	switch {
	case errors.Is(err, ai.ErrDisabled):
		return "🤖 The assistant is not configured.", nil
	case err != nil:
		return "", err
	}
	return answer, nil
}

func join(ctx context.Context, inv *command.Invocation) (string, error) {
	arg := strings.TrimSpace(inv.Text())
	if arg == "" && inv.Message.Quoted != nil {
		arg = inv.Message.Quoted.Text
	}
	code := arg
	if m := inviteCode.FindStringSubmatch(arg); m != nil {
		code = m[1]
	}
	if code == "" || strings.ContainsAny(code, " /") {
		return usage(inv, "<link>"), nil
	}

	group, err := inv.Session.JoinInvite(ctx, code)
	if err != nil {
		return "", fmt.Errorf("join group: %w", err)
	}
	return "✅ Joined " + group, nil
}
