// Package group announces membership changes in groups.
package group

import (
	"context"
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"

	"fleetbot/internal/infra/metrics"
	"fleetbot/internal/service/settings"
	"fleetbot/internal/transport"
	"fleetbot/internal/utils/jid"
)

// Handler sends welcome, goodbye and admin-change notices.
type Handler struct {
	settings *settings.Cache
	metrics  *metrics.Metrics
	log      waLog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(cache *settings.Cache, m *metrics.Metrics, log waLog.Logger) *Handler {
	return &Handler{
		settings: cache,
		metrics:  m,
		log:      log.Sub("Group"),
	}
}

// HandleGroupUpdate notifies the group once per affected participant. A
// failed notification does not stop the others.
func (h *Handler) HandleGroupUpdate(ctx context.Context, accountID string, sess transport.Session, u *transport.GroupUpdate) {
	if u == nil || len(u.Participants) == 0 {
		return
	}
	s := h.settings.Get(ctx, accountID)
	switch u.Action {
	case transport.ActionAdd:
		if !s.Welcome {
			return
		}
	case transport.ActionRemove:
		if !s.Goodbye {
			return
		}
	case transport.ActionPromote, transport.ActionDemote:
	default:
		return
	}

	log := h.log.Sub(accountID)
	groupName := h.groupName(ctx, sess, u.Group)

	for _, participant := range u.Participants {
		if jid.Number(participant) == accountID {
			continue
		}
		text, mentions := render(u, participant, groupName)
		_, err := sess.Send(ctx, u.Group, transport.Outgoing{Text: text, Mentions: mentions})
		result := "sent"
		if err != nil {
			result = "failed"
			log.Warnf("[transient] %s notice for %s in %s: %v", u.Action, participant, u.Group, err)
		}
		h.metrics.GroupNotifications.WithLabelValues(string(u.Action), result).Inc()
	}
}

func (h *Handler) groupName(ctx context.Context, sess transport.Session, group string) string {
	info, err := sess.GroupInfo(ctx, group)
	if err != nil || info.Name == "" {
		return "this group"
	}
	return info.Name
}

// render builds the notice for one participant.
func render(u *transport.GroupUpdate, participant, groupName string) (string, []string) {
	mentions := []string{participant}
	who := jid.Mention(participant)

	switch u.Action {
	case transport.ActionAdd:
		return fmt.Sprintf("👋 Welcome %s to *%s*!\n\nPlease read the group description and enjoy your stay.", who, groupName), mentions
	case transport.ActionRemove:
		return fmt.Sprintf("👋 Goodbye %s, we will miss you in *%s*.", who, groupName), mentions
	}

	verb := "promoted to admin"
	if u.Action == transport.ActionDemote {
		verb = "demoted from admin"
	}
	text := fmt.Sprintf("👑 %s has been %s", who, verb)
	if u.Author != "" && !jid.SameUser(u.Author, participant) {
		text += " by " + jid.Mention(u.Author)
		mentions = append(mentions, u.Author)
	}
	return text + ".", mentions
}
