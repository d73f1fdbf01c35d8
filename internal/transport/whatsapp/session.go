package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"fleetbot/internal/transport"
)

// ErrNotDownloadable is returned for media without a whatsmeow handle.
var ErrNotDownloadable = errors.New("media is not downloadable")

type session struct {
	accountID  string
	cli        *whatsmeow.Client
	handler    transport.Handler
	deviceName string
	log        waLog.Logger

	qrOnce  sync.Once
	qrReady chan struct{}

	mu       sync.Mutex
	linkedAt time.Time
}

func newSession(accountID string, cli *whatsmeow.Client, h transport.Handler, deviceName string, log waLog.Logger) *session {
	return &session{
		accountID:  accountID,
		cli:        cli,
		handler:    h,
		deviceName: deviceName,
		log:        log,
		qrReady:    make(chan struct{}),
	}
}

func (s *session) Connect(ctx context.Context) error {
	if s.cli.IsConnected() {
		s.cli.Disconnect()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.cli.Connect()
}

func (s *session) Close() {
	s.cli.Disconnect()
}

func (s *session) Logout(ctx context.Context) error {
	return s.cli.Logout(ctx)
}

func (s *session) IsRegistered() bool {
	return s.cli.Store.ID != nil
}

func (s *session) OwnID() string {
	if id := s.cli.Store.ID; id != nil {
		return id.User
	}
	return ""
}

func (s *session) Credentials() *transport.Credentials {
	id := s.cli.Store.ID
	if id == nil {
		return nil
	}
	s.mu.Lock()
	if s.linkedAt.IsZero() {
		s.linkedAt = time.Now()
	}
	linkedAt := s.linkedAt
	s.mu.Unlock()

	creds := &transport.Credentials{
		AccountID: s.accountID,
		JID:       id.String(),
		PushName:  s.cli.Store.PushName,
		Platform:  s.cli.Store.Platform,
		LinkedAt:  linkedAt,
	}
	if lid := s.cli.Store.LID; !lid.IsEmpty() {
		creds.LID = lid.String()
	}
	return creds
}

// RequestPairingCode waits for the first QR event, which marks the point where
// the server accepts a phone pairing request.
func (s *session) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	select {
	case <-s.qrReady:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return s.cli.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, s.deviceName)
}

func (s *session) Send(ctx context.Context, chat string, out transport.Outgoing) (string, error) {
	to, err := types.ParseJID(chat)
	if err != nil {
		return "", fmt.Errorf("parse chat %q: %w", chat, err)
	}
	msg, err := s.buildMessage(ctx, out)
	if err != nil {
		return "", err
	}
	resp, err := s.cli.SendMessage(ctx, to, msg)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

func (s *session) React(ctx context.Context, key transport.MessageKey, emoji string) error {
	chat, err := types.ParseJID(key.Chat)
	if err != nil {
		return fmt.Errorf("parse chat %q: %w", key.Chat, err)
	}
	if _, err := s.cli.SendMessage(ctx, chat, reactionMessage(key, emoji, time.Now())); err != nil {
		return fmt.Errorf("send reaction: %w", err)
	}
	return nil
}

func (s *session) Revoke(ctx context.Context, key transport.MessageKey) error {
	chat, err := types.ParseJID(key.Chat)
	if err != nil {
		return fmt.Errorf("parse chat %q: %w", key.Chat, err)
	}
	if _, err := s.cli.SendMessage(ctx, chat, revokeMessage(key)); err != nil {
		return fmt.Errorf("revoke message: %w", err)
	}
	return nil
}

func (s *session) MarkRead(ctx context.Context, key transport.MessageKey) error {
	chat, err := types.ParseJID(key.Chat)
	if err != nil {
		return fmt.Errorf("parse chat %q: %w", key.Chat, err)
	}
	var sender types.JID
	if key.Sender != "" {
		if sender, err = types.ParseJID(key.Sender); err != nil {
			return fmt.Errorf("parse sender %q: %w", key.Sender, err)
		}
	}
	return s.cli.MarkRead(ctx, []types.MessageID{key.ID}, time.Now(), chat, sender)
}

func (s *session) SetChatPresence(ctx context.Context, chat string, p transport.ChatPresence) error {
	jid, err := types.ParseJID(chat)
	if err != nil {
		return fmt.Errorf("parse chat %q: %w", chat, err)
	}
	switch p {
	case transport.PresenceComposing:
		return s.cli.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
	case transport.PresenceRecording:
		return s.cli.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaAudio)
	default:
		return s.cli.SendChatPresence(ctx, jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
	}
}

func (s *session) Download(ctx context.Context, m *transport.Media) ([]byte, error) {
	if m == nil {
		return nil, ErrNotDownloadable
	}
	dm, ok := m.Ref.(whatsmeow.DownloadableMessage)
	if !ok {
		return nil, ErrNotDownloadable
	}
	data, err := s.cli.Download(ctx, dm)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", m.Kind, err)
	}
	return data, nil
}

func (s *session) GroupInfo(ctx context.Context, group string) (*transport.GroupInfo, error) {
	jid, err := types.ParseJID(group)
	if err != nil {
		return nil, fmt.Errorf("parse group %q: %w", group, err)
	}
	info, err := s.cli.GetGroupInfo(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("get group info: %w", err)
	}
	return convertGroupInfo(info), nil
}

var participantChanges = map[transport.ParticipantAction]whatsmeow.ParticipantChange{
	transport.ActionAdd:     whatsmeow.ParticipantChangeAdd,
	transport.ActionRemove:  whatsmeow.ParticipantChangeRemove,
	transport.ActionPromote: whatsmeow.ParticipantChangePromote,
	transport.ActionDemote:  whatsmeow.ParticipantChangeDemote,
}

func (s *session) UpdateParticipants(ctx context.Context, group string, users []string, action transport.ParticipantAction) error {
	change, ok := participantChanges[action]
	if !ok {
		return fmt.Errorf("unknown participant action %q", action)
	}
	jid, err := types.ParseJID(group)
	if err != nil {
		return fmt.Errorf("parse group %q: %w", group, err)
	}
	jids := make([]types.JID, 0, len(users))
	for _, u := range users {
		j, err := types.ParseJID(u)
		if err != nil {
			return fmt.Errorf("parse user %q: %w", u, err)
		}
		jids = append(jids, j)
	}
	if _, err := s.cli.UpdateGroupParticipants(ctx, jid, jids, change); err != nil {
		return fmt.Errorf("update participants: %w", err)
	}
	return nil
}

func (s *session) InviteLink(ctx context.Context, group string, reset bool) (string, error) {
	jid, err := types.ParseJID(group)
	if err != nil {
		return "", fmt.Errorf("parse group %q: %w", group, err)
	}
	return s.cli.GetGroupInviteLink(ctx, jid, reset)
}

func (s *session) SetAnnounce(ctx context.Context, group string, announce bool) error {
	jid, err := types.ParseJID(group)
	if err != nil {
		return fmt.Errorf("parse group %q: %w", group, err)
	}
	return s.cli.SetGroupAnnounce(ctx, jid, announce)
}

func (s *session) JoinInvite(ctx context.Context, code string) (string, error) {
	jid, err := s.cli.JoinGroupWithLink(ctx, code)
	if err != nil {
		return "", fmt.Errorf("join group: %w", err)
	}
	return jid.String(), nil
}

func (s *session) RejectCall(ctx context.Context, from, callID string) error {
	jid, err := types.ParseJID(from)
	if err != nil {
		return fmt.Errorf("parse caller %q: %w", from, err)
	}
	return s.cli.RejectCall(ctx, jid, callID)
}

func (s *session) SetAbout(ctx context.Context, text string) error {
	return s.cli.SetStatusMessage(ctx, text)
}
