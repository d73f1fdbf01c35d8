// Package transport describes the messaging-protocol collaborator consumed by
// the session supervisor and the message pipeline. JIDs are carried as strings
// ("255...@s.whatsapp.net", "...@g.us", "status@broadcast").
package transport

import (
	"context"
	"time"
)

// Dialer opens per-account sessions.
type Dialer interface {
	// Dial builds a session for accountID. A nil creds starts an unlinked
	// session that has to be paired.
	Dial(ctx context.Context, accountID string, creds *Credentials, h Handler) (Session, error)
	// Forget destroys the transport-side key material behind creds.
	Forget(ctx context.Context, creds *Credentials) error
}

// Handler receives everything a session emits. Calls may come from any goroutine.
type Handler interface {
	OnConnectionUpdate(u ConnectionUpdate)
	OnCredentialsUpdate(c Credentials)
	OnEvent(evt interface{})
}

// Session is one live protocol connection.
type Session interface {
	Connect(ctx context.Context) error
	Close()
	Logout(ctx context.Context) error

	IsRegistered() bool
	// OwnID is the digits-only number of the linked account, empty before pairing.
	OwnID() string
	Credentials() *Credentials
	RequestPairingCode(ctx context.Context, phone string) (string, error)

	Send(ctx context.Context, chat string, out Outgoing) (string, error)
	React(ctx context.Context, key MessageKey, emoji string) error
	Revoke(ctx context.Context, key MessageKey) error
	MarkRead(ctx context.Context, key MessageKey) error
	SetChatPresence(ctx context.Context, chat string, p ChatPresence) error
	Download(ctx context.Context, m *Media) ([]byte, error)

	GroupInfo(ctx context.Context, group string) (*GroupInfo, error)
	UpdateParticipants(ctx context.Context, group string, users []string, action ParticipantAction) error
	InviteLink(ctx context.Context, group string, reset bool) (string, error)
	SetAnnounce(ctx context.Context, group string, announce bool) error
	JoinInvite(ctx context.Context, code string) (string, error)

	RejectCall(ctx context.Context, from, callID string) error
	SetAbout(ctx context.Context, text string) error
}

// Credentials is the persisted link record. The key material itself stays in
// the transport's device store and is located through JID.
type Credentials struct {
	AccountID string    `json:"accountId"`
	JID       string    `json:"jid"`
	LID       string    `json:"lid,omitempty"`
	PushName  string    `json:"pushName,omitempty"`
	Platform  string    `json:"platform,omitempty"`
	LinkedAt  time.Time `json:"linkedAt"`
}

// ConnState is the coarse connection state reported by a session.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClose
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClose:
		return "close"
	default:
		return "unknown"
	}
}

// CloseReason classifies why a session closed.
type CloseReason int

const (
	ReasonUnknown CloseReason = iota
	ReasonLoggedOut
	ReasonBadSession
	ReasonConnectionReplaced
	ReasonRestartRequired
	ReasonConnectionClosed
	ReasonConnectionLost
	ReasonTimedOut
	ReasonForbidden
)

var reasonNames = map[CloseReason]string{
	ReasonUnknown:            "unknown",
	ReasonLoggedOut:          "loggedOut",
	ReasonBadSession:         "badSession",
	ReasonConnectionReplaced: "connectionReplaced",
	ReasonRestartRequired:    "restartRequired",
	ReasonConnectionClosed:   "connectionClosed",
	ReasonConnectionLost:     "connectionLost",
	ReasonTimedOut:           "timedOut",
	ReasonForbidden:          "forbidden",
}

func (r CloseReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// ConnectionUpdate is one connection state change.
type ConnectionUpdate struct {
	State  ConnState
	Reason CloseReason
	// QR carries a fresh QR payload while an unlinked session waits for pairing.
	QR  string
	Err error
}

// MessageKey addresses a single message.
type MessageKey struct {
	Chat   string
	Sender string
	ID     string
	FromMe bool
}

// MessageKind is the coarse payload type of a message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
	KindSticker  MessageKind = "sticker"
	KindReaction MessageKind = "reaction"
	KindRevoke   MessageKind = "revoke"
	KindOther    MessageKind = "other"
)

// IsMedia reports whether the kind carries downloadable media.
func (k MessageKind) IsMedia() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindDocument, KindSticker:
		return true
	}
	return false
}

// Media references downloadable content inside a message.
type Media struct {
	Kind     MessageKind
	Mimetype string
	Caption  string
	FileName string
	// Ref is the transport's own handle, opaque to everything but the transport.
	Ref interface{}
}

// Message is an inbound message.
type Message struct {
	Key       MessageKey
	PushName  string
	IsGroup   bool
	Timestamp time.Time
	Kind      MessageKind
	// Text is the conversation text or media caption.
	Text     string
	Mentions []string
	ViewOnce bool
	Media    *Media
	Quoted   *Quoted
	// RevokedID is set on delete notifications.
	RevokedID string
}

// Quoted is the message a reply refers to.
type Quoted struct {
	Key      MessageKey
	Text     string
	ViewOnce bool
	Media    *Media
}

// Outgoing describes a message to send.
type Outgoing struct {
	Text     string
	Mentions []string
	ReplyTo  *Message
	Media    *OutgoingMedia
}

// OutgoingMedia is raw media to upload and send.
type OutgoingMedia struct {
	Kind     MessageKind
	Data     []byte
	Mimetype string
	FileName string
}

// ChatPresence is a typing/recording indicator.
type ChatPresence int

const (
	PresencePaused ChatPresence = iota
	PresenceComposing
	PresenceRecording
)

// ParticipantAction is a group membership change.
type ParticipantAction string

const (
	ActionAdd     ParticipantAction = "add"
	ActionRemove  ParticipantAction = "remove"
	ActionPromote ParticipantAction = "promote"
	ActionDemote  ParticipantAction = "demote"
)

// GroupInfo is the subset of group metadata used by commands.
type GroupInfo struct {
	JID          string
	Name         string
	Topic        string
	Owner        string
	Announce     bool
	Created      time.Time
	Participants []Participant
}

// Participant is one group member.
type Participant struct {
	JID          string
	IsAdmin      bool
	IsSuperAdmin bool
}

// IsAdmin reports whether user (any device) is an admin of the group.
func (g *GroupInfo) IsAdmin(user string) bool {
	for _, p := range g.Participants {
		if sameNumber(p.JID, user) {
			return p.IsAdmin || p.IsSuperAdmin
		}
	}
	return false
}

// GroupUpdate is a membership change event.
type GroupUpdate struct {
	Group        string
	Participants []string
	Action       ParticipantAction
	// Author is the admin who made the change, if known.
	Author    string
	Timestamp time.Time
}

// CallOffer is an incoming call.
type CallOffer struct {
	From   string
	CallID string
}

func sameNumber(a, b string) bool {
	return userPart(a) == userPart(b)
}

func userPart(j string) string {
	for i := 0; i < len(j); i++ {
		if j[i] == '@' || j[i] == ':' {
			return j[:i]
		}
	}
	return j
}
