// Package transporttest provides an in-memory transport for tests.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fleetbot/internal/transport"
)

// ErrFake is returned by injected failures.
var ErrFake = errors.New("fake transport failure")

// Dialer records every session it hands out.
type Dialer struct {
	mu        sync.Mutex
	sessions  map[string][]*Session
	forgotten []string

	// DialErr fails every Dial when set.
	DialErr error
	// Configure runs on each new session before it is returned.
	Configure func(s *Session)
}

// NewDialer creates an empty Dialer.
func NewDialer() *Dialer {
	return &Dialer{sessions: make(map[string][]*Session)}
}

func (d *Dialer) Dial(_ context.Context, accountID string, creds *transport.Credentials, h transport.Handler) (transport.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	s := &Session{
		AccountID:  accountID,
		handler:    h,
		creds:      creds,
		registered: creds != nil,
		Groups:     make(map[string]*transport.GroupInfo),
	}
	if d.Configure != nil {
		d.Configure(s)
	}
	d.sessions[accountID] = append(d.sessions[accountID], s)
	return s, nil
}

func (d *Dialer) Forget(_ context.Context, creds *transport.Credentials) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if creds != nil {
		d.forgotten = append(d.forgotten, creds.AccountID)
	}
	return nil
}

// Dials returns how many sessions were dialed for accountID.
func (d *Dialer) Dials(accountID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions[accountID])
}

// Last returns the newest session for accountID, or nil.
func (d *Dialer) Last(accountID string) *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.sessions[accountID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// WaitDials blocks until accountID has at least n sessions or the timeout passes.
func (d *Dialer) WaitDials(accountID string, n int, timeout time.Duration) *Session {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.Dials(accountID) >= n {
			return d.Last(accountID)
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// Forgotten lists the accounts whose key material was destroyed.
func (d *Dialer) Forgotten() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.forgotten...)
}

// Sent is one recorded outgoing message.
type Sent struct {
	Chat string
	transport.Outgoing
}

// Reaction is one recorded reaction.
type Reaction struct {
	Key   transport.MessageKey
	Emoji string
}

// Presence is one recorded chat presence update.
type Presence struct {
	Chat     string
	Presence transport.ChatPresence
}

// ParticipantChange is one recorded membership mutation.
type ParticipantChange struct {
	Group  string
	Users  []string
	Action transport.ParticipantAction
}

// Session is a scriptable transport.Session.
type Session struct {
	AccountID string

	// Failure injection, set before use.
	ConnectErr error
	// AutoOpen emits connecting and open after every successful Connect.
	AutoOpen        bool
	PairingFailures int
	SendErr         error
	RevokeErr       error
	DownloadData    []byte
	Groups          map[string]*transport.GroupInfo

	mu           sync.Mutex
	handler      transport.Handler
	creds        *transport.Credentials
	registered   bool
	connected    bool
	connects     int
	closed       bool
	loggedOut    bool
	pairingCalls int
	sent         []Sent
	reactions    []Reaction
	revoked      []transport.MessageKey
	read         []transport.MessageKey
	presences    []Presence
	participants []ParticipantChange
	announce     map[string]bool
	rejected     []string
	about        []string
	joined       []string
}

func (s *Session) Connect(context.Context) error {
	s.mu.Lock()
	s.connects++
	if s.ConnectErr != nil {
		s.mu.Unlock()
		return s.ConnectErr
	}
	s.connected = true
	auto := s.AutoOpen
	s.mu.Unlock()
	if auto {
		go s.Open()
	}
	return nil
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.connected = false
}

func (s *Session) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedOut = true
	return nil
}

func (s *Session) IsRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

func (s *Session) OwnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registered {
		return ""
	}
	return s.AccountID
}

func (s *Session) Credentials() *transport.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return nil
	}
	c := *s.creds
	return &c
}

func (s *Session) RequestPairingCode(_ context.Context, phone string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairingCalls++
	if s.pairingCalls <= s.PairingFailures {
		return "", ErrFake
	}
	return fmt.Sprintf("CODE-%s", phone[len(phone)-4:]), nil
}

func (s *Session) Send(_ context.Context, chat string, out transport.Outgoing) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return "", s.SendErr
	}
	s.sent = append(s.sent, Sent{Chat: chat, Outgoing: out})
	return fmt.Sprintf("OUT%d", len(s.sent)), nil
}

func (s *Session) React(_ context.Context, key transport.MessageKey, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactions = append(s.reactions, Reaction{Key: key, Emoji: emoji})
	return nil
}

func (s *Session) Revoke(_ context.Context, key transport.MessageKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RevokeErr != nil {
		return s.RevokeErr
	}
	s.revoked = append(s.revoked, key)
	return nil
}

func (s *Session) MarkRead(_ context.Context, key transport.MessageKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read = append(s.read, key)
	return nil
}

func (s *Session) SetChatPresence(_ context.Context, chat string, p transport.ChatPresence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presences = append(s.presences, Presence{Chat: chat, Presence: p})
	return nil
}

func (s *Session) Download(context.Context, *transport.Media) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DownloadData == nil {
		return nil, ErrFake
	}
	return s.DownloadData, nil
}

func (s *Session) GroupInfo(_ context.Context, group string) (*transport.GroupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.Groups[group]
	if !ok {
		return nil, ErrFake
	}
	return info, nil
}

func (s *Session) UpdateParticipants(_ context.Context, group string, users []string, action transport.ParticipantAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = append(s.participants, ParticipantChange{Group: group, Users: users, Action: action})
	return nil
}

func (s *Session) InviteLink(_ context.Context, group string, reset bool) (string, error) {
	if reset {
		return "https://chat.whatsapp.com/RESET", nil
	}
	return "https://chat.whatsapp.com/INVITE", nil
}

func (s *Session) SetAnnounce(_ context.Context, group string, announce bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.announce == nil {
		s.announce = make(map[string]bool)
	}
	s.announce[group] = announce
	return nil
}

func (s *Session) JoinInvite(_ context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined = append(s.joined, code)
	return "120363000000000001@g.us", nil
}

func (s *Session) RejectCall(_ context.Context, from, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, callID)
	return nil
}

func (s *Session) SetAbout(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.about = append(s.about, text)
	return nil
}

// Scripting helpers. They invoke the handler outside the session lock.

// Link simulates a successful pairing: credentials are issued and the session
// becomes registered.
func (s *Session) Link() {
	s.mu.Lock()
	s.registered = true
	s.creds = &transport.Credentials{
		AccountID: s.AccountID,
		JID:       s.AccountID + ":1@s.whatsapp.net",
		PushName:  "Fleet " + s.AccountID,
		Platform:  "android",
		LinkedAt:  time.Now(),
	}
	creds := *s.creds
	h := s.handler
	s.mu.Unlock()
	h.OnCredentialsUpdate(creds)
}

// Open emits a connecting update followed by open.
func (s *Session) Open() {
	s.Update(transport.ConnectionUpdate{State: transport.StateConnecting})
	s.Update(transport.ConnectionUpdate{State: transport.StateOpen})
}

// CloseWith emits a close update with reason.
func (s *Session) CloseWith(reason transport.CloseReason) {
	s.Update(transport.ConnectionUpdate{State: transport.StateClose, Reason: reason})
}

// Update emits an arbitrary connection update.
func (s *Session) Update(u transport.ConnectionUpdate) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	h.OnConnectionUpdate(u)
}

// Emit delivers an inbound event.
func (s *Session) Emit(evt interface{}) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	h.OnEvent(evt)
}

// Recorded state accessors.

func (s *Session) SentMessages() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

func (s *Session) Reactions() []Reaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Reaction(nil), s.reactions...)
}

func (s *Session) Revoked() []transport.MessageKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.MessageKey(nil), s.revoked...)
}

func (s *Session) ReadReceipts() []transport.MessageKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.MessageKey(nil), s.read...)
}

func (s *Session) Presences() []Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Presence(nil), s.presences...)
}

func (s *Session) ParticipantChanges() []ParticipantChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ParticipantChange(nil), s.participants...)
}

func (s *Session) Announce(group string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.announce[group]
}

func (s *Session) RejectedCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rejected...)
}

func (s *Session) AboutTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.about...)
}

func (s *Session) Joined() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.joined...)
}

func (s *Session) ConnectCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *Session) PairingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairingCalls
}

func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) IsLoggedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedOut
}

var _ transport.Session = (*Session)(nil)
var _ transport.Dialer = (*Dialer)(nil)
