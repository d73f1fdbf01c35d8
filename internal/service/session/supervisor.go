// Package session supervises the live transport sessions of every account.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"fleetbot/internal/data/store"
	"fleetbot/internal/infra/metrics"
	"fleetbot/internal/transport"
	"fleetbot/internal/utils/retry"
)

// State is the supervisor's lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePairing
	StateAwaitingLink
	StateConnected
	StateReconnecting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePairing:
		return "pairing"
	case StateAwaitingLink:
		return "awaiting_link"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// CredentialStore persists link records.
type CredentialStore interface {
	Get(ctx context.Context, accountID string) (*transport.Credentials, error)
	Put(ctx context.Context, creds transport.Credentials) error
	Delete(ctx context.Context, accountID string) error
	List(ctx context.Context) ([]string, error)
}

// Options holds supervisor timings.
type Options struct {
	ConnectTimeout      time.Duration
	PairingCodeExpiry   time.Duration
	PairingAttempts     int
	PairingRetryWait    time.Duration
	PairingAttemptLimit time.Duration
	RestartDelay        time.Duration
	ReconnectDelay      time.Duration
	// MaxReconnects gives up after that many consecutive failed reconnects. Zero retries forever.
	MaxReconnects      int
	RestoreParallelism int
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.PairingCodeExpiry <= 0 {
		o.PairingCodeExpiry = d.PairingCodeExpiry
	}
	if o.PairingAttempts <= 0 {
		o.PairingAttempts = d.PairingAttempts
	}
	if o.PairingAttemptLimit <= 0 {
		o.PairingAttemptLimit = d.PairingAttemptLimit
	}
	if o.RestoreParallelism <= 0 {
		o.RestoreParallelism = d.RestoreParallelism
	}
	return o
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:      60 * time.Second,
		PairingCodeExpiry:   5 * time.Minute,
		PairingAttempts:     3,
		PairingRetryWait:    1500 * time.Millisecond,
		PairingAttemptLimit: 20 * time.Second,
		RestartDelay:        2 * time.Second,
		ReconnectDelay:      5 * time.Second,
		RestoreParallelism:  4,
	}
}

// Hooks are the registry-level callbacks shared by every supervisor.
type Hooks struct {
	// OnEvent receives inbound events of live sessions. ctx is cancelled once
	// the supervisor stops.
	OnEvent func(ctx context.Context, accountID string, sess transport.Session, evt interface{})
	// OnConnected runs once per supervisor, after the first open.
	OnConnected func(ctx context.Context, accountID string, sess transport.Session)
	// OnClosed runs when a supervisor is removed from the registry.
	OnClosed func(accountID string)
}

// Outcome is the first result of a supervisor: a pairing code, a connection
// or an error.
type Outcome struct {
	Code      string
	Connected bool
	Err       error
}

// Supervisor owns one account's transport session.
type Supervisor struct {
	accountID string
	dialer    transport.Dialer
	creds     CredentialStore
	opts      Options
	hooks     Hooks
	metrics   *metrics.Metrics
	log       waLog.Logger

	// onTerminal is set by the registry.
	onTerminal func(s *Supervisor)

	ctx    context.Context
	cancel context.CancelFunc

	// hookMu serialises credential writes and OnConnected against Stop.
	hookMu sync.Mutex

	mu          sync.Mutex
	state       State
	gen         uint64
	sess        transport.Session
	lastCreds   *transport.Credentials
	finished    bool
	announced   bool
	connectedAt time.Time
	lastErr     error
	reconnects  int
	qr          string

	connectTimer   *time.Timer
	expiryTimer    *time.Timer
	reconnectTimer *time.Timer

	done     chan struct{}
	outcome  Outcome
	resolved bool
}

func newSupervisor(accountID string, dialer transport.Dialer, creds CredentialStore, opts Options,
	hooks Hooks, m *metrics.Metrics, log waLog.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		accountID: accountID,
		dialer:    dialer,
		creds:     creds,
		opts:      opts,
		hooks:     hooks,
		metrics:   m,
		log:       log.Sub(accountID),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// AccountID returns the supervised account.
func (s *Supervisor) AccountID() string { return s.accountID }

// Done is closed once the first Outcome is known.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Wait blocks for the first Outcome or until ctx is done.
func (s *Supervisor) Wait(ctx context.Context) Outcome {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.outcome
	case <-ctx.Done():
		return Outcome{Err: ctx.Err()}
	}
}

// QR returns the latest QR payload of an unlinked session, or "".
func (s *Supervisor) QR() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qr
}

// Session returns the live session, or nil.
func (s *Supervisor) Session() transport.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// Status is a snapshot of a supervisor.
type Status struct {
	AccountID  string    `json:"number"`
	State      string    `json:"state"`
	Connected  bool      `json:"connected"`
	Since      time.Time `json:"since,omitempty"`
	Reconnects int       `json:"reconnects"`
	LastError  string    `json:"last_error,omitempty"`
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		AccountID:  s.accountID,
		State:      s.state.String(),
		Connected:  s.state == StateConnected,
		Reconnects: s.reconnects,
	}
	if st.Connected {
		st.Since = s.connectedAt
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// active reports whether the supervisor still owns its account.
func (s *Supervisor) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.finished
}

// start loads stored credentials, dials and either waits for the stored
// session to open or begins pairing.
func (s *Supervisor) start(ctx context.Context) error {
	creds, err := s.creds.Get(ctx, s.accountID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		creds = nil
	case err != nil:
		return fmt.Errorf("load credentials: %w", err)
	}

	s.mu.Lock()
	s.lastCreds = creds
	s.connectTimer = time.AfterFunc(s.opts.ConnectTimeout, func() {
		s.abandon(ErrTimeout)
	})
	s.mu.Unlock()

	if err := s.dial(ctx, creds); err != nil {
		s.abandon(err)
		return err
	}

	sess := s.Session()
	if sess == nil || sess.IsRegistered() {
		s.log.Infof("Already registered, connecting")
		return nil
	}

	s.setState(StatePairing)
	go s.requestPairingCode(sess)
	return nil
}

// dial builds and connects a new session, replacing the current handle.
func (s *Supervisor) dial(ctx context.Context, creds *transport.Credentials) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return ErrStopped
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	sess, err := s.dialer.Dial(ctx, s.accountID, creds, &sessionHandler{sup: s, gen: gen})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.mu.Lock()
	if s.finished || s.gen != gen {
		s.mu.Unlock()
		sess.Close()
		return ErrStopped
	}
	s.sess = sess
	s.mu.Unlock()

	if err := sess.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// requestPairingCode asks the transport for a link code, retrying with
// growing delays.
func (s *Supervisor) requestPairingCode(sess transport.Session) {
	cfg := retry.Config{
		MaxAttempts: s.opts.PairingAttempts,
		InitialWait: s.opts.PairingRetryWait,
		Multiplier:  2,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
		OnRetry: func(attempt int, err error) {
			s.log.Warnf("[transient] pairing code attempt %d failed: %v", attempt, err)
		},
	}
	code, err := retry.DoWithConfig(s.ctx, cfg, func(ctx context.Context) (string, error) {
		actx, cancel := context.WithTimeout(ctx, s.opts.PairingAttemptLimit)
		defer cancel()
		return sess.RequestPairingCode(actx, s.accountID)
	})
	if err != nil {
		s.metrics.PairingCodes.WithLabelValues("failed").Inc()
		s.abandon(fmt.Errorf("%w: %v", ErrPairingFailed, err))
		return
	}

	s.mu.Lock()
	if s.finished || s.state == StateConnected {
		s.mu.Unlock()
		return
	}
	s.expiryTimer = time.AfterFunc(s.opts.PairingCodeExpiry, func() {
		s.abandon(ErrPairingExpired)
	})
	s.mu.Unlock()

	s.metrics.PairingCodes.WithLabelValues("issued").Inc()
	s.log.Infof("Pairing code generated")
	s.resolve(Outcome{Code: code})
}

// sessionHandler binds transport callbacks to one dial of the supervisor.
// Callbacks from an older dial are ignored.
type sessionHandler struct {
	sup *Supervisor
	gen uint64
}

func (h *sessionHandler) OnConnectionUpdate(u transport.ConnectionUpdate) {
	h.sup.onConnectionUpdate(h.gen, u)
}

func (h *sessionHandler) OnCredentialsUpdate(c transport.Credentials) {
	h.sup.onCredentialsUpdate(h.gen, c)
}

func (h *sessionHandler) OnEvent(evt interface{}) {
	s := h.sup
	s.mu.Lock()
	if s.finished || s.gen != h.gen || s.sess == nil {
		s.mu.Unlock()
		return
	}
	sess := s.sess
	s.mu.Unlock()
	if s.hooks.OnEvent != nil {
		s.hooks.OnEvent(s.ctx, s.accountID, sess, evt)
	}
}

// onConnectionUpdate is the transition function.
func (s *Supervisor) onConnectionUpdate(gen uint64, u transport.ConnectionUpdate) {
	s.mu.Lock()
	if s.finished || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.metrics.ConnectionUpdates.WithLabelValues(u.State.String(), u.Reason.String()).Inc()

	switch u.State {
	case transport.StateConnecting:
		if s.state == StatePairing {
			s.state = StateAwaitingLink
		}
		if u.QR != "" {
			s.qr = u.QR
		}
		s.mu.Unlock()
		s.log.Debugf("Connecting")

	case transport.StateOpen:
		s.onOpenLocked()

	case transport.StateClose:
		s.onCloseLocked(u)

	default:
		s.mu.Unlock()
	}
}

// onOpenLocked must be called with s.mu held and releases it.
func (s *Supervisor) onOpenLocked() {
	s.state = StateConnected
	s.connectedAt = time.Now()
	s.reconnects = 0
	s.lastErr = nil
	s.qr = ""
	stopTimer(s.connectTimer)
	stopTimer(s.expiryTimer)
	sess := s.sess
	gen := s.gen
	s.mu.Unlock()

	s.log.Infof("Connected")
	if sess == nil {
		return
	}

	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	if !s.current(gen) {
		return
	}
	if creds := sess.Credentials(); creds != nil {
		s.mu.Lock()
		s.lastCreds = creds
		s.mu.Unlock()
		s.persistCredentials(*creds)
		if !s.current(gen) {
			return
		}
	}
	s.resolve(Outcome{Connected: true})

	s.mu.Lock()
	first := !s.announced
	s.announced = true
	s.mu.Unlock()
	if first && s.hooks.OnConnected != nil {
		s.hooks.OnConnected(s.ctx, s.accountID, sess)
	}
}

// onCloseLocked must be called with s.mu held and releases it.
func (s *Supervisor) onCloseLocked(u transport.ConnectionUpdate) {
	act := Classify(u.Reason)
	wasConnected := s.state == StateConnected
	s.log.Warnf("Connection closed: %s", u.Reason)

	if !act.Terminal && s.opts.MaxReconnects > 0 && s.reconnects >= s.opts.MaxReconnects {
		act = Action{Terminal: true, Err: fmt.Errorf("%w: gave up after %d reconnects", ErrClosed, s.reconnects)}
	}

	if act.Terminal {
		sess := s.finishLocked(StateClosing, act.Err)
		creds := s.lastCreds
		s.mu.Unlock()

		s.log.Errorf("[%s] session ended: %v", KindOf(act.Err), act.Err)
		if sess != nil {
			sess.Close()
		}
		if act.Purge {
			s.purge(creds)
		}
		s.resolve(Outcome{Err: act.Err})
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		if s.onTerminal != nil {
			s.onTerminal(s)
		}
		return
	}

	delay := s.opts.ReconnectDelay
	var dropped transport.Session
	if act.Restart {
		delay = s.opts.RestartDelay
		dropped, s.sess = s.sess, nil
	}
	s.state = StateReconnecting
	s.lastErr = fmt.Errorf("%w: %s", ErrClosed, u.Reason)
	closeErr := s.lastErr
	s.scheduleReconnectLocked(delay)
	s.mu.Unlock()

	if dropped != nil {
		dropped.Close()
	}
	if !wasConnected {
		s.resolve(Outcome{Err: closeErr})
	}
}

func (s *Supervisor) scheduleReconnectLocked(delay time.Duration) {
	stopTimer(s.reconnectTimer)
	s.reconnects++
	gen := s.gen
	s.reconnectTimer = time.AfterFunc(delay, func() { s.reconnect(gen) })
	s.metrics.Reconnects.Inc()
	s.log.Infof("Reconnecting in %s (attempt %d)", delay, s.reconnects)
}

func (s *Supervisor) reconnect(gen uint64) {
	s.mu.Lock()
	if s.finished || s.gen != gen {
		s.mu.Unlock()
		return
	}
	sess, creds := s.sess, s.lastCreds
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.ConnectTimeout)
	defer cancel()

	var err error
	if sess != nil {
		err = sess.Connect(ctx)
	} else {
		err = s.dial(ctx, creds)
	}
	if err == nil {
		return
	}

	s.log.Warnf("[transient] reconnect failed: %v", err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.lastErr = err
	s.scheduleReconnectLocked(s.opts.ReconnectDelay)
}

func (s *Supervisor) onCredentialsUpdate(gen uint64, c transport.Credentials) {
	s.mu.Lock()
	if s.finished || s.gen != gen {
		s.mu.Unlock()
		return
	}
	c.AccountID = s.accountID
	s.lastCreds = &c
	s.mu.Unlock()

	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	if s.current(gen) {
		s.persistCredentials(c)
	}
}

// current reports whether gen is still the live dial of a running supervisor.
func (s *Supervisor) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.finished && s.gen == gen
}

// persistCredentials retries the write; losing it would need a new pairing.
func (s *Supervisor) persistCredentials(c transport.Credentials) {
	c.AccountID = s.accountID
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 5
	cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, context.Canceled) }
	err := retry.DoSimple(s.ctx, cfg, func(ctx context.Context) error {
		return s.creds.Put(ctx, c)
	})
	if err != nil {
		s.metrics.CredentialWrites.WithLabelValues("failed").Inc()
		s.log.Errorf("[persistence] save credentials: %v", err)
		s.mu.Lock()
		s.lastErr = fmt.Errorf("save credentials: %w", err)
		s.mu.Unlock()
		return
	}
	s.metrics.CredentialWrites.WithLabelValues("ok").Inc()
	s.log.Debugf("Credentials saved")
}

// purge destroys both the transport key material and the link record.
func (s *Supervisor) purge(creds *transport.Credentials) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if creds != nil {
		if err := s.dialer.Forget(ctx, creds); err != nil {
			s.log.Errorf("[persistence] forget device: %v", err)
		}
	}
	if err := s.creds.Delete(ctx, s.accountID); err != nil {
		s.log.Errorf("[persistence] delete credentials: %v", err)
		return
	}
	s.log.Infof("Credentials purged")
}

// abandon tears down the handle of a supervisor that never opened. The
// registry entry stays until it is replaced or stopped.
func (s *Supervisor) abandon(err error) {
	s.mu.Lock()
	if s.finished || s.state == StateConnected || !s.connectedAt.IsZero() {
		s.mu.Unlock()
		return
	}
	sess := s.finishLocked(StateIdle, err)
	s.mu.Unlock()

	s.log.Warnf("[%s] giving up: %v", KindOf(err), err)
	if sess != nil {
		sess.Close()
	}
	s.resolve(Outcome{Err: err})
}

// Stop closes the session and cancels pending timers. With logout the
// account is unlinked and its credentials purged. A credential write or
// OnConnected call already in flight finishes before Stop returns.
func (s *Supervisor) Stop(ctx context.Context, logout bool) {
	s.mu.Lock()
	sess := s.finishLocked(StateIdle, ErrStopped)
	s.mu.Unlock()

	// wait out a credential write or OnConnected that is already running
	s.hookMu.Lock()
	s.mu.Lock()
	creds := s.lastCreds
	s.mu.Unlock()
	s.hookMu.Unlock()

	if sess != nil {
		if logout {
			if err := sess.Logout(ctx); err != nil {
				s.log.Warnf("[transient] logout: %v", err)
			}
		}
		sess.Close()
	}
	if logout {
		s.purge(creds)
	}
	s.resolve(Outcome{Err: ErrStopped})
	s.log.Infof("Stopped")
}

// finishLocked ends the supervisor and returns the handle to close.
func (s *Supervisor) finishLocked(state State, err error) transport.Session {
	if !s.finished {
		s.lastErr = err
	}
	s.finished = true
	s.state = state
	s.qr = ""
	s.gen++
	stopTimer(s.connectTimer)
	stopTimer(s.expiryTimer)
	stopTimer(s.reconnectTimer)
	s.cancel()
	sess := s.sess
	s.sess = nil
	return sess
}

// setState moves a live supervisor to state.
func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	if !s.finished {
		s.state = state
	}
	s.mu.Unlock()
}

// resolve delivers the first outcome and drops the rest.
func (s *Supervisor) resolve(out Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved {
		return
	}
	s.resolved = true
	s.outcome = out
	close(s.done)
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
