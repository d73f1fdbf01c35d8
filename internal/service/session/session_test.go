package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waLog "go.mau.fi/whatsmeow/util/log"

	"fleetbot/internal/data/store"
	"fleetbot/internal/infra/metrics"
	"fleetbot/internal/transport"
	"fleetbot/internal/transport/transporttest"
)

const account = "255612491554"

type memCreds struct {
	mu   sync.Mutex
	recs map[string]transport.Credentials
	puts int
}

func newMemCreds(ids ...string) *memCreds {
	m := &memCreds{recs: make(map[string]transport.Credentials)}
	for _, id := range ids {
		m.recs[id] = transport.Credentials{AccountID: id, JID: id + ":1@s.whatsapp.net"}
	}
	return m
}

func (m *memCreds) Get(_ context.Context, id string) (*transport.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.recs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (m *memCreds) Put(_ context.Context, c transport.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.recs[c.AccountID] = c
	return nil
}

func (m *memCreds) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	return nil
}

func (m *memCreds) List(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.recs))
	for id := range m.recs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memCreds) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.recs[id]
	return ok
}

// gatedCreds holds every Put until release is closed.
type gatedCreds struct {
	*memCreds
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedCreds) Put(ctx context.Context, c transport.Credentials) error {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.memCreds.Put(ctx, c)
}

type recorder struct {
	connected atomic.Int32
	closed    atomic.Int32
	events    atomic.Int32
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnEvent: func(context.Context, string, transport.Session, interface{}) { r.events.Add(1) },
		OnConnected: func(context.Context, string, transport.Session) {
			r.connected.Add(1)
		},
		OnClosed: func(string) { r.closed.Add(1) },
	}
}

func testOptions() Options {
	return Options{
		ConnectTimeout:      time.Second,
		PairingCodeExpiry:   time.Minute,
		PairingAttempts:     3,
		PairingRetryWait:    time.Millisecond,
		PairingAttemptLimit: time.Second,
		RestartDelay:        5 * time.Millisecond,
		ReconnectDelay:      5 * time.Millisecond,
		RestoreParallelism:  2,
	}
}

type fixture struct {
	reg    *Registry
	dialer *transporttest.Dialer
	creds  *memCreds
	rec    *recorder
}

func newFixture(opts Options, stored ...string) *fixture {
	f := &fixture{
		dialer: transporttest.NewDialer(),
		creds:  newMemCreds(stored...),
		rec:    &recorder{},
	}
	f.reg = NewRegistry(f.dialer, f.creds, opts, f.rec.hooks(), metrics.New(), waLog.Noop)
	return f
}

func waitOutcome(t *testing.T, sup *Supervisor) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return sup.Wait(ctx)
}

func eventuallyState(t *testing.T, sup *Supervisor, want State) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return sup.Status().State == want.String()
	}, time.Second, time.Millisecond, "want state %s", want)
}

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		reason   transport.CloseReason
		purge    bool
		terminal bool
		restart  bool
		err      error
	}{
		{transport.ReasonLoggedOut, true, true, false, ErrLoggedOut},
		{transport.ReasonBadSession, true, true, false, ErrLoggedOut},
		{transport.ReasonConnectionReplaced, false, true, false, ErrReplaced},
		{transport.ReasonRestartRequired, false, false, true, nil},
		{transport.ReasonConnectionClosed, false, false, false, nil},
		{transport.ReasonConnectionLost, false, false, false, nil},
		{transport.ReasonTimedOut, false, false, false, nil},
		{transport.ReasonForbidden, false, true, false, ErrBanned},
		{transport.ReasonUnknown, false, false, false, nil},
	}
	for _, tc := range cases {
		t.Run(tc.reason.String(), func(t *testing.T) {
			act := Classify(tc.reason)
			assert.Equal(t, tc.purge, act.Purge, "purge")
			assert.Equal(t, tc.terminal, act.Terminal, "terminal")
			assert.Equal(t, tc.restart, act.Restart, "restart")
			assert.Equal(t, tc.err, act.Err)
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindIdentity, KindOf(ErrLoggedOut))
	assert.Equal(t, KindPolicy, KindOf(fmt.Errorf("wrapped: %w", ErrBanned)))
	assert.Equal(t, KindPolicy, KindOf(ErrReplaced))
	assert.Equal(t, KindTransient, KindOf(ErrTimeout))
	assert.Equal(t, KindTransient, KindOf(fmt.Errorf("%w: boom", ErrPairingFailed)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("other")))
	assert.Equal(t, "identity", KindIdentity.String())
}

func TestStartRejectsInvalidAccount(t *testing.T) {
	f := newFixture(testOptions())
	_, err := f.reg.Start(context.Background(), "+255 612")
	assert.ErrorIs(t, err, ErrInvalidAccount)
	assert.Zero(t, f.dialer.Dials("+255 612"))
}

func TestStartUnlinkedIssuesPairingCode(t *testing.T) {
	f := newFixture(testOptions())

	sup, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)

	out := waitOutcome(t, sup)
	require.NoError(t, out.Err)
	assert.Equal(t, "CODE-1554", out.Code)
	assert.False(t, out.Connected)
	assert.True(t, f.reg.IsActive(account))
	assert.Equal(t, []string{account}, f.reg.List())
}

func TestPairWaitsForCode(t *testing.T) {
	f := newFixture(testOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := f.reg.Pair(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, "CODE-1554", out.Code)

	_, err = f.reg.Pair(ctx, account)
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestPairingRetriesThenSucceeds(t *testing.T) {
	f := newFixture(testOptions())
	f.dialer.Configure = func(s *transporttest.Session) { s.PairingFailures = 2 }

	sup, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)

	out := waitOutcome(t, sup)
	require.NoError(t, out.Err)
	assert.Equal(t, 3, f.dialer.Last(account).PairingCalls())
}

func TestPairingExhaustedFails(t *testing.T) {
	f := newFixture(testOptions())
	f.dialer.Configure = func(s *transporttest.Session) { s.PairingFailures = 10 }

	sup, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)

	out := waitOutcome(t, sup)
	assert.ErrorIs(t, out.Err, ErrPairingFailed)
	assert.Equal(t, KindTransient, KindOf(out.Err))
	assert.Equal(t, 3, f.dialer.Last(account).PairingCalls())
	assert.True(t, f.dialer.Last(account).IsClosed())
	assert.False(t, f.reg.IsActive(account))

	f.dialer.Configure = nil
	_, err = f.reg.Start(context.Background(), account)
	assert.NoError(t, err, "a failed supervisor does not block a new start")
}

func TestStopEndsPairingRetries(t *testing.T) {
	opts := testOptions()
	opts.PairingAttempts = 5
	opts.PairingRetryWait = 20 * time.Millisecond
	f := newFixture(opts)
	f.dialer.Configure = func(s *transporttest.Session) { s.PairingFailures = 10 }

	sup, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)
	sess := f.dialer.Last(account)
	assert.Eventually(t, func() bool { return sess.PairingCalls() >= 1 }, time.Second, time.Millisecond)

	f.reg.Stop(context.Background(), account)
	assert.ErrorIs(t, waitOutcome(t, sup).Err, ErrStopped)
	time.Sleep(10 * time.Millisecond)
	calls := sess.PairingCalls()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, sess.PairingCalls(), "no attempts after stop")
}

func TestConcurrentStartHasOneWinner(t *testing.T) {
	f := newFixture(testOptions(), account)

	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		already atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.reg.Start(context.Background(), account)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrAlreadyConnected):
				already.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 15, already.Load())
	assert.Equal(t, 1, f.dialer.Dials(account))
}

func TestLinkThenOpenPersistsAndAnnouncesOnce(t *testing.T) {
	f := newFixture(testOptions())

	sup, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)
	require.NoError(t, waitOutcome(t, sup).Err)

	sess := f.dialer.Last(account)
	sess.Link()
	assert.True(t, f.creds.has(account), "credentials update is persisted immediately")

	sess.Open()
	eventuallyState(t, sup, StateConnected)
	assert.EqualValues(t, 1, f.rec.connected.Load())

	st := sup.Status()
	assert.True(t, st.Connected)
	assert.False(t, st.Since.IsZero())

	// a reconnect does not announce again
	sess.CloseWith(transport.ReasonConnectionLost)
	eventuallyState(t, sup, StateReconnecting)
	assert.Eventually(t, func() bool { return sess.ConnectCalls() == 2 }, time.Second, time.Millisecond)
	sess.Open()
	eventuallyState(t, sup, StateConnected)
	assert.EqualValues(t, 1, f.rec.connected.Load())
}

func TestQRPayloadIsKeptUntilOpen(t *testing.T) {
	f := newFixture(testOptions())
	sup, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)
	require.NoError(t, waitOutcome(t, sup).Err)

	sess := f.dialer.Last(account)
	sess.Update(transport.ConnectionUpdate{State: transport.StateConnecting, QR: "2@payload"})
	assert.Equal(t, "2@payload", sup.QR())

	sess.Link()
	sess.Open()
	eventuallyState(t, sup, StateConnected)
	assert.Empty(t, sup.QR())
}

func TestEventsAreForwarded(t *testing.T) {
	f := newFixture(testOptions(), account)
	_, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)

	f.dialer.Last(account).Emit(&transport.Message{})
	assert.EqualValues(t, 1, f.rec.events.Load())
}

func TestLoggedOutPurgesAndAllowsFreshStart(t *testing.T) {
	f := newFixture(testOptions(), account)

	sup, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)
	sess := f.dialer.Last(account)
	sess.Open()
	require.True(t, waitOutcome(t, sup).Connected)

	sess.CloseWith(transport.ReasonLoggedOut)

	assert.False(t, f.reg.IsActive(account))
	assert.False(t, f.creds.has(account), "credentials deleted")
	assert.Equal(t, []string{account}, f.dialer.Forgotten())
	assert.True(t, sess.IsClosed())
	assert.EqualValues(t, 1, f.rec.closed.Load())
	_, found := f.reg.Status(account)
	assert.False(t, found, "registry entry removed")

	next, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)
	out := waitOutcome(t, next)
	require.NoError(t, out.Err)
	assert.NotEmpty(t, out.Code, "the account has to pair again")
}

func TestTerminalReasonsKeepCredentials(t *testing.T) {
	for reason, want := range map[transport.CloseReason]error{
		transport.ReasonConnectionReplaced: ErrReplaced,
		transport.ReasonForbidden:          ErrBanned,
	} {
		t.Run(reason.String(), func(t *testing.T) {
			f := newFixture(testOptions(), account)
			sup, err := f.reg.Start(context.Background(), account)
			require.NoError(t, err)

			f.dialer.Last(account).CloseWith(reason)

			out := waitOutcome(t, sup)
			assert.ErrorIs(t, out.Err, want)
			assert.Equal(t, KindPolicy, KindOf(out.Err))
			assert.True(t, f.creds.has(account))
			assert.Empty(t, f.dialer.Forgotten())
			assert.False(t, f.reg.IsActive(account))
		})
	}
}

func TestTransientCloseReconnectsSameHandle(t *testing.T) {
	f := newFixture(testOptions(), account)
	sup, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)
	sess := f.dialer.Last(account)
	sess.Open()
	eventuallyState(t, sup, StateConnected)

	for _, reason := range []transport.CloseReason{
		transport.ReasonConnectionClosed,
		transport.ReasonConnectionLost,
		transport.ReasonTimedOut,
		transport.ReasonUnknown,
	} {
		before := sess.ConnectCalls()
		sess.CloseWith(reason)
		assert.Eventually(t, func() bool { return sess.ConnectCalls() == before+1 }, time.Second, time.Millisecond)
		sess.Open()
		eventuallyState(t, sup, StateConnected)
	}

	assert.Equal(t, 1, f.dialer.Dials(account))
	assert.True(t, f.creds.has(account))
	assert.True(t, f.reg.IsActive(account))
}

func TestRestartRequiredDialsFreshHandle(t *testing.T) {
	f := newFixture(testOptions(), account)
	sup, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)
	old := f.dialer.Last(account)
	old.Open()
	eventuallyState(t, sup, StateConnected)

	old.CloseWith(transport.ReasonRestartRequired)

	next := f.dialer.WaitDials(account, 2, time.Second)
	require.NotNil(t, next)
	assert.True(t, old.IsClosed())

	// the replaced handle is ignored from now on
	old.CloseWith(transport.ReasonLoggedOut)
	assert.True(t, f.creds.has(account))

	assert.Eventually(t, func() bool { return sup.Session() == next }, time.Second, time.Millisecond)
	next.Open()
	eventuallyState(t, sup, StateConnected)
}

func TestCloseBeforeOpenReportsTransientError(t *testing.T) {
	f := newFixture(testOptions(), account)
	sup, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)

	f.dialer.Last(account).CloseWith(transport.ReasonConnectionLost)

	out := waitOutcome(t, sup)
	assert.ErrorIs(t, out.Err, ErrClosed)
	assert.Equal(t, KindTransient, KindOf(out.Err))
	assert.True(t, f.reg.IsActive(account), "still reconnecting")
}

func TestConnectTimeoutTearsDownButKeepsEntry(t *testing.T) {
	opts := testOptions()
	opts.ConnectTimeout = 20 * time.Millisecond
	f := newFixture(opts, account)

	sup, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)

	out := waitOutcome(t, sup)
	assert.ErrorIs(t, out.Err, ErrTimeout)
	assert.True(t, f.dialer.Last(account).IsClosed())
	assert.False(t, f.reg.IsActive(account))

	st, found := f.reg.Status(account)
	assert.True(t, found, "entry kept until replaced")
	assert.Equal(t, ErrTimeout.Error(), st.LastError)
	assert.True(t, f.creds.has(account))

	// a late open from the torn down handle changes nothing
	f.dialer.Last(account).Open()
	assert.Zero(t, f.rec.connected.Load())

	_, err = f.reg.Start(context.Background(), account)
	assert.NoError(t, err)
}

func TestPairingCodeExpiryTearsDown(t *testing.T) {
	opts := testOptions()
	opts.PairingCodeExpiry = 20 * time.Millisecond
	f := newFixture(opts)

	sup, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)
	out := waitOutcome(t, sup)
	require.NoError(t, out.Err)
	require.NotEmpty(t, out.Code)

	assert.Eventually(t, func() bool { return !f.reg.IsActive(account) }, time.Second, time.Millisecond)
	st, found := f.reg.Status(account)
	assert.True(t, found)
	assert.Equal(t, ErrPairingExpired.Error(), st.LastError)
	assert.True(t, f.dialer.Last(account).IsClosed())
}

func TestOpenBeforeTimeoutDropsPairingCode(t *testing.T) {
	opts := testOptions()
	opts.PairingRetryWait = 50 * time.Millisecond
	f := newFixture(opts)
	f.dialer.Configure = func(s *transporttest.Session) { s.PairingFailures = 1 }

	sup, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)
	sess := f.dialer.Last(account)
	sess.Link()
	sess.Open()

	out := waitOutcome(t, sup)
	assert.True(t, out.Connected)
	assert.Empty(t, out.Code)
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	opts := testOptions()
	opts.ReconnectDelay = 30 * time.Millisecond
	f := newFixture(opts, account)

	sup, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)
	sess := f.dialer.Last(account)
	sess.Open()
	eventuallyState(t, sup, StateConnected)

	sess.CloseWith(transport.ReasonConnectionLost)
	f.reg.Stop(context.Background(), account)
	f.reg.Stop(context.Background(), account)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, sess.ConnectCalls(), "no reconnect after stop")
	assert.True(t, sess.IsClosed())
	assert.False(t, f.reg.IsActive(account))
	assert.EqualValues(t, 1, f.rec.closed.Load())

	sess.Emit(&transport.Message{})
	assert.Zero(t, f.rec.events.Load(), "no side effects after stop")
}

func TestLogoutPurges(t *testing.T) {
	f := newFixture(testOptions(), account, "255700000001")

	_, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)
	sess := f.dialer.Last(account)

	require.NoError(t, f.reg.Logout(context.Background(), account))
	assert.True(t, sess.IsLoggedOut())
	assert.False(t, f.creds.has(account))

	require.NoError(t, f.reg.Logout(context.Background(), "255700000001"))
	assert.False(t, f.creds.has("255700000001"), "offline accounts are purged too")
	assert.ElementsMatch(t, []string{account, "255700000001"}, f.dialer.Forgotten())
}

func TestRestoreAllSkipsFailures(t *testing.T) {
	f := newFixture(testOptions(), "255700000001", "255700000002", "255700000003", account)
	f.dialer.Configure = func(s *transporttest.Session) {
		if s.AccountID == "255700000002" {
			s.ConnectErr = transporttest.ErrFake
			return
		}
		s.AutoOpen = true
	}

	_, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)

	report, err := f.reg.RestoreAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RestoreReport{Total: 4, Connected: 2, Failed: 1, Skipped: 1}, report)
	assert.Equal(t, []string{account, "255700000001", "255700000003"}, f.reg.List())
	assert.False(t, f.reg.IsActive("255700000002"))
	assert.True(t, f.creds.has("255700000002"), "a failed restore keeps credentials")
}

func TestStopAll(t *testing.T) {
	f := newFixture(testOptions(), account, "255700000001")
	for _, id := range []string{account, "255700000001"} {
		_, err := f.reg.Start(context.Background(), id)
		require.NoError(t, err)
	}

	f.reg.StopAll(context.Background())

	assert.Empty(t, f.reg.List())
	assert.True(t, f.dialer.Last(account).IsClosed())
	assert.True(t, f.dialer.Last("255700000001").IsClosed())
}

func TestMaxReconnectsGivesUp(t *testing.T) {
	opts := testOptions()
	opts.MaxReconnects = 1
	f := newFixture(opts, account)
	sup, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)
	sess := f.dialer.Last(account)
	sess.Open()
	eventuallyState(t, sup, StateConnected)

	sess.CloseWith(transport.ReasonConnectionLost)
	assert.Eventually(t, func() bool { return sess.ConnectCalls() == 2 }, time.Second, time.Millisecond)
	sess.CloseWith(transport.ReasonConnectionLost)

	assert.False(t, f.reg.IsActive(account))
	assert.True(t, f.creds.has(account))
}

func TestStopDuringCredentialWriteSkipsConnectedHook(t *testing.T) {
	creds := &gatedCreds{
		memCreds: newMemCreds(account),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	dialer := transporttest.NewDialer()
	rec := &recorder{}
	reg := NewRegistry(dialer, creds, testOptions(), rec.hooks(), metrics.New(), waLog.Noop)

	sup, err := reg.Start(context.Background(), account)
	require.NoError(t, err)
	go dialer.Last(account).Open()

	select {
	case <-creds.entered:
	case <-time.After(time.Second):
		t.Fatal("credentials were not written on open")
	}

	stopped := make(chan struct{})
	go func() {
		reg.Stop(context.Background(), account)
		close(stopped)
	}()
	eventuallyState(t, sup, StateIdle)
	select {
	case <-stopped:
		t.Fatal("Stop returned while a credential write was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(creds.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	assert.EqualValues(t, 1, rec.closed.Load())
	assert.Never(t, func() bool { return rec.connected.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.ErrorIs(t, waitOutcome(t, sup).Err, ErrStopped)
}

func TestRestartStopsAndStartsAgain(t *testing.T) {
	f := newFixture(testOptions(), account)
	f.dialer.Configure = func(s *transporttest.Session) { s.AutoOpen = true }

	sup, err := f.reg.Start(context.Background(), account)
	require.NoError(t, err)
	require.True(t, waitOutcome(t, sup).Connected)

	assert.False(t, f.reg.Restart("255700000001", time.Millisecond))
	require.True(t, f.reg.Restart(account, 5*time.Millisecond))

	next := f.dialer.WaitDials(account, 2, time.Second)
	require.NotNil(t, next)
	assert.Eventually(t, func() bool {
		cur, ok := f.reg.Get(account)
		return ok && cur != sup && cur.Status().Connected
	}, time.Second, time.Millisecond)
	assert.True(t, f.dialer.Last(account) == next)
	assert.True(t, sup.Session() == nil)
	assert.EqualValues(t, 1, f.rec.closed.Load())
	assert.Eventually(t, func() bool { return f.rec.connected.Load() == 2 }, time.Second, time.Millisecond)
}

func TestLinkedListsStoredAccounts(t *testing.T) {
	f := newFixture(testOptions(), "255700000002", "255700000001")
	ids, err := f.reg.Linked(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"255700000001", "255700000002"}, ids)
}
