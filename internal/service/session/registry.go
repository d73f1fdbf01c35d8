package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	waLog "go.mau.fi/whatsmeow/util/log"

	"fleetbot/internal/infra/metrics"
	"fleetbot/internal/transport"
	"fleetbot/internal/utils/jid"
)

// Registry is the process-wide table of supervisors, keyed by account id. It
// is the only source of truth for whether an account is live.
type Registry struct {
	dialer  transport.Dialer
	creds   CredentialStore
	opts    Options
	hooks   Hooks
	metrics *metrics.Metrics
	log     waLog.Logger

	mu       sync.Mutex
	sessions map[string]*Supervisor
}

// NewRegistry creates an empty Registry.
func NewRegistry(dialer transport.Dialer, creds CredentialStore, opts Options, hooks Hooks, m *metrics.Metrics, log waLog.Logger) *Registry {
	return &Registry{
		dialer:   dialer,
		creds:    creds,
		opts:     opts.withDefaults(),
		hooks:    hooks,
		metrics:  m,
		log:      log.Sub("Registry"),
		sessions: make(map[string]*Supervisor),
	}
}

// Start creates and registers a supervisor for accountID. The pairing code
// or connection result is delivered through the supervisor's Wait.
func (r *Registry) Start(ctx context.Context, accountID string) (*Supervisor, error) {
	if accountID == "" || jid.SanitizeNumber(accountID) != accountID {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAccount, accountID)
	}

	r.mu.Lock()
	if cur, ok := r.sessions[accountID]; ok && cur.active() {
		r.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	sup := newSupervisor(accountID, r.dialer, r.creds, r.opts, r.hooks, r.metrics, r.log)
	sup.onTerminal = r.onTerminal
	r.sessions[accountID] = sup
	r.updateGaugeLocked()
	r.mu.Unlock()

	r.log.Infof("Starting session for %s", accountID)
	if err := sup.start(ctx); err != nil {
		r.remove(sup)
		return nil, err
	}
	return sup, nil
}

// Pair starts accountID and waits for its pairing code, or for the
// connection when the account is already linked.
func (r *Registry) Pair(ctx context.Context, accountID string) (Outcome, error) {
	sup, err := r.Start(ctx, accountID)
	if err != nil {
		return Outcome{}, err
	}
	out := sup.Wait(ctx)
	return out, out.Err
}

// Stop closes the session of accountID and removes it. Stopping an unknown
// account is a no-op.
func (r *Registry) Stop(ctx context.Context, accountID string) {
	r.stop(ctx, accountID, false)
}

// Logout unlinks accountID and purges its credentials, live or not.
func (r *Registry) Logout(ctx context.Context, accountID string) error {
	if r.stop(ctx, accountID, true) {
		return nil
	}
	creds, err := r.creds.Get(ctx, accountID)
	if err == nil {
		if err := r.dialer.Forget(ctx, creds); err != nil {
			r.log.Warnf("[persistence] forget device of %s: %v", accountID, err)
		}
	}
	if err := r.creds.Delete(ctx, accountID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

func (r *Registry) stop(ctx context.Context, accountID string, logout bool) bool {
	r.mu.Lock()
	sup, ok := r.sessions[accountID]
	delete(r.sessions, accountID)
	r.updateGaugeLocked()
	r.mu.Unlock()

	if !ok {
		return false
	}
	sup.Stop(ctx, logout)
	if r.hooks.OnClosed != nil {
		r.hooks.OnClosed(accountID)
	}
	return true
}

// Restart stops accountID after delay and starts it again from its stored
// credentials. It reports whether the account was live.
func (r *Registry) Restart(accountID string, delay time.Duration) bool {
	if !r.IsActive(accountID) {
		return false
	}
	r.log.Infof("Restarting %s in %s", accountID, delay)
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.ConnectTimeout)
		defer cancel()
		r.Stop(ctx, accountID)
		if _, err := r.Start(ctx, accountID); err != nil {
			r.log.Warnf("[%s] restart %s: %v", KindOf(err), accountID, err)
		}
	})
	return true
}

// Linked returns every account with stored credentials, sorted.
func (r *Registry) Linked(ctx context.Context) ([]string, error) {
	ids, err := r.creds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// IsActive reports whether accountID has a live supervisor.
func (r *Registry) IsActive(accountID string) bool {
	r.mu.Lock()
	sup, ok := r.sessions[accountID]
	r.mu.Unlock()
	return ok && sup.active()
}

// Get returns the live supervisor of accountID.
func (r *Registry) Get(accountID string) (*Supervisor, bool) {
	r.mu.Lock()
	sup, ok := r.sessions[accountID]
	r.mu.Unlock()
	if !ok || !sup.active() {
		return nil, false
	}
	return sup, true
}

// Status returns the snapshot of accountID, including a supervisor that gave
// up but was not replaced yet.
func (r *Registry) Status(accountID string) (Status, bool) {
	r.mu.Lock()
	sup, ok := r.sessions[accountID]
	r.mu.Unlock()
	if !ok {
		return Status{AccountID: accountID, State: StateIdle.String()}, false
	}
	return sup.Status(), true
}

// List returns the live account ids, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	sups := make([]*Supervisor, 0, len(r.sessions))
	for _, sup := range r.sessions {
		sups = append(sups, sup)
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(sups))
	for _, sup := range sups {
		if sup.active() {
			ids = append(ids, sup.accountID)
		}
	}
	sort.Strings(ids)
	return ids
}

// StopAll stops every supervisor.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Stop(ctx, id)
	}
}

// RestoreReport summarises a RestoreAll run.
type RestoreReport struct {
	Total     int
	Connected int
	Failed    int
	Skipped   int
}

// RestoreAll starts every account that has stored credentials. One
// account's failure does not affect the others.
func (r *Registry) RestoreAll(ctx context.Context) (RestoreReport, error) {
	ids, err := r.creds.List(ctx)
	if err != nil {
		return RestoreReport{}, fmt.Errorf("list credentials: %w", err)
	}
	report := RestoreReport{Total: len(ids)}
	r.log.Infof("Found %d sessions to restore", len(ids))

	pool, err := ants.NewPool(r.opts.RestoreParallelism)
	if err != nil {
		return report, fmt.Errorf("create restore pool: %w", err)
	}
	defer pool.Release()

	var (
		wg                sync.WaitGroup
		connected, failed atomic.Int64
	)
	for _, id := range ids {
		if r.IsActive(id) {
			r.log.Debugf("%s already active, skipping", id)
			report.Skipped++
			r.metrics.RestoreResults.WithLabelValues("skipped").Inc()
			continue
		}

		task := func() {
			defer wg.Done()
			if r.restoreOne(ctx, id) {
				connected.Add(1)
			} else {
				failed.Add(1)
			}
		}
		wg.Add(1)
		if err := pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	report.Connected = int(connected.Load())
	report.Failed = int(failed.Load())
	r.log.Infof("Restore finished: %d connected, %d failed, %d skipped", report.Connected, report.Failed, report.Skipped)
	return report, nil
}

func (r *Registry) restoreOne(ctx context.Context, accountID string) bool {
	sup, err := r.Start(ctx, accountID)
	if err != nil {
		r.log.Warnf("[%s] restore %s: %v", KindOf(err), accountID, err)
		r.metrics.RestoreResults.WithLabelValues("failed").Inc()
		return false
	}
	out := sup.Wait(ctx)
	if out.Err != nil || !out.Connected {
		r.log.Warnf("[%s] restore %s: %v", KindOf(out.Err), accountID, out.Err)
		r.metrics.RestoreResults.WithLabelValues("failed").Inc()
		return false
	}
	r.metrics.RestoreResults.WithLabelValues("connected").Inc()
	return true
}

// onTerminal drops a supervisor that ended on its own.
func (r *Registry) onTerminal(sup *Supervisor) {
	if r.remove(sup) && r.hooks.OnClosed != nil {
		r.hooks.OnClosed(sup.accountID)
	}
}

// remove deletes sup if it is still the registered supervisor.
func (r *Registry) remove(sup *Supervisor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sup.accountID] != sup {
		return false
	}
	delete(r.sessions, sup.accountID)
	r.updateGaugeLocked()
	return true
}

func (r *Registry) updateGaugeLocked() {
	r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
}
