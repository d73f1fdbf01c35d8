// Package profile keeps account profiles fresh while sessions are connected.
package profile

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	waLog "go.mau.fi/whatsmeow/util/log"

	"fleetbot/internal/service/settings"
	"fleetbot/internal/transport"
)

// SettingsSource resolves account settings.
type SettingsSource interface {
	Get(ctx context.Context, accountID string) settings.Settings
}

// AutoBio rotates the "about" text of every watched account on a cron
// schedule. The autoBio setting is checked on each tick, so toggling it
// needs no rescheduling.
type AutoBio struct {
	cron     *cron.Cron
	settings SettingsSource
	texts    []string
	spec     string
	timeout  time.Duration
	pick     func(n int) int
	log      waLog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewAutoBio creates an AutoBio that fires every interval.
func NewAutoBio(src SettingsSource, interval time.Duration, texts []string, log waLog.Logger) *AutoBio {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &AutoBio{
		cron:     cron.New(),
		settings: src,
		texts:    texts,
		spec:     fmt.Sprintf("@every %s", interval),
		timeout:  30 * time.Second,
		pick:     rand.IntN,
		log:      log.Sub("AutoBio"),
		entries:  make(map[string]cron.EntryID),
	}
}

// Start runs the scheduler in its own goroutine.
func (a *AutoBio) Start() {
	a.cron.Start()
}

// Stop halts the scheduler and waits for running jobs.
func (a *AutoBio) Stop() {
	<-a.cron.Stop().Done()
}

// Watch schedules accountID, replacing an earlier entry. live is asked for
// the current handle on every tick, so a reconnect with a fresh handle needs
// no rescheduling. Ticks without a live handle are skipped.
func (a *AutoBio) Watch(accountID string, live func() transport.Session) error {
	if len(a.texts) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if id, ok := a.entries[accountID]; ok {
		a.cron.Remove(id)
	}
	id, err := a.cron.AddFunc(a.spec, func() {
		sess := live()
		if sess == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		a.Rotate(ctx, accountID, sess)
	})
	if err != nil {
		return fmt.Errorf("schedule auto bio for %s: %w", accountID, err)
	}
	a.entries[accountID] = id
	return nil
}

// Unwatch removes accountID from the schedule.
func (a *AutoBio) Unwatch(accountID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id, ok := a.entries[accountID]; ok {
		a.cron.Remove(id)
		delete(a.entries, accountID)
	}
}

// Watching reports whether accountID is scheduled.
func (a *AutoBio) Watching(accountID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.entries[accountID]
	return ok
}

// Rotate sets a random text when the account has autoBio on. It reports
// whether the about text was changed.
func (a *AutoBio) Rotate(ctx context.Context, accountID string, sess transport.Session) bool {
	if len(a.texts) == 0 || !a.settings.Get(ctx, accountID).AutoBio {
		return false
	}
	text := a.texts[a.pick(len(a.texts))]
	if err := sess.SetAbout(ctx, text); err != nil {
		a.log.Warnf("[transient] set about of %s: %v", accountID, err)
		return false
	}
	a.log.Debugf("Updated about of %s", accountID)
	return true
}
