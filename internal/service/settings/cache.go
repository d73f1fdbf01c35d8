package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	waLog "go.mau.fi/whatsmeow/util/log"

	"fleetbot/internal/data/store"
)

// Store persists one settings document per account.
type Store interface {
	Get(ctx context.Context, accountID string) ([]byte, error)
	Put(ctx context.Context, accountID string, data []byte) error
}

// Cache resolves settings records, backfilling missing keys once and keeping
// the resolved value in memory. Access to one account is serialized.
type Cache struct {
	store Store
	log   waLog.Logger

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	resolved map[string]Settings
}

// NewCache creates a new Cache.
func NewCache(s Store, log waLog.Logger) *Cache {
	return &Cache{
		store:    s,
		log:      log.Sub("Settings"),
		locks:    make(map[string]*sync.Mutex),
		resolved: make(map[string]Settings),
	}
}

func (c *Cache) accountLock(accountID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[accountID] = l
	}
	return l
}

// Get returns the resolved settings for accountID. It never fails: when the
// store is unavailable the default set is returned for this call only.
func (c *Cache) Get(ctx context.Context, accountID string) Settings {
	l := c.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	s, err := c.resolve(ctx, accountID)
	if err != nil {
		c.log.Warnf("[persistence] settings for %s unavailable, using defaults: %v", accountID, err)
		return Defaults()
	}
	return s
}

// Update applies fn to the resolved settings and persists the result. Updates
// to the same account run one at a time, so sequential partial updates are
// never lost.
func (c *Cache) Update(ctx context.Context, accountID string, fn func(s *Settings) error) (Settings, error) {
	l := c.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	current, err := c.resolve(ctx, accountID)
	if err != nil {
		return Defaults(), err
	}

	next := current
	if err := fn(&next); err != nil {
		return current, err
	}
	next = next.normalized()

	if err := c.write(ctx, accountID, next); err != nil {
		return current, err
	}
	c.remember(accountID, next)
	return next, nil
}

// Set is Update for a single textual key/value pair.
func (c *Cache) Set(ctx context.Context, accountID, key, value string) (Settings, error) {
	return c.Update(ctx, accountID, func(s *Settings) error {
		return s.Set(key, value)
	})
}

// Forget drops the in-memory copy for accountID.
func (c *Cache) Forget(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.resolved, accountID)
}

// resolve must be called with the account lock held.
func (c *Cache) resolve(ctx context.Context, accountID string) (Settings, error) {
	c.mu.Lock()
	s, ok := c.resolved[accountID]
	c.mu.Unlock()
	if ok {
		return s, nil
	}

	data, err := c.store.Get(ctx, accountID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s = Defaults()
		if err := c.write(ctx, accountID, s); err != nil {
			return Defaults(), err
		}
		c.log.Debugf("Created default settings for %s", accountID)

	case err != nil:
		return Defaults(), err

	default:
		merged, missing, decodeErr := merge(data)
		if decodeErr != nil {
			c.log.Warnf("Stored settings for %s are unreadable, resetting: %v", accountID, decodeErr)
			missing = defaultKeys
		}
		s = merged
		if len(missing) > 0 {
			if err := c.write(ctx, accountID, s); err != nil {
				return Defaults(), err
			}
			c.log.Infof("Backfilled %d settings keys for %s: %v", len(missing), accountID, missing)
		}
	}

	c.remember(accountID, s)
	return s, nil
}

func (c *Cache) write(ctx context.Context, accountID string, s Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return c.store.Put(ctx, accountID, data)
}

func (c *Cache) remember(accountID string, s Settings) {
	c.mu.Lock()
	c.resolved[accountID] = s
	c.mu.Unlock()
}
