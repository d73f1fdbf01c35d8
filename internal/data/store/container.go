package store

import (
	"context"
	"fmt"
)

// Container provides unified access to all stores.
type Container struct {
	Store       *Store
	Credentials *CredentialStore
	Settings    *SettingsStore
	BadWords    *BadWordStore
	Deleted     *DeletedMessageStore
}

// NewContainer creates a new Container with all sub-stores initialized.
func NewContainer(s *Store) *Container {
	return &Container{
		Store:       s,
		Credentials: NewCredentialStore(s),
		Settings:    NewSettingsStore(s),
		BadWords:    NewBadWordStore(s),
		Deleted:     NewDeletedMessageStore(s),
	}
}

// Close closes the underlying store.
func (c *Container) Close() error {
	return c.Store.Close()
}

// Stats returns statistics about stored entities.
type Stats struct {
	Accounts        int
	SettingsRecords int
	BadWords        int
	DeletedMessages int
}

// GetStats returns current entity counts.
func (c *Container) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		table string
		dst   *int
	}{
		{"fleet_credentials", &stats.Accounts},
		{"fleet_settings", &stats.SettingsRecords},
		{"fleet_bad_words", &stats.BadWords},
		{"fleet_deleted_messages", &stats.DeletedMessages},
	}
	for _, c2 := range counts {
		if err := c.Store.QueryRow(ctx, `SELECT COUNT(*) FROM `+c2.table).Scan(c2.dst); err != nil {
			return nil, fmt.Errorf("count %s: %w", c2.table, err)
		}
	}
	return stats, nil
}
