package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SettingsStore keeps one opaque settings document per account. Merging with
// defaults is the caller's job.
type SettingsStore struct {
	store *Store
}

// NewSettingsStore creates a new SettingsStore.
func NewSettingsStore(s *Store) *SettingsStore {
	return &SettingsStore{store: s}
}

// Get returns the stored document or ErrNotFound.
func (s *SettingsStore) Get(ctx context.Context, accountID string) ([]byte, error) {
	var data string
	err := s.store.QueryRow(ctx, `SELECT data FROM fleet_settings WHERE account_id = ?`, accountID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	return []byte(data), nil
}

// Put replaces the stored document.
func (s *SettingsStore) Put(ctx context.Context, accountID string, data []byte) error {
	_, err := s.store.Exec(ctx, `
		INSERT INTO fleet_settings (account_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		accountID, string(data), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}
