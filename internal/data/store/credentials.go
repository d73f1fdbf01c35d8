package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetbot/internal/transport"
)

// CredentialStore persists the per-account link records.
type CredentialStore struct {
	store *Store
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(s *Store) *CredentialStore {
	return &CredentialStore{store: s}
}

// Get returns the credentials for accountID or ErrNotFound.
func (c *CredentialStore) Get(ctx context.Context, accountID string) (*transport.Credentials, error) {
	var data string
	err := c.store.QueryRow(ctx, `SELECT data FROM fleet_credentials WHERE account_id = ?`, accountID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}

	var creds transport.Credentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return nil, fmt.Errorf("decode credentials for %s: %w", accountID, err)
	}
	creds.AccountID = accountID
	return &creds, nil
}

// Put upserts the credentials keyed by creds.AccountID.
func (c *CredentialStore) Put(ctx context.Context, creds transport.Credentials) error {
	if creds.AccountID == "" {
		return fmt.Errorf("credentials without account id")
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	now := time.Now().Unix()
	_, err = c.store.Exec(ctx, `
		INSERT INTO fleet_credentials (account_id, data, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		creds.AccountID, string(data), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert credentials: %w", err)
	}
	return nil
}

// Delete removes the credentials for accountID. Deleting a missing record is not an error.
func (c *CredentialStore) Delete(ctx context.Context, accountID string) error {
	if _, err := c.store.Exec(ctx, `DELETE FROM fleet_credentials WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

// List returns every account id with persisted credentials, oldest first.
func (c *CredentialStore) List(ctx context.Context) ([]string, error) {
	rows, err := c.store.Query(ctx, `SELECT account_id FROM fleet_credentials ORDER BY created_at, account_id`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
