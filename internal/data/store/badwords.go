package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// BadWordStore handles the per-account moderation word list.
type BadWordStore struct {
	store *Store
}

// NewBadWordStore creates a new BadWordStore.
func NewBadWordStore(s *Store) *BadWordStore {
	return &BadWordStore{store: s}
}

// Add inserts word (case-folded). Adding an existing word is a no-op.
func (b *BadWordStore) Add(ctx context.Context, accountID, word string) error {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return fmt.Errorf("empty word")
	}
	_, err := b.store.Exec(ctx,
		`INSERT OR IGNORE INTO fleet_bad_words (account_id, word, added_at) VALUES (?, ?, ?)`,
		accountID, word, time.Now().Unix(),
	)
	return err
}

// Remove deletes word and reports whether it existed.
func (b *BadWordStore) Remove(ctx context.Context, accountID, word string) (bool, error) {
	res, err := b.store.Exec(ctx,
		`DELETE FROM fleet_bad_words WHERE account_id = ? AND word = ?`,
		accountID, strings.ToLower(strings.TrimSpace(word)),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// List returns the account's words in alphabetical order.
func (b *BadWordStore) List(ctx context.Context, accountID string) ([]string, error) {
	rows, err := b.store.Query(ctx,
		`SELECT word FROM fleet_bad_words WHERE account_id = ? ORDER BY word`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var words []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		words = append(words, w)
	}
	return words, rows.Err()
}
