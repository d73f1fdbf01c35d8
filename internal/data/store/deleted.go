package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DeletedMessage is one anti-delete audit entry.
type DeletedMessage struct {
	AccountID   string
	MessageID   string
	ChatJID     string
	SenderJID   string
	MessageType string
	Content     string
	SentAt      time.Time
	DeletedAt   time.Time
}

// DeletedMessageStore is the append-only anti-delete audit log.
type DeletedMessageStore struct {
	store *Store
}

// NewDeletedMessageStore creates a new DeletedMessageStore.
func NewDeletedMessageStore(s *Store) *DeletedMessageStore {
	return &DeletedMessageStore{store: s}
}

// Append records m. DeletedAt defaults to now.
func (d *DeletedMessageStore) Append(ctx context.Context, m DeletedMessage) error {
	if m.DeletedAt.IsZero() {
		m.DeletedAt = time.Now()
	}
	_, err := d.store.Exec(ctx, `
		INSERT INTO fleet_deleted_messages
			(account_id, message_id, chat_jid, sender_jid, message_type, content, sent_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.AccountID, m.MessageID, m.ChatJID, m.SenderJID,
		nullString(m.MessageType), nullString(m.Content), nullTime(m.SentAt), m.DeletedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append deleted message: %w", err)
	}
	return nil
}

// Recent returns the newest entries for accountID.
func (d *DeletedMessageStore) Recent(ctx context.Context, accountID string, limit int) ([]DeletedMessage, error) {
	rows, err := d.store.Query(ctx, `
		SELECT message_id, chat_jid, sender_jid, message_type, content, sent_at, deleted_at
		FROM fleet_deleted_messages WHERE account_id = ?
		ORDER BY deleted_at DESC, id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeletedMessage
	for rows.Next() {
		var (
			m             DeletedMessage
			msgType, body sql.NullString
			sentAt        sql.NullInt64
			deletedAt     int64
		)
		if err := rows.Scan(&m.MessageID, &m.ChatJID, &m.SenderJID, &msgType, &body, &sentAt, &deletedAt); err != nil {
			return nil, err
		}
		m.AccountID = accountID
		m.MessageType = msgType.String
		m.Content = body.String
		m.SentAt = fromUnix(sentAt)
		m.DeletedAt = time.Unix(deletedAt, 0)
		out = append(out, m)
	}
	return out, rows.Err()
}
