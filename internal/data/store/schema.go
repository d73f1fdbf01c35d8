package store

// schema contains the fleet table definitions.
//
// Tables:
//   - fleet_credentials - one link record per account
//   - fleet_settings - one settings document per account
//   - fleet_bad_words - per-account moderation word list
//   - fleet_deleted_messages - append-only anti-delete audit
const schema = `
CREATE TABLE IF NOT EXISTS fleet_credentials (
    account_id TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fleet_settings (
    account_id TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fleet_bad_words (
    account_id TEXT NOT NULL,
    word TEXT NOT NULL,
    added_at INTEGER NOT NULL,
    PRIMARY KEY (account_id, word)
);

CREATE TABLE IF NOT EXISTS fleet_deleted_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL,
    message_id TEXT NOT NULL,
    chat_jid TEXT NOT NULL,
    sender_jid TEXT NOT NULL,
    message_type TEXT,
    content TEXT,
    sent_at INTEGER,
    deleted_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fleet_deleted_account ON fleet_deleted_messages(account_id, deleted_at);
`
