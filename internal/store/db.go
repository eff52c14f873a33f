package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// MessageStore wraps messages.db: the plaintext local message store.
// No migration framework is used — the schema is small and stable enough
// that a single CREATE TABLE IF NOT EXISTS suffices.
type MessageStore struct {
	db *sql.DB
}

const messagesSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id                 TEXT PRIMARY KEY,
	sender             TEXT NOT NULL,
	recipient          TEXT NOT NULL,
	sender_fingerprint TEXT NOT NULL,
	plaintext          TEXT NOT NULL,
	timestamp          INTEGER NOT NULL,
	delivered          INTEGER NOT NULL DEFAULT 0,
	read               INTEGER NOT NULL DEFAULT 0,
	is_outgoing        INTEGER NOT NULL,
	status             TEXT NOT NULL,
	group_uuid         TEXT,
	message_type       TEXT NOT NULL,
	retry_count        INTEGER NOT NULL DEFAULT 0,
	offline_seq        INTEGER NOT NULL DEFAULT 0,
	UNIQUE(sender_fingerprint, recipient, timestamp)
);
CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient);
CREATE INDEX IF NOT EXISTS idx_messages_group_uuid ON messages(group_uuid);

CREATE TABLE IF NOT EXISTS seq_counters (
	recipient_fp TEXT PRIMARY KEY,
	next_seq     INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS high_water_marks (
	sender_fp TEXT PRIMARY KEY,
	seq_num   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS group_messages_seen (
	group_uuid TEXT NOT NULL,
	msg_id     BLOB NOT NULL,
	PRIMARY KEY (group_uuid, msg_id)
);
`

// OpenMessageStore opens (creating if absent) the sqlite database at path
// and ensures its schema exists.
func OpenMessageStore(path string) (*MessageStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open messages.db: %w", err)
	}
	if _, err := db.Exec(messagesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate messages.db: %w", err)
	}
	return &MessageStore{db: db}, nil
}

func (s *MessageStore) Close() error { return s.db.Close() }

// GroupStore wraps groups.db: the local group metadata cache, GEK store,
// and pending invitation cache.
type GroupStore struct {
	db *sql.DB
}

const groupsSchema = `
CREATE TABLE IF NOT EXISTS groups (
	local_id    INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid        TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	description TEXT,
	creator_fp  TEXT NOT NULL,
	members     TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	gek_version INTEGER NOT NULL,
	signature   BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS geks (
	group_uuid  TEXT NOT NULL,
	gek_version INTEGER NOT NULL,
	gek         BLOB NOT NULL,
	PRIMARY KEY (group_uuid, gek_version)
);

CREATE TABLE IF NOT EXISTS invitations (
	group_uuid  TEXT PRIMARY KEY,
	group_name  TEXT NOT NULL,
	inviter_fp  TEXT NOT NULL,
	received_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS group_messages_seen (
	group_uuid TEXT NOT NULL,
	msg_id     BLOB NOT NULL,
	PRIMARY KEY (group_uuid, msg_id)
);

CREATE TABLE IF NOT EXISTS contacts (
	fingerprint   TEXT PRIMARY KEY,
	display_name  TEXT,
	added_at      INTEGER NOT NULL,
	last_seen_at  INTEGER
);

CREATE TABLE IF NOT EXISTS message_requests (
	fingerprint  TEXT PRIMARY KEY,
	display_name TEXT,
	first_seen_at INTEGER NOT NULL
);
`

// OpenGroupStore opens (creating if absent) groups.db and ensures its
// schema exists.
func OpenGroupStore(path string) (*GroupStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open groups.db: %w", err)
	}
	if _, err := db.Exec(groupsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate groups.db: %w", err)
	}
	return &GroupStore{db: db}, nil
}

func (s *GroupStore) Close() error { return s.db.Close() }
