package store

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"dna-messenger/pkg/model"
)

// SaveOutgoing persists a freshly sent message as PENDING (implements
// outbox.LocalStore).
func (s *MessageStore) SaveOutgoing(msg model.Message) error {
	return s.upsert(msg)
}

// SaveIncoming persists a received message (implements outbox.LocalStore).
func (s *MessageStore) SaveIncoming(msg model.Message) error {
	return s.upsert(msg)
}

func (s *MessageStore) upsert(msg model.Message) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (id, sender, recipient, sender_fingerprint, plaintext,
			timestamp, delivered, read, is_outgoing, status, group_uuid,
			message_type, retry_count, offline_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sender_fingerprint, recipient, timestamp) DO UPDATE SET
			status=excluded.status, delivered=excluded.delivered,
			read=excluded.read, retry_count=excluded.retry_count`,
		msg.ID, msg.Sender, msg.Recipient, msg.SenderFingerprint, msg.Plaintext,
		msg.Timestamp.UnixMilli(), boolToInt(msg.Delivered), boolToInt(msg.Read),
		boolToInt(msg.IsOutgoing), string(msg.Status), nullableString(msg.GroupUUID),
		string(msg.MessageType), msg.RetryCount, msg.OfflineSeq)
	return err
}

// MarkDelivered advances every PENDING/SENT_LEGACY outgoing message to
// recipientFP whose offline_seq <= maxSeqNumReceived to DELIVERED (implements
// outbox.LocalStore).
func (s *MessageStore) MarkDelivered(recipientFP model.Fingerprint, maxSeqNumReceived uint64) error {
	_, err := s.db.Exec(`
		UPDATE messages SET status = ?, delivered = 1
		WHERE recipient = ? AND is_outgoing = 1
			AND status IN (?, ?) AND offline_seq <= ?`,
		string(model.StatusDelivered), string(recipientFP),
		string(model.StatusPending), string(model.StatusSentLegacy), maxSeqNumReceived)
	return err
}

// MarkStaleOlderThan advances every PENDING outgoing message older than
// cutoff to STALE (implements outbox.LocalStore).
func (s *MessageStore) MarkStaleOlderThan(cutoff time.Time) error {
	_, err := s.db.Exec(`
		UPDATE messages SET status = ?
		WHERE is_outgoing = 1 AND status = ? AND timestamp < ?`,
		string(model.StatusStale), string(model.StatusPending), cutoff.UnixMilli())
	return err
}

// HasGroupMessage reports whether msgID has already been recorded for
// groupUUID (implements group.FeedStore).
func (s *MessageStore) HasGroupMessage(groupUUID string, msgID [16]byte) bool {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM group_messages_seen WHERE group_uuid = ? AND msg_id = ?`,
		groupUUID, msgID[:]).Scan(&n)
	return err == nil && n > 0
}

// SaveGroupMessage persists a decrypted group feed message and records it as
// seen for HasGroupMessage dedup (implements group.FeedStore).
func (s *MessageStore) SaveGroupMessage(msg model.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	msgID, err := hex.DecodeString(msg.ID)
	if err != nil {
		return fmt.Errorf("store: group message id is not hex-encoded: %w", err)
	}
	if _, err := tx.Exec(`INSERT OR IGNORE INTO group_messages_seen (group_uuid, msg_id) VALUES (?, ?)`,
		msg.GroupUUID, msgID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO messages (id, sender, recipient, sender_fingerprint, plaintext,
			timestamp, delivered, read, is_outgoing, status, group_uuid,
			message_type, retry_count, offline_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Sender, msg.Recipient, msg.SenderFingerprint, msg.Plaintext,
		msg.Timestamp.UnixMilli(), boolToInt(msg.Delivered), boolToInt(msg.Read),
		boolToInt(msg.IsOutgoing), string(msg.Status), nullableString(msg.GroupUUID),
		string(msg.MessageType), msg.RetryCount, msg.OfflineSeq); err != nil {
		return err
	}
	return tx.Commit()
}

// GetConversation returns messages exchanged with peerFP (direct chat) or,
// if groupUUID is non-empty, a group's feed, ordered by timestamp.
func (s *MessageStore) GetConversation(peerFP model.Fingerprint, groupUUID string, limit int) ([]model.Message, error) {
	var rows *sql.Rows
	var err error
	if groupUUID != "" {
		rows, err = s.db.Query(`
			SELECT id, sender, recipient, sender_fingerprint, plaintext, timestamp,
				delivered, read, is_outgoing, status, group_uuid, message_type,
				retry_count, offline_seq
			FROM messages WHERE group_uuid = ? ORDER BY timestamp ASC LIMIT ?`,
			groupUUID, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT id, sender, recipient, sender_fingerprint, plaintext, timestamp,
				delivered, read, is_outgoing, status, group_uuid, message_type,
				retry_count, offline_seq
			FROM messages WHERE (sender_fingerprint = ? OR recipient = ?) AND group_uuid IS NULL
			ORDER BY timestamp ASC LIMIT ?`,
			string(peerFP), string(peerFP), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var msg model.Message
		var tsMillis int64
		var delivered, read, outgoing int
		var groupUUID sql.NullString
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Recipient, &msg.SenderFingerprint,
			&msg.Plaintext, &tsMillis, &delivered, &read, &outgoing, &msg.Status,
			&groupUUID, &msg.MessageType, &msg.RetryCount, &msg.OfflineSeq); err != nil {
			return nil, err
		}
		msg.Timestamp = time.UnixMilli(tsMillis)
		msg.Delivered = delivered != 0
		msg.Read = read != 0
		msg.IsOutgoing = outgoing != 0
		msg.GroupUUID = groupUUID.String
		out = append(out, msg)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
