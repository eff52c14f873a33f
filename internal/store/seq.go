package store

import (
	"database/sql"

	"dna-messenger/pkg/model"
)

// Next allocates the next monotonic seq_num for recipientFP, persisted
// across restarts (implements outbox.SeqAllocator).
func (s *MessageStore) Next(recipientFP model.Fingerprint) (next uint64, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var current uint64
	err = tx.QueryRow(`SELECT next_seq FROM seq_counters WHERE recipient_fp = ?`, string(recipientFP)).Scan(&current)
	switch err {
	case sql.ErrNoRows:
		current = 1
		if _, err := tx.Exec(`INSERT INTO seq_counters (recipient_fp, next_seq) VALUES (?, ?)`, string(recipientFP), current+1); err != nil {
			return 0, err
		}
	case nil:
		if _, err := tx.Exec(`UPDATE seq_counters SET next_seq = ? WHERE recipient_fp = ?`, current+1, string(recipientFP)); err != nil {
			return 0, err
		}
	default:
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return current, nil
}

// Get returns the highest seq_num received from senderFP, if any (implements
// outbox.HighWaterStore).
func (s *MessageStore) Get(senderFP model.Fingerprint) (uint64, bool) {
	var seq uint64
	err := s.db.QueryRow(`SELECT seq_num FROM high_water_marks WHERE sender_fp = ?`, string(senderFP)).Scan(&seq)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Set records the highest seq_num received from senderFP (implements
// outbox.HighWaterStore). Errors are swallowed to match the interface's
// fire-and-forget signature; a failed write just means the next receive
// re-derives the same watermark from the cell contents.
func (s *MessageStore) Set(senderFP model.Fingerprint, seq uint64) {
	_, _ = s.db.Exec(`
		INSERT INTO high_water_marks (sender_fp, seq_num) VALUES (?, ?)
		ON CONFLICT(sender_fp) DO UPDATE SET seq_num = excluded.seq_num WHERE excluded.seq_num > high_water_marks.seq_num`,
		string(senderFP), seq)
}
