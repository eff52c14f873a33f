package store

import (
	"database/sql"
	"time"

	"dna-messenger/pkg/model"
)

// SaveContact inserts or updates a remembered contact.
func (s *GroupStore) SaveContact(c model.Contact) error {
	var lastSeen interface{}
	if !c.LastSeenAt.IsZero() {
		lastSeen = c.LastSeenAt.UnixMilli()
	}
	_, err := s.db.Exec(`
		INSERT INTO contacts (fingerprint, display_name, added_at, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			display_name=excluded.display_name, last_seen_at=excluded.last_seen_at`,
		string(c.Fingerprint), c.DisplayName, c.AddedAt.UnixMilli(), lastSeen)
	return err
}

// DeleteContact removes a remembered contact.
func (s *GroupStore) DeleteContact(fp model.Fingerprint) error {
	_, err := s.db.Exec(`DELETE FROM contacts WHERE fingerprint = ?`, string(fp))
	return err
}

// GetContact returns one remembered contact, if present.
func (s *GroupStore) GetContact(fp model.Fingerprint) (model.Contact, bool) {
	var c model.Contact
	var addedAtMillis int64
	var lastSeen sql.NullInt64
	err := s.db.QueryRow(`SELECT fingerprint, display_name, added_at, last_seen_at FROM contacts WHERE fingerprint = ?`,
		string(fp)).Scan(&c.Fingerprint, &c.DisplayName, &addedAtMillis, &lastSeen)
	if err != nil {
		return model.Contact{}, false
	}
	c.AddedAt = time.UnixMilli(addedAtMillis)
	if lastSeen.Valid {
		c.LastSeenAt = time.UnixMilli(lastSeen.Int64)
	}
	return c, true
}

// ListContacts returns every remembered contact.
func (s *GroupStore) ListContacts() ([]model.Contact, error) {
	rows, err := s.db.Query(`SELECT fingerprint, display_name, added_at, last_seen_at FROM contacts ORDER BY added_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		var addedAtMillis int64
		var lastSeen sql.NullInt64
		if err := rows.Scan(&c.Fingerprint, &c.DisplayName, &addedAtMillis, &lastSeen); err != nil {
			return nil, err
		}
		c.AddedAt = time.UnixMilli(addedAtMillis)
		if lastSeen.Valid {
			c.LastSeenAt = time.UnixMilli(lastSeen.Int64)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveMessageRequest records a held thread from a fingerprint not yet in
// the contact list (engine's message-request triage).
func (s *GroupStore) SaveMessageRequest(fp model.Fingerprint, displayName string, firstSeenAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO message_requests (fingerprint, display_name, first_seen_at) VALUES (?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING`,
		string(fp), displayName, firstSeenAt.UnixMilli())
	return err
}

// HasMessageRequest reports whether fp has a pending message request.
func (s *GroupStore) HasMessageRequest(fp model.Fingerprint) bool {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM message_requests WHERE fingerprint = ?`, string(fp)).Scan(&n)
	return err == nil && n > 0
}

// DeleteMessageRequest removes a pending message request (on accept or
// reject).
func (s *GroupStore) DeleteMessageRequest(fp model.Fingerprint) error {
	_, err := s.db.Exec(`DELETE FROM message_requests WHERE fingerprint = ?`, string(fp))
	return err
}

// ListMessageRequests returns every pending message request.
func (s *GroupStore) ListMessageRequests() ([]model.Contact, error) {
	rows, err := s.db.Query(`SELECT fingerprint, display_name, first_seen_at FROM message_requests ORDER BY first_seen_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		var firstSeenMillis int64
		if err := rows.Scan(&c.Fingerprint, &c.DisplayName, &firstSeenMillis); err != nil {
			return nil, err
		}
		c.AddedAt = time.UnixMilli(firstSeenMillis)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ContactStoreAdapter exposes GroupStore's contact table through the narrow
// Save/Delete/Get/List shape the engine package's ContactStore interface
// expects, without renaming GroupStore's own descriptively-named methods.
type ContactStoreAdapter struct{ *GroupStore }

func (a ContactStoreAdapter) Save(c model.Contact) error               { return a.SaveContact(c) }
func (a ContactStoreAdapter) Delete(fp model.Fingerprint) error        { return a.DeleteContact(fp) }
func (a ContactStoreAdapter) Get(fp model.Fingerprint) (model.Contact, bool) { return a.GetContact(fp) }
func (a ContactStoreAdapter) List() ([]model.Contact, error)           { return a.ListContacts() }

// MessageRequestAdapter exposes GroupStore's message_requests table through
// the engine package's MessageRequestStore shape.
type MessageRequestAdapter struct{ *GroupStore }

func (a MessageRequestAdapter) Save(fp model.Fingerprint, displayName string, firstSeenAt time.Time) error {
	return a.SaveMessageRequest(fp, displayName, firstSeenAt)
}
func (a MessageRequestAdapter) Has(fp model.Fingerprint) bool       { return a.HasMessageRequest(fp) }
func (a MessageRequestAdapter) Delete(fp model.Fingerprint) error   { return a.DeleteMessageRequest(fp) }
func (a MessageRequestAdapter) List() ([]model.Contact, error)      { return a.ListMessageRequests() }

// InvitationAdapter exposes GroupStore's invitations table through the
// group.InvitationStore shape (Save/Get/Delete/List), since GroupStore's
// own Save/Get/Delete names are already claimed by the GEKStore methods.
type InvitationAdapter struct{ *GroupStore }

func (a InvitationAdapter) Save(inv model.Invitation) error { return a.SaveInvitation(inv) }
func (a InvitationAdapter) Get(groupUUID string) (model.Invitation, bool) {
	return a.GetInvitation(groupUUID)
}
func (a InvitationAdapter) Delete(groupUUID string) error { return a.DeleteInvitation(groupUUID) }
func (a InvitationAdapter) List() ([]model.Invitation, error) { return a.ListInvitations() }
