package store

import (
	"encoding/json"
	"time"

	"dna-messenger/pkg/model"
)

// SaveGroup mirrors group metadata locally so it's browsable offline.
func (s *GroupStore) SaveGroup(g model.Group) (localID int64, err error) {
	membersJSON, err := json.Marshal(g.Members)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(`
		INSERT INTO groups (uuid, name, description, creator_fp, members, created_at, gek_version, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name=excluded.name, description=excluded.description, members=excluded.members,
			gek_version=excluded.gek_version, signature=excluded.signature`,
		g.UUID, g.Name, g.Description, string(g.CreatorFP), string(membersJSON),
		g.CreatedAt.UnixMilli(), g.GEKVersion, g.Signature)
	if err != nil {
		return 0, err
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}
	var id int64
	err = s.db.QueryRow(`SELECT local_id FROM groups WHERE uuid = ?`, g.UUID).Scan(&id)
	return id, err
}

// GetGroup returns the locally mirrored metadata for a group, if present.
func (s *GroupStore) GetGroup(groupUUID string) (model.Group, bool) {
	var g model.Group
	var membersJSON string
	var createdAtMillis int64
	err := s.db.QueryRow(`
		SELECT uuid, name, description, creator_fp, members, created_at, gek_version, signature
		FROM groups WHERE uuid = ?`, groupUUID).Scan(
		&g.UUID, &g.Name, &g.Description, &g.CreatorFP, &membersJSON, &createdAtMillis,
		&g.GEKVersion, &g.Signature)
	if err != nil {
		return model.Group{}, false
	}
	if err := json.Unmarshal([]byte(membersJSON), &g.Members); err != nil {
		return model.Group{}, false
	}
	g.CreatedAt = time.UnixMilli(createdAtMillis)
	return g, true
}

// ListGroups returns every locally mirrored group.
func (s *GroupStore) ListGroups() ([]model.Group, error) {
	rows, err := s.db.Query(`SELECT uuid FROM groups ORDER BY local_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Group
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, err
		}
		if g, ok := s.GetGroup(uuid); ok {
			out = append(out, g)
		}
	}
	return out, rows.Err()
}

// Save persists a group's GEK for a given version (implements group.GEKStore).
func (s *GroupStore) Save(groupUUID string, gekVersion uint32, gek []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO geks (group_uuid, gek_version, gek) VALUES (?, ?, ?)
		ON CONFLICT(group_uuid, gek_version) DO UPDATE SET gek = excluded.gek`,
		groupUUID, gekVersion, gek)
	return err
}

// Get returns a previously saved GEK for (groupUUID, gekVersion), if any
// (implements group.GEKStore).
func (s *GroupStore) Get(groupUUID string, gekVersion uint32) ([]byte, bool) {
	var gek []byte
	err := s.db.QueryRow(`SELECT gek FROM geks WHERE group_uuid = ? AND gek_version = ?`,
		groupUUID, gekVersion).Scan(&gek)
	if err != nil {
		return nil, false
	}
	return gek, true
}

// SaveInvitation persists a pending group invitation (implements
// group.InvitationStore's Save).
func (s *GroupStore) SaveInvitation(inv model.Invitation) error {
	_, err := s.db.Exec(`
		INSERT INTO invitations (group_uuid, group_name, inviter_fp, received_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(group_uuid) DO UPDATE SET group_name=excluded.group_name,
			inviter_fp=excluded.inviter_fp, received_at=excluded.received_at`,
		inv.GroupUUID, inv.GroupName, string(inv.InviterFP), inv.ReceivedAt.UnixMilli())
	return err
}

// GetInvitation returns a pending invitation by group UUID, if present
// (implements group.InvitationStore's Get).
func (s *GroupStore) GetInvitation(groupUUID string) (model.Invitation, bool) {
	var inv model.Invitation
	var receivedAtMillis int64
	err := s.db.QueryRow(`SELECT group_uuid, group_name, inviter_fp, received_at FROM invitations WHERE group_uuid = ?`,
		groupUUID).Scan(&inv.GroupUUID, &inv.GroupName, &inv.InviterFP, &receivedAtMillis)
	if err != nil {
		return model.Invitation{}, false
	}
	inv.ReceivedAt = time.UnixMilli(receivedAtMillis)
	return inv, true
}

// DeleteInvitation removes a pending invitation (implements
// group.InvitationStore's Delete).
func (s *GroupStore) DeleteInvitation(groupUUID string) error {
	_, err := s.db.Exec(`DELETE FROM invitations WHERE group_uuid = ?`, groupUUID)
	return err
}

// ListInvitations returns every pending invitation (implements
// group.InvitationStore's List).
func (s *GroupStore) ListInvitations() ([]model.Invitation, error) {
	rows, err := s.db.Query(`SELECT group_uuid, group_name, inviter_fp, received_at FROM invitations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Invitation
	for rows.Next() {
		var inv model.Invitation
		var receivedAtMillis int64
		if err := rows.Scan(&inv.GroupUUID, &inv.GroupName, &inv.InviterFP, &receivedAtMillis); err != nil {
			return nil, err
		}
		inv.ReceivedAt = time.UnixMilli(receivedAtMillis)
		out = append(out, inv)
	}
	return out, rows.Err()
}
