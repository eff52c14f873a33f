package group

import (
	"context"
	"errors"
	"time"

	"dna-messenger/internal/dht"
	"dna-messenger/internal/identity"
	"dna-messenger/pkg/model"
)

var (
	ErrInvitationNotFound = errors.New("group: no pending invitation for this group")
)

// InvitationStore persists pending group invitations locally, surfaced to
// the host application via get_invitations/accept_invitation/
// reject_invitation.
type InvitationStore interface {
	Save(inv model.Invitation) error
	Get(groupUUID string) (model.Invitation, bool)
	Delete(groupUUID string) error
	List() ([]model.Invitation, error)
}

// MemoryInvitationStore is an in-memory InvitationStore for tests.
type MemoryInvitationStore struct {
	m map[string]model.Invitation
}

func NewMemoryInvitationStore() *MemoryInvitationStore {
	return &MemoryInvitationStore{m: make(map[string]model.Invitation)}
}

func (s *MemoryInvitationStore) Save(inv model.Invitation) error {
	s.m[inv.GroupUUID] = inv
	return nil
}

func (s *MemoryInvitationStore) Get(groupUUID string) (model.Invitation, bool) {
	inv, ok := s.m[groupUUID]
	return inv, ok
}

func (s *MemoryInvitationStore) Delete(groupUUID string) error {
	delete(s.m, groupUUID)
	return nil
}

func (s *MemoryInvitationStore) List() ([]model.Invitation, error) {
	out := make([]model.Invitation, 0, len(s.m))
	for _, inv := range s.m {
		out = append(out, inv)
	}
	return out, nil
}

// RecordInvitation stores a locally-observed invitation (e.g. surfaced
// through the direct-message channel as a MessageTypeGroupInvitation
// payload) so the host application can list it before the user decides.
func RecordInvitation(store InvitationStore, groupUUID, groupName string, inviterFP model.Fingerprint, now time.Time) error {
	return store.Save(model.Invitation{
		GroupUUID:  groupUUID,
		GroupName:  groupName,
		InviterFP:  inviterFP,
		ReceivedAt: now,
	})
}

// AcceptResult is what accepting an invitation yields: the group metadata,
// the recovered GEK, and its version, ready to be persisted by the caller.
type AcceptResult struct {
	Group      model.Group
	GEK        []byte
	GEKVersion uint32
}

// AcceptInvitation fetches current group metadata and joins the group's
// current GEK generation, then removes the invitation from the local
// store.
func AcceptInvitation(ctx context.Context, deps JoinDeps, store InvitationStore, self *identity.Keys, groupUUID string, creatorDSAPublicKey []byte) (AcceptResult, error) {
	inv, ok := store.Get(groupUUID)
	if !ok {
		return AcceptResult{}, ErrInvitationNotFound
	}
	_ = inv

	g, err := FetchMetadata(ctx, deps.DHT, groupUUID, creatorDSAPublicKey)
	if err != nil {
		return AcceptResult{}, err
	}
	gek, err := JoinGroup(ctx, deps.DHT, self, g, creatorDSAPublicKey)
	if err != nil {
		return AcceptResult{}, err
	}
	if err := store.Delete(groupUUID); err != nil {
		return AcceptResult{}, err
	}
	return AcceptResult{Group: g, GEK: gek, GEKVersion: g.GEKVersion}, nil
}

// RejectInvitation simply discards the pending invitation.
func RejectInvitation(store InvitationStore, groupUUID string) error {
	if _, ok := store.Get(groupUUID); !ok {
		return ErrInvitationNotFound
	}
	return store.Delete(groupUUID)
}

// JoinDeps bundles the dependencies AcceptInvitation needs from the DHT
// layer, kept narrow so callers don't have to construct a full engine.
type JoinDeps struct {
	DHT dht.Service
}
