package group

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"dna-messenger/internal/dht"
	"dna-messenger/internal/identity"
	"dna-messenger/internal/keyserver"
	"dna-messenger/pkg/model"
)

func mustKeys(t *testing.T) *identity.Keys {
	t.Helper()
	mnemonic, err := identity.NewMnemonic()
	if err != nil {
		t.Fatalf("NewMnemonic: %v", err)
	}
	keys, err := identity.DeriveKeys(mnemonic, "")
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	return keys
}

func setupDHTAndKeyserver(t *testing.T) (dht.Service, *keyserver.Service) {
	t.Helper()
	dht.ResetSingletonForTest()
	n := dht.Singleton(dht.DefaultConfig())
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("dht Start: %v", err)
	}
	t.Cleanup(n.Stop)
	ks := keyserver.New(n)
	t.Cleanup(ks.Close)
	return n, ks
}

func publish(t *testing.T, ks *keyserver.Service, keys *identity.Keys, name string) {
	t.Helper()
	rec, err := identity.SignIdentityRecord(keys, name, time.Now())
	if err != nil {
		t.Fatalf("SignIdentityRecord: %v", err)
	}
	if err := ks.PublishIdentity(context.Background(), rec); err != nil {
		t.Fatalf("PublishIdentity: %v", err)
	}
}

func TestCreateGroupAndRotateGEKThenJoin(t *testing.T) {
	n, ks := setupDHTAndKeyserver(t)
	creator := mustKeys(t)
	alice := mustKeys(t)
	publish(t, ks, creator, "creator")
	publish(t, ks, alice, "alice")

	g, err := CreateGroup(context.Background(), n, creator, "book club", "", []model.Fingerprint{creator.Fingerprint, alice.Fingerprint}, time.Now())
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	gek, err := RotateGEK(context.Background(), n, ks, creator, g)
	if err != nil {
		t.Fatalf("RotateGEK: %v", err)
	}
	if len(gek) != gekSize {
		t.Fatalf("expected %d-byte gek, got %d", gekSize, len(gek))
	}

	aliceGEK, err := JoinGroup(context.Background(), n, alice, g, creator.DSAPublicKey)
	if err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}
	if string(aliceGEK) != string(gek) {
		t.Fatalf("alice's recovered gek does not match the rotated gek")
	}
}

func TestJoinerCannotRecoverOldGEKVersion(t *testing.T) {
	n, ks := setupDHTAndKeyserver(t)
	creator := mustKeys(t)
	alice := mustKeys(t)
	bob := mustKeys(t)
	publish(t, ks, creator, "creator2")
	publish(t, ks, alice, "alice2")
	publish(t, ks, bob, "bob2")

	g, err := CreateGroup(context.Background(), n, creator, "v0 group", "", []model.Fingerprint{creator.Fingerprint, alice.Fingerprint}, time.Now())
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if _, err := RotateGEK(context.Background(), n, ks, creator, g); err != nil {
		t.Fatalf("RotateGEK v0: %v", err)
	}

	g, err = AddMember(context.Background(), n, creator, g, bob.Fingerprint)
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if g.GEKVersion != 1 {
		t.Fatalf("expected gek_version 1 after add, got %d", g.GEKVersion)
	}
	if _, err := RotateGEK(context.Background(), n, ks, creator, g); err != nil {
		t.Fatalf("RotateGEK v1: %v", err)
	}

	// Bob joined at v1 and has no entry in the v0 IKP.
	gZero := g
	gZero.GEKVersion = 0
	if _, err := JoinGroup(context.Background(), n, bob, gZero, creator.DSAPublicKey); err != ErrNoEntryForMember {
		t.Fatalf("expected ErrNoEntryForMember for bob at v0, got %v", err)
	}

	if _, err := JoinGroup(context.Background(), n, bob, g, creator.DSAPublicKey); err != nil {
		t.Fatalf("JoinGroup at v1 for bob: %v", err)
	}
}

func TestRemoveMemberIncrementsVersion(t *testing.T) {
	n, _ := setupDHTAndKeyserver(t)
	creator := mustKeys(t)
	alice := mustKeys(t)

	g, err := CreateGroup(context.Background(), n, creator, "trio", "", []model.Fingerprint{creator.Fingerprint, alice.Fingerprint}, time.Now())
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	g, err = RemoveMember(context.Background(), n, creator, g, alice.Fingerprint)
	if err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if g.HasMember(alice.Fingerprint) {
		t.Fatal("expected alice to be removed")
	}
	if g.GEKVersion != 1 {
		t.Fatalf("expected gek_version 1, got %d", g.GEKVersion)
	}
}

func TestNonCreatorCannotMutateMetadata(t *testing.T) {
	n, _ := setupDHTAndKeyserver(t)
	creator := mustKeys(t)
	alice := mustKeys(t)
	g, err := CreateGroup(context.Background(), n, creator, "solo creator", "", []model.Fingerprint{creator.Fingerprint, alice.Fingerprint}, time.Now())
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if _, err := AddMember(context.Background(), n, alice, g, mustKeys(t).Fingerprint); err != ErrNotCreator {
		t.Fatalf("expected ErrNotCreator, got %v", err)
	}
}

type feedMemoryStore struct {
	seen map[[16]byte]bool
	msgs []model.Message
}

func (s *feedMemoryStore) HasGroupMessage(groupUUID string, msgID [16]byte) bool {
	return s.seen[msgID]
}

func (s *feedMemoryStore) SaveGroupMessage(msg model.Message) error {
	s.msgs = append(s.msgs, msg)
	return nil
}

func TestSendFeedMessageThenHandleUpdate(t *testing.T) {
	n, ks := setupDHTAndKeyserver(t)
	creator := mustKeys(t)
	publish(t, ks, creator, "feedcreator")

	g, err := CreateGroup(context.Background(), n, creator, "feed group", "", []model.Fingerprint{creator.Fingerprint}, time.Now())
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	gek, err := RotateGEK(context.Background(), n, ks, creator, g)
	if err != nil {
		t.Fatalf("RotateGEK: %v", err)
	}

	now := time.Now()
	if err := SendFeedMessage(context.Background(), n, creator, g, gek, []byte("hello group"), now); err != nil {
		t.Fatalf("SendFeedMessage: %v", err)
	}

	raw, err := n.Get(context.Background(), FeedCellKey(g.UUID, feedDayBucket(now)))
	if err != nil {
		t.Fatalf("Get feed cell: %v", err)
	}

	gekStore := NewMemoryGEKStore()
	if err := gekStore.Save(g.UUID, g.GEKVersion, gek); err != nil {
		t.Fatalf("gekStore.Save: %v", err)
	}
	store := &feedMemoryStore{seen: make(map[[16]byte]bool)}
	pubKeys := map[model.Fingerprint][]byte{creator.Fingerprint: creator.DSAPublicKey}

	if err := HandleFeedCellUpdate(g.UUID, raw, gekStore, store, pubKeys, slog.Default()); err != nil {
		t.Fatalf("HandleFeedCellUpdate: %v", err)
	}
	if len(store.msgs) != 1 || store.msgs[0].Plaintext != "hello group" {
		t.Fatalf("unexpected feed messages: %+v", store.msgs)
	}
}

func TestHandleFeedCellUpdateSkipsUnknownGEKVersion(t *testing.T) {
	n, ks := setupDHTAndKeyserver(t)
	creator := mustKeys(t)
	publish(t, ks, creator, "feedcreator2")

	g, err := CreateGroup(context.Background(), n, creator, "feed group 2", "", []model.Fingerprint{creator.Fingerprint}, time.Now())
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	gek, err := RotateGEK(context.Background(), n, ks, creator, g)
	if err != nil {
		t.Fatalf("RotateGEK: %v", err)
	}
	now := time.Now()
	if err := SendFeedMessage(context.Background(), n, creator, g, gek, []byte("secret"), now); err != nil {
		t.Fatalf("SendFeedMessage: %v", err)
	}
	raw, err := n.Get(context.Background(), FeedCellKey(g.UUID, feedDayBucket(now)))
	if err != nil {
		t.Fatalf("Get feed cell: %v", err)
	}

	emptyGEKStore := NewMemoryGEKStore()
	store := &feedMemoryStore{seen: make(map[[16]byte]bool)}
	pubKeys := map[model.Fingerprint][]byte{creator.Fingerprint: creator.DSAPublicKey}
	if err := HandleFeedCellUpdate(g.UUID, raw, emptyGEKStore, store, pubKeys, nil); err != nil {
		t.Fatalf("HandleFeedCellUpdate: %v", err)
	}
	if len(store.msgs) != 0 {
		t.Fatalf("expected message to be skipped for unknown gek_version, got %+v", store.msgs)
	}
}

func TestInvitationLifecycle(t *testing.T) {
	store := NewMemoryInvitationStore()
	now := time.Now()
	if err := RecordInvitation(store, "group-uuid", "my group", "inviter-fp", now); err != nil {
		t.Fatalf("RecordInvitation: %v", err)
	}
	list, err := store.List()
	if err != nil || len(list) != 1 {
		t.Fatalf("expected 1 invitation, got %d (err=%v)", len(list), err)
	}
	if err := RejectInvitation(store, "group-uuid"); err != nil {
		t.Fatalf("RejectInvitation: %v", err)
	}
	if _, ok := store.Get("group-uuid"); ok {
		t.Fatal("expected invitation to be gone after reject")
	}
	if err := RejectInvitation(store, "missing"); err != ErrInvitationNotFound {
		t.Fatalf("expected ErrInvitationNotFound, got %v", err)
	}
}
