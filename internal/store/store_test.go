package store

import (
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"dna-messenger/pkg/model"
)

func openTestMessageStore(t *testing.T) *MessageStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messages.db")
	s, err := OpenMessageStore(path)
	if err != nil {
		t.Fatalf("OpenMessageStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func openTestGroupStore(t *testing.T) *GroupStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "groups.db")
	s, err := OpenGroupStore(path)
	if err != nil {
		t.Fatalf("OpenGroupStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMessageStoreSaveOutgoingAndMarkDelivered(t *testing.T) {
	s := openTestMessageStore(t)
	now := time.Now()
	msg := model.Message{
		ID:                "msg-1",
		Sender:            "alice-fp",
		Recipient:         "bob-fp",
		SenderFingerprint: "alice-fp",
		Plaintext:         "hi",
		Timestamp:         now,
		IsOutgoing:        true,
		Status:            model.StatusPending,
		MessageType:       model.MessageTypeChat,
		OfflineSeq:        5,
	}
	if err := s.SaveOutgoing(msg); err != nil {
		t.Fatalf("SaveOutgoing: %v", err)
	}
	if err := s.MarkDelivered("bob-fp", 5); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	msgs, err := s.GetConversation("bob-fp", "", 10)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Status != model.StatusDelivered {
		t.Fatalf("expected 1 delivered message, got %+v", msgs)
	}
}

func TestMessageStoreMarkStaleOlderThan(t *testing.T) {
	s := openTestMessageStore(t)
	old := time.Now().Add(-40 * 24 * time.Hour)
	msg := model.Message{
		ID: "msg-old", Sender: "alice-fp", Recipient: "bob-fp",
		SenderFingerprint: "alice-fp", Plaintext: "old", Timestamp: old,
		IsOutgoing: true, Status: model.StatusPending, MessageType: model.MessageTypeChat,
	}
	if err := s.SaveOutgoing(msg); err != nil {
		t.Fatalf("SaveOutgoing: %v", err)
	}
	if err := s.MarkStaleOlderThan(time.Now().Add(-30 * 24 * time.Hour)); err != nil {
		t.Fatalf("MarkStaleOlderThan: %v", err)
	}
	msgs, err := s.GetConversation("bob-fp", "", 10)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Status != model.StatusStale {
		t.Fatalf("expected stale message, got %+v", msgs)
	}
}

func TestMessageStoreGroupMessageDedup(t *testing.T) {
	s := openTestMessageStore(t)
	var msgID [16]byte
	msgID[0] = 1
	if s.HasGroupMessage("group-1", msgID) {
		t.Fatal("expected no group message recorded yet")
	}
	msg := model.Message{
		ID: hex.EncodeToString(msgID[:]), Sender: "alice-fp", Recipient: "",
		SenderFingerprint: "alice-fp", Plaintext: "hello group", Timestamp: time.Now(),
		IsOutgoing: false, Status: model.StatusDelivered, GroupUUID: "group-1",
		MessageType: model.MessageTypeChat,
	}
	if err := s.SaveGroupMessage(msg); err != nil {
		t.Fatalf("SaveGroupMessage: %v", err)
	}
	if !s.HasGroupMessage("group-1", msgID) {
		t.Fatal("expected group message to be recorded as seen")
	}
}

func TestSeqAllocatorIsMonotonicAndPersisted(t *testing.T) {
	s := openTestMessageStore(t)
	first, err := s.Next("bob-fp")
	if err != nil || first != 1 {
		t.Fatalf("expected first seq 1, got %d (err=%v)", first, err)
	}
	second, err := s.Next("bob-fp")
	if err != nil || second != 2 {
		t.Fatalf("expected second seq 2, got %d (err=%v)", second, err)
	}
	otherFirst, err := s.Next("carol-fp")
	if err != nil || otherFirst != 1 {
		t.Fatalf("expected independent counter per recipient, got %d (err=%v)", otherFirst, err)
	}
}

func TestHighWaterStoreOnlyAdvances(t *testing.T) {
	s := openTestMessageStore(t)
	if _, ok := s.Get("alice-fp"); ok {
		t.Fatal("expected no watermark initially")
	}
	s.Set("alice-fp", 5)
	s.Set("alice-fp", 3)
	v, ok := s.Get("alice-fp")
	if !ok || v != 5 {
		t.Fatalf("expected watermark to stay at 5, got %d", v)
	}
	s.Set("alice-fp", 9)
	v, ok = s.Get("alice-fp")
	if !ok || v != 9 {
		t.Fatalf("expected watermark to advance to 9, got %d", v)
	}
}

func TestGroupStoreSaveAndGetGroup(t *testing.T) {
	s := openTestGroupStore(t)
	g := model.Group{
		UUID: "group-uuid-1", Name: "book club", CreatorFP: "creator-fp",
		Members: []model.Fingerprint{"creator-fp", "alice-fp"}, CreatedAt: time.Now(),
		GEKVersion: 2, Signature: []byte{0xAB, 0xCD},
	}
	if _, err := s.SaveGroup(g); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}
	got, ok := s.GetGroup("group-uuid-1")
	if !ok {
		t.Fatal("expected group to be found")
	}
	if got.Name != g.Name || got.GEKVersion != g.GEKVersion || len(got.Members) != 2 {
		t.Fatalf("unexpected roundtrip: %+v", got)
	}
}

func TestGroupStoreGEKRoundtrip(t *testing.T) {
	s := openTestGroupStore(t)
	gek := []byte("0123456789abcdef0123456789abcdef")
	if err := s.Save("group-1", 3, gek); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok := s.Get("group-1", 3)
	if !ok || string(got) != string(gek) {
		t.Fatalf("expected gek roundtrip, got %q ok=%v", got, ok)
	}
	if _, ok := s.Get("group-1", 99); ok {
		t.Fatal("expected no gek for unknown version")
	}
}

func TestGroupStoreInvitationLifecycle(t *testing.T) {
	s := openTestGroupStore(t)
	inv := model.Invitation{GroupUUID: "group-9", GroupName: "friends", InviterFP: "alice-fp", ReceivedAt: time.Now()}
	if err := s.SaveInvitation(inv); err != nil {
		t.Fatalf("SaveInvitation: %v", err)
	}
	list, err := s.ListInvitations()
	if err != nil || len(list) != 1 {
		t.Fatalf("expected 1 invitation, got %d (err=%v)", len(list), err)
	}
	if err := s.DeleteInvitation("group-9"); err != nil {
		t.Fatalf("DeleteInvitation: %v", err)
	}
	if _, ok := s.GetInvitation("group-9"); ok {
		t.Fatal("expected invitation to be gone")
	}
}
