package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"dna-messenger/internal/dht"
	"dna-messenger/internal/identity"
	"dna-messenger/internal/keyserver"
	"dna-messenger/pkg/model"
)

type memoryStore struct {
	mu       sync.Mutex
	outgoing []model.Message
	incoming []model.Message
}

func (m *memoryStore) SaveOutgoing(msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outgoing = append(m.outgoing, msg)
	return nil
}

func (m *memoryStore) SaveIncoming(msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incoming = append(m.incoming, msg)
	return nil
}

func (m *memoryStore) MarkDelivered(recipientFP model.Fingerprint, maxSeqNumReceived uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.outgoing {
		msg := &m.outgoing[i]
		if model.Fingerprint(msg.Recipient) != recipientFP {
			continue
		}
		if msg.OfflineSeq > maxSeqNumReceived {
			continue
		}
		if msg.Status == model.StatusPending || msg.Status == model.StatusSentLegacy {
			msg.Status = model.StatusDelivered
		}
	}
	return nil
}

func (m *memoryStore) MarkStaleOlderThan(cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.outgoing {
		msg := &m.outgoing[i]
		if msg.Status == model.StatusPending && msg.Timestamp.Before(cutoff) {
			msg.Status = model.StatusStale
		}
	}
	return nil
}

func setup(t *testing.T) (*Service, *identity.Keys, *identity.Keys, *memoryStore) {
	t.Helper()
	dht.ResetSingletonForTest()
	n := dht.Singleton(dht.DefaultConfig())
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("dht Start: %v", err)
	}
	t.Cleanup(n.Stop)

	ks := keyserver.New(n)
	t.Cleanup(ks.Close)

	alice := mustKeys(t)
	bob := mustKeys(t)
	publish(t, ks, alice, "alice")
	publish(t, ks, bob, "bob")

	store := &memoryStore{}
	svc := New(n, ks, NewMemorySeqAllocator(), NewMemoryHighWaterStore(), store)
	return svc, alice, bob, store
}

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

func TestSendThenReceiveThenAcknowledge(t *testing.T) {
	svc, alice, bob, aliceStore := setup(t)
	now := time.Now()

	seqNum, err := svc.Send(context.Background(), alice, bob.Fingerprint, []byte("hi bob"), now)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if seqNum != 1 {
		t.Fatalf("expected first seq_num to be 1, got %d", seqNum)
	}

	cellKey := OutboxCellKey(alice.Fingerprint, bob.Fingerprint, DayBucket(now))
	raw, err := svc.dhtSvc.Get(context.Background(), cellKey)
	if err != nil {
		t.Fatalf("Get outbox cell: %v", err)
	}

	bobStoreSvc := New(svc.dhtSvc, svc.keyserver, NewMemorySeqAllocator(), NewMemoryHighWaterStore(), &memoryStore{})
	if err := bobStoreSvc.HandleOutboxCellUpdate(context.Background(), bob, alice.Fingerprint, raw, now); err != nil {
		t.Fatalf("HandleOutboxCellUpdate: %v", err)
	}
	bobIncoming := bobStoreSvc.store.(*memoryStore)
	if len(bobIncoming.incoming) != 1 {
		t.Fatalf("expected 1 incoming message, got %d", len(bobIncoming.incoming))
	}
	if bobIncoming.incoming[0].Plaintext != "hi bob" {
		t.Fatalf("plaintext mismatch: got %q", bobIncoming.incoming[0].Plaintext)
	}

	watermarkKey := WatermarkCellKey(bob.Fingerprint, alice.Fingerprint)
	wRaw, err := svc.dhtSvc.Get(context.Background(), watermarkKey)
	if err != nil {
		t.Fatalf("Get watermark cell: %v", err)
	}

	if err := svc.HandleWatermarkUpdate(bob.Fingerprint, wRaw, bob.DSAPublicKey); err != nil {
		t.Fatalf("HandleWatermarkUpdate: %v", err)
	}
	if len(aliceStore.outgoing) != 1 || aliceStore.outgoing[0].Status != model.StatusDelivered {
		t.Fatalf("expected alice's outgoing message to be marked DELIVERED, got %+v", aliceStore.outgoing)
	}
}

func TestMarkStaleAdvancesOldPending(t *testing.T) {
	store := &memoryStore{
		outgoing: []model.Message{
			{ID: "m1", Recipient: "bob", Status: model.StatusPending, Timestamp: time.Now().Add(-40 * 24 * time.Hour)},
			{ID: "m2", Recipient: "bob", Status: model.StatusPending, Timestamp: time.Now()},
		},
	}
	svc := &Service{store: store}
	if err := svc.MarkStale(time.Now()); err != nil {
		t.Fatalf("MarkStale: %v", err)
	}
	if store.outgoing[0].Status != model.StatusStale {
		t.Fatalf("expected old message to be STALE, got %s", store.outgoing[0].Status)
	}
	if store.outgoing[1].Status != model.StatusPending {
		t.Fatalf("expected recent message to remain PENDING, got %s", store.outgoing[1].Status)
	}
}

func TestMergeEntriesDedupsBySeqNum(t *testing.T) {
	a := []Entry{{SeqNum: 1, Envelope: []byte("a")}, {SeqNum: 2, Envelope: []byte("b")}}
	b := []Entry{{SeqNum: 2, Envelope: []byte("b-dup")}, {SeqNum: 3, Envelope: []byte("c")}}
	merged := mergeEntries(a, b)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged entries, got %d", len(merged))
	}
}
