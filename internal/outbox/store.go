package outbox

import (
	"time"

	"dna-messenger/pkg/model"
)

// SeqAllocator hands out a monotonic, durable per-(sender,recipient)
// seq_num. Persisted implementations live in internal/store;
// MemorySeqAllocator below is for tests.
type SeqAllocator interface {
	Next(recipientFP model.Fingerprint) (uint64, error)
}

// HighWaterStore tracks, for each sender we receive from, the highest
// seq_num we have already processed, so the receive path can skip
// duplicates without blocking. Gaps in seq_num are neither detected nor
// logged.
type HighWaterStore interface {
	Get(senderFP model.Fingerprint) (uint64, bool)
	Set(senderFP model.Fingerprint, seq uint64)
}

// LocalStore is the narrow slice of the local message store the outbox
// package needs. internal/store provides the sqlite-backed implementation;
// tests use an in-memory stub.
type LocalStore interface {
	SaveOutgoing(msg model.Message) error
	SaveIncoming(msg model.Message) error
	// MarkDelivered advances every PENDING/SENT_LEGACY outgoing message to
	// recipientFP whose OfflineSeq <= maxSeqNumReceived to DELIVERED.
	MarkDelivered(recipientFP model.Fingerprint, maxSeqNumReceived uint64) error
	// MarkStaleOlderThan advances every PENDING outgoing message older than
	// cutoff to STALE.
	MarkStaleOlderThan(cutoff time.Time) error
}

// MemorySeqAllocator is an in-memory SeqAllocator for tests and for running
// without the store package wired in.
type MemorySeqAllocator struct {
	counts map[model.Fingerprint]uint64
}

func NewMemorySeqAllocator() *MemorySeqAllocator {
	return &MemorySeqAllocator{counts: make(map[model.Fingerprint]uint64)}
}

func (m *MemorySeqAllocator) Next(recipientFP model.Fingerprint) (uint64, error) {
	m.counts[recipientFP]++
	return m.counts[recipientFP], nil
}

// MemoryHighWaterStore is an in-memory HighWaterStore for tests.
type MemoryHighWaterStore struct {
	marks map[model.Fingerprint]uint64
}

func NewMemoryHighWaterStore() *MemoryHighWaterStore {
	return &MemoryHighWaterStore{marks: make(map[model.Fingerprint]uint64)}
}

func (m *MemoryHighWaterStore) Get(senderFP model.Fingerprint) (uint64, bool) {
	v, ok := m.marks[senderFP]
	return v, ok
}

func (m *MemoryHighWaterStore) Set(senderFP model.Fingerprint, seq uint64) {
	m.marks[senderFP] = seq
}
