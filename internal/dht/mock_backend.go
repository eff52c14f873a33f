package dht

import (
	"context"
	"sync"
)

// mockBackend is a single-process, in-memory stand-in for a real overlay.
// Puts to the same key accumulate (GetAll returns every value ever put,
// oldest first) so callers exercising the "union of concurrent puts"
// semantics see realistic behavior without a network.
type mockBackend struct {
	mu          sync.Mutex
	values      map[Key][][]byte
	subscribers map[Key]map[uint64]Callback
	nextSub     uint64
	peers       int
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		values:      make(map[Key][][]byte),
		subscribers: make(map[Key]map[uint64]Callback),
		peers:       1,
	}
}

func (b *mockBackend) start(ctx context.Context) error { return nil }
func (b *mockBackend) stop()                           {}
func (b *mockBackend) peerCount() int                  { return b.peers }

func (b *mockBackend) put(ctx context.Context, key Key, value []byte, vt ValueType) error {
	b.mu.Lock()
	b.values[key] = append(b.values[key], append([]byte(nil), value...))
	cbs := make([]Callback, 0, len(b.subscribers[key]))
	for _, cb := range b.subscribers[key] {
		cbs = append(cbs, cb)
	}
	b.mu.Unlock()

	for _, cb := range cbs {
		go cb(key, value)
	}
	return nil
}

func (b *mockBackend) get(ctx context.Context, key Key) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	vs := b.values[key]
	if len(vs) == 0 {
		return nil, ErrNotFound
	}
	return append([]byte(nil), vs[len(vs)-1]...), nil
}

func (b *mockBackend) getAll(ctx context.Context, key Key) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	vs := b.values[key]
	if len(vs) == 0 {
		return nil, nil
	}
	out := make([][]byte, len(vs))
	for i, v := range vs {
		out[i] = append([]byte(nil), v...)
	}
	return out, nil
}

func (b *mockBackend) subscribe(key Key, cb Callback) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	id := b.nextSub
	if b.subscribers[key] == nil {
		b.subscribers[key] = make(map[uint64]Callback)
	}
	b.subscribers[key][id] = cb
	return id, nil
}

func (b *mockBackend) unsubscribe(key Key, subID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers[key], subID)
	if len(b.subscribers[key]) == 0 {
		delete(b.subscribers, key)
	}
}

func (b *mockBackend) delete(ctx context.Context, key Key, _ Tombstone) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.values, key)
	return nil
}
