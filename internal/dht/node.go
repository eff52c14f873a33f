package dht

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
)

const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

// workerPoolSize bounds concurrent in-flight DHT operations handled by
// the worker pool.
const workerPoolSize = 4

// Config controls the Node singleton.
type Config struct {
	Transport string // "mock" or "overlay"; only "mock" is wired today.
}

func DefaultConfig() Config {
	return Config{Transport: "mock"}
}

type listenerEntry struct {
	key Key
	cb  Callback
	// subID is the backend-assigned subscription id for the live backend
	// instance; it is renumbered on reconnect when rearm re-subscribes.
	subID uint64
}

// Node is the process-wide DHT singleton: the service is realized by one
// singleton with one background worker pool. Reinitializing it (network
// change) cancels and recreates the worker pool and backend while
// preserving the listener registry; listeners are rearmed automatically.
type Node struct {
	mu      sync.RWMutex
	cfg     Config
	state   string
	backend backend
	sem     *semaphore.Weighted
	log     *slog.Logger

	nextHandle uint64
	listeners  map[uint64]*listenerEntry
}

var (
	singletonMu sync.Mutex
	singleton   *Node
)

// Singleton returns the process-wide Node, constructing it on first use.
func Singleton(cfg Config) *Node {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == nil {
		singleton = newNode(cfg)
	}
	return singleton
}

// ResetSingletonForTest tears down and clears the package-level singleton.
// Exercised only by tests that need a clean Node per test case.
func ResetSingletonForTest() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		singleton.Stop()
	}
	singleton = nil
}

func newNode(cfg Config) *Node {
	return &Node{
		cfg:       cfg,
		state:     StateDisconnected,
		sem:       semaphore.NewWeighted(workerPoolSize),
		log:       slog.Default().With("component", "dht"),
		listeners: make(map[uint64]*listenerEntry),
	}
}

// Start brings up the worker pool and backend. Existing registered
// listeners (if any, e.g. after Reinitialize) are rearmed.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	n.state = StateConnecting
	b := newMockBackend()
	n.mu.Unlock()

	if err := b.start(ctx); err != nil {
		n.mu.Lock()
		n.state = StateDisconnected
		n.mu.Unlock()
		return err
	}

	n.mu.Lock()
	n.backend = b
	n.state = StateConnected
	entries := make([]*listenerEntry, 0, len(n.listeners))
	for _, e := range n.listeners {
		entries = append(entries, e)
	}
	n.mu.Unlock()

	for _, e := range entries {
		n.rearm(e)
	}
	n.log.Info("dht node started", "transport", n.cfg.Transport)
	return nil
}

// Stop tears down the backend but preserves the listener registry.
func (n *Node) Stop() {
	n.mu.Lock()
	b := n.backend
	n.backend = nil
	n.state = StateDisconnected
	n.mu.Unlock()
	if b != nil {
		b.stop()
	}
}

// Reinitialize is called on network change: it stops and restarts the
// backend, preserving and rearming every registered listener.
func (n *Node) Reinitialize(ctx context.Context) error {
	n.Stop()
	return n.Start(ctx)
}

// ReinitializeWithBackoff retries Reinitialize with exponential backoff
// until it succeeds or ctx is done, for network changes where the overlay
// may take a few attempts to come back (e.g. a flaky link).
func (n *Node) ReinitializeWithBackoff(ctx context.Context) error {
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		return n.Reinitialize(ctx)
	}, bo)
}

func (n *Node) State() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.backend == nil {
		return 0
	}
	return n.backend.peerCount()
}

func (n *Node) Put(ctx context.Context, key Key, value []byte, vt ValueType) (string, error) {
	if err := n.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer n.sem.Release(1)

	n.mu.RLock()
	b := n.backend
	n.mu.RUnlock()
	if b == nil {
		return "", ErrUnavailable
	}

	requestID := newRequestID()
	// Retries absorb transient overlay failures on put: up to 3 retries,
	// waiting 1s, 3s and 9s before them. Once they are exhausted the error
	// from retry.Do is returned to the caller unchanged.
	backoffs := []time.Duration{time.Second, 3 * time.Second, 9 * time.Second}
	retryIdx := 0
	err := retry.Do(
		func() error { return b.put(ctx, key, value, vt) },
		retry.Attempts(uint(len(backoffs)+1)),
		retry.DelayType(func(_ uint, _ error, _ *retry.Config) time.Duration {
			d := backoffs[len(backoffs)-1]
			if retryIdx < len(backoffs) {
				d = backoffs[retryIdx]
			}
			retryIdx++
			return d
		}),
		retry.MaxDelay(9*time.Second),
		retry.Context(ctx),
	)
	if err != nil {
		n.log.Warn("dht put failed after retries", "error", err)
		return "", err
	}
	return requestID, nil
}

func (n *Node) Get(ctx context.Context, key Key) ([]byte, error) {
	if err := n.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer n.sem.Release(1)

	n.mu.RLock()
	b := n.backend
	n.mu.RUnlock()
	if b == nil {
		return nil, ErrUnavailable
	}
	return b.get(ctx, key)
}

func (n *Node) GetAll(ctx context.Context, key Key) ([][]byte, error) {
	if err := n.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer n.sem.Release(1)

	n.mu.RLock()
	b := n.backend
	n.mu.RUnlock()
	if b == nil {
		return nil, ErrUnavailable
	}
	return b.getAll(ctx, key)
}

func (n *Node) Listen(key Key, cb Callback) (ListenHandle, error) {
	n.mu.Lock()
	n.nextHandle++
	handleID := n.nextHandle
	entry := &listenerEntry{key: key, cb: cb}
	n.listeners[handleID] = entry
	b := n.backend
	n.mu.Unlock()

	if b != nil {
		subID, err := b.subscribe(key, cb)
		if err != nil {
			return ListenHandle{}, err
		}
		n.mu.Lock()
		entry.subID = subID
		n.mu.Unlock()
	}
	return ListenHandle{Key: key, sequence: handleID}, nil
}

func (n *Node) CancelListen(handle ListenHandle) {
	n.mu.Lock()
	entry, ok := n.listeners[handle.sequence]
	delete(n.listeners, handle.sequence)
	b := n.backend
	n.mu.Unlock()
	if ok && b != nil {
		b.unsubscribe(entry.key, entry.subID)
	}
}

func (n *Node) Delete(ctx context.Context, key Key, tomb Tombstone) error {
	if err := n.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer n.sem.Release(1)

	n.mu.RLock()
	b := n.backend
	n.mu.RUnlock()
	if b == nil {
		return ErrUnavailable
	}
	return b.delete(ctx, key, tomb)
}

// rearm re-subscribes a preserved listener entry against the current
// backend instance, called after Start/Reinitialize, since listeners must
// be rearmed on reconnect.
func (n *Node) rearm(e *listenerEntry) {
	n.mu.RLock()
	b := n.backend
	n.mu.RUnlock()
	if b == nil {
		return
	}
	subID, err := b.subscribe(e.key, e.cb)
	if err != nil {
		n.log.Warn("failed to rearm dht listener", "error", err)
		return
	}
	n.mu.Lock()
	e.subID = subID
	n.mu.Unlock()
}

var requestIDCounter uint64
var requestIDMu sync.Mutex

func newRequestID() string {
	requestIDMu.Lock()
	defer requestIDMu.Unlock()
	requestIDCounter++
	return time.Now().UTC().Format("20060102T150405.000000000") + "-" + itoa(requestIDCounter)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
