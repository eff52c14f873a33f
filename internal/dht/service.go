package dht

import (
	"context"
	"errors"
	"time"
)

// Key is a 32-byte content address: every cell key is a SHA3-512 hash
// truncated to 32 bytes.
type Key [32]byte

// ValueType controls how long a backend should retain a put.
type ValueType int

const (
	Ephemeral ValueType = iota
	Persist7Day
	Persist365Day
)

func (vt ValueType) TTL() time.Duration {
	switch vt {
	case Persist7Day:
		return 7 * 24 * time.Hour
	case Persist365Day:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

// ErrNotFound is returned by Get when no value exists at key.
var ErrNotFound = errors.New("dht: key not found")

// ErrUnavailable is returned when the overlay cannot currently service a
// request because the node has no backend (not started, or stopped). A
// request that times out waiting for a worker slot returns its context's
// error instead.
var ErrUnavailable = errors.New("dht: overlay unavailable")

// Tombstone signs the deletion of a key so other holders of a replica can
// verify the delete request before honoring it.
type Tombstone struct {
	SignerDSAPublicKey []byte
	Signature          []byte
}

// ListenHandle identifies a registered listener so it can be cancelled and
// rearmed across reconnects.
type ListenHandle struct {
	Key      Key
	sequence uint64
}

// Callback fires with the new value of Key whenever a backend observes a
// change. Delivery is at-least-once and may fire spuriously.
type Callback func(key Key, value []byte)

// Service is the contract the rest of the system programs against. Node
// implements it as a singleton; a test may substitute any other
// implementation.
type Service interface {
	Put(ctx context.Context, key Key, value []byte, vt ValueType) (requestID string, err error)
	Get(ctx context.Context, key Key) ([]byte, error)
	GetAll(ctx context.Context, key Key) ([][]byte, error)
	Listen(key Key, cb Callback) (ListenHandle, error)
	CancelListen(handle ListenHandle)
	Delete(ctx context.Context, key Key, tomb Tombstone) error
}

// backend is the narrower surface a transport must implement; Node adapts
// it to Service and adds retries, worker-pool bounding, and listener
// rearm-on-reconnect, keeping policy and transport concerns separate.
type backend interface {
	start(ctx context.Context) error
	stop()
	put(ctx context.Context, key Key, value []byte, vt ValueType) error
	get(ctx context.Context, key Key) ([]byte, error)
	getAll(ctx context.Context, key Key) ([][]byte, error)
	subscribe(key Key, cb Callback) (subID uint64, err error)
	unsubscribe(key Key, subID uint64)
	delete(ctx context.Context, key Key, tomb Tombstone) error
	peerCount() int
}
