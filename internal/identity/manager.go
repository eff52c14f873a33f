package identity

import (
	"errors"
	"time"

	"dna-messenger/pkg/model"
)

var (
	ErrIdentityExists    = errors.New("identity: data directory already has an identity")
	ErrIdentityNotFound  = errors.New("identity: no identity found in data directory")
)

// Identity is a loaded, unlocked identity: its key material, the holder of
// the exclusive on-disk lock, and the self-signed record published to the
// keyserver.
type Identity struct {
	Keys   *Keys
	Record model.IdentityRecord
	lock   *Lock
}

// Fingerprint is a convenience accessor over the embedded keys.
func (id *Identity) Fingerprint() model.Fingerprint {
	return id.Keys.Fingerprint
}

// Close releases the identity lock and zeroes private key material. Safe to
// call on a nil Identity.
func (id *Identity) Close() error {
	if id == nil {
		return nil
	}
	id.Keys.Zero()
	return id.lock.Release()
}

// CreateIdentity derives a new key pair from mnemonic, takes the exclusive
// lock on dataDir, persists the encrypted key files, and signs a fresh
// identity record. It fails with ErrIdentityExists if dataDir already holds
// one.
func CreateIdentity(dataDir, mnemonic, passphrase, password, displayName string, now time.Time) (*Identity, error) {
	if HasIdentity(dataDir) {
		return nil, ErrIdentityExists
	}
	if password == "" {
		return nil, ErrPasswordRequired
	}
	lock, err := AcquireLock(dataDir)
	if err != nil {
		return nil, err
	}

	keys, err := DeriveKeys(mnemonic, passphrase)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	if err := SaveKeys(dataDir, keys, password); err != nil {
		_ = lock.Release()
		return nil, err
	}
	rec, err := SignIdentityRecord(keys, displayName, now)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	return &Identity{Keys: keys, Record: rec, lock: lock}, nil
}

// LoadIdentity takes the exclusive lock on dataDir, decrypts the key files
// with password, and re-signs a fresh identity record carrying displayName
// (identity records are re-signed, not cached, since CreatedAt and the
// display name may change between loads).
func LoadIdentity(dataDir, password, displayName string, now time.Time) (*Identity, error) {
	if !HasIdentity(dataDir) {
		return nil, ErrIdentityNotFound
	}
	lock, err := AcquireLock(dataDir)
	if err != nil {
		return nil, err
	}
	keys, err := LoadKeys(dataDir, password)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	rec, err := SignIdentityRecord(keys, displayName, now)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	return &Identity{Keys: keys, Record: rec, lock: lock}, nil
}
