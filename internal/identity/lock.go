package identity

import (
	"errors"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrIdentityLocked is returned by AcquireLock when another process already
// holds the identity lock for a data directory. Only one process may hold
// an unlocked identity open against a given data directory at a time.
var ErrIdentityLocked = errors.New("identity: data directory is locked by another process")

// Lock guards exclusive access to a data directory's identity for the
// lifetime of one loaded Engine.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock attempts to take the identity lock for dataDir. It does not
// block: if another process holds the lock, ErrIdentityLocked is returned
// immediately.
func AcquireLock(dataDir string) (*Lock, error) {
	fl := flock.New(filepath.Join(dataDir, "identity.lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, ErrIdentityLocked
	}
	return &Lock{fl: fl}, nil
}

// IsLocked reports whether dataDir is currently locked by some process,
// without attempting to acquire the lock itself.
func IsLocked(dataDir string) (bool, error) {
	fl := flock.New(filepath.Join(dataDir, "identity.lock"))
	locked, err := fl.TryRLock()
	if err != nil {
		return false, err
	}
	if locked {
		_ = fl.Unlock()
		return false, nil
	}
	return true, nil
}

// Release gives up the identity lock. Safe to call on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
