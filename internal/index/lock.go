package index

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

// LockTimeout bounds how long Save and Load wait for another process.
var LockTimeout = 30 * time.Second

const lockRetryDelay = 50 * time.Millisecond

// lockPath is the lock file beside an index directory.
func lockPath(dir string) string {
	return filepath.Clean(dir) + ".lock"
}

// acquire takes an exclusive (write) or shared (read) lock on dir.
func acquire(dir string, exclusive bool) (func(), error) {
	path := lockPath(dir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New(errors.ErrCodeIndexFailed, "failed to create index parent directory", err).
			WithDetail("path", filepath.Dir(path))
	}

	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	fl := flock.New(path)
	var locked bool
	var err error
	if exclusive {
		locked, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = fl.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil || !locked {
		return nil, errors.New(errors.ErrCodeIndexLocked, "index is locked by another process", err).
			WithDetail("lock", path)
	}

	return func() { _ = fl.Unlock() }, nil
}

// Persist atomically replaces dir with the files write produces.
// write receives an empty temporary sibling directory; on success it is
// renamed over dir while an exclusive lock is held.
func Persist(dir string, write func(tmp string) error) error {
	dir = filepath.Clean(dir)

	unlock, err := acquire(dir, true)
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.MkdirTemp(filepath.Dir(dir), "."+filepath.Base(dir)+".tmp-*")
	if err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to create temporary index directory", err).
			WithDetail("directory", dir)
	}
	defer func() { _ = os.RemoveAll(tmp) }()
	if err := os.Chmod(tmp, 0o755); err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to prepare temporary index directory", err).
			WithDetail("directory", tmp)
	}

	if err := write(tmp); err != nil {
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to remove previous index", err).
			WithDetail("directory", dir)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to move index into place", err).
			WithDetail("directory", dir)
	}
	return nil
}

// WithReadLock runs fn while holding a shared lock on dir.
func WithReadLock[T any](dir string, fn func() (T, error)) (T, error) {
	unlock, err := acquire(dir, false)
	if err != nil {
		var zero T
		return zero, err
	}
	defer unlock()
	return fn()
}
