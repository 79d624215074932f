// Package lockfile provides a cross-process lock backed by a file.
//
// Relay server, hooks and the session controller run in separate processes
// and share one log file and the python driver cache. The lock uses the
// platform's native exclusive file lock. Where that is unsupported (some
// network filesystems) it falls back to atomic exclusive creation of a
// marker file, retried with a short sleep.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultLockRetryInterval is the busy-wait sleep between attempts.
	DefaultLockRetryInterval = 5 * time.Millisecond

	permOwnerReadWrite = 0o600
)

var (
	ErrUnlocked    = errors.New("lockfile has not been locked, I/O operations are not allowed")
	ErrNeedAbsPath = errors.New("lockfiles must be created using absolute path")
)

// Lockfile is a file that can be locked and unlocked across processes.
// I/O operations are not allowed on an unlocked Lockfile.
// Lockfile is NOT goroutine-safe.
type Lockfile struct {
	path      string
	file      *os.File
	locked    bool
	exclusive bool // fallback mode: lock held by the existence of path+".excl"
}

// NewLockfile creates a Lockfile for the given absolute path. The file is
// not created or locked yet.
func NewLockfile(path string) (*Lockfile, error) {
	if len(path) == 0 || !filepath.IsAbs(path) {
		return nil, ErrNeedAbsPath
	}

	return &Lockfile{
		path: path,
	}, nil
}

func (l *Lockfile) Path() string {
	return l.path
}

func (l *Lockfile) Locked() bool {
	return l.locked
}

// TryLock acquires the lock, retrying every retryInterval until ctx is done.
// Errors other than contention end the attempt immediately.
func (l *Lockfile) TryLock(ctx context.Context, retryInterval time.Duration) error {
	if l.locked {
		return nil
	}

	if retryInterval <= 0 {
		retryInterval = DefaultLockRetryInterval
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(retryInterval), ctx)
	return backoff.Retry(func() error {
		err := l.attempt()
		if err == nil || errors.Is(err, errContended) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

var errContended = errors.New("lock is held by another process")

func (l *Lockfile) attempt() error {
	if l.exclusive {
		return l.attemptExclusive()
	}

	if l.file == nil {
		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, permOwnerReadWrite)
		if err != nil {
			return err
		}
		l.file = file
	}

	lockErr := doLock(l.file)
	switch {
	case lockErr == nil:
		l.locked = true
		return nil
	case isAlreadyLockedError(lockErr):
		return errContended
	case isUnsupportedError(lockErr):
		l.exclusive = true
		return l.attemptExclusive()
	default:
		return lockErr
	}
}

func (l *Lockfile) exclusivePath() string {
	return l.path + ".excl"
}

func (l *Lockfile) attemptExclusive() error {
	f, err := os.OpenFile(l.exclusivePath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, permOwnerReadWrite)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return errContended
		}
		return err
	}
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()

	if l.file == nil {
		file, openErr := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, permOwnerReadWrite)
		if openErr != nil {
			_ = os.Remove(l.exclusivePath())
			return openErr
		}
		l.file = file
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Unlocking an unlocked Lockfile is a no-op.
func (l *Lockfile) Unlock() error {
	if l.file == nil || !l.locked {
		return nil
	}

	// Subsequent I/O fails until the lock is taken again, whatever the outcome below.
	l.locked = false

	if l.exclusive {
		return os.Remove(l.exclusivePath())
	}
	return doUnlock(l.file)
}

func (l *Lockfile) Close() error {
	unlockErr := l.Unlock()
	if l.file != nil {
		closeErr := l.file.Close()
		l.file = nil
		return errors.Join(unlockErr, closeErr)
	}
	return unlockErr
}

func (l *Lockfile) Read(p []byte) (int, error) {
	if l.file == nil || !l.locked {
		return 0, ErrUnlocked
	}
	return l.file.Read(p)
}

func (l *Lockfile) Write(p []byte) (int, error) {
	if l.file == nil || !l.locked {
		return 0, ErrUnlocked
	}
	return l.file.Write(p)
}

func (l *Lockfile) Seek(offset int64, whence int) (int64, error) {
	if l.file == nil || !l.locked {
		return 0, ErrUnlocked
	}
	return l.file.Seek(offset, whence)
}

// WithLock runs fn while holding the lock at path and releases it afterwards.
func WithLock(ctx context.Context, path string, fn func() error) error {
	lf, err := NewLockfile(path)
	if err != nil {
		return err
	}
	if err := lf.TryLock(ctx, DefaultLockRetryInterval); err != nil {
		_ = lf.Close()
		return err
	}
	fnErr := fn()
	return errors.Join(fnErr, lf.Close())
}

var _ io.ReadWriteCloser = (*Lockfile)(nil)
var _ io.Seeker = (*Lockfile)(nil)
