package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap/zapcore"

	"github.com/ctagard/deepdbg/internal/lockfile"
)

// lockWait bounds how long one record waits for the cross-process lock.
const lockWait = 500 * time.Millisecond

// lockedFile appends records to a log file shared by several processes.
// Every write holds <path>.lock so records from different processes never
// interleave.
type lockedFile struct {
	mu   sync.Mutex
	file *os.File
	lock *lockfile.Lockfile
}

func openLockedFile(path string) (*lockedFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log folder: %w", err)
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(20*time.Millisecond),
		backoff.WithMaxInterval(100*time.Millisecond),
		backoff.WithMaxElapsedTime(2*time.Second),
	)
	file, err := backoff.RetryWithData(func() (*os.File, error) {
		f, openErr := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if os.IsPermission(openErr) {
			return nil, backoff.Permanent(openErr)
		}
		return f, openErr
	}, b)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	lock, err := lockfile.NewLockfile(abs + ".lock")
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	// Try the lock once so an unusable one disables the file up front.
	ctx, cancel := context.WithTimeout(context.Background(), lockWait)
	defer cancel()
	if err := lock.TryLock(ctx, lockfile.DefaultLockRetryInterval); err != nil {
		_ = lock.Close()
		_ = file.Close()
		return nil, fmt.Errorf("failed to lock log file: %w", err)
	}
	_ = lock.Unlock()

	return &lockedFile{file: file, lock: lock}, nil
}

func (f *lockedFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return len(p), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockWait)
	defer cancel()
	if err := f.lock.TryLock(ctx, lockfile.DefaultLockRetryInterval); err != nil {
		// A stuck peer must not stop logging; append without the lock.
		return f.file.Write(p)
	}
	defer func() { _ = f.lock.Unlock() }()
	return f.file.Write(p)
}

func (f *lockedFile) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	return f.file.Sync()
}

func (f *lockedFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	_ = f.lock.Close()
	err := f.file.Close()
	f.file = nil
	return err
}

var _ zapcore.WriteSyncer = (*lockedFile)(nil)
