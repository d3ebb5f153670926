package modelstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const lockRetryInterval = 50 * time.Millisecond

// withProcessFileLock runs fn while holding an exclusive lock on lockPath,
// polling until the lock is free or ctx is done.
func withProcessFileLock(ctx context.Context, lockPath string, fn func() error) (err error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory for %q: %w", lockPath, err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open lock file %q: %w", lockPath, err)
	}

	for {
		lockErr := lockFile(file)
		if lockErr == nil {
			break
		}
		if !isLockWouldBlock(lockErr) {
			_ = file.Close()
			return fmt.Errorf("failed to acquire lock %q: %w", lockPath, lockErr)
		}
		select {
		case <-ctx.Done():
			_ = file.Close()
			return fmt.Errorf("waiting for lock %q: %w", lockPath, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}

	defer func() {
		unlockErr := unlockFile(file)
		closeErr := file.Close()
		err = errors.Join(err, unlockErr, closeErr)
	}()

	if fn == nil {
		return nil
	}
	return fn()
}
