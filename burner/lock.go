package burner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// ErrDeviceBusy is returned when another process holds the port lock.
var ErrDeviceBusy = errors.New("device is busy")

const lockRetryDelay = 100 * time.Millisecond

// LockPath returns the lock file guarding port inside dir.
func LockPath(dir, port string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	name := strings.Trim(strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(port), "_")
	return filepath.Join(dir, "espsecure-prov-"+name+".lock")
}

// LockPort takes the exclusive per-port lock, waiting until ctx is done.
// The caller must Unlock the returned lock.
func LockPort(ctx context.Context, dir, port string) (*flock.Flock, error) {
	lock := flock.New(LockPath(dir, port))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s is locked by another process", ErrDeviceBusy, port)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", port, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrDeviceBusy, port)
	}
	return lock, nil
}
