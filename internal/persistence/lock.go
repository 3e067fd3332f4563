package persistence

import (
	"context"
	"time"

	"github.com/gofrs/flock"

	"github.com/jidohq/sessiond/internal/errs"
)

// WithFileLock brackets fn with an advisory gofrs/flock lock on
// <path>.jido.lock so two processes racing on the same path fail fast
// instead of interleaving concurrent temp-write-to-rename sequences.
func WithFileLock(ctx context.Context, path string, fn func() (*DiskSnapshot, *errs.Error)) (*DiskSnapshot, *errs.Error) {
	lock := flock.New(path + ".jido.lock")

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		return nil, errs.New(errs.Busy, "path is locked by another writer").
			WithDetails(map[string]any{"path": path})
	}
	defer lock.Unlock()

	return fn()
}
