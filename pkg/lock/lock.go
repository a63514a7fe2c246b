// Package lock provides the distributed lock port that serializes writes to
// one memory fingerprint and conflict resolutions over one ID set. Locks
// are re-entrant per holder, expire on TTL so a dead holder cannot wedge a
// key forever, and guarantee at most one live holder.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotHeld is returned when releasing a lock the caller does not hold.
	ErrNotHeld = errors.New("lock not held by caller")

	// ErrUnavailable is returned when the lock backend cannot be reached.
	// Clustered deployments must fail the request; there is no safe local
	// fallback when more than one process mutates the same stores.
	ErrUnavailable = errors.New("lock manager unavailable")
)

// Manager hands out TTL-bound locks keyed by string.
type Manager interface {
	// TryAcquire attempts to take the lock for holder. Returns true on
	// success, false if another holder owns it. Re-acquiring a held lock
	// by the same holder succeeds and extends the TTL.
	TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)

	// Release drops the holder's claim. Releasing an expired or foreign
	// lock returns ErrNotHeld.
	Release(ctx context.Context, key, holder string) error

	// Close releases any resources held by the manager.
	Close() error
}

// WithLock runs fn while holding the lock, retrying acquisition with a
// short backoff until the context expires. The lock is released on return.
func WithLock(ctx context.Context, m Manager, key, holder string, ttl time.Duration, fn func() error) error {
	const retryEvery = 25 * time.Millisecond

	for {
		ok, err := m.TryAcquire(ctx, key, holder, ttl)
		if err != nil {
			return err
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryEvery):
		}
	}

	defer m.Release(ctx, key, holder) //nolint:errcheck // best-effort; TTL reclaims

	return fn()
}
