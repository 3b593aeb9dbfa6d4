// Package lock provides the cross-process mutual exclusion used by the
// scheduler: at most one executor may hold a key at a time.
//
// Failing to acquire is not an error. It means another executor owns the
// slot and the caller should skip.
package lock

import (
	"context"
	"time"
)

// Locker acquires and releases token-owned keys with an expiry.
type Locker interface {
	// Acquire sets key=token only if key is absent and reports whether the
	// caller now holds it.
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Release deletes key only while it still holds token.
	Release(ctx context.Context, key, token string) (bool, error)
}
