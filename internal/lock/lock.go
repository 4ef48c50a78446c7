package lock

import (
	"context"
	"errors"
)

// Locker hands out short-lived mutual exclusion keyed by an arbitrary string.
type Locker interface {
	// Acquire blocks until the key is held or ctx is done. The returned
	// release func must be called once the critical section ends.
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

var (
	ErrNotAcquired = errors.New("lock not acquired")
	ErrNotHeld     = errors.New("lock no longer held")
)
