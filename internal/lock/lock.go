// Package lock provides distributed locking mechanisms for coordinating
// work across multiple hosts through a shared Redis store.
//
// Every lock records an owner token in the store and every mutating operation
// (refresh, release, extend) runs as a server-side script that checks the
// token before touching the key. Correctness rests entirely on the store's
// script atomicity: with a single Redis primary a key has at most one holder.
// Replicated or failed-over stores can lose a recently written lock, in which
// case mutual exclusion is only best effort.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DistributedLock defines the interface for a distributed lock.
// An instance represents a single owner; concurrent acquirers must each
// use their own instance.
type DistributedLock interface {
	// Acquire attempts to acquire the lock, polling until the configured
	// timeout elapses. Returns false without error when the lock is held
	// elsewhere.
	Acquire(ctx context.Context) (bool, error)

	// Release releases the lock if it's held by this instance.
	// It's safe to call Release even if the lock is not held.
	Release(ctx context.Context) (bool, error)

	// Refresh extends the lock's TTL, or takes the lock if it is free,
	// in a single attempt.
	Refresh(ctx context.Context) (bool, error)

	// IsLocked reports whether the store currently records this instance
	// as the holder.
	IsLocked(ctx context.Context) (bool, error)
}

// Common errors for distributed locking operations.
var (
	// ErrLockNotHeld is returned when leadership is lost between renewals.
	ErrLockNotHeld = errors.New("lock not held by this instance")

	// ErrLockTimeout matches every *LockTimeoutError.
	ErrLockTimeout = errors.New("lock acquisition timed out")
)

// LockTimeoutError is returned by WithLock when the lock could not be
// acquired within the configured timeout.
type LockTimeoutError struct {
	Key     string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out trying to get %s lock, exceeded %s", e.Key, e.Timeout)
}

// Is makes errors.Is(err, ErrLockTimeout) true.
func (e *LockTimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}

// ScriptError wraps a failure of the store to run a lock script.
type ScriptError struct {
	Script string
	Err    error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("lock script %s: %v", e.Script, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}
