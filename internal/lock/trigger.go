package lock

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/jobsync/internal/logging"
)

const (
	// DefaultTriggerKey is the key shared by every scheduler instance.
	DefaultTriggerKey = "sidekiq_scheduler_lock"

	// DefaultTriggerTTL is how long a scheduler keeps the trigger lock
	// without refreshing it.
	DefaultTriggerTTL = 60 * time.Second
)

// TriggerLock elects the one scheduler instance allowed to fire triggers.
// It never blocks and never returns errors from Acquire: a store failure
// just means this instance skips the tick.
type TriggerLock struct {
	mutex  *Mutex
	logger zerolog.Logger
}

// NewTriggerLock creates a trigger lock on key with DefaultTriggerTTL.
// Options may change the TTL or identity; the timeout is always zero.
func NewTriggerLock(scripts *Scripts, key string, logger zerolog.Logger, opts ...MutexOption) *TriggerLock {
	if key == "" {
		key = DefaultTriggerKey
	}
	all := append([]MutexOption{WithTTL(DefaultTriggerTTL), WithLogger(logger)}, opts...)
	all = append(all, WithTimeout(0))
	return &TriggerLock{
		mutex:  NewMutex(scripts, key, all...),
		logger: logging.LockLogger(logger.With().Str("component", "trigger-lock").Logger(), key),
	}
}

// Acquire refreshes the lock if this instance holds it and takes it if it
// is free, in one store round trip.
func (t *TriggerLock) Acquire(ctx context.Context) bool {
	ok, err := t.mutex.Refresh(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("trigger lock refresh failed")
		return false
	}
	return ok
}

// Refresh extends the lock if held.
func (t *TriggerLock) Refresh(ctx context.Context) (bool, error) {
	return t.mutex.Refresh(ctx)
}

// Release gives up the lock so another instance can take the next tick.
func (t *TriggerLock) Release(ctx context.Context) (bool, error) {
	return t.mutex.Release(ctx)
}

// IsLocked reports whether Redis records this instance as the holder.
func (t *TriggerLock) IsLocked(ctx context.Context) (bool, error) {
	return t.mutex.IsLocked(ctx)
}

// Key returns the trigger lock key.
func (t *TriggerLock) Key() string {
	return t.mutex.Key()
}
