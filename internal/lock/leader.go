package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/jobsync/internal/metrics"
)

// Trigger is a non-blocking leadership lock such as TriggerLock.
type Trigger interface {
	Acquire(ctx context.Context) bool
	Release(ctx context.Context) (bool, error)
}

// LeaderElector manages leader election using a trigger lock.
// It re-acquires the trigger every renewal period, which both extends a held
// lock and picks up a free one.
type LeaderElector struct {
	trigger Trigger
	role    string
	logger  zerolog.Logger

	isLeader    atomic.Bool
	renewalRate time.Duration

	onBecomeLeader func()
	onLoseLeader   func()

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// LeaderElectorOption configures a LeaderElector.
type LeaderElectorOption func(*LeaderElector)

// WithRenewalRate sets how often the leader renews its lock.
// Should be significantly less than the lock TTL (e.g., TTL/3).
func WithRenewalRate(d time.Duration) LeaderElectorOption {
	return func(e *LeaderElector) {
		e.renewalRate = d
	}
}

// WithRole names the elected duty in logs and metrics.
func WithRole(role string) LeaderElectorOption {
	return func(e *LeaderElector) {
		e.role = role
	}
}

// WithOnBecomeLeader sets a callback that's called when this instance becomes leader.
func WithOnBecomeLeader(fn func()) LeaderElectorOption {
	return func(e *LeaderElector) {
		e.onBecomeLeader = fn
	}
}

// WithOnLoseLeader sets a callback that's called when this instance loses leadership.
func WithOnLoseLeader(fn func()) LeaderElectorOption {
	return func(e *LeaderElector) {
		e.onLoseLeader = fn
	}
}

// NewLeaderElector creates a new leader elector with the given trigger.
func NewLeaderElector(trigger Trigger, logger zerolog.Logger, opts ...LeaderElectorOption) *LeaderElector {
	e := &LeaderElector{
		trigger:     trigger,
		role:        "scheduler",
		renewalRate: DefaultTriggerTTL / 3,
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logger.With().Str("component", "leader-elector").Str("role", e.role).Logger()
	return e
}

// Start begins the leader election loop.
// It will continuously try to acquire and maintain leadership until Stop is called.
func (e *LeaderElector) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.run(ctx)
}

// Stop stops the leader election loop and releases leadership if held.
func (e *LeaderElector) Stop(ctx context.Context) {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()

	if e.isLeader.Load() {
		if _, err := e.trigger.Release(ctx); err != nil {
			e.logger.Error().Err(err).Msg("failed to release lock on shutdown")
		} else {
			e.logger.Info().Msg("released leadership on shutdown")
		}
		e.setLeader(false)
	}
}

// IsLeader returns true if this instance is currently the leader.
func (e *LeaderElector) IsLeader() bool {
	return e.isLeader.Load()
}

func (e *LeaderElector) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.renewalRate)
	defer ticker.Stop()

	// Try to acquire immediately on start
	e.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *LeaderElector) tick(ctx context.Context) {
	held := e.trigger.Acquire(ctx)
	was := e.isLeader.Load()

	switch {
	case held && !was:
		e.logger.Info().Msg("acquired leadership")
		e.setLeader(true)
	case !held && was:
		e.logger.Warn().Err(ErrLockNotHeld).Msg("failed to renew leadership, lost leader status")
		e.setLeader(false)
	case held:
		e.logger.Debug().Msg("successfully renewed leadership")
	default:
		e.logger.Debug().Msg("another instance is leader")
	}
}

func (e *LeaderElector) setLeader(leader bool) {
	e.isLeader.Store(leader)
	metrics.SetLeader(e.role, leader)
	if leader && e.onBecomeLeader != nil {
		e.onBecomeLeader()
	}
	if !leader && e.onLoseLeader != nil {
		e.onLoseLeader()
	}
}
