// Package maintainer keeps the locks of long-running exclusive work units
// alive. One host at a time, elected through the maintainer's own lock,
// walks the registry of running items and extends each item's lock on
// behalf of its recorded owner.
package maintainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/jobsync/internal/jobs"
	"github.com/kneutral-org/jobsync/internal/metrics"
)

const (
	// DefaultInterval is the base period between scans.
	DefaultInterval = 30 * time.Second

	// DefaultJitterMin and DefaultJitterMax bound the random delay added
	// to every period.
	DefaultJitterMin = 1 * time.Second
	DefaultJitterMax = 5 * time.Second

	// DefaultLockKey is the key of the maintainer's leader lock.
	DefaultLockKey = "sqeduler-lock-maintainer"

	// DefaultLockTTL is the TTL of the maintainer's leader lock.
	DefaultLockTTL = 60 * time.Second

	tickTimeout = 30 * time.Second
	role        = "maintainer"

	// releaseTimeout bounds the leader lock release on Stop.
	releaseTimeout = 5 * time.Second
)

// Leader is the lock electing the single maintaining host. *lock.Mutex
// satisfies it.
type Leader interface {
	Refresh(ctx context.Context) (bool, error)
	Release(ctx context.Context) (bool, error)
}

// Extender resets the TTL of a lock only while token still holds it.
// *lock.Scripts satisfies it.
type Extender interface {
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}

// Report summarises one tick.
type Report struct {
	// Leader is false when another host holds the maintainer lock and the
	// scan was skipped.
	Leader        bool
	Scanned       int
	TooEarly      int
	NotApplicable int
	NoOwner       int
	Refreshed     int
	Lost          int
	Errors        int
}

// Maintainer periodically extends the locks of running exclusive items.
type Maintainer struct {
	leader   Leader
	extender Extender
	registry jobs.Registry
	cache    *ResolverCache
	logger   zerolog.Logger

	interval  time.Duration
	jitterMin time.Duration
	jitterMax time.Duration
	now       func() time.Time

	isLeader atomic.Bool

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// Option configures a Maintainer.
type Option func(*Maintainer)

// WithInterval sets the base period. Items younger than the interval are
// left alone, and classes whose TTL is shorter are never maintained.
func WithInterval(d time.Duration) Option {
	return func(m *Maintainer) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithJitter sets the random delay range added to every period.
func WithJitter(lo, hi time.Duration) Option {
	return func(m *Maintainer) {
		if lo >= 0 && hi >= lo {
			m.jitterMin, m.jitterMax = lo, hi
		}
	}
}

// WithClock overrides the time source used to age running items.
func WithClock(now func() time.Time) Option {
	return func(m *Maintainer) {
		m.now = now
	}
}

// New creates a maintainer. It does nothing until Start or Tick is called.
func New(leader Leader, extender Extender, registry jobs.Registry, resolver jobs.Resolver, logger zerolog.Logger, opts ...Option) *Maintainer {
	m := &Maintainer{
		leader:    leader,
		extender:  extender,
		registry:  registry,
		logger:    logger.With().Str("component", "lock-maintainer").Logger(),
		interval:  DefaultInterval,
		jitterMin: DefaultJitterMin,
		jitterMax: DefaultJitterMax,
		now:       time.Now,
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache = NewResolverCache(resolver, m.interval)
	return m
}

// Start launches the background loop. Calls after the first, including
// calls after Stop, do nothing.
func (m *Maintainer) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(ctx)

	m.logger.Info().
		Dur("interval", m.interval).
		Dur("jitterMin", m.jitterMin).
		Dur("jitterMax", m.jitterMax).
		Msg("lock maintainer started")
}

// Stop ends the loop, waits for an in-flight tick and releases the
// maintainer lock so a peer can take over at once. It is safe to call more
// than once.
func (m *Maintainer) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	started := m.started
	if started {
		m.cancel()
	}
	m.mu.Unlock()

	if started {
		select {
		case <-m.doneCh:
		case <-ctx.Done():
			// The tick is still running; release anyway so peers do not
			// wait out the lock TTL.
			m.logger.Warn().Msg("lock maintainer tick still running at shutdown")
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			return errors.Join(ctx.Err(), m.release(rctx))
		}
	}

	if err := m.release(ctx); err != nil {
		return err
	}
	m.logger.Info().Msg("lock maintainer stopped")
	return nil
}

func (m *Maintainer) release(ctx context.Context) error {
	_, err := m.leader.Release(ctx)
	m.setLeader(false)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to release maintainer lock on shutdown")
		return fmt.Errorf("release maintainer lock: %w", err)
	}
	return nil
}

// IsLeader reports whether the last tick held the maintainer lock.
func (m *Maintainer) IsLeader() bool {
	return m.isLeader.Load()
}

// Interval returns the base period.
func (m *Maintainer) Interval() time.Duration {
	return m.interval
}

func (m *Maintainer) run(ctx context.Context) {
	defer close(m.doneCh)

	timer := time.NewTimer(m.period())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			m.runTick(ctx)
			timer.Reset(m.period())
		}
	}
}

// runTick contains every fault of one tick, panics included.
func (m *Maintainer) runTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordMaintainerTick("panic")
			m.logger.Error().Interface("panic", r).Msg("lock maintainer tick panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, tickTimeout)
	defer cancel()

	if _, err := m.Tick(ctx); err != nil {
		m.logger.Error().Err(err).Msg("lock maintainer tick failed")
	}
}

// period returns the interval plus a uniform jitter in [jitterMin, jitterMax].
func (m *Maintainer) period() time.Duration {
	spread := int64(m.jitterMax - m.jitterMin)
	if spread <= 0 {
		return m.interval + m.jitterMin
	}
	return m.interval + m.jitterMin + time.Duration(rand.Int64N(spread+1))
}

// Tick runs one maintenance pass: take or keep the maintainer lock, then
// extend the lock of every running item that qualifies. Failures on single
// items do not stop the pass; they are joined into the returned error.
func (m *Maintainer) Tick(ctx context.Context) (Report, error) {
	var report Report

	held, err := m.leader.Refresh(ctx)
	if err != nil {
		m.setLeader(false)
		metrics.RecordMaintainerTick("error")
		return report, fmt.Errorf("refresh maintainer lock: %w", err)
	}
	m.setLeader(held)
	if !held {
		metrics.RecordMaintainerTick("skipped")
		m.logger.Debug().Msg("maintainer lock held elsewhere, skipping scan")
		return report, nil
	}
	report.Leader = true

	items, err := m.registry.Running(ctx)
	if err != nil {
		metrics.RecordMaintainerTick("error")
		return report, fmt.Errorf("list running items: %w", err)
	}

	now := m.now()
	var errs []error
	for _, item := range items {
		report.Scanned++

		if now.Sub(item.StartedAt) < m.interval {
			report.TooEarly++
			continue
		}
		def, ok := m.cache.Lookup(item.Class)
		if !ok {
			report.NotApplicable++
			continue
		}
		if item.Owner == "" {
			report.NoOwner++
			metrics.RecordMaintainerRefresh("no_owner")
			m.logger.Warn().Str("class", item.Class).Str("workerId", item.WorkerID).Msg("running item has no lock owner, not refreshing")
			continue
		}

		key := def.LockKey(item.Args...)
		extended, err := m.extender.Extend(ctx, key, item.Owner, def.TTL)
		switch {
		case err != nil:
			report.Errors++
			metrics.RecordMaintainerRefresh("error")
			errs = append(errs, fmt.Errorf("extend %s: %w", key, err))
		case !extended:
			report.Lost++
			metrics.RecordMaintainerRefresh("lost")
			m.logger.Warn().Str("lockKey", key).Str("workerId", item.WorkerID).Msg("lock no longer held by running item")
		default:
			report.Refreshed++
			metrics.RecordMaintainerRefresh("refreshed")
			m.logger.Debug().Str("lockKey", key).Dur("ttl", def.TTL).Msg("extended lock")
		}
	}

	if len(errs) > 0 {
		metrics.RecordMaintainerTick("error")
		return report, errors.Join(errs...)
	}
	metrics.RecordMaintainerTick("ok")
	if report.Refreshed > 0 || report.Lost > 0 {
		m.logger.Info().
			Int("refreshed", report.Refreshed).
			Int("lost", report.Lost).
			Msg("maintained running locks")
	}
	return report, nil
}

func (m *Maintainer) setLeader(leader bool) {
	if m.isLeader.Swap(leader) != leader {
		metrics.SetLeader(role, leader)
	}
}
