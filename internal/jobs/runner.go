package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/jobsync/internal/lock"
	"github.com/kneutral-org/jobsync/internal/logging"
	"github.com/kneutral-org/jobsync/internal/metrics"
)

// Work is the body of a work unit.
type Work func(ctx context.Context, args ...any) error

// Runner executes registered work units. Exclusive units run inside a
// distributed lock keyed by their arguments, and every run is recorded in
// the tracker with its lock owner token so the lock maintainer can find it.
type Runner struct {
	scripts  *lock.Scripts
	resolver *StaticResolver
	tracker  Tracker
	killer   Switch
	logger   zerolog.Logger
	now      func() time.Time

	mu   sync.RWMutex
	work map[string]Work
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTracker records running items in t instead of an in-memory registry.
func WithTracker(t Tracker) RunnerOption {
	return func(r *Runner) {
		r.tracker = t
	}
}

// WithSwitch skips classes that s reports as disabled.
func WithSwitch(s Switch) RunnerOption {
	return func(r *Runner) {
		r.killer = s
	}
}

// NewRunner creates a runner taking its locks through scripts.
func NewRunner(scripts *lock.Scripts, logger zerolog.Logger, opts ...RunnerOption) *Runner {
	resolver, _ := NewStaticResolver()
	r := &Runner{
		scripts:  scripts,
		resolver: resolver,
		tracker:  NewMemoryRegistry(),
		logger:   logger.With().Str("component", "runner").Logger(),
		now:      time.Now,
		work:     make(map[string]Work),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a work unit.
func (r *Runner) Register(def Definition, work Work) error {
	if work == nil {
		return fmt.Errorf("%w: %s: work is required", ErrInvalidDefinition, def.Name)
	}
	if err := r.resolver.Register(def); err != nil {
		return err
	}
	r.mu.Lock()
	r.work[def.Name] = work
	r.mu.Unlock()
	return nil
}

// Resolve implements Resolver over the registered units.
func (r *Runner) Resolve(class string) (Definition, bool) {
	return r.resolver.Resolve(class)
}

// Registry returns the tracker runs are recorded in.
func (r *Runner) Registry() Tracker {
	return r.tracker
}

// Perform runs class with args. A unit whose lock is held elsewhere is
// skipped with a warning and Perform returns nil.
func (r *Runner) Perform(ctx context.Context, class string, args ...any) error {
	def, ok := r.resolver.Resolve(class)
	r.mu.RLock()
	work := r.work[class]
	r.mu.RUnlock()
	if !ok || work == nil {
		return fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}

	if r.killer != nil {
		disabled, err := r.killer.Disabled(ctx, class)
		if err != nil {
			return fmt.Errorf("check kill switch for %s: %w", class, err)
		}
		if disabled {
			r.logger.Warn().Str("class", class).Msg("work unit is currently disabled")
			metrics.RecordJobRun(class, "disabled")
			return ErrJobDisabled
		}
	}

	if !def.Exclusive() {
		return r.run(ctx, def, "", work, args)
	}

	m := lock.NewMutex(r.scripts, def.LockKey(args...),
		lock.WithTTL(def.TTL),
		lock.WithTimeout(def.Timeout),
		lock.WithLogger(r.logger),
	)
	err := m.Do(ctx, func(ctx context.Context) error {
		return r.run(ctx, def, m.Token(), work, args)
	})
	if errors.Is(err, lock.ErrLockTimeout) {
		r.logger.Warn().Str("class", class).Str("lockKey", m.Key()).Msg("unable to acquire lock, aborting")
		metrics.RecordJobRun(class, "lock_timeout")
		return nil
	}
	return err
}

func (r *Runner) run(ctx context.Context, def Definition, owner string, work Work, args []any) error {
	item := WorkItem{
		WorkerID:  uuid.NewString(),
		Class:     def.Name,
		Args:      args,
		StartedAt: r.now(),
		Owner:     owner,
	}
	logger := logging.JobLogger(r.logger, def.Name, item.WorkerID)

	if err := r.tracker.Track(ctx, item); err != nil {
		return fmt.Errorf("track %s: %w", def.Name, err)
	}
	defer func() {
		if err := r.tracker.Untrack(context.WithoutCancel(ctx), item.WorkerID); err != nil {
			logger.Error().Err(err).Msg("failed to untrack work item")
		}
	}()

	logger.Info().Msg("starting work unit")
	err := work(ctx, args...)
	duration := r.now().Sub(item.StartedAt)
	metrics.RecordJobDuration(def.Name, duration.Seconds())

	if def.Exclusive() && duration > def.TTL {
		logger.Warn().
			Dur("ttl", def.TTL).
			Msgf("%s took %s but has an expiration of %s. Beware of race conditions!",
				def.Name, FormatDuration(duration), def.TTL)
	}

	if err != nil {
		metrics.RecordJobRun(def.Name, "failed")
		logger.Error().Err(err).Dur("duration", duration).Msg("work unit failed")
		return err
	}

	metrics.RecordJobRun(def.Name, "success")
	logger.Info().Dur("duration", duration).Msg("work unit completed")
	return nil
}
