package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/jobsync/internal/logging"
	"github.com/kneutral-org/jobsync/internal/metrics"
)

const (
	// DefaultTimeout is how long Acquire polls before giving up.
	DefaultTimeout = 5 * time.Second

	// DefaultPollInterval is the pause between acquisition attempts.
	DefaultPollInterval = 100 * time.Millisecond

	// releaseTimeout bounds the release issued by Do after the work returns.
	releaseTimeout = 5 * time.Second
)

// Mutex is a named lock in Redis fenced by an owner token.
// The token is derived once when the Mutex is created; reuse the same
// Mutex for repeated lock/unlock cycles by the same owner.
type Mutex struct {
	scripts      *Scripts
	key          string
	token        string
	ttl          time.Duration
	timeout      time.Duration
	pollInterval time.Duration
	logger       zerolog.Logger
	now          func() time.Time

	mu        sync.Mutex
	held      bool
	expiresAt time.Time
}

var _ DistributedLock = (*Mutex)(nil)

// MutexOption configures a Mutex.
type MutexOption func(*Mutex)

// WithTTL sets the lock expiry. Zero means the lock never expires and is
// only freed by Release.
func WithTTL(ttl time.Duration) MutexOption {
	return func(m *Mutex) {
		m.ttl = ttl
	}
}

// WithTimeout sets how long Acquire keeps polling. Zero or negative means a
// single attempt.
func WithTimeout(timeout time.Duration) MutexOption {
	return func(m *Mutex) {
		m.timeout = timeout
	}
}

// WithPollInterval sets the pause between acquisition attempts.
func WithPollInterval(d time.Duration) MutexOption {
	return func(m *Mutex) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithIdentity overrides the owner identity.
func WithIdentity(id Identity) MutexOption {
	return func(m *Mutex) {
		m.token = id.String()
	}
}

// WithLogger sets the logger used for lock outcomes.
func WithLogger(logger zerolog.Logger) MutexOption {
	return func(m *Mutex) {
		m.logger = logger
	}
}

// NewMutex creates a mutex for key. Defaults: no TTL, DefaultTimeout,
// DefaultPollInterval and a fresh Identity.
func NewMutex(scripts *Scripts, key string, opts ...MutexOption) *Mutex {
	m := &Mutex{
		scripts:      scripts,
		key:          key,
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		logger:       zerolog.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.token == "" {
		m.token = NewIdentity().String()
	}
	m.logger = logging.LockLogger(m.logger, key)
	return m
}

// Acquire takes the lock, polling every poll interval until the timeout
// elapses. At least one attempt is always made. If this Mutex already holds
// an unexpired lock it returns true without contacting Redis.
func (m *Mutex) Acquire(ctx context.Context) (bool, error) {
	if m.Held() {
		metrics.RecordLockOperation("acquire", "reentrant")
		return true, nil
	}

	start := m.now()
	deadline := start.Add(m.timeout)
	for {
		ok, err := m.take(ctx)
		if err != nil {
			metrics.RecordLockOperation("acquire", "error")
			return false, err
		}
		if ok {
			metrics.RecordLockOperation("acquire", "acquired")
			metrics.RecordLockAcquireDuration("acquired", m.now().Sub(start).Seconds())
			m.logger.Debug().Msg("retrieved lock")
			return true, nil
		}

		remaining := deadline.Sub(m.now())
		if remaining <= 0 {
			break
		}
		wait := m.pollInterval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.RecordLockOperation("acquire", "cancelled")
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	metrics.RecordLockOperation("acquire", "timeout")
	metrics.RecordLockAcquireDuration("timeout", m.now().Sub(start).Seconds())
	m.logger.Debug().Dur("timeout", m.timeout).Msg("could not retrieve lock")
	return false, nil
}

// Refresh runs a single acquire-or-refresh attempt: it extends the TTL when
// this Mutex owns the key and takes the key when it is free.
func (m *Mutex) Refresh(ctx context.Context) (bool, error) {
	ok, err := m.take(ctx)
	switch {
	case err != nil:
		metrics.RecordLockOperation("refresh", "error")
	case ok:
		metrics.RecordLockOperation("refresh", "refreshed")
	default:
		metrics.RecordLockOperation("refresh", "not_owner")
		m.logger.Debug().Msg("unable to refresh lock, someone else has it")
	}
	return ok, err
}

// Release deletes the key if this Mutex still owns it. A false result means
// the lock had expired or belongs to someone else; it is not an error.
func (m *Mutex) Release(ctx context.Context) (bool, error) {
	ok, err := m.scripts.Release(ctx, m.key, m.token)

	m.mu.Lock()
	m.held = false
	m.expiresAt = time.Time{}
	m.mu.Unlock()

	switch {
	case err != nil:
		metrics.RecordLockOperation("release", "error")
	case ok:
		metrics.RecordLockOperation("release", "released")
		m.logger.Debug().Msg("released lock")
	default:
		metrics.RecordLockOperation("release", "not_owner")
		m.logger.Debug().Msg("unable to release lock, someone else might have it")
	}
	return ok, err
}

// IsLocked reads the key and compares it to the owner token. The answer
// can be stale as soon as it is returned.
func (m *Mutex) IsLocked(ctx context.Context) (bool, error) {
	val, err := m.scripts.Client().Get(ctx, m.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == m.token, nil
}

// Held reports the local view: the last acquire or refresh succeeded and
// its TTL has not run out since.
func (m *Mutex) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held {
		return false
	}
	return m.ttl <= 0 || m.now().Before(m.expiresAt)
}

// Do acquires the lock, runs work and releases the lock on every exit path,
// including a panic in work. It returns a *LockTimeoutError when the lock
// could not be acquired.
func (m *Mutex) Do(ctx context.Context, work func(context.Context) error) (err error) {
	ok, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return &LockTimeoutError{Key: m.key, Timeout: m.timeout}
	}

	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()

		released, rerr := m.Release(rctx)
		if rerr != nil {
			m.logger.Error().Err(rerr).Msg("failed to release lock")
			if err == nil {
				err = rerr
			}
			return
		}
		if !released {
			m.logger.Warn().Msg("lock expired before release")
		}
	}()

	return work(ctx)
}

// Key returns the lock's Redis key.
func (m *Mutex) Key() string {
	return m.key
}

// Token returns the owner token written to Redis.
func (m *Mutex) Token() string {
	return m.token
}

// TTL returns the lock's TTL duration.
func (m *Mutex) TTL() time.Duration {
	return m.ttl
}

// Timeout returns the acquisition timeout.
func (m *Mutex) Timeout() time.Duration {
	return m.timeout
}

func (m *Mutex) take(ctx context.Context) (bool, error) {
	attemptAt := m.now()
	ok, err := m.scripts.AcquireOrRefresh(ctx, m.key, m.token, m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		return false, err
	}
	m.held = ok
	if ok && m.ttl > 0 {
		m.expiresAt = attemptAt.Add(m.ttl)
	}
	return ok, nil
}

// WithLock runs work while holding key. See Mutex.Do.
func WithLock(ctx context.Context, scripts *Scripts, key string, work func(context.Context) error, opts ...MutexOption) error {
	return NewMutex(scripts, key, opts...).Do(ctx, work)
}
