package lock

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/jobsync/internal/metrics"
)

// script is a Lua source loaded once per Scripts and invoked by SHA.
type script struct {
	name string
	src  string
}

// acquireScript takes an absent key or resets the TTL of a key we already
// own. ARGV[2] is the TTL in milliseconds, 0 for none.
var acquireScript = script{name: "acquire", src: `
local current = redis.call('GET', KEYS[1])
local ttl = tonumber(ARGV[2])
if current == false then
	if ttl > 0 then
		redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
	else
		redis.call('SET', KEYS[1], ARGV[1])
	end
	return 1
end
if current == ARGV[1] then
	if ttl > 0 then
		redis.call('PEXPIRE', KEYS[1], ttl)
	else
		redis.call('PERSIST', KEYS[1])
	end
	return 1
end
return 0
`}

var releaseScript = script{name: "release", src: `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`}

// extendScript only touches a key that is present and ours; it never
// recreates a released lock.
var extendScript = script{name: "extend", src: `
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return 0
end
local ttl = tonumber(ARGV[2])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
else
	redis.call('PERSIST', KEYS[1])
end
return 1
`}

// Scripts runs the lock scripts against Redis. Script SHAs are cached after
// the first SCRIPT LOAD and reloaded when the server answers NOSCRIPT.
// A Scripts is safe for concurrent use and is normally shared by every
// lock in the process.
type Scripts struct {
	client redis.UniversalClient
	logger zerolog.Logger

	mu   sync.Mutex
	shas map[string]string
}

// NewScripts creates a script executor on the given client. The client
// should come from a pool reserved for lock traffic.
func NewScripts(client redis.UniversalClient, logger zerolog.Logger) *Scripts {
	return &Scripts{
		client: client,
		logger: logger.With().Str("component", "lock-scripts").Logger(),
		shas:   make(map[string]string),
	}
}

// Client returns the underlying Redis client.
func (s *Scripts) Client() redis.UniversalClient {
	return s.client
}

// AcquireOrRefresh sets key to token when it is absent, or resets its TTL
// when it already holds token. A zero ttl means no expiry.
func (s *Scripts) AcquireOrRefresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return s.run(ctx, acquireScript, key, token, ttlMillis(ttl))
}

// Release deletes key if it holds token.
func (s *Scripts) Release(ctx context.Context, key, token string) (bool, error) {
	return s.run(ctx, releaseScript, key, token)
}

// Extend resets the TTL of key if it holds token. Unlike AcquireOrRefresh
// it fails on an absent key.
func (s *Scripts) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return s.run(ctx, extendScript, key, token, ttlMillis(ttl))
}

func (s *Scripts) run(ctx context.Context, sc script, key string, args ...interface{}) (bool, error) {
	sha, err := s.load(ctx, sc)
	if err != nil {
		return false, &ScriptError{Script: sc.name, Err: err}
	}

	res, err := s.client.EvalSha(ctx, sha, []string{key}, args...).Int64()
	if err != nil && redis.HasErrorPrefix(err, "NOSCRIPT") {
		// The server lost its script cache (restart or SCRIPT FLUSH).
		s.logger.Warn().Str("script", sc.name).Str("sha", sha).Msg("lock script missing, reloading")
		metrics.RecordScriptReload(sc.name)
		s.forget(sc)
		if sha, err = s.load(ctx, sc); err == nil {
			res, err = s.client.EvalSha(ctx, sha, []string{key}, args...).Int64()
		}
	}
	if err != nil {
		return false, &ScriptError{Script: sc.name, Err: err}
	}

	return res == 1, nil
}

func (s *Scripts) load(ctx context.Context, sc script) (string, error) {
	s.mu.Lock()
	sha, ok := s.shas[sc.name]
	s.mu.Unlock()
	if ok {
		return sha, nil
	}

	sha, err := s.client.ScriptLoad(ctx, sc.src).Result()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.shas[sc.name] = sha
	s.mu.Unlock()

	s.logger.Debug().Str("script", sc.name).Str("sha", sha).Msg("loaded lock script")
	return sha, nil
}

func (s *Scripts) forget(sc script) {
	s.mu.Lock()
	delete(s.shas, sc.name)
	s.mu.Unlock()
}

// ttlMillis converts a TTL to the whole milliseconds sent to Redis,
// rounding up so that a positive TTL never becomes "no expiry".
func ttlMillis(ttl time.Duration) string {
	if ttl <= 0 {
		return "0"
	}
	ms := (ttl + time.Millisecond - 1) / time.Millisecond
	return strconv.FormatInt(int64(ms), 10)
}
