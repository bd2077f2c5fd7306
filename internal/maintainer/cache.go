package maintainer

import (
	"sync"
	"time"

	"github.com/kneutral-org/jobsync/internal/jobs"
)

// ResolverCache memoizes class lookups for the maintainer. A class resolves
// as applicable only when it is exclusive and its TTL is at least minTTL;
// everything else, unknown classes included, is cached as not applicable.
type ResolverCache struct {
	resolver jobs.Resolver
	minTTL   time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	def jobs.Definition
	ok  bool
}

// NewResolverCache wraps resolver.
func NewResolverCache(resolver jobs.Resolver, minTTL time.Duration) *ResolverCache {
	return &ResolverCache{
		resolver: resolver,
		minTTL:   minTTL,
		entries:  make(map[string]cacheEntry),
	}
}

// Lookup returns the definition of class and whether its locks are
// maintained.
func (c *ResolverCache) Lookup(class string) (jobs.Definition, bool) {
	c.mu.RLock()
	e, found := c.entries[class]
	c.mu.RUnlock()
	if found {
		return e.def, e.ok
	}

	def, ok := c.resolver.Resolve(class)
	e = cacheEntry{def: def, ok: ok && def.Exclusive() && def.TTL >= c.minTTL}

	c.mu.Lock()
	c.entries[class] = e
	c.mu.Unlock()
	return e.def, e.ok
}

// Len returns the number of cached classes.
func (c *ResolverCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
