package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/utils"
)

// DedupCache is an in-memory front for the processing-log dedup lookup.
// A hit means the dedup key was recently recorded as processed and the
// poller can skip the database round-trip; a miss is authoritative only
// after the store is consulted. Entries expire after a TTL so a failed
// entry re-ingested later is not shadowed forever.
type DedupCache struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	ttl     time.Duration
	hits    atomic.Int64
	misses  atomic.Int64
	now     func() time.Time
}

// NewDedupCache creates a cache with the given TTL. A non-positive TTL
// defaults to one hour.
func NewDedupCache(ttl time.Duration) *DedupCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &DedupCache{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     utils.Now,
	}
}

// WithClock overrides the time source; used by tests to drive expiry.
func (c *DedupCache) WithClock(now func() time.Time) *DedupCache {
	c.now = now
	return c
}

// Seen reports whether the key was marked processed within the TTL.
func (c *DedupCache) Seen(key string) bool {
	c.mu.RLock()
	expiry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return false
	}
	if c.now().After(expiry) {
		c.mu.Lock()
		// Re-check under the write lock: another writer may have refreshed it.
		if current, still := c.entries[key]; still && c.now().After(current) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return false
	}
	c.hits.Add(1)
	return true
}

// MarkProcessed records a dedup key as having an active processing-log entry.
func (c *DedupCache) MarkProcessed(key string) {
	c.mu.Lock()
	c.entries[key] = c.now().Add(c.ttl)
	c.mu.Unlock()
}

// Invalidate removes a key, used when an entry transitions to failed and the
// sender becomes eligible for re-ingestion.
func (c *DedupCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Stats returns cumulative hit and miss counters.
func (c *DedupCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Purge drops every expired entry; callers run it on a schedule.
func (c *DedupCache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, expiry := range c.entries {
		if now.After(expiry) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
