package conn

import (
	"sync"
	"time"
)

// snapshotCache is a small TTL cache for venue snapshots. Entries are never
// evicted; staleness is decided at read time against a single TTL. Values
// are stored as written and type-asserted by the caller; an entry of the
// wrong type reads as a miss.
type snapshotCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time // injectable for tests
}

type cacheEntry struct {
	value     any
	writtenAt time.Time
}

func newSnapshotCache(ttl time.Duration) *snapshotCache {
	return &snapshotCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// get returns the cached value when present and younger than the TTL.
func (c *snapshotCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.writtenAt) >= c.ttl {
		return nil, false
	}
	return e.value, true
}

// set stores the value under key, stamping it with the current time.
func (c *snapshotCache) set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, writtenAt: c.now()}
}

// valid reports whether key holds a fresh entry without reading it.
func (c *snapshotCache) valid(key string) bool {
	_, ok := c.get(key)
	return ok
}

// clear drops the named entries, or every entry when no keys are given.
func (c *snapshotCache) clear(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(keys) == 0 {
		c.entries = make(map[string]cacheEntry)
		return
	}
	for _, key := range keys {
		delete(c.entries, key)
	}
}

// len reports the number of stored entries, fresh or stale.
func (c *snapshotCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cached reads key from the cache, asserting it to T. A stored value of a
// different type is a miss, not an error.
func cached[T any](c *snapshotCache, key string) (T, bool) {
	var zero T
	v, ok := c.get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
