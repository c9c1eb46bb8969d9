package quotecache

import (
	"sync"
	"time"
)

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

// Cache is a TTL-bounded key/value store for upstream quotes.
// Expired entries are evicted lazily on read; there is no janitor goroutine.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	now     Clock
}

// New constructs an empty cache. A nil clock defaults to time.Now.
func New[V any](now Clock) *Cache[V] {
	if now == nil {
		now = time.Now
	}
	return &Cache[V]{entries: make(map[string]entry[V]), now: now}
}

// Get returns the cached value if it is not older than maxAge.
// A stale entry is removed before returning.
func (c *Cache[V]) Get(key string, maxAge time.Duration) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.fetchedAt) > maxAge {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, stamped with the current clock.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, fetchedAt: c.now()}
}

// Invalidate drops a single key.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Len reports the number of entries currently held, stale ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
