// Package cache is a process-local TTL cache used by the GitHub storage
// driver to absorb bursts of dashboard reads. Entries expire individually;
// the store on the other side of the cache remains the source of truth.
package cache

import (
	"strings"
	"sync"
	"time"
)

// DefaultTTL is short enough that staleness is invisible to a UI polling
// every 5 seconds, long enough to absorb bursts of reads.
const DefaultTTL = 8 * time.Second

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a key→value map with per-entry expiry. Safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time // test hook
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		items: make(map[string]entry),
		now:   time.Now,
	}
}

// Get returns the cached value, or false if the key is absent or expired.
// Expired keys are evicted on access.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.items, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl and returns the value, enabling
// inline caching at call sites. ttl <= 0 means DefaultTTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) any {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.items[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return value
}

// Delete removes the given keys unconditionally.
func (c *Cache) Delete(keys ...string) {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.items, k)
	}
	c.mu.Unlock()
}

// InvalidatePrefix removes every key starting with prefix. Used to drop a
// whole status partition's listing after a mutation touches it.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}

// Clear resets the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]entry)
	c.mu.Unlock()
}
