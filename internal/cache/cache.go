// Package cache provides a generic expiring key-value store. Expiry is
// enforced lazily on Get; the background sweeper only bounds growth from
// keys that are written once and never read again.
package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Cache is a TTL key-value store safe for concurrent use. The last writer
// for a given key wins.
type Cache[K comparable, V any] struct {
	mux        sync.Mutex
	entries    map[K]entry[V]
	defaultTTL time.Duration
	now        func() time.Time
}

// New creates a Cache with the given default TTL, applied when Set is called
// with a zero ttl.
func New[K comparable, V any](defaultTTL time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		entries:    make(map[K]entry[V]),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the value for key if present and not expired. A present but
// expired entry is treated as absent and evicted as a side effect.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mux.Lock()
	defer c.mux.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with an absolute expiry computed now. A zero
// ttl uses the cache default. Any existing entry is overwritten and its
// expiry reset.
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mux.Lock()
	defer c.mux.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
}

// Delete removes key and reports whether anything was removed.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	_, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	return ok
}

// Clear removes all entries unconditionally.
func (c *Cache[K, V]) Clear() {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.entries = make(map[K]entry[V])
}

// Sweep evicts all expired entries and returns how many were removed.
func (c *Cache[K, V]) Sweep() int {
	c.mux.Lock()
	defer c.mux.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return len(c.entries)
}

// Run sweeps on the given interval until ctx is cancelled.
func (c *Cache[K, V]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
