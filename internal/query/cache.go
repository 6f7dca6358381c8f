package query

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache is an in-memory response cache with a fixed time-to-live.
// Keys are compared by value.
type Cache[K comparable, V any] struct {
	ttl   time.Duration
	clock clock.Clock

	mu      sync.RWMutex
	entries map[K]entry[V]
}

// NewCache builds a cache. A nil clock uses the wall clock.
func NewCache[K comparable, V any](ttl time.Duration, clk clock.Clock) *Cache[K, V] {
	if clk == nil {
		clk = clock.New()
	}
	return &Cache[K, V]{
		ttl:     ttl,
		clock:   clk,
		entries: make(map[K]entry[V]),
	}
}

// Get returns the value for key if it is still within its TTL.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if c.clock.Since(e.storedAt) >= c.ttl {
		return zero, false
	}
	return e.value, true
}

func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, storedAt: c.clock.Now()}
	c.mu.Unlock()
}

func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache[K, V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[K]entry[V])
	c.mu.Unlock()
}

// Len reports the number of stored entries, stale ones included.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
