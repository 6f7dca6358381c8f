package query

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// FetchFunc loads the value for a key from upstream.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Query couples a shared Cache with the Tracker of one view.
type Query[K comparable, V any] struct {
	cache   *Cache[K, V]
	tracker *Tracker[V]
	fetch   FetchFunc[K, V]

	mu     sync.Mutex
	key    K
	hasKey bool
}

// New builds a Query with its own cache.
func New[K comparable, V any](ttl time.Duration, clk clock.Clock, fetch FetchFunc[K, V]) *Query[K, V] {
	return NewWithCache(NewCache[K, V](ttl, clk), clk, fetch)
}

// NewWithCache builds a Query over an existing cache, so several views can
// share responses.
func NewWithCache[K comparable, V any](cache *Cache[K, V], clk clock.Clock, fetch FetchFunc[K, V]) *Query[K, V] {
	return &Query[K, V]{
		cache:   cache,
		tracker: NewTracker[V](clk),
		fetch:   fetch,
	}
}

// Run serves key from cache or upstream. The returned value always belongs to
// this call; the visible state only changes if no newer Run started meanwhile.
func (q *Query[K, V]) Run(ctx context.Context, key K) (V, error) {
	gen := q.begin(key)

	if value, ok := q.cache.Get(key); ok {
		q.tracker.Commit(gen, value, nil)
		return value, nil
	}

	value, err := q.fetch(ctx, key)
	if err == nil {
		q.cache.Set(key, value)
	}
	q.tracker.Commit(gen, value, err)
	return value, err
}

// begin keeps the visible data only while the view stays on the same key.
func (q *Query[K, V]) begin(key K) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.hasKey && q.key == key {
		return q.tracker.Begin()
	}
	q.key, q.hasKey = key, true
	return q.tracker.Restart()
}

// Disable turns the view inert without issuing a request.
func (q *Query[K, V]) Disable() {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero K
	q.key, q.hasKey = zero, false
	q.tracker.Disable()
}

func (q *Query[K, V]) State() State[V] {
	return q.tracker.State()
}

func (q *Query[K, V]) Invalidate(key K) {
	q.cache.Invalidate(key)
}

func (q *Query[K, V]) Cache() *Cache[K, V] {
	return q.cache
}
