// Package cache provides the read-through TTL cache that fronts remote
// folder listings.
//
// Entries are evicted lazily on read. There is no capacity bound and no
// background sweep: the key space is the set of distinct (bucket, prefix)
// pairs a user browses during one process lifetime.
package cache

import (
	"sync"
	"time"
)

// DefaultTimeout matches the default cache_timeout setting (300000 ms).
const DefaultTimeout = 5 * time.Minute

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// TTL maps string keys to values that expire after the cache's timeout.
// It is safe for concurrent use.
type TTL[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	timeout time.Duration
	now     func() time.Time
}

// Option configures a TTL cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// NewTTL returns an empty cache. A zero timeout keeps an entry only for
// the instant it was stored; negative timeouts count as zero.
func NewTTL[V any](timeout time.Duration, opts ...Option) *TTL[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTL[V]{
		entries: make(map[string]entry[V]),
		timeout: max(timeout, 0),
		now:     o.now,
	}
}

// Get returns the value stored under key if its age does not exceed the
// current timeout. A stale entry is deleted and reported as absent.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.storedAt) > c.timeout {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, overwriting any previous entry.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, storedAt: c.now()}
}

// Clear removes every entry.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// SetTimeout changes the maximum age. It applies to entries already stored,
// so lowering it can expire them on their next Get.
func (c *TTL[V]) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = max(timeout, 0)
}

// Timeout returns the current maximum age.
func (c *TTL[V]) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// Len returns the number of stored entries, stale ones included.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
