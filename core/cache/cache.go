package cache

import (
	"sync"
	"time"
)

// entry is a single cached value. A zero expiresAt means the entry
// never expires.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// settings holds the tunables shared by every Cache instantiation.
type settings struct {
	defaultTTL time.Duration
	sweepEvery time.Duration
	clock      func() time.Time
}

// Option customizes a Cache at construction time.
type Option func(*settings)

// WithDefaultTTL sets the TTL applied by Put when no explicit TTL is given.
// A zero default means entries never expire unless PutTTL says otherwise.
func WithDefaultTTL(d time.Duration) Option {
	return func(s *settings) { s.defaultTTL = d }
}

// WithSweepInterval sets how often the background janitor removes expired
// entries. An interval of zero disables the janitor entirely.
func WithSweepInterval(d time.Duration) Option {
	return func(s *settings) { s.sweepEvery = d }
}

// WithClock replaces the time source. Used by tests to simulate expiry
// without sleeping.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) { s.clock = clock }
}

// Cache is a thread-safe key-value store with per-entry expiry.
//
// Expired entries are removed lazily on lookup and in bulk by a background
// janitor, so keys that are never re-read cannot grow the map without bound.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]

	defaultTTL time.Duration
	sweepEvery time.Duration
	clock      func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
}

// New creates a Cache. Unless overridden, entries never expire by default and
// the janitor runs every 60 seconds.
func New[K comparable, V any](opts ...Option) *Cache[K, V] {
	s := settings{
		sweepEvery: 60 * time.Second,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}

	c := &Cache[K, V]{
		entries:    make(map[K]entry[V]),
		defaultTTL: s.defaultTTL,
		sweepEvery: s.sweepEvery,
		clock:      s.clock,
		stop:       make(chan struct{}),
	}

	if c.sweepEvery > 0 {
		go c.janitor()
	}

	return c
}

// Get returns the live value for key. An expired entry found during lookup is
// evicted as a side effect.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return zero, false
	}
	if e.expired(c.clock()) {
		c.evictExpired(key)
		return zero, false
	}
	return e.value, true
}

// evictExpired removes key if it is still present and still expired. The
// re-check matters: another writer may have replaced the entry between the
// caller's read and this write lock.
func (c *Cache[K, V]) evictExpired(key K) {
	now := c.clock()
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.expired(now) {
		delete(c.entries, key)
	}
	c.mu.Unlock()
}

// Put stores value under key using the cache's default TTL.
func (c *Cache[K, V]) Put(key K, value V) {
	c.PutTTL(key, value, 0)
}

// PutTTL stores value under key. A non-positive ttl falls back to the default
// TTL; if no default is configured the entry never expires.
func (c *Cache[K, V]) PutTTL(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = c.clock().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// Remove deletes key and returns the previous live value, if any.
func (c *Cache[K, V]) Remove(key K) (V, bool) {
	var zero V
	now := c.clock()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if !ok || e.expired(now) {
		return zero, false
	}
	return e.value, true
}

// Contains reports whether key holds a live value, with the same expiry
// semantics as Get.
func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.Get(key)
	return ok
}

// GetOrCompute returns the cached value for key, or computes one via fn and
// stores it under the default TTL. A compute error is returned as-is and
// nothing is cached.
//
// Concurrent callers missing on the same key may each run fn; the last writer
// wins. Callers needing single-flight semantics must layer them on top.
func (c *Cache[K, V]) GetOrCompute(key K, fn func(K) (V, error)) (V, error) {
	return c.GetOrComputeTTL(key, fn, 0)
}

// GetOrComputeTTL is GetOrCompute with an explicit TTL for the computed value.
func (c *Cache[K, V]) GetOrComputeTTL(key K, fn func(K) (V, error), ttl time.Duration) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := fn(key)
	if err != nil {
		var zero V
		return zero, err
	}

	c.PutTTL(key, v, ttl)
	return v, nil
}

// Len returns the number of live entries. Expired entries are swept first so
// the count never includes expired-but-unswept ones.
func (c *Cache[K, V]) Len() int {
	c.Sweep()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Empty reports whether the cache holds no live entries.
func (c *Cache[K, V]) Empty() bool {
	return c.Len() == 0
}

// Clear atomically removes every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[K]entry[V])
	c.mu.Unlock()
}

// Sweep removes all expired entries now, independent of access patterns.
func (c *Cache[K, V]) Sweep() {
	now := c.clock()
	c.mu.Lock()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Close stops the background janitor. It is idempotent and the cache remains
// usable afterwards; only periodic sweeping stops.
func (c *Cache[K, V]) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
}

func (c *Cache[K, V]) janitor() {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}
