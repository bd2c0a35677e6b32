// Package cache provides the TTL-aware query result cache behind Bifrost's
// instrumented queries.
//
// The cache guarantees single-flight semantics: concurrent GetOrCompute
// calls for the same key share exactly one underlying computation, so a
// thundering herd of identical queries hits the database once. Failures are
// delivered to every waiter and never cached.
//
// Entries expire on read and via a periodic background sweep. Under memory
// pressure, EvictUnderPressure removes oldest-created entries until the
// supplied pressure signal reports relief or the cache is empty.
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultSweepInterval is how often the background sweep removes expired
// entries that nobody has read since expiry.
const DefaultSweepInterval = time.Minute

// entry is a resolved cached value. In-flight computations are not entries;
// they live in the singleflight group until resolved.
type entry struct {
	key       string
	value     any
	createdAt time.Time
	expiresAt time.Time
	size      int64
}

// Cache is a thread-safe TTL result cache with single-flight computation.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	bytes   int64
	closed  bool

	flights singleflight.Group
	stats   *Statistics
	metrics *cacheMetrics
	now     func() time.Time

	sweepInterval time.Duration
	shutdown      chan struct{}
	done          chan struct{}
}

// New creates a cache and starts its background sweep goroutine.
// Returns an error only if metrics registration fails.
func New(opts ...Option) (*Cache, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	var metrics *cacheMetrics
	if o.registerer != nil {
		var err error
		metrics, err = newCacheMetrics(o.registerer)
		if err != nil {
			return nil, err
		}
	}

	c := &Cache{
		entries:       make(map[string]*entry),
		stats:         NewStatistics(),
		metrics:       metrics,
		now:           o.now,
		sweepInterval: o.sweepInterval,
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
	}
	go c.sweep()
	return c, nil
}

// Get returns the resolved, unexpired value for key. An expired entry is
// removed and reported as a miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	closed := c.closed
	c.mu.RUnlock()

	if closed || !ok {
		c.recordMiss()
		return nil, false
	}

	if !c.now().Before(e.expiresAt) {
		c.removeExpired(key)
		c.recordMiss()
		return nil, false
	}

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
	return e.value, true
}

// GetOrCompute returns the cached value for key, or computes it.
//
// Exactly one computeFn runs per key at a time regardless of how many
// callers arrive concurrently; the rest await the same flight. On success
// the result is stored with the given TTL. On failure nothing is cached and
// every waiter receives the same *ComputeError wrapping the cause.
//
// The returned hit flag reports whether the value came from a resolved
// entry. A caller whose ctx ends while waiting abandons only its own wait:
// the computation keeps running and its result is still cached for the
// remaining waiters.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, computeFn func() (any, error)) (any, bool, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, false, ErrClosed
	}

	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	ch := c.flights.DoChan(key, func() (any, error) {
		v, err := computeFn()
		if err != nil {
			return nil, &ComputeError{Key: key, Err: err}
		}
		c.store(key, v, ttl)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// store installs a resolved entry, replacing any previous entry for key.
func (c *Cache) store(key string, value any, ttl time.Duration) {
	now := c.now()
	e := &entry{
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
		size:      estimateSize(value),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if prev, ok := c.entries[key]; ok {
		c.bytes -= prev.size
	}
	c.entries[key] = e
	c.bytes += e.size
	count, bytes := len(c.entries), c.bytes
	c.mu.Unlock()

	c.stats.Store()
	c.stats.UpdateSize(int64(count), bytes)
	if c.metrics != nil {
		c.metrics.stores.Inc()
		c.metrics.size.Set(float64(count))
	}
}

// Delete removes the entry for key, if any.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
		c.bytes -= e.size
	}
	count, bytes := len(c.entries), c.bytes
	c.mu.Unlock()

	if ok {
		c.stats.UpdateSize(int64(count), bytes)
		if c.metrics != nil {
			c.metrics.size.Set(float64(count))
		}
	}
}

// Clear removes every entry. Idempotent: clearing an empty cache is a no-op.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.bytes = 0
	c.mu.Unlock()

	c.stats.UpdateSize(0, 0)
	if c.metrics != nil {
		c.metrics.size.Set(0)
	}
}

// EvictUnderPressure removes oldest-created entries until ratioFn reports a
// value at or below targetRatio, or the cache is empty. Entries are removed
// in batches of half the remaining population so a single call makes
// meaningful progress without always emptying the cache.
//
// Eviction order is oldest-createdAt-first. Recency of use is deliberately
// not tracked; creation age is a deterministic, cheap approximation that
// keeps the entry structure simple.
//
// Returns the number of entries evicted.
func (c *Cache) EvictUnderPressure(targetRatio float64, ratioFn func() float64) int {
	evicted := 0
	for ratioFn() > targetRatio {
		batch := c.evictOldest()
		if batch == 0 {
			break
		}
		evicted += batch
	}
	return evicted
}

// evictOldest removes the oldest half of entries (at least one) and returns
// how many were removed.
func (c *Cache) evictOldest() int {
	c.mu.Lock()
	if len(c.entries) == 0 {
		c.mu.Unlock()
		return 0
	}

	ordered := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].createdAt.Before(ordered[j].createdAt)
	})

	n := len(ordered) / 2
	if n == 0 {
		n = 1
	}
	for _, e := range ordered[:n] {
		delete(c.entries, e.key)
		c.bytes -= e.size
	}
	count, bytes := len(c.entries), c.bytes
	c.mu.Unlock()

	c.stats.Evictions(int64(n))
	c.stats.UpdateSize(int64(count), bytes)
	if c.metrics != nil {
		c.metrics.evictions.Add(float64(n))
		c.metrics.size.Set(float64(count))
	}
	return n
}

// Stats returns a snapshot of cache counters and occupancy.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	count, bytes := len(c.entries), c.bytes
	c.mu.RUnlock()
	return c.stats.snapshot(count, bytes)
}

// Close stops the background sweep. The cache rejects GetOrCompute after
// Close; plain reads miss. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.entries = make(map[string]*entry)
	c.bytes = 0
	c.mu.Unlock()

	close(c.shutdown)
	<-c.done
}

// removeExpired deletes key if it is still present and still expired.
func (c *Cache) removeExpired(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		c.bytes -= e.size
	} else {
		ok = false
	}
	count, bytes := len(c.entries), c.bytes
	c.mu.Unlock()

	if ok {
		c.stats.Evictions(1)
		c.stats.UpdateSize(int64(count), bytes)
		if c.metrics != nil {
			c.metrics.evictions.Inc()
			c.metrics.size.Set(float64(count))
		}
	}
}

// sweep periodically removes expired entries that no read has touched.
func (c *Cache) sweep() {
	defer close(c.done)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.sweepOnce()
		}
	}
}

func (c *Cache) sweepOnce() {
	now := c.now()
	removed := 0

	c.mu.Lock()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			c.bytes -= e.size
			removed++
		}
	}
	count, bytes := len(c.entries), c.bytes
	c.mu.Unlock()

	if removed > 0 {
		c.stats.Evictions(int64(removed))
		c.stats.UpdateSize(int64(count), bytes)
		if c.metrics != nil {
			c.metrics.evictions.Add(float64(removed))
			c.metrics.size.Set(float64(count))
		}
	}
}

func (c *Cache) recordMiss() {
	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.misses.Inc()
	}
}

// estimateSize guesses the in-memory footprint of a cached value. Strings
// and byte slices are measured directly; everything else is sized by its
// JSON encoding, falling back to a flat default for unencodable values.
func estimateSize(v any) int64 {
	const fallback = 64
	switch val := v.(type) {
	case nil:
		return 0
	case string:
		return int64(len(val))
	case []byte:
		return int64(len(val))
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fallback
		}
		return int64(len(b))
	}
}
