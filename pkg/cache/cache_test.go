package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a controllable time source for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func mustCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	c, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestCache_GetOrCompute_MissThenHit(t *testing.T) {
	c := mustCache(t)

	calls := 0
	compute := func() (any, error) {
		calls++
		return "result", nil
	}

	v, hit, err := c.GetOrCompute(context.Background(), "k", time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "result", v)

	v, hit, err = c.GetOrCompute(context.Background(), "k", time.Minute, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "result", v)
	assert.Equal(t, 1, calls)
}

func TestCache_SingleFlight(t *testing.T) {
	c := mustCache(t)

	var computations int64
	release := make(chan struct{})
	compute := func() (any, error) {
		atomic.AddInt64(&computations, 1)
		<-release
		return 42, nil
	}

	const callers = 32
	var wg sync.WaitGroup
	results := make([]any, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.GetOrCompute(context.Background(), "shared", time.Minute, compute)
		}(i)
	}

	// Let every caller reach the flight before releasing it.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&computations),
		"exactly one computation must run for concurrent callers of one key")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 42, results[i])
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c := mustCache(t, WithClock(clock.Now))

	_, _, err := c.GetOrCompute(context.Background(), "k", time.Second, func() (any, error) {
		return "v", nil
	})
	require.NoError(t, err)

	// Any read before the deadline is a hit.
	clock.Advance(999 * time.Millisecond)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	// At exactly the deadline the entry is stale.
	clock.Advance(time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)

	// The stale entry was removed, not just hidden.
	assert.Equal(t, 0, c.Stats().EntryCount)
}

func TestCache_FailureDeliveredToAllWaiters(t *testing.T) {
	c := mustCache(t)

	cause := errors.New("connection refused")
	release := make(chan struct{})
	var computations int64
	compute := func() (any, error) {
		atomic.AddInt64(&computations, 1)
		<-release
		return nil, cause
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = c.GetOrCompute(context.Background(), "k", time.Minute, compute)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&computations))
	for i := 0; i < callers; i++ {
		require.Error(t, errs[i])
		var ce *ComputeError
		assert.ErrorAs(t, errs[i], &ce)
		assert.ErrorIs(t, errs[i], cause)
	}

	// Failures are never cached; the slot is released for a retry.
	assert.Equal(t, 0, c.Stats().EntryCount)
	v, _, err := c.GetOrCompute(context.Background(), "k", time.Minute, func() (any, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
}

func TestCache_WaiterContextCancelDoesNotAbortFlight(t *testing.T) {
	c := mustCache(t)

	compute := func() (any, error) {
		time.Sleep(100 * time.Millisecond)
		return "slow", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := c.GetOrCompute(ctx, "k", time.Minute, compute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The flight keeps running and its result is cached for later callers.
	assert.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := mustCache(t)

	for _, key := range []string{"a", "b", "c"} {
		_, _, err := c.GetOrCompute(context.Background(), key, time.Minute, func() (any, error) {
			return key, nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, 3, c.Stats().EntryCount)

	c.Delete("b")
	_, ok := c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Stats().EntryCount)

	c.Clear()
	for _, key := range []string{"a", "c"} {
		_, ok := c.Get(key)
		assert.False(t, ok)
	}
	assert.Equal(t, 0, c.Stats().EntryCount)

	// Clearing again is a no-op, not an error.
	c.Clear()
	c.Delete("missing")
}

func TestCache_EvictUnderPressure_OldestFirst(t *testing.T) {
	clock := newFakeClock()
	c := mustCache(t, WithClock(clock.Now))

	// Insert entries with strictly increasing creation times.
	for _, key := range []string{"oldest", "middle", "newest"} {
		_, _, err := c.GetOrCompute(context.Background(), key, time.Hour, func() (any, error) {
			return key, nil
		})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	// Pressure signal relieved after one batch (3/2 = 1 entry evicted).
	calls := 0
	evicted := c.EvictUnderPressure(0.8, func() float64 {
		calls++
		if calls == 1 {
			return 0.9
		}
		return 0.5
	})

	assert.Equal(t, 1, evicted)
	_, ok := c.Get("oldest")
	assert.False(t, ok, "oldest entry must go first")
	_, ok = c.Get("newest")
	assert.True(t, ok)
}

func TestCache_EvictUnderPressure_DrainsWhenNoRelief(t *testing.T) {
	c := mustCache(t)

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		_, _, err := c.GetOrCompute(context.Background(), key, time.Hour, func() (any, error) {
			return key, nil
		})
		require.NoError(t, err)
	}

	// Ratio never drops; eviction must still terminate once empty.
	evicted := c.EvictUnderPressure(0.5, func() float64 { return 0.99 })
	assert.Equal(t, 5, evicted)
	assert.Equal(t, 0, c.Stats().EntryCount)
}

func TestCache_Stats(t *testing.T) {
	c := mustCache(t)

	_, _, err := c.GetOrCompute(context.Background(), "k", time.Minute, func() (any, error) {
		return "0123456789", nil
	})
	require.NoError(t, err)
	c.Get("k")
	c.Get("absent")

	stats := c.Stats()
	assert.Equal(t, 1, stats.EntryCount)
	assert.Equal(t, int64(10), stats.TotalSizeEstimateBytes)
	assert.Equal(t, int64(1), stats.Hits)
	// The initial GetOrCompute lookup and the absent read both missed.
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(1), stats.Stores)
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	c := mustCache(t, WithClock(clock.Now), WithSweepInterval(5*time.Millisecond))

	_, _, err := c.GetOrCompute(context.Background(), "k", time.Second, func() (any, error) {
		return "v", nil
	})
	require.NoError(t, err)

	clock.Advance(2 * time.Second)

	// No reads touch the key; the sweeper must still reclaim it.
	assert.Eventually(t, func() bool {
		return c.Stats().EntryCount == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCache_ClosedRejectsCompute(t *testing.T) {
	c, err := New()
	require.NoError(t, err)
	c.Close()
	c.Close() // idempotent

	_, _, err = c.GetOrCompute(context.Background(), "k", time.Minute, func() (any, error) {
		return "v", nil
	})
	assert.ErrorIs(t, err, ErrClosed)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_MetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(WithMetrics(reg))
	require.NoError(t, err)
	defer c.Close()

	_, _, err = c.GetOrCompute(context.Background(), "k", time.Minute, func() (any, error) {
		return "v", nil
	})
	require.NoError(t, err)
	c.Get("k")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["bifrost_cache_hits_total"])
	assert.True(t, names["bifrost_cache_size"])

	// Double registration on the same registry must surface an error.
	_, err = New(WithMetrics(reg))
	assert.Error(t, err)
}

func TestEstimateSize(t *testing.T) {
	assert.Equal(t, int64(0), estimateSize(nil))
	assert.Equal(t, int64(5), estimateSize("hello"))
	assert.Equal(t, int64(3), estimateSize([]byte{1, 2, 3}))
	assert.Equal(t, int64(2), estimateSize(42))             // "42"
	assert.Equal(t, int64(64), estimateSize(func() {}))     // unencodable
	assert.Equal(t, int64(13), estimateSize(map[string]int{"a": 1, "b": 2})) // {"a":1,"b":2}
}
