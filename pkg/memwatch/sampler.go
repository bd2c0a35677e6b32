// Package memwatch samples process heap usage and derives a memory-pressure
// ratio used to gate query admission and drive cache eviction.
//
// The sampler is the single source of memory-pressure truth for Bifrost.
// It keeps one current sample plus a small bounded history for trend-style
// diagnostics. Sampling never fails hard: when a usable ratio cannot be
// derived (no configured heap limit), the previous ratio is retained and the
// sample is marked degraded.
//
// Example:
//
//	sampler := memwatch.NewSampler(1024) // 1 GiB heap budget
//	sampler.Start(5 * time.Second)
//	defer sampler.Stop()
//
//	if sampler.CurrentRatio() > 0.95 {
//		// shed load
//	}
package memwatch

import (
	"runtime"
	"sync"
	"time"
)

// DefaultHistorySize is the number of samples retained for trend analysis.
const DefaultHistorySize = 10

// Sample is a point-in-time memory reading.
//
// HeapUsedRatio is heap-in-use divided by the configured heap limit, clamped
// to [0, 1]. Degraded means the ratio could not be derived for this tick and
// the previous ratio was carried forward.
type Sample struct {
	HeapUsedMB    float64   `json:"heap_used_mb"`
	HeapUsedRatio float64   `json:"heap_used_ratio"`
	SampledAt     time.Time `json:"sampled_at"`
	Degraded      bool      `json:"degraded,omitempty"`
}

// Sampler periodically reads process heap usage.
//
// Thread-safe. The background cadence touches only the sampler's own mutex,
// so a slow cache or stats consumer can never stall sampling.
type Sampler struct {
	mu         sync.RWMutex
	limitMB    float64
	historyCap int
	current    Sample
	sampled    bool
	history    []Sample

	probe func() float64
	now   func() time.Time

	running  bool
	shutdown chan struct{}
	done     chan struct{}
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithProbe replaces the heap probe. Used in tests to force readings.
func WithProbe(probe func() float64) Option {
	return func(s *Sampler) { s.probe = probe }
}

// WithClock replaces the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

// WithHistorySize overrides the bounded history capacity.
func WithHistorySize(n int) Option {
	return func(s *Sampler) {
		if n > 0 {
			s.historyCap = n
		}
	}
}

// NewSampler creates a sampler against the given heap limit in MB.
// A limit <= 0 means the limit is unknown; samples will be degraded.
func NewSampler(limitMB float64, opts ...Option) *Sampler {
	s := &Sampler{
		limitMB:    limitMB,
		historyCap: DefaultHistorySize,
		probe:      heapUsedMB,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// heapUsedMB reads current heap allocation from the runtime.
func heapUsedMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.HeapAlloc) / 1024 / 1024
}

// Sample takes a fresh reading, stores it as the current sample and appends
// it to the bounded history (oldest dropped at capacity).
func (s *Sampler) Sample() Sample {
	used := s.probe()

	s.mu.Lock()
	defer s.mu.Unlock()

	sample := Sample{
		HeapUsedMB: used,
		SampledAt:  s.now(),
	}
	if s.limitMB > 0 {
		ratio := used / s.limitMB
		if ratio > 1 {
			ratio = 1
		}
		sample.HeapUsedRatio = ratio
	} else {
		// Limit unknown: carry the previous ratio forward rather than
		// reporting false relief.
		sample.HeapUsedRatio = s.current.HeapUsedRatio
		sample.Degraded = true
	}

	s.current = sample
	s.sampled = true
	s.history = append(s.history, sample)
	if len(s.history) > s.historyCap {
		s.history = s.history[len(s.history)-s.historyCap:]
	}
	return sample
}

// Current returns the most recent sample, taking one if none exists yet.
func (s *Sampler) Current() Sample {
	s.mu.RLock()
	sample, ok := s.current, s.sampled
	s.mu.RUnlock()
	if ok {
		return sample
	}
	return s.Sample()
}

// CurrentRatio is the pressure signal consumed by the query gate and the
// analyzer. It reads the stored sample and never blocks on a fresh probe
// once sampling has started.
func (s *Sampler) CurrentRatio() float64 {
	return s.Current().HeapUsedRatio
}

// History returns a copy of the retained samples, oldest first.
func (s *Sampler) History() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, len(s.history))
	copy(out, s.history)
	return out
}

// Start begins periodic sampling at the given interval. Calling Start while
// running is a no-op.
func (s *Sampler) Start(interval time.Duration) {
	if interval <= 0 {
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	shutdown, done := s.shutdown, s.done
	s.mu.Unlock()

	// Take an immediate sample so CurrentRatio is meaningful right away.
	s.Sample()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-shutdown:
				return
			case <-ticker.C:
				s.Sample()
			}
		}
	}()
}

// Stop halts periodic sampling and waits for the background goroutine to
// exit. Safe to call when not running.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.shutdown)
	done := s.done
	s.mu.Unlock()

	<-done
}
