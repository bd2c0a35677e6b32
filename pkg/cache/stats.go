package cache

import (
	"sync"
	"sync/atomic"
)

// Statistics tracks cache counters. Counter updates are atomic so concurrent
// readers and writers never contend; occupancy is guarded by a small mutex.
type Statistics struct {
	hits      int64
	misses    int64
	stores    int64
	evictions int64

	mu       sync.RWMutex
	count    int64
	bytes    int64
	maxCount int64
}

// NewStatistics creates a zeroed statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Hit records a cache hit.
func (s *Statistics) Hit() { atomic.AddInt64(&s.hits, 1) }

// Miss records a cache miss.
func (s *Statistics) Miss() { atomic.AddInt64(&s.misses, 1) }

// Store records a resolved entry being installed.
func (s *Statistics) Store() { atomic.AddInt64(&s.stores, 1) }

// Evictions records n entries leaving the cache by expiry or pressure.
func (s *Statistics) Evictions(n int64) { atomic.AddInt64(&s.evictions, n) }

// UpdateSize records the current occupancy.
func (s *Statistics) UpdateSize(count, bytes int64) {
	s.mu.Lock()
	s.count = count
	s.bytes = bytes
	if count > s.maxCount {
		s.maxCount = count
	}
	s.mu.Unlock()
}

// Stats is a read-only snapshot of cache counters and occupancy.
type Stats struct {
	EntryCount             int     `json:"entry_count"`
	TotalSizeEstimateBytes int64   `json:"total_size_estimate_bytes"`
	MaxEntryCount          int64   `json:"max_entry_count"`
	Hits                   int64   `json:"hits"`
	Misses                 int64   `json:"misses"`
	Stores                 int64   `json:"stores"`
	Evictions              int64   `json:"evictions"`
	HitRatio               float64 `json:"hit_ratio"`
}

func (s *Statistics) snapshot(count int, bytes int64) Stats {
	s.mu.RLock()
	maxCount := s.maxCount
	s.mu.RUnlock()

	hits := atomic.LoadInt64(&s.hits)
	misses := atomic.LoadInt64(&s.misses)

	st := Stats{
		EntryCount:             count,
		TotalSizeEstimateBytes: bytes,
		MaxEntryCount:          maxCount,
		Hits:                   hits,
		Misses:                 misses,
		Stores:                 atomic.LoadInt64(&s.stores),
		Evictions:              atomic.LoadInt64(&s.evictions),
	}
	if total := hits + misses; total > 0 {
		st.HitRatio = float64(hits) / float64(total)
	}
	return st
}
