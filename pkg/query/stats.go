package query

import (
	"sort"
	"sync"
	"time"
)

// Outcome describes one completed call through a wrapped query function.
type Outcome struct {
	// Hit means the call was served from a resolved cache entry.
	Hit bool
	// CacheEligible means caching was enabled for this call's arguments.
	CacheEligible bool
	// Latency of the underlying execution. Only meaningful when Measured.
	Latency time.Duration
	// Measured means this caller ran the underlying query directly
	// (caching disabled for the call). Flight-owned executions report
	// their latency through Observe instead.
	Measured bool
	// Err means the call failed.
	Err bool
}

// Record is the rolling aggregate for one named query. Counters grow
// monotonically until an explicit Reset.
type Record struct {
	Name           string `json:"name"`
	Calls          int64  `json:"calls"`
	CacheHits      int64  `json:"cache_hits"`
	CacheMisses    int64  `json:"cache_misses"`
	Errors         int64  `json:"errors"`
	TotalLatencyMs int64  `json:"total_latency_ms"`
	MaxLatencyMs   int64  `json:"max_latency_ms"`
	CacheEnabled   bool   `json:"cache_enabled"`
}

// AvgLatencyMs is mean successful-execution latency over all calls.
func (r Record) AvgLatencyMs() float64 {
	if r.Calls == 0 {
		return 0
	}
	return float64(r.TotalLatencyMs) / float64(r.Calls)
}

// HitRate is cache hits over all calls.
func (r Record) HitRate() float64 {
	if r.Calls == 0 {
		return 0
	}
	return float64(r.CacheHits) / float64(r.Calls)
}

// Stats aggregates per-query counters. Safe under concurrent Record calls
// from simultaneously in-flight queries; updates are commutative increments.
type Stats struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewStats creates an empty stats aggregate.
func NewStats() *Stats {
	return &Stats{records: make(map[string]*Record)}
}

// Record folds one call outcome into the named query's aggregate.
func (s *Stats) Record(name string, out Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[name]
	if !ok {
		rec = &Record{Name: name}
		s.records[name] = rec
	}

	rec.Calls++
	if out.Hit {
		rec.CacheHits++
	} else {
		rec.CacheMisses++
	}
	if out.CacheEligible {
		rec.CacheEnabled = true
	}
	if out.Err {
		rec.Errors++
		return
	}
	if out.Measured {
		ms := out.Latency.Milliseconds()
		rec.TotalLatencyMs += ms
		if ms > rec.MaxLatencyMs {
			rec.MaxLatencyMs = ms
		}
	}
}

// Observe folds one execution latency into the named query's aggregate
// without counting a call. The goroutine that owns a shared computation
// reports latency this way; each waiting caller still counts its own call.
func (s *Stats) Observe(name string, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[name]
	if !ok {
		rec = &Record{Name: name}
		s.records[name] = rec
	}

	ms := latency.Milliseconds()
	rec.TotalLatencyMs += ms
	if ms > rec.MaxLatencyMs {
		rec.MaxLatencyMs = ms
	}
}

// Snapshot returns copies of all records, sorted by name.
func (s *Stats) Snapshot() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the record for one query, if present.
func (s *Stats) Get(name string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[name]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Reset clears the named records, or every record when none are given.
func (s *Stats) Reset(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(names) == 0 {
		s.records = make(map[string]*Record)
		return
	}
	for _, name := range names {
		delete(s.records, name)
	}
}
