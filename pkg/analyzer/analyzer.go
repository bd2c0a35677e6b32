// Package analyzer turns memory, cache and query statistics into typed
// performance issues with canned remediation advice.
//
// The analyzer holds no state of its own; it reads snapshots through
// injected provider functions, so a report reflects one consistent moment
// without taking any of the producers' locks for longer than a snapshot.
package analyzer

import (
	"fmt"
	"time"

	"github.com/orneryd/bifrost/pkg/cache"
	"github.com/orneryd/bifrost/pkg/memwatch"
	"github.com/orneryd/bifrost/pkg/query"
)

// IssueType classifies a detected performance problem.
type IssueType string

const (
	// IssueHighUtilization fires when heap usage exceeds the high-water ratio.
	IssueHighUtilization IssueType = "high_utilization"
	// IssueSlowQuery fires per query whose average latency exceeds the
	// slow-query threshold.
	IssueSlowQuery IssueType = "slow_query"
	// IssueLowHitRate fires per cache-enabled query whose hit rate stays
	// below the floor after enough calls to judge.
	IssueLowHitRate IssueType = "low_hit_rate"
	// IssueCacheSaturation fires when the cache holds more entries than the
	// configured capacity hint.
	IssueCacheSaturation IssueType = "cache_saturation"
	// IssueDegradedSampler fires while the memory sampler runs without a
	// usable memory limit.
	IssueDegradedSampler IssueType = "degraded_sampler"
)

// Severity orders issues for triage.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Issue is one detected problem. RelatedQuery is set only for per-query
// rules.
type Issue struct {
	Type         IssueType `json:"type"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	RelatedQuery string    `json:"related_query,omitempty"`
}

// Recommendation is remediation advice tied to an issue type.
type Recommendation struct {
	Type    IssueType `json:"type"`
	Action  string    `json:"action"`
	Details string    `json:"details,omitempty"`
}

// Report is the result of one analysis pass. Both slices may be empty.
type Report struct {
	GeneratedAt     time.Time        `json:"generated_at"`
	Issues          []Issue          `json:"issues"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Thresholds tune the analysis rules. Zero values fall back to defaults.
type Thresholds struct {
	// HighWaterRatio is the heap ratio above which utilization is flagged.
	HighWaterRatio float64
	// SlowQuery is the average-latency bound per query.
	SlowQuery time.Duration
	// LowHitRate is the hit-rate floor for cache-enabled queries.
	LowHitRate float64
	// MinSamples is the call count a query must exceed before its hit rate
	// is judged.
	MinSamples int64
	// CacheCapacityHint is the entry count above which the cache is
	// considered saturated. Zero disables the rule.
	CacheCapacityHint int64
}

// Default thresholds.
const (
	DefaultHighWaterRatio = 0.85
	DefaultSlowQuery      = 500 * time.Millisecond
	DefaultLowHitRate     = 0.10
	DefaultMinSamples     = 20
)

func (t Thresholds) withDefaults() Thresholds {
	if t.HighWaterRatio <= 0 {
		t.HighWaterRatio = DefaultHighWaterRatio
	}
	if t.SlowQuery <= 0 {
		t.SlowQuery = DefaultSlowQuery
	}
	if t.LowHitRate <= 0 {
		t.LowHitRate = DefaultLowHitRate
	}
	if t.MinSamples <= 0 {
		t.MinSamples = DefaultMinSamples
	}
	return t
}

// Analyzer evaluates independent rules against live snapshots.
type Analyzer struct {
	mem        func() memwatch.Sample
	cacheStats func() cache.Stats
	queries    func() []query.Record
	thresholds Thresholds
	now        func() time.Time
}

// New creates an analyzer over the given snapshot providers. Nil providers
// disable the rules that depend on them.
func New(mem func() memwatch.Sample, cacheStats func() cache.Stats, queries func() []query.Record, thresholds Thresholds) *Analyzer {
	return &Analyzer{
		mem:        mem,
		cacheStats: cacheStats,
		queries:    queries,
		thresholds: thresholds.withDefaults(),
		now:        time.Now,
	}
}

// Analyze runs every rule once and returns the combined report. It is a
// pure read: no provider state is mutated and no error paths exist.
func (a *Analyzer) Analyze() Report {
	report := Report{
		GeneratedAt:     a.now(),
		Issues:          []Issue{},
		Recommendations: []Recommendation{},
	}

	if a.mem != nil {
		a.checkMemory(&report, a.mem())
	}
	if a.cacheStats != nil {
		a.checkCache(&report, a.cacheStats())
	}
	if a.queries != nil {
		a.checkQueries(&report, a.queries())
	}
	return report
}

func (a *Analyzer) checkMemory(report *Report, sample memwatch.Sample) {
	if sample.Degraded {
		report.add(Issue{
			Type:     IssueDegradedSampler,
			Severity: SeverityLow,
			Message:  "memory sampler has no usable limit; pressure gating and eviction are flying blind",
		}, Recommendation{
			Type:   IssueDegradedSampler,
			Action: "configure a memory limit",
			Details: "set memory.limit so heap ratios can be computed; " +
				"until then the sampler reports the last known ratio",
		})
	}

	if sample.HeapUsedRatio > a.thresholds.HighWaterRatio {
		report.add(Issue{
			Type:     IssueHighUtilization,
			Severity: SeverityHigh,
			Message: fmt.Sprintf("heap utilization %.0f%% exceeds high-water mark %.0f%%",
				sample.HeapUsedRatio*100, a.thresholds.HighWaterRatio*100),
		}, Recommendation{
			Type:    IssueHighUtilization,
			Action:  "evict cached results",
			Details: "run eviction toward the recovery target, or lower cache TTLs to shrink steady-state footprint",
		})
	}
}

func (a *Analyzer) checkCache(report *Report, stats cache.Stats) {
	hint := a.thresholds.CacheCapacityHint
	if hint > 0 && int64(stats.EntryCount) > hint {
		report.add(Issue{
			Type:     IssueCacheSaturation,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("cache holds %d entries, above the %d capacity hint", stats.EntryCount, hint),
		}, Recommendation{
			Type:    IssueCacheSaturation,
			Action:  "raise the capacity hint or shorten TTLs",
			Details: "a persistently saturated cache suggests TTLs outlive the working set",
		})
	}
}

func (a *Analyzer) checkQueries(report *Report, records []query.Record) {
	for _, rec := range records {
		if avg := rec.AvgLatencyMs(); avg > float64(a.thresholds.SlowQuery.Milliseconds()) {
			report.add(Issue{
				Type:         IssueSlowQuery,
				Severity:     SeverityMedium,
				Message:      fmt.Sprintf("query %q averages %.0fms per call", rec.Name, avg),
				RelatedQuery: rec.Name,
			}, Recommendation{
				Type:    IssueSlowQuery,
				Action:  "cache or restructure the query",
				Details: fmt.Sprintf("enable caching for %q or push the work into the database", rec.Name),
			})
		}

		if !rec.CacheEnabled || rec.Calls <= a.thresholds.MinSamples {
			continue
		}
		if rec.HitRate() < a.thresholds.LowHitRate {
			report.add(Issue{
				Type:     IssueLowHitRate,
				Severity: SeverityLow,
				Message: fmt.Sprintf("query %q hits the cache on %.0f%% of %d calls",
					rec.Name, rec.HitRate()*100, rec.Calls),
				RelatedQuery: rec.Name,
			}, Recommendation{
				Type:    IssueLowHitRate,
				Action:  "review the cache key function",
				Details: fmt.Sprintf("keys for %q may encode volatile arguments; widen the key or raise the TTL", rec.Name),
			})
		}
	}
}

func (r *Report) add(issue Issue, rec Recommendation) {
	r.Issues = append(r.Issues, issue)
	r.Recommendations = append(r.Recommendations, rec)
}
