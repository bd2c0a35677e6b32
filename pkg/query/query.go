// Package query wraps arbitrary query functions with result caching, a
// memory-pressure admission gate and per-query statistics.
//
// The instrumentor does not parse or validate query bodies; it treats the
// supplied function as an opaque read. Caching is opt-in per wrap and can be
// gated by a predicate over the call's arguments.
//
// Example:
//
//	fetchUser := inst.Wrap(rawFetchUser, query.Options{
//		Name:        "fetchUser",
//		Eligibility: query.CacheAlways(),
//		TTL:         30 * time.Second,
//	})
//	user, err := fetchUser(ctx, userID)
package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/bifrost/pkg/cache"
)

// DefaultTTL applies when Options.TTL is unset.
const DefaultTTL = time.Minute

// DefaultPressureCeiling is the heap ratio above which queries fail fast
// instead of executing.
const DefaultPressureCeiling = 0.95

// QueryFunc is the shape of a wrapped (and wrappable) query function.
// Arguments are opaque to the instrumentor except for key derivation and
// eligibility predicates.
type QueryFunc func(ctx context.Context, args ...any) (any, error)

type eligibilityKind int

const (
	eligibilityNever eligibilityKind = iota
	eligibilityAlways
	eligibilityPredicate
)

// Eligibility decides per call whether a query's result may be cached.
// The zero value never caches.
type Eligibility struct {
	kind eligibilityKind
	pred func(args []any) bool
}

// CacheAlways caches every call.
func CacheAlways() Eligibility {
	return Eligibility{kind: eligibilityAlways}
}

// CacheNever disables caching. Same as the zero value, spelled out.
func CacheNever() Eligibility {
	return Eligibility{kind: eligibilityNever}
}

// CacheIf caches calls for which pred returns true. The predicate is
// re-evaluated on every call and never stored alongside the entry.
func CacheIf(pred func(args []any) bool) Eligibility {
	return Eligibility{kind: eligibilityPredicate, pred: pred}
}

// Allows reports whether this call's arguments are cacheable.
func (e Eligibility) Allows(args []any) bool {
	switch e.kind {
	case eligibilityAlways:
		return true
	case eligibilityPredicate:
		return e.pred != nil && e.pred(args)
	default:
		return false
	}
}

// Options configures one wrapped query function.
type Options struct {
	// Name identifies the query in statistics and diagnostics. Required.
	Name string
	// Eligibility gates caching. Zero value: never cache.
	Eligibility Eligibility
	// TTL for cached results. Zero: DefaultTTL.
	TTL time.Duration
	// KeyFunc derives the cache key from call arguments.
	// Zero: name plus a digest of the JSON-serialized arguments.
	KeyFunc func(args []any) string
	// Timeout bounds the caller's wait, including time spent waiting on
	// another caller's in-flight computation. The shared computation itself
	// is not cancelled. Zero: no bound.
	Timeout time.Duration
}

// Instrumentor wraps query functions against a shared cache, stats aggregate
// and memory-pressure signal.
type Instrumentor struct {
	cache   *cache.Cache
	stats   *Stats
	ratio   func() float64
	ceiling float64
	log     *zap.Logger
	metrics *queryMetrics
	now     func() time.Time
}

// InstrumentorOption configures an Instrumentor.
type InstrumentorOption func(*Instrumentor)

// WithCeiling overrides the pressure ceiling (0 keeps the default).
func WithCeiling(ceiling float64) InstrumentorOption {
	return func(i *Instrumentor) {
		if ceiling > 0 {
			i.ceiling = ceiling
		}
	}
}

// WithLogger attaches a logger for pressure-rejection warnings.
func WithLogger(log *zap.Logger) InstrumentorOption {
	return func(i *Instrumentor) {
		if log != nil {
			i.log = log
		}
	}
}

// WithMetrics attaches per-query Prometheus metrics.
func WithMetrics(m *Metrics) InstrumentorOption {
	return func(i *Instrumentor) {
		if m != nil {
			i.metrics = m.inner
		}
	}
}

// NewInstrumentor creates an instrumentor. ratio is the live pressure
// signal, typically memwatch.Sampler.CurrentRatio.
func NewInstrumentor(c *cache.Cache, stats *Stats, ratio func() float64, opts ...InstrumentorOption) *Instrumentor {
	i := &Instrumentor{
		cache:   c,
		stats:   stats,
		ratio:   ratio,
		ceiling: DefaultPressureCeiling,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Wrap returns fn instrumented per opts. Every call through the returned
// function is gated on memory pressure, consulted against the cache when
// eligible, and recorded into the stats aggregate. Underlying errors
// propagate unchanged after stats are recorded.
func (i *Instrumentor) Wrap(fn QueryFunc, opts Options) QueryFunc {
	name := opts.Name
	if name == "" {
		name = "unnamed"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	keyFn := opts.KeyFunc
	if keyFn == nil {
		keyFn = func(args []any) string { return DefaultKey(name, args) }
	}

	return func(ctx context.Context, args ...any) (any, error) {
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		if !opts.Eligibility.Allows(args) {
			v, elapsed, err := i.execute(ctx, name, fn, args)
			i.record(name, Outcome{
				Measured: err == nil,
				Latency:  elapsed,
				Err:      err != nil,
			})
			return v, err
		}

		key := keyFn(args)
		v, hit, err := i.cache.GetOrCompute(ctx, key, ttl, func() (any, error) {
			// The flight outlives any single caller: detach it from the
			// caller's cancellation so a timed-out waiter does not abort
			// the computation other waiters depend on. Latency is folded
			// into the stats on the flight's own goroutine; callers that
			// stop waiting share no state with it.
			v, d, err := i.execute(context.WithoutCancel(ctx), name, fn, args)
			if err != nil {
				return nil, err
			}
			i.stats.Observe(name, d)
			return v, nil
		})

		i.record(name, Outcome{
			Hit:           hit,
			CacheEligible: true,
			Err:           err != nil,
		})
		return v, err
	}
}

// execute runs the underlying query under the memory-pressure gate,
// measuring wall-clock latency.
func (i *Instrumentor) execute(ctx context.Context, name string, fn QueryFunc, args []any) (any, time.Duration, error) {
	if r := i.ratio(); r > i.ceiling {
		i.log.Warn("query rejected under memory pressure",
			zap.String("query", name),
			zap.Float64("heap_ratio", r),
			zap.Float64("ceiling", i.ceiling),
		)
		if i.metrics != nil {
			i.metrics.rejections.WithLabelValues(name).Inc()
		}
		return nil, 0, fmt.Errorf("query %q: %w", name, ErrMemoryPressure)
	}

	start := i.now()
	v, err := fn(ctx, args...)
	elapsed := i.now().Sub(start)

	if i.metrics != nil {
		i.metrics.observe(name, elapsed, err)
	}
	return v, elapsed, err
}

func (i *Instrumentor) record(name string, out Outcome) {
	i.stats.Record(name, out)
}

// DefaultKey derives a cache key from the query name and a digest of the
// JSON-serialized arguments. Falls back to fmt formatting for values JSON
// cannot encode.
func DefaultKey(name string, args []any) string {
	payload, err := json.Marshal(args)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", args))
	}
	sum := sha256.Sum256(payload)
	return name + ":" + hex.EncodeToString(sum[:])
}
