// Package bifrost is the top-level facade over the memory-aware database
// access layer. A Manager owns the connection registry, the result cache,
// the heap sampler, per-query statistics and the performance analyzer, and
// wires them together from one Config.
//
// Example:
//
//	cfg := config.LoadFromEnv()
//	mgr, err := bifrost.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer mgr.Close()
//
//	mgr.RegisterConnection("primary", pgPool, registry.Metadata{
//		Backend:   registry.BackendRelational,
//		IsPrimary: true,
//	})
//
//	fetchUser := mgr.OptimizeQuery(rawFetchUser, query.Options{
//		Name:        "fetchUser",
//		Eligibility: query.CacheAlways(),
//	})
package bifrost

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/orneryd/bifrost/pkg/analyzer"
	"github.com/orneryd/bifrost/pkg/cache"
	"github.com/orneryd/bifrost/pkg/config"
	"github.com/orneryd/bifrost/pkg/memwatch"
	"github.com/orneryd/bifrost/pkg/query"
	"github.com/orneryd/bifrost/pkg/registry"
)

// Statistics is a read-only snapshot of every subsystem at one moment.
type Statistics struct {
	Connections []*registry.Record `json:"connections"`
	Queries     []query.Record     `json:"queries"`
	Cache       cache.Stats        `json:"cache"`
	Memory      memwatch.Sample    `json:"memory"`
}

// Manager owns and coordinates the subsystems. All methods are safe for
// concurrent use.
type Manager struct {
	cfg      *config.Config
	log      *zap.Logger
	sampler  *memwatch.Sampler
	cache    *cache.Cache
	registry *registry.Registry
	stats    *query.Stats
	inst     *query.Instrumentor
	analyzer *analyzer.Analyzer

	// pressureRatio is the signal eviction batches re-check between rounds.
	pressureRatio func() float64

	closeOnce    sync.Once
	loopShutdown chan struct{}
	loopDone     chan struct{}
}

// Option configures a Manager beyond what Config carries.
type Option func(*managerOptions)

type managerOptions struct {
	log        *zap.Logger
	registerer prometheus.Registerer
}

// WithLogger attaches a logger. Default: a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *managerOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// WithRegisterer supplies the Prometheus registerer metrics are registered
// against when the config enables them. Default: the global default
// registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *managerOptions) {
		if reg != nil {
			o.registerer = reg
		}
	}
}

// New validates cfg, builds every subsystem and starts background sampling.
// When the config sets an analysis interval, a background loop runs
// analysis passes and triggers cache eviction on high heap utilization.
func New(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.LoadDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mo := managerOptions{
		log:        zap.NewNop(),
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&mo)
	}

	cacheOpts := []cache.Option{cache.WithSweepInterval(cfg.Cache.SweepInterval)}
	if cfg.Cache.MetricsEnabled {
		cacheOpts = append(cacheOpts, cache.WithMetrics(mo.registerer))
	}
	resultCache, err := cache.New(cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("result cache: %w", err)
	}

	sampler := memwatch.NewSampler(cfg.Memory.LimitMB())
	stats := query.NewStats()

	instOpts := []query.InstrumentorOption{
		query.WithCeiling(cfg.Memory.PressureCeiling),
		query.WithLogger(mo.log),
	}
	if cfg.Cache.MetricsEnabled {
		queryMetrics, err := query.NewMetrics(mo.registerer)
		if err != nil {
			resultCache.Close()
			return nil, fmt.Errorf("query metrics: %w", err)
		}
		instOpts = append(instOpts, query.WithMetrics(queryMetrics))
	}

	m := &Manager{
		cfg:      cfg,
		log:      mo.log,
		sampler:  sampler,
		cache:    resultCache,
		registry: registry.New(),
		stats:    stats,
		inst:     query.NewInstrumentor(resultCache, stats, sampler.CurrentRatio, instOpts...),
	}
	m.pressureRatio = func() float64 {
		// Freed entries only show up in heap readings after a collection;
		// without one the eviction loop would drain the cache every time.
		runtime.GC()
		return m.sampler.Sample().HeapUsedRatio
	}
	m.analyzer = analyzer.New(
		sampler.Current,
		resultCache.Stats,
		stats.Snapshot,
		analyzer.Thresholds{
			HighWaterRatio:    cfg.Memory.HighWaterRatio,
			SlowQuery:         cfg.Analyzer.SlowQueryThreshold,
			MinSamples:        cfg.Analyzer.MinSamples,
			CacheCapacityHint: cfg.Cache.CapacityHint,
		},
	)

	sampler.Start(cfg.Memory.SampleInterval)

	if cfg.Analyzer.Interval > 0 {
		m.loopShutdown = make(chan struct{})
		m.loopDone = make(chan struct{})
		go m.analysisLoop(cfg.Analyzer.Interval)
	}
	return m, nil
}

// RegisterConnection wraps a raw database handle under a unique name. The
// handle is held opaquely and returned as-is from Connection.
func (m *Manager) RegisterConnection(name string, raw any, meta registry.Metadata) (*registry.Record, error) {
	rec, err := m.registry.Register(name, raw, meta)
	if err != nil {
		return nil, err
	}
	m.log.Info("connection registered",
		zap.String("name", rec.Name),
		zap.String("backend", string(rec.Backend)),
		zap.Bool("primary", rec.IsPrimary),
	)
	return rec, nil
}

// Connection returns the named connection record.
func (m *Manager) Connection(name string) (*registry.Record, error) {
	return m.registry.Get(name)
}

// UnregisterConnection removes the named connection. Cached results derived
// from it are left to expire by TTL.
func (m *Manager) UnregisterConnection(name string) error {
	return m.registry.Unregister(name)
}

// OptimizeQuery instruments fn with caching, the memory-pressure gate and
// statistics. When opts.TTL is zero the config's default TTL applies.
func (m *Manager) OptimizeQuery(fn query.QueryFunc, opts query.Options) query.QueryFunc {
	if opts.TTL <= 0 {
		opts.TTL = m.cfg.Cache.DefaultTTL
	}
	return m.inst.Wrap(fn, opts)
}

// GetStatistics snapshots all subsystems.
func (m *Manager) GetStatistics() Statistics {
	return Statistics{
		Connections: m.registry.List(),
		Queries:     m.stats.Snapshot(),
		Cache:       m.cache.Stats(),
		Memory:      m.sampler.Current(),
	}
}

// AnalyzeQueryPerformance runs one analysis pass.
func (m *Manager) AnalyzeQueryPerformance() analyzer.Report {
	return m.analyzer.Analyze()
}

// ClearQueryCache drops every cached result. Statistics counters are kept.
func (m *Manager) ClearQueryCache() {
	m.cache.Clear()
	m.log.Info("query cache cleared")
}

// EvictUnderPressure evicts oldest cached results until the heap ratio
// drops to the configured recovery target, returning the evicted count.
// A garbage collection runs before each probe so freed entries register in
// the heap reading and batches can stop early.
func (m *Manager) EvictUnderPressure() int {
	evicted := m.cache.EvictUnderPressure(m.cfg.Memory.RecoveryTarget, m.pressureRatio)
	if evicted > 0 {
		m.log.Warn("evicted cached results under memory pressure",
			zap.Int("evicted", evicted),
			zap.Float64("target_ratio", m.cfg.Memory.RecoveryTarget),
		)
	}
	return evicted
}

// Close stops the background loops and the cache sweeper. Idempotent.
// Registered raw handles are not closed; their owners hold them.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		if m.loopShutdown != nil {
			close(m.loopShutdown)
			<-m.loopDone
		}
		m.sampler.Stop()
		m.cache.Close()
		m.log.Info("bifrost manager closed")
	})
	return nil
}

// analysisLoop periodically analyzes performance, logs findings and reacts
// to high heap utilization with eviction.
func (m *Manager) analysisLoop(interval time.Duration) {
	defer close(m.loopDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.loopShutdown:
			return
		case <-ticker.C:
			report := m.analyzer.Analyze()
			for _, issue := range report.Issues {
				m.log.Warn("performance issue detected",
					zap.String("type", string(issue.Type)),
					zap.String("severity", string(issue.Severity)),
					zap.String("message", issue.Message),
					zap.String("query", issue.RelatedQuery),
				)
				if issue.Type == analyzer.IssueHighUtilization {
					m.EvictUnderPressure()
				}
			}
		}
	}
}
