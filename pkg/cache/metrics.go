package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// cacheMetrics exposes cache counters as Prometheus metrics.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	stores    prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

func newCacheMetrics(reg prometheus.Registerer) (*cacheMetrics, error) {
	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bifrost",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of result cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bifrost",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of result cache misses",
		}),
		stores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bifrost",
			Subsystem: "cache",
			Name:      "stores_total",
			Help:      "Total number of resolved entries stored",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bifrost",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of entries evicted by expiry or pressure",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bifrost",
			Subsystem: "cache",
			Name:      "size",
			Help:      "Current number of resolved entries in the cache",
		}),
	}

	for _, col := range []prometheus.Collector{m.hits, m.misses, m.stores, m.evictions, m.size} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return m, nil
}
