package query

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds per-query Prometheus collectors, labeled by query name.
type Metrics struct {
	inner *queryMetrics
}

type queryMetrics struct {
	calls      *prometheus.CounterVec
	errors     *prometheus.CounterVec
	rejections *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewMetrics creates and registers query collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &queryMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bifrost",
			Subsystem: "query",
			Name:      "executions_total",
			Help:      "Total number of underlying query executions",
		}, []string{"query"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bifrost",
			Subsystem: "query",
			Name:      "errors_total",
			Help:      "Total number of failed underlying query executions",
		}, []string{"query"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bifrost",
			Subsystem: "query",
			Name:      "pressure_rejections_total",
			Help:      "Total number of queries rejected by the memory-pressure gate",
		}, []string{"query"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bifrost",
			Subsystem: "query",
			Name:      "latency_seconds",
			Help:      "Wall-clock latency of underlying query executions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
	}

	for _, col := range []prometheus.Collector{m.calls, m.errors, m.rejections, m.latency} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return &Metrics{inner: m}, nil
}

func (m *queryMetrics) observe(name string, elapsed time.Duration, err error) {
	m.calls.WithLabelValues(name).Inc()
	if err != nil {
		m.errors.WithLabelValues(name).Inc()
		return
	}
	m.latency.WithLabelValues(name).Observe(elapsed.Seconds())
}
