package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type options struct {
	sweepInterval time.Duration
	now           func() time.Time
	registerer    prometheus.Registerer
}

func defaultOptions() *options {
	return &options{
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
	}
}

// Option configures a Cache.
type Option func(*options)

// WithSweepInterval overrides the background expiry sweep cadence.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.sweepInterval = d
		}
	}
}

// WithClock replaces the time source. TTL tests use this to control expiry
// deterministically.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics registers cache counters and gauges with the given Prometheus
// registerer. Without it the cache keeps only its internal statistics.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}
