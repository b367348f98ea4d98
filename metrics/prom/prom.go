// Package prom subscribes a Prometheus adapter to a framecache event bus
// and exports cache hit/miss, load-latency, memory, alert and preload-pause
// metrics. Evictions are not exported.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/annoframe/framecache/events"
)

// Adapter subscribes to a Bus and exports Prometheus metrics for every
// event kind the cache core publishes. Safe for concurrent use; all
// Prometheus metric types are goroutine-safe, and Bus delivers to
// subscribers synchronously from the publisher's goroutine.
type Adapter struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	loadMs    prometheus.Histogram
	resident  prometheus.Gauge
	hardLimit prometheus.Gauge
	usage     prometheus.Gauge
	warnings  *prometheus.CounterVec
	paused    prometheus.Gauge
}

// New constructs a Prometheus metrics adapter and subscribes it to bus.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(bus *events.Bus, reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "cache_hits_total",
			Help: "Frame cache hits", ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "cache_misses_total",
			Help: "Frame cache misses", ConstLabels: constLabels,
		}),
		loadMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub, Name: "load_elapsed_ms",
			Help: "Loader latency on cache misses, milliseconds", ConstLabels: constLabels,
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		resident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "resident_bytes",
			Help: "Resident bytes across all cached frames", ConstLabels: constLabels,
		}),
		hardLimit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "hard_limit_bytes",
			Help: "Configured hard memory limit", ConstLabels: constLabels,
		}),
		usage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "memory_usage_ratio",
			Help: "Resident bytes divided by hard limit", ConstLabels: constLabels,
		}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "performance_warnings_total",
			Help: "Performance/budget warnings by metric and severity", ConstLabels: constLabels,
		}, []string{"metric", "severity"}),
		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "preload_paused",
			Help: "1 if background preloading is currently paused", ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.loadMs, a.resident, a.hardLimit, a.usage, a.warnings, a.paused)

	events.Subscribe(bus, func(events.CacheHit) { a.hits.Inc() })
	events.Subscribe(bus, func(e events.CacheMiss) {
		a.misses.Inc()
		a.loadMs.Observe(e.LoadElapsedMs)
	})
	events.Subscribe(bus, func(e events.MemoryUsage) {
		a.resident.Set(float64(e.ResidentBytes))
		a.hardLimit.Set(float64(e.HardLimit))
		a.usage.Set(e.UsageRatio)
	})
	events.Subscribe(bus, func(e events.PerformanceWarning) {
		a.warnings.WithLabelValues(e.Metric, e.Severity.String()).Inc()
	})
	events.Subscribe(bus, func(events.PreloadPaused) { a.paused.Set(1) })
	events.Subscribe(bus, func(events.PreloadResumed) { a.paused.Set(0) })

	return a
}
