// Package metrics carries the teacher's Prometheus instrumentation style
// (internal/metrics/metrics.go's GaugeVec/HistogramVec/CounterVec +
// init()-registration) into the sandbox lifecycle engine, replacing the
// SaaS control-plane metrics (HTTP requests, billing, fleet scaling) the
// teacher tracked with metrics for the engine's own lifecycle.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SandboxesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pybubble_sandboxes_active",
			Help: "Number of currently constructed (not yet closed) sandbox instances",
		},
	)

	SandboxCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pybubble_sandbox_create_duration_seconds",
			Help:    "Time to construct a sandbox: rootfs prepare, overlay mount, fabric bring-up",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		},
	)

	ExecDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pybubble_exec_duration_seconds",
			Help:    "Time from Run() to the child's exit",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0, 60.0},
		},
		[]string{"timed_out"},
	)

	ArchiveCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pybubble_archive_cache_hits_total",
			Help: "Prepare() calls that found an already-extracted cache entry",
		},
	)

	ArchiveCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pybubble_archive_cache_misses_total",
			Help: "Prepare() calls that had to extract a fresh cache entry",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SandboxesActive,
		SandboxCreateDuration,
		ExecDuration,
		ArchiveCacheHits,
		ArchiveCacheMisses,
	)
}
