package netfabric

import "github.com/prometheus/client_golang/prometheus"

// Ambient observability for the network fabric, following the
// GaugeVec/HistogramVec/CounterVec + init()-registration style of
// internal/metrics/metrics.go, scoped down from a fleet of workers to a
// single process's sandbox fabrics.
var (
	namespaceReadyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pybubble_namespace_ready_duration_seconds",
			Help:    "Time from watchdog spawn to namespace_ready",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		},
	)

	forwardPortTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pybubble_forward_port_total",
			Help: "Total forward_port calls by protocol and result",
		},
		[]string{"proto", "result"},
	)

	outboundAttached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pybubble_outbound_attached",
			Help: "Number of network fabrics currently running an outbound NAT",
		},
	)
)

func init() {
	prometheus.MustRegister(namespaceReadyDuration, forwardPortTotal, outboundAttached)
}
