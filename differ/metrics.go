package differ

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors of the snapshot differ.
type Metrics struct {
	diffDuration *prometheus.HistogramVec
	poolChanges  *prometheus.CounterVec
	diffErrors   prometheus.Counter
}

// NewMetrics creates the differ collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		diffDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "router",
			Subsystem: "differ",
			Name:      "diff_duration_seconds",
			Help:      "Time taken to diff two pool snapshots.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{}),
		poolChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "router",
			Subsystem: "differ",
			Name:      "pool_changes_total",
			Help:      "Pool changes between snapshots, by kind.",
		}, []string{"change"}),
		diffErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "router",
			Subsystem: "differ",
			Name:      "errors_total",
			Help:      "Snapshot pairs that could not be diffed.",
		}),
	}
	reg.MustRegister(m.diffDuration, m.poolChanges, m.diffErrors)
	return m
}
