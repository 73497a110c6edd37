package router

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors of the router.
type Metrics struct {
	routeSearch   *prometheus.HistogramVec
	quotes        *prometheus.CounterVec
	scanDuration  prometheus.Histogram
	cyclesFound   prometheus.Counter
	rejectedEdges prometheus.Counter
	bundles       *prometheus.CounterVec
}

// NewMetrics creates the router collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		routeSearch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "router",
			Name:      "route_search_duration_seconds",
			Help:      "Route search latency by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"outcome"}),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "router",
			Name:      "quotes_total",
			Help:      "Quotes served by outcome.",
		}, []string{"outcome"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "router",
			Name:      "scan_duration_seconds",
			Help:      "Arbitrage scan latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		cyclesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "router",
			Name:      "arbitrage_cycles_found_total",
			Help:      "Profitable cycles reported by scans.",
		}),
		rejectedEdges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "router",
			Name:      "rejected_edges_total",
			Help:      "Pools dropped while building graphs.",
		}),
		bundles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "router",
			Name:      "bundles_total",
			Help:      "Bundles built by mode.",
		}, []string{"mode"}),
	}
	reg.MustRegister(m.routeSearch, m.quotes, m.scanDuration, m.cyclesFound, m.rejectedEdges, m.bundles)
	return m
}
