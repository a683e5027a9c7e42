// Package metrics defines the Prometheus collectors the engine controller
// updates as it runs. There is no HTTP exposition here — network transport
// is an explicit Non-goal — so collectors are registered into a
// private registry and read back through Gather, letting an embedder wire
// them into whatever scrape path it already has.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the collectors for one engine instance.
type Metrics struct {
	registry *prometheus.Registry

	PutsTotal      *prometheus.CounterVec
	DeletesTotal   *prometheus.CounterVec
	SearchesTotal  prometheus.Counter
	SearchLatency  prometheus.Histogram
	MergesTotal    prometheus.Counter
	OptimizesTotal *prometheus.CounterVec
	LiteIndexBytes prometheus.Gauge
	DocumentCount  prometheus.Gauge
}

// New creates and registers all collectors for one engine instance. Each
// engine gets its own registry so multiple engine instances in one process
// (e.g. in tests) don't collide on metric names.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icing_puts_total",
				Help: "Total Put operations by outcome.",
			},
			[]string{"outcome"},
		),
		DeletesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icing_deletes_total",
				Help: "Total delete operations by kind.",
			},
			[]string{"kind"},
		),
		SearchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "icing_searches_total",
				Help: "Total Search operations.",
			},
		),
		SearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "icing_search_latency_seconds",
				Help:    "Search operation latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		MergesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "icing_lite_index_merges_total",
				Help: "Total lite-into-main index merges.",
			},
		),
		OptimizesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icing_optimize_total",
				Help: "Total Optimize runs by outcome.",
			},
			[]string{"outcome"},
		),
		LiteIndexBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "icing_lite_index_bytes",
				Help: "Bytes currently buffered in the lite index.",
			},
		),
		DocumentCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "icing_document_count",
				Help: "Number of observable (non-deleted, non-expired) documents.",
			},
		),
	}

	m.registry.MustRegister(
		m.PutsTotal,
		m.DeletesTotal,
		m.SearchesTotal,
		m.SearchLatency,
		m.MergesTotal,
		m.OptimizesTotal,
		m.LiteIndexBytes,
		m.DocumentCount,
	)

	return m
}

// Gatherer exposes the underlying registry so an embedder can fold it into
// its own scrape path without this package knowing about HTTP.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }
