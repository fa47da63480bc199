// Package observability holds the Prometheus metrics of the risk service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joeblew999/plat-forest/internal/risk"
)

// Metrics holds the Prometheus counters and histograms for aggregation.
type Metrics struct {
	Aggregations      *prometheus.CounterVec // labels: policy={include,exclude}
	FeaturesProcessed prometheus.Counter
	InvalidFeatures   prometheus.Counter
	UnrankedFeatures  prometheus.Counter
	UndefinedIndex    prometheus.Counter
	AggregateDuration prometheus.Histogram
	SnapshotsRecorded prometheus.Counter
	DatasetLoadErrors prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		Aggregations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forest_risk",
			Name:      "aggregations_total",
			Help:      "Aggregation passes by unranked policy.",
		}, []string{"policy"}),
		FeaturesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forest_risk",
			Name:      "features_processed_total",
			Help:      "Features read by the aggregator.",
		}),
		InvalidFeatures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forest_risk",
			Name:      "invalid_features_total",
			Help:      "Features skipped for an invalid area or severity.",
		}),
		UnrankedFeatures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forest_risk",
			Name:      "unranked_features_total",
			Help:      "Features whose severity is outside 0-4.",
		}),
		UndefinedIndex: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forest_risk",
			Name:      "undefined_index_total",
			Help:      "Aggregations over a zero total area.",
		}),
		AggregateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forest_risk",
			Name:      "aggregate_duration_seconds",
			Help:      "Duration of load plus aggregation of a dataset.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		SnapshotsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forest_risk",
			Name:      "snapshots_recorded_total",
			Help:      "Aggregate snapshots written to DuckDB.",
		}),
		DatasetLoadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forest_risk",
			Name:      "dataset_load_errors_total",
			Help:      "Source files that could not be read or parsed.",
		}),
	}
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(
		m.Aggregations,
		m.FeaturesProcessed,
		m.InvalidFeatures,
		m.UnrankedFeatures,
		m.UndefinedIndex,
		m.AggregateDuration,
		m.SnapshotsRecorded,
		m.DatasetLoadErrors,
	)
	return m
}

// RegisterBusDropped exposes the number of events the dataset bus dropped for
// slow subscribers.
func RegisterBusDropped(reg prometheus.Registerer, dropped func() int) {
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "forest_risk",
		Name:      "bus_dropped_events_total",
		Help:      "Dataset events dropped because a subscriber was not keeping up.",
	}, func() float64 { return float64(dropped()) }))
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as
// many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// ObserveResult records the counters of one aggregation.
func (m *Metrics) ObserveResult(res risk.Result) {
	m.Aggregations.WithLabelValues(res.Policy.String()).Inc()
	m.FeaturesProcessed.Add(float64(res.FeatureCount))
	m.InvalidFeatures.Add(float64(res.InvalidCount))
	m.UnrankedFeatures.Add(float64(res.UnrankedCount))
	if res.TotalArea == 0 {
		m.UndefinedIndex.Inc()
	}
}
