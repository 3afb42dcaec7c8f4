package platform

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "progsynth"

// Metrics are the run-level Prometheus collectors.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	GenerationsTotal   prometheus.Counter
	SolutionsTotal     prometheus.Counter
	StoredGenomesTotal prometheus.Counter
	SeedsLoadedTotal   *prometheus.CounterVec
	BestFitness        prometheus.Gauge
	BestAccuracy       prometheus.Gauge
	UniquePrograms     prometheus.Gauge
	AdvanceDuration    prometheus.Histogram
}

// NewMetrics registers the collectors with reg. A nil reg builds unregistered
// collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Finished evolution runs by stop reason.",
		}, []string{"reason"}),
		GenerationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "generations_total",
			Help:      "Generations advanced across all runs.",
		}),
		SolutionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "solutions_total",
			Help:      "Runs that found a program passing every case.",
		}),
		StoredGenomesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stored_genomes_total",
			Help:      "Genomes written to the repository.",
		}),
		SeedsLoadedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "seeds_loaded_total",
			Help:      "Seed programs offered to new populations by source.",
		}, []string{"source"}),
		BestFitness: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "best_fitness",
			Help:      "Best fitness of the most recent generation.",
		}),
		BestAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "best_accuracy",
			Help:      "Train accuracy of the best individual of the most recent generation.",
		}),
		UniquePrograms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "unique_programs",
			Help:      "Distinct programs in the most recent generation.",
		}),
		AdvanceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "advance_duration_seconds",
			Help:      "Time to build one generation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// DefaultMetrics registers with the global Prometheus registry once.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}
