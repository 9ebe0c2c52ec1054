package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the engine's operational counters. Registration happens
// once per registry; the CLI wires the default registry, tests pass their
// own.
type Metrics struct {
	ObstaclesTotal    *prometheus.CounterVec
	ExploitsTotal     *prometheus.CounterVec
	AbandonmentsTotal *prometheus.CounterVec
	ProbesTotal       prometheus.Counter
	AnomaliesTotal    prometheus.Counter
	ScoreObserved     prometheus.Histogram
}

// NewMetrics creates and registers the engine metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ObstaclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bypassforge",
			Name:      "obstacles_total",
			Help:      "Obstacle events processed, by lane and classification.",
		}, []string{"lane", "classification"}),
		ExploitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bypassforge",
			Name:      "exploits_total",
			Help:      "Confirmed bypasses, by lane.",
		}, []string{"lane"}),
		AbandonmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bypassforge",
			Name:      "abandonments_total",
			Help:      "Abandoned obstacles, by reason.",
		}, []string{"reason"}),
		ProbesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bypassforge",
			Name:      "probes_total",
			Help:      "Mutated probes fired at targets.",
		}),
		AnomaliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bypassforge",
			Name:      "anomalies_total",
			Help:      "Anomaly records appended.",
		}),
		ScoreObserved: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bypassforge",
			Name:      "attempt_score",
			Help:      "Weighted attempt scores.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
	reg.MustRegister(
		m.ObstaclesTotal,
		m.ExploitsTotal,
		m.AbandonmentsTotal,
		m.ProbesTotal,
		m.AnomaliesTotal,
		m.ScoreObserved,
	)
	return m
}
