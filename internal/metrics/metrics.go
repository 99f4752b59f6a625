// Package metrics exposes pipeline counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	CycleOK         = "ok"
	CycleStoreError = "store_error"
)

type Metrics struct {
	readingsIngested   prometheus.Counter
	validationFailures prometheus.Counter
	cycles             *prometheus.CounterVec
	coalesced          prometheus.Counter
	classifierFailures prometheus.Counter
	classified         prometheus.Counter
	broadcasts         prometheus.Counter
	sessions           prometheus.Gauge
	cycleDuration      prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		readingsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkmon_readings_ingested_total",
			Help: "Readings accepted and written to the store.",
		}),
		validationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkmon_validation_failures_total",
			Help: "Ingestion payloads rejected by validation.",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkmon_aggregation_cycles_total",
			Help: "Aggregation cycles by outcome.",
		}, []string{"result"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkmon_aggregation_coalesced_total",
			Help: "Cycle triggers folded into an already pending cycle.",
		}),
		classifierFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkmon_classifier_failures_total",
			Help: "Classifier calls that failed or timed out.",
		}),
		classified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkmon_classified_readings_total",
			Help: "Readings whose warning state was resolved by the classifier.",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkmon_broadcasts_total",
			Help: "Snapshots broadcast to live sessions.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linkmon_sessions",
			Help: "Currently registered live sessions.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linkmon_cycle_duration_seconds",
			Help:    "Duration of one fetch, classify and publish cycle.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}

	reg.MustRegister(
		m.readingsIngested,
		m.validationFailures,
		m.cycles,
		m.coalesced,
		m.classifierFailures,
		m.classified,
		m.broadcasts,
		m.sessions,
		m.cycleDuration,
	)
	return m
}

func (m *Metrics) ReadingsIngested(n int) {
	if m == nil {
		return
	}
	m.readingsIngested.Add(float64(n))
}

func (m *Metrics) ValidationFailed() {
	if m == nil {
		return
	}
	m.validationFailures.Inc()
}

func (m *Metrics) CycleCompleted(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(took.Seconds())
}

func (m *Metrics) TriggerCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

func (m *Metrics) ClassifierFailed() {
	if m == nil {
		return
	}
	m.classifierFailures.Inc()
}

func (m *Metrics) ReadingsClassified(n int) {
	if m == nil {
		return
	}
	m.classified.Add(float64(n))
}

func (m *Metrics) Broadcast() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}
