package dedup

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records engine activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Operations     *prometheus.CounterVec
	LookupDuration *prometheus.HistogramVec
	PartialMatches prometheus.Histogram
	BreakerState   *prometheus.GaugeVec
}

// NewMetrics registers the engine metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "patient_dedup_operations_total",
			Help: "Deduplication operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		LookupDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "patient_dedup_lookup_duration_seconds",
			Help:    "Duration of record store lookups issued by the engine",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"kind", "outcome"}),
		PartialMatches: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "patient_dedup_partial_matches",
			Help:    "Number of partial matches returned per FindMatches call",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "patient_dedup_store_breaker_open",
			Help: "1 while the record store circuit breaker is open",
		}, []string{"breaker"}),
	}
}

func (m *Metrics) observeOperation(op, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
}

// observeLookup records the duration of a lookup started at start.
func (m *Metrics) observeLookup(kind string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LookupDuration.WithLabelValues(kind, outcome).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observePartialMatches(n int) {
	if m == nil {
		return
	}
	m.PartialMatches.Observe(float64(n))
}

func (m *Metrics) setBreakerOpen(name string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.BreakerState.WithLabelValues(name).Set(v)
}
