package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for attendance finalization.
type Metrics struct {
	Finalizations       *prometheus.CounterVec
	Overrides           prometheus.Counter
	FinalizationLatency prometheus.Histogram
}

// New creates a new Metrics instance with all finalization metrics registered.
func New() *Metrics {
	return &Metrics{
		Finalizations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_finalize_records_total",
			Help: "Final attendance records written, by status and origin",
		}, []string{"status", "origin"}),

		Overrides: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_finalize_overrides_total",
			Help: "Manual attendance overrides recorded",
		}),

		FinalizationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rollcall_finalize_session_duration_seconds",
			Help:    "Duration of full-session finalization passes",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// IncrementFinalization records one written final attendance record.
func (m *Metrics) IncrementFinalization(status, origin string) {
	if m != nil {
		m.Finalizations.WithLabelValues(status, origin).Inc()
	}
}

// IncrementOverride records one manual override.
func (m *Metrics) IncrementOverride() {
	if m != nil {
		m.Overrides.Inc()
	}
}

// ObserveFinalization records the duration of a session finalization pass.
func (m *Metrics) ObserveFinalization(d time.Duration) {
	if m != nil {
		m.FinalizationLatency.Observe(d.Seconds())
	}
}
