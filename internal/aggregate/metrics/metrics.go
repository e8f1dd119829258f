package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the round aggregator.
type Metrics struct {
	Verdicts         *prometheus.CounterVec
	RoundPassLatency prometheus.Histogram
	Reprocessed      prometheus.Counter
	DiscardedStale   prometheus.Counter
}

// New creates a new Metrics instance with all aggregation metrics registered.
func New() *Metrics {
	return &Metrics{
		Verdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_aggregate_verdicts_total",
			Help: "Participation verdicts by mode and outcome",
		}, []string{"mode", "attended"}),

		RoundPassLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rollcall_aggregate_round_pass_duration_seconds",
			Help:    "Duration of full round-close aggregation passes",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		Reprocessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_aggregate_reprocessed_total",
			Help: "Unvalidated evidence rows validated after whitelist generation",
		}),

		DiscardedStale: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_aggregate_discarded_stale_total",
			Help: "Aggregation results discarded because the round was cancelled mid-flight",
		}),
	}
}

// IncrementVerdict records one participation verdict.
func (m *Metrics) IncrementVerdict(mode string, attended bool) {
	if m != nil {
		outcome := "false"
		if attended {
			outcome = "true"
		}
		m.Verdicts.WithLabelValues(mode, outcome).Inc()
	}
}

// ObserveRoundPass records the duration of a round-close pass.
func (m *Metrics) ObserveRoundPass(d time.Duration) {
	if m != nil {
		m.RoundPassLatency.Observe(d.Seconds())
	}
}

// IncrementReprocessed records one reprocessed evidence row.
func (m *Metrics) IncrementReprocessed() {
	if m != nil {
		m.Reprocessed.Inc()
	}
}

// IncrementDiscardedStale records a discarded stale aggregation.
func (m *Metrics) IncrementDiscardedStale() {
	if m != nil {
		m.DiscardedStale.Inc()
	}
}
