package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the session lifecycle.
type Metrics struct {
	Transitions  *prometheus.CounterVec
	RoundsClosed prometheus.Counter
	SweepMissed  prometheus.Counter
}

// New creates a new Metrics instance with all lifecycle metrics registered.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_session_transitions_total",
			Help: "Session status transitions by target status",
		}, []string{"to"}),

		RoundsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_rounds_closed_total",
			Help: "Total rounds driven to completed",
		}),

		SweepMissed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_sessions_missed_total",
			Help: "Sessions swept to missed after exceeding the missed threshold",
		}),
	}
}

// IncrementTransition records a session transition.
func (m *Metrics) IncrementTransition(to string) {
	if m != nil {
		m.Transitions.WithLabelValues(to).Inc()
	}
}

// IncrementRoundsClosed records a round closure.
func (m *Metrics) IncrementRoundsClosed() {
	if m != nil {
		m.RoundsClosed.Inc()
	}
}

// IncrementSweepMissed records a session swept to missed.
func (m *Metrics) IncrementSweepMissed() {
	if m != nil {
		m.SweepMissed.Inc()
	}
}
