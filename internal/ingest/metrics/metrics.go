package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for evidence ingestion.
type Metrics struct {
	Submissions *prometheus.CounterVec
	Duplicates  prometheus.Counter
	Unvalidated prometheus.Counter
	DeadLetters prometheus.Counter
}

// New creates a new Metrics instance with all ingestion metrics registered.
func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_ingest_submissions_total",
			Help: "Evidence submissions by outcome (accepted, rejected reason)",
		}, []string{"outcome"}),

		Duplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_ingest_duplicates_total",
			Help: "Submissions collapsed onto an existing idempotency key",
		}),

		Unvalidated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_ingest_unvalidated_total",
			Help: "Submissions stored before whitelist generation",
		}),

		DeadLetters: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_ingest_dead_letters_total",
			Help: "Queue messages routed to the dead-letter topic",
		}),
	}
}

// IncrementSubmission records one submission outcome.
func (m *Metrics) IncrementSubmission(outcome string) {
	if m != nil {
		m.Submissions.WithLabelValues(outcome).Inc()
	}
}

// IncrementDuplicate records an idempotent no-op.
func (m *Metrics) IncrementDuplicate() {
	if m != nil {
		m.Duplicates.Inc()
	}
}

// IncrementUnvalidated records a whitelist-gated submission.
func (m *Metrics) IncrementUnvalidated() {
	if m != nil {
		m.Unvalidated.Inc()
	}
}

// IncrementDeadLetter records a dead-lettered message.
func (m *Metrics) IncrementDeadLetter() {
	if m != nil {
		m.DeadLetters.Inc()
	}
}
