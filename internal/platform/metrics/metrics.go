package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds application-level Prometheus metrics shared across
// features. Feature packages register their own metrics locally.
type Metrics struct {
	SessionsCreated prometheus.Counter
	HTTPDuration    *prometheus.HistogramVec
}

// New creates and registers application-level metrics.
func New() *Metrics {
	return &Metrics{
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollcall_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "status"}),
	}
}

// IncrementSessionsCreated increments the sessions created counter by 1.
func (m *Metrics) IncrementSessionsCreated() {
	if m != nil {
		m.SessionsCreated.Inc()
	}
}

// ObserveHTTP records a request duration.
func (m *Metrics) ObserveHTTP(route, status string, seconds float64) {
	if m != nil {
		m.HTTPDuration.WithLabelValues(route, status).Observe(seconds)
	}
}
