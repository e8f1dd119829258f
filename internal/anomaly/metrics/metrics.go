package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for anomaly detection.
type Metrics struct {
	Detected *prometheus.CounterVec
	Dropped  prometheus.Counter
}

// New creates a new Metrics instance with all detection metrics registered.
func New() *Metrics {
	return &Metrics{
		Detected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_anomaly_detected_total",
			Help: "Anomalies recorded, by type and severity",
		}, []string{"type", "severity"}),

		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_anomaly_dropped_total",
			Help: "Evidence observations dropped because the detection inbox was full",
		}),
	}
}

// IncrementDetected records one anomaly.
func (m *Metrics) IncrementDetected(anomalyType, severity string) {
	if m != nil {
		m.Detected.WithLabelValues(anomalyType, severity).Inc()
	}
}

// IncrementDropped records one dropped observation.
func (m *Metrics) IncrementDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}
