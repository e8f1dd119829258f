package anomaly

import (
	"context"
	"log/slog"

	"rollcall/internal/anomaly/metrics"
	"rollcall/internal/domain"
	"rollcall/pkg/platform/events"
)

// EventSink receives anomaly notifications. Satisfied by the events
// publisher.
type EventSink interface {
	PublishAnomaly(ctx context.Context, event events.Anomaly)
}

// Worker runs detection on its own goroutine, fed by the ingestion
// path through Observe. It shares no locks with aggregation or
// finalization; a slow detector can only delay anomaly records, never
// attendance.
type Worker struct {
	inbox    chan domain.EvidenceSubmission
	detector *Detector
	store    Store
	sink     EventSink
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type WorkerOption func(*Worker)

func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

func WithWorkerMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

func WithEventSink(sink EventSink) WorkerOption {
	return func(w *Worker) { w.sink = sink }
}

func NewWorker(detector *Detector, store Store, buffer int, opts ...WorkerOption) *Worker {
	if buffer <= 0 {
		buffer = 256
	}
	w := &Worker{
		inbox:    make(chan domain.EvidenceSubmission, buffer),
		detector: detector,
		store:    store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Observe hands evidence to the worker without blocking. A full inbox
// drops the observation; detection is best-effort.
func (w *Worker) Observe(ev domain.EvidenceSubmission) {
	select {
	case w.inbox <- ev:
	default:
		w.metrics.IncrementDropped()
		w.logger.Warn("anomaly inbox full, dropping observation",
			"evidence_id", ev.ID.String(),
		)
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.inbox:
			w.process(ctx, ev)
		}
	}
}

func (w *Worker) process(ctx context.Context, ev domain.EvidenceSubmission) {
	records, err := w.detector.Detect(ctx, ev)
	if err != nil {
		w.logger.Error("anomaly detection failed",
			"error", err,
			"evidence_id", ev.ID.String(),
		)
		return
	}
	for _, record := range records {
		if err := w.store.Save(ctx, record); err != nil {
			w.logger.Error("save anomaly",
				"error", err,
				"type", record.Type.String(),
				"subject_id", record.SubjectID.String(),
			)
			continue
		}
		w.metrics.IncrementDetected(record.Type.String(), record.Severity.String())
		w.logger.Warn("anomaly recorded",
			"type", record.Type.String(),
			"severity", record.Severity.String(),
			"subject_id", record.SubjectID.String(),
			"session_id", record.SessionID.String(),
			"implied_speed_kmh", record.ImpliedSpeed,
		)
		if w.sink != nil {
			refs := make([]string, 0, len(record.EvidenceRefs))
			for _, ref := range record.EvidenceRefs {
				refs = append(refs, ref.String())
			}
			w.sink.PublishAnomaly(ctx, events.Anomaly{
				SubjectID:    record.SubjectID,
				SessionID:    record.SessionID,
				Type:         record.Type.String(),
				Severity:     record.Severity.String(),
				EvidenceRefs: refs,
				DetectedAt:   record.DetectedAt,
			})
		}
	}
}
