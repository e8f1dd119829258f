package audit

import (
	"context"
	"log/slog"
)

// Worker drains the audit inbox into the store on its own goroutine so
// writes never sit on the request path.
type Worker struct {
	inbox  <-chan Event
	store  Store
	logger *slog.Logger
}

type WorkerOption func(*Worker)

func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

func NewWorker(inbox <-chan Event, store Store, opts ...WorkerOption) *Worker {
	w := &Worker{
		inbox:  inbox,
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is cancelled, then drains whatever is already
// buffered before returning.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case event := <-w.inbox:
			w.append(event)
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case event := <-w.inbox:
			w.append(event)
		default:
			return
		}
	}
}

func (w *Worker) append(event Event) {
	// Background context: shutdown of the run loop must not abort the
	// final writes.
	if err := w.store.Append(context.Background(), event); err != nil {
		w.logger.Error("append audit event",
			"error", err,
			"action", event.Action,
			"session_id", event.SessionID.String(),
		)
	}
}
