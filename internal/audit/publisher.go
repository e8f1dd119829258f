package audit

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Publisher hands events to the worker without blocking domain code.
// A full inbox drops the event and logs; audit loss must never fail
// the operation being audited.
type Publisher struct {
	inbox  chan<- Event
	logger *slog.Logger
	now    func() time.Time
}

type PublisherOption func(*Publisher)

func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPublisher(inbox chan<- Event, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		inbox:  inbox,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Emit(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.Warn("audit inbox full, dropping event",
			"action", event.Action,
			"session_id", event.SessionID.String(),
		)
	}
}
