// Package events publishes engine outcomes to Kafka for downstream
// consumers: grading systems, notification services, investigation
// queues. Publishing is best-effort behind a circuit breaker; the
// engine's own records are always the source of truth.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/circuit"
)

// FinalizedAttendance is emitted once per subject when a session's
// attendance is finalized, and again on manual override.
type FinalizedAttendance struct {
	SessionID  id.SessionID `json:"sessionId"`
	SubjectID  id.SubjectID `json:"subjectId"`
	Status     string       `json:"status"`
	Percentage float64      `json:"percentage"`
	IsManual   bool         `json:"isManual"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// Anomaly is emitted for every recorded anomaly so investigation
// tooling does not have to poll.
type Anomaly struct {
	SubjectID    id.SubjectID `json:"subjectId"`
	SessionID    id.SessionID `json:"sessionId"`
	Type         string       `json:"type"`
	Severity     string       `json:"severity"`
	EvidenceRefs []string     `json:"evidenceRefs"`
	DetectedAt   time.Time    `json:"detectedAt"`
}

// Topics names the destination topics.
type Topics struct {
	Finalized string
	Anomalies string
}

// probeInterval is how often an open circuit lets one record through to
// test whether the brokers recovered.
const probeInterval = 5 * time.Second

type Publisher struct {
	client  *kgo.Client
	topics  Topics
	breaker *circuit.Breaker
	logger  *slog.Logger

	mu        sync.Mutex
	lastProbe time.Time
}

type Option func(*Publisher)

func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) {
		if b != nil {
			p.breaker = b
		}
	}
}

func NewPublisher(brokers []string, topics Topics, opts ...Option) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	p := &Publisher{
		client:  client,
		topics:  topics,
		breaker: circuit.New("events-publisher"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Publisher) Close() {
	p.client.Close()
}

// PublishFinalized emits a finalized-attendance event keyed by session
// so one session's records stay ordered on a partition.
func (p *Publisher) PublishFinalized(ctx context.Context, event FinalizedAttendance) {
	p.publish(ctx, p.topics.Finalized, event.SessionID.String(), event)
}

// PublishAnomaly emits an anomaly event keyed by subject.
func (p *Publisher) PublishAnomaly(ctx context.Context, event Anomaly) {
	p.publish(ctx, p.topics.Anomalies, event.SubjectID.String(), event)
}

func (p *Publisher) publish(ctx context.Context, topic, key string, event any) {
	if p.breaker.IsOpen() && !p.probeDue() {
		// Open circuit drops events rather than queueing unboundedly; one
		// probe per interval tests for recovery.
		p.logger.Debug("dropping event, publisher circuit open", "topic", topic)
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("marshal event", "error", err, "topic", topic)
		return
	}

	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: payload}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		if _, change := p.breaker.RecordFailure(); change.Opened {
			p.logger.Warn("event publisher circuit opened", "topic", topic, "error", err)
		} else {
			p.logger.Error("produce event", "error", err, "topic", topic)
		}
		return
	}
	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.logger.Info("event publisher circuit closed", "topic", topic)
	}
}

func (p *Publisher) probeDue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if now.Sub(p.lastProbe) < probeInterval {
		return false
	}
	p.lastProbe = now
	return true
}
