// Package consumer reads presence evidence from the Kafka evidence topic
// and feeds it through the same acceptance pipeline the HTTP surface
// uses. Poison messages land on the dead-letter topic instead of
// wedging the partition.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"rollcall/internal/domain"
	"rollcall/internal/ingest"
	"rollcall/internal/ingest/metrics"
	"rollcall/internal/platform/config"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
)

// evidenceMessage is the wire shape devices publish. Timestamp is
// RFC 3339.
type evidenceMessage struct {
	SubjectID string `json:"subjectId"`
	SessionID string `json:"sessionId"`
	RoundID   string `json:"roundId"`
	DeviceID  string `json:"deviceId"`
	Timestamp string `json:"timestamp"`
	Mode      string `json:"mode"`

	Peers    []peerMessage `json:"peers,omitempty"`
	Location *geoMessage   `json:"location,omitempty"`
}

type peerMessage struct {
	DeviceID string `json:"deviceId"`
	Signal   int    `json:"signal"`
}

type geoMessage struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
}

// Submitter is the slice of the ingest service the consumer needs.
type Submitter interface {
	SubmitEvidence(ctx context.Context, ev domain.EvidenceSubmission) (ingest.Result, error)
}

type Consumer struct {
	client     *kgo.Client
	submitter  Submitter
	dlqTopic   string
	maxRetries int
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type Option func(*Consumer)

func WithLogger(l *slog.Logger) Option {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Consumer) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New connects a consumer-group client for the evidence topic. Offsets
// are committed only after a record is handled, so delivery is
// at-least-once and the submission pipeline's idempotency absorbs the
// replays.
func New(cfg config.Kafka, submitter Submitter, opts ...Option) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.EvidenceTopic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	c := &Consumer{
		client:     client,
		submitter:  submitter,
		dlqTopic:   cfg.DLQTopic,
		maxRetries: cfg.MaxRetries,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EnsureTopics creates the cluster's topics if they do not exist.
// Idempotent; safe to run on every startup.
func EnsureTopics(ctx context.Context, cfg config.Kafka) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(cfg.Brokers...))
	if err != nil {
		return fmt.Errorf("kafka admin client: %w", err)
	}
	defer client.Close()

	adm := kadm.NewClient(client)
	topics := []string{cfg.EvidenceTopic, cfg.DLQTopic, cfg.FinalizedTopic, cfg.AnomalyTopic}
	resps, err := adm.CreateTopics(ctx, -1, -1, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, resp := range resps {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error", "error", err, "topic", topic, "partition", partition)
		})

		var handled []*kgo.Record
		fetches.EachRecord(func(record *kgo.Record) {
			c.handle(ctx, record)
			handled = append(handled, record)
		})
		if len(handled) == 0 {
			continue
		}
		if err := c.client.CommitRecords(ctx, handled...); err != nil {
			// Uncommitted records are re-delivered; the idempotency key
			// makes the replay a no-op.
			c.logger.Error("commit offsets", "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, record *kgo.Record) {
	ev, err := decode(record.Value)
	if err != nil {
		c.deadLetter(ctx, record, err)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff(attempt)):
			}
		}
		_, err := c.submitter.SubmitEvidence(ctx, ev)
		if err == nil {
			return
		}
		var de *dErrors.Error
		if errors.As(err, &de) {
			// Domain rejections are deterministic; retrying cannot help.
			c.deadLetter(ctx, record, err)
			return
		}
		lastErr = err
	}
	c.deadLetter(ctx, record, fmt.Errorf("retries exhausted: %w", lastErr))
}

func (c *Consumer) deadLetter(ctx context.Context, record *kgo.Record, cause error) {
	c.metrics.IncrementDeadLetter()
	c.logger.Warn("dead-lettering evidence record",
		"error", cause,
		"partition", record.Partition,
		"offset", record.Offset,
	)
	dlq := &kgo.Record{
		Topic: c.dlqTopic,
		Key:   record.Key,
		Value: record.Value,
		Headers: append(record.Headers, kgo.RecordHeader{
			Key:   "rollcall-dlq-cause",
			Value: []byte(cause.Error()),
		}),
	}
	if err := c.client.ProduceSync(ctx, dlq).FirstErr(); err != nil {
		c.logger.Error("produce to dead-letter topic", "error", err)
	}
}

func decode(raw []byte) (domain.EvidenceSubmission, error) {
	var msg evidenceMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.EvidenceSubmission{}, dErrors.Wrap(dErrors.CodeInvalidInput, "malformed evidence message", err)
	}

	var ev domain.EvidenceSubmission
	var err error
	if ev.SubjectID, err = id.ParseSubjectID(msg.SubjectID); err != nil {
		return domain.EvidenceSubmission{}, err
	}
	if ev.SessionID, err = id.ParseSessionID(msg.SessionID); err != nil {
		return domain.EvidenceSubmission{}, err
	}
	if ev.RoundID, err = id.ParseRoundID(msg.RoundID); err != nil {
		return domain.EvidenceSubmission{}, err
	}
	if ev.DeviceID, err = id.ParseDeviceID(msg.DeviceID); err != nil {
		return domain.EvidenceSubmission{}, err
	}
	ev.Timestamp, err = time.Parse(time.RFC3339, msg.Timestamp)
	if err != nil {
		return domain.EvidenceSubmission{}, dErrors.Wrap(dErrors.CodeInvalidInput, "malformed evidence timestamp", err)
	}
	ev.Mode = domain.EvidenceMode(msg.Mode)

	for _, p := range msg.Peers {
		peerDevice, err := id.ParseDeviceID(p.DeviceID)
		if err != nil {
			return domain.EvidenceSubmission{}, err
		}
		ev.Peers = append(ev.Peers, domain.PeerSighting{DeviceID: peerDevice, Signal: p.Signal})
	}
	if msg.Location != nil {
		ev.Location = &domain.GeoPoint{Lat: msg.Location.Lat, Lng: msg.Location.Lng, Accuracy: msg.Location.Accuracy}
	}
	return ev, nil
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt-1)) * 250 * time.Millisecond
	if d > 10*time.Second {
		return 10 * time.Second
	}
	return d
}
