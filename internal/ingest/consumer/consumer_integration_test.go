//go:build integration

package consumer_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"rollcall/internal/domain"
	"rollcall/internal/ingest"
	"rollcall/internal/ingest/consumer"
	"rollcall/internal/platform/config"
	"rollcall/internal/platform/logger"
	id "rollcall/pkg/domain"
	"rollcall/pkg/testutil/containers"
)

type capturingSubmitter struct {
	received chan domain.EvidenceSubmission
}

func (c *capturingSubmitter) SubmitEvidence(_ context.Context, ev domain.EvidenceSubmission) (ingest.Result, error) {
	c.received <- ev
	return ingest.Result{EvidenceID: id.NewEvidenceID()}, nil
}

type ConsumerSuite struct {
	suite.Suite
	redpanda  *containers.RedpandaContainer
	cfg       config.Kafka
	submitter *capturingSubmitter
	cancel    context.CancelFunc
}

func TestConsumerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ConsumerSuite))
}

func (s *ConsumerSuite) SetupSuite() {
	s.redpanda = containers.NewRedpandaContainer(s.T())
	s.cfg = config.Kafka{
		Brokers:        []string{s.redpanda.Broker},
		EvidenceTopic:  "rollcall.evidence",
		DLQTopic:       "rollcall.evidence.dlq",
		FinalizedTopic: "rollcall.attendance.finalized",
		AnomalyTopic:   "rollcall.anomalies",
		ConsumerGroup:  "rollcall-engine-test",
		MaxRetries:     2,
	}
	s.Require().NoError(consumer.EnsureTopics(context.Background(), s.cfg))

	s.submitter = &capturingSubmitter{received: make(chan domain.EvidenceSubmission, 16)}
	c, err := consumer.New(s.cfg, s.submitter, consumer.WithLogger(logger.Discard()))
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() { _ = c.Run(ctx) }()
}

func (s *ConsumerSuite) TearDownSuite() {
	s.cancel()
	s.redpanda.Terminate(context.Background())
}

func (s *ConsumerSuite) produce(value string) {
	client := s.redpanda.NewClient(s.T())
	defer client.Close()
	err := client.ProduceSync(context.Background(), &kgo.Record{
		Topic: s.cfg.EvidenceTopic,
		Value: []byte(value),
	}).FirstErr()
	s.Require().NoError(err)
}

func (s *ConsumerSuite) TestDeliversDecodedEvidence() {
	subject := id.NewSessionID().String()
	session := id.NewSessionID().String()
	round := id.NewSessionID().String()
	device := id.NewSessionID().String()

	s.produce(fmt.Sprintf(`{
		"subjectId": %q,
		"sessionId": %q,
		"roundId": %q,
		"deviceId": %q,
		"timestamp": "2026-03-10T09:05:00Z",
		"mode": "peer-scan",
		"peers": [{"deviceId": %q, "signal": -60}]
	}`, subject, session, round, device, device))

	select {
	case ev := <-s.submitter.received:
		s.Equal(subject, ev.SubjectID.String())
		s.Equal(session, ev.SessionID.String())
		s.Equal(domain.ModePeerScan, ev.Mode)
		s.Require().Len(ev.Peers, 1)
		s.Equal(-60, ev.Peers[0].Signal)
	case <-time.After(30 * time.Second):
		s.Fail("evidence was not delivered to the submitter")
	}
}

func (s *ConsumerSuite) TestPoisonMessageLandsOnDLQ() {
	dlqClient := s.redpanda.NewClient(s.T(),
		kgo.ConsumeTopics(s.cfg.DLQTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	defer dlqClient.Close()

	s.produce(`{not valid json`)

	deadline := time.After(30 * time.Second)
	for {
		select {
		case <-deadline:
			s.Fail("poison message never reached the dead-letter topic")
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		fetches := dlqClient.PollFetches(ctx)
		cancel()

		var found bool
		fetches.EachRecord(func(record *kgo.Record) {
			for _, header := range record.Headers {
				if header.Key == "rollcall-dlq-cause" && len(header.Value) > 0 {
					found = true
				}
			}
		})
		if found {
			return
		}
	}
}
