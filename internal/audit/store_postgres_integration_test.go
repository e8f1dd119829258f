//go:build integration

package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"rollcall/internal/audit"
	id "rollcall/pkg/domain"
	"rollcall/pkg/testutil/containers"
)

const auditDDL = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          UUID PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	action      TEXT NOT NULL,
	session_id  UUID,
	subject_id  UUID,
	actor_id    UUID,
	reason      TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT ''
);`

type AuditPostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *audit.PostgresStore
}

func TestAuditPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AuditPostgresSuite))
}

func (s *AuditPostgresSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(s.postgres.Apply(context.Background(), auditDDL))
	s.store = audit.NewPostgres(s.postgres.DB)
}

func (s *AuditPostgresSuite) TearDownSuite() {
	s.postgres.Terminate(context.Background())
}

func (s *AuditPostgresSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_events"))
}

func (s *AuditPostgresSuite) TestAppendAndListBySession() {
	ctx := context.Background()
	sessionID := id.NewSessionID()
	subject, err := id.ParseSubjectID(id.NewSessionID().String())
	s.Require().NoError(err)
	actor, err := id.ParseActorID(id.NewSessionID().String())
	s.Require().NoError(err)

	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: base.Add(time.Minute),
		Action:    audit.ActionOverride,
		SessionID: sessionID,
		SubjectID: subject,
		ActorID:   actor,
		Reason:    "instructor confirmation",
	}))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: base,
		Action:    audit.ActionLateEvidence,
		SessionID: sessionID,
		SubjectID: subject,
		Detail:    "round 3, evidence timestamp 2026-03-10T09:59:00Z",
	}))

	events, err := s.store.ListBySession(ctx, sessionID)
	s.Require().NoError(err)
	s.Require().Len(events, 2)

	// Oldest first.
	s.Equal(audit.ActionLateEvidence, events[0].Action)
	s.Equal(audit.ActionOverride, events[1].Action)
	s.NotEmpty(events[0].ID)
	s.Equal(subject, events[0].SubjectID)
	s.True(events[0].ActorID.IsNil())
	s.Equal(actor, events[1].ActorID)
	s.Equal("instructor confirmation", events[1].Reason)
}

func (s *AuditPostgresSuite) TestListOtherSessionIsEmpty() {
	events, err := s.store.ListBySession(context.Background(), id.NewSessionID())
	s.Require().NoError(err)
	s.Empty(events)
}
