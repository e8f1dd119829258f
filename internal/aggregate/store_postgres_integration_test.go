//go:build integration

package aggregate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"rollcall/internal/aggregate"
	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/testutil/containers"
)

const aggregateDDL = `
CREATE TABLE IF NOT EXISTS participations (
	subject_id   UUID NOT NULL,
	round_id     UUID NOT NULL,
	session_id   UUID NOT NULL,
	attended     BOOLEAN NOT NULL,
	match_metric DOUBLE PRECISION NOT NULL,
	evidence_id  UUID,
	processed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (subject_id, round_id)
);
CREATE TABLE IF NOT EXISTS subject_tracks (
	subject_id       UUID NOT NULL,
	session_id       UUID NOT NULL,
	attended_rounds  INT NOT NULL,
	completed_rounds INT NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (subject_id, session_id)
);`

type AggregatePostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *aggregate.PostgresStore
}

func TestAggregatePostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AggregatePostgresSuite))
}

func (s *AggregatePostgresSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(s.postgres.Apply(context.Background(), aggregateDDL))
	s.store = aggregate.NewPostgres(s.postgres.DB)
}

func (s *AggregatePostgresSuite) TearDownSuite() {
	s.postgres.Terminate(context.Background())
}

func (s *AggregatePostgresSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "participations", "subject_tracks"))
}

func (s *AggregatePostgresSuite) subjectID() id.SubjectID {
	subject, err := id.ParseSubjectID(id.NewSessionID().String())
	s.Require().NoError(err)
	return subject
}

func (s *AggregatePostgresSuite) TestParticipationUpsert() {
	ctx := context.Background()
	p := domain.SubjectRoundParticipation{
		SubjectID:   s.subjectID(),
		RoundID:     id.NewRoundID(),
		SessionID:   id.NewSessionID(),
		Attended:    false,
		MatchMetric: 0,
		ProcessedAt: time.Date(2026, 3, 10, 9, 10, 0, 0, time.UTC),
	}
	s.Require().NoError(s.store.UpsertParticipation(ctx, p))

	// Evidence arriving later flips the same row to attended.
	p.Attended = true
	p.MatchMetric = 1
	p.EvidenceID = id.NewEvidenceID()
	p.ProcessedAt = p.ProcessedAt.Add(time.Minute)
	s.Require().NoError(s.store.UpsertParticipation(ctx, p))

	got, err := s.store.FindParticipation(ctx, p.SubjectID, p.RoundID)
	s.Require().NoError(err)
	s.True(got.Attended)
	s.Equal(1.0, got.MatchMetric)
	s.Equal(p.EvidenceID, got.EvidenceID)
	s.Equal(p.SessionID, got.SessionID)

	listed, err := s.store.ListParticipationsBySession(ctx, p.SessionID)
	s.Require().NoError(err)
	s.Len(listed, 1)
}

func (s *AggregatePostgresSuite) TestParticipationNilEvidence() {
	ctx := context.Background()
	p := domain.SubjectRoundParticipation{
		SubjectID:   s.subjectID(),
		RoundID:     id.NewRoundID(),
		SessionID:   id.NewSessionID(),
		ProcessedAt: time.Now().UTC(),
	}
	s.Require().NoError(s.store.UpsertParticipation(ctx, p))

	got, err := s.store.FindParticipation(ctx, p.SubjectID, p.RoundID)
	s.Require().NoError(err)
	s.False(got.Attended)
	s.True(got.EvidenceID.IsNil())
}

func (s *AggregatePostgresSuite) TestFindParticipationNotFound() {
	_, err := s.store.FindParticipation(context.Background(), s.subjectID(), id.NewRoundID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *AggregatePostgresSuite) TestTrackUpsert() {
	ctx := context.Background()
	track := domain.SubjectTrack{
		SubjectID:       s.subjectID(),
		SessionID:       id.NewSessionID(),
		AttendedRounds:  1,
		CompletedRounds: 1,
		UpdatedAt:       time.Date(2026, 3, 10, 9, 10, 0, 0, time.UTC),
	}
	s.Require().NoError(s.store.SaveTrack(ctx, track))

	track.AttendedRounds = 4
	track.CompletedRounds = 5
	track.UpdatedAt = track.UpdatedAt.Add(time.Hour)
	s.Require().NoError(s.store.SaveTrack(ctx, track))

	got, err := s.store.FindTrack(ctx, track.SubjectID, track.SessionID)
	s.Require().NoError(err)
	s.Equal(4, got.AttendedRounds)
	s.Equal(5, got.CompletedRounds)
	s.Equal(80.0, got.Percentage())

	listed, err := s.store.ListTracks(ctx, track.SessionID)
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.Equal(track.SubjectID, listed[0].SubjectID)
}

func (s *AggregatePostgresSuite) TestFindTrackNotFound() {
	_, err := s.store.FindTrack(context.Background(), s.subjectID(), id.NewSessionID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
