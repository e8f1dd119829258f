package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/audit"
	"rollcall/internal/domain"
	"rollcall/internal/platform/logger"
	"rollcall/internal/session"
	"rollcall/internal/whitelist"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
)

type capturedAggregator struct {
	evidence []domain.EvidenceSubmission
}

func (c *capturedAggregator) ProcessEvidence(_ context.Context, ev domain.EvidenceSubmission) error {
	c.evidence = append(c.evidence, ev)
	return nil
}

type capturedObserver struct {
	evidence []domain.EvidenceSubmission
}

func (c *capturedObserver) Observe(ev domain.EvidenceSubmission) {
	c.evidence = append(c.evidence, ev)
}

type capturedAuditor struct {
	events []audit.Event
}

func (c *capturedAuditor) Emit(event audit.Event) {
	c.events = append(c.events, event)
}

type ingestFixture struct {
	svc        *Service
	store      *InMemoryStore
	sessions   *session.InMemoryStore
	whitelists *whitelist.InMemoryStore
	aggregator *capturedAggregator
	observer   *capturedObserver
	auditor    *capturedAuditor

	sess  domain.Session
	round domain.Round
	alice id.SubjectID
	dev   id.DeviceID
	peer  id.DeviceID
	now   time.Time
}

// flakyStore fails the first n writes, then delegates.
type flakyStore struct {
	Store
	failures int
}

func (s *flakyStore) Save(ctx context.Context, ev domain.EvidenceSubmission) (bool, error) {
	if s.failures > 0 {
		s.failures--
		return false, errors.New("write timeout")
	}
	return s.Store.Save(ctx, ev)
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	ctx := context.Background()

	parseSubject := func() id.SubjectID {
		sid, err := id.ParseSubjectID(id.NewSessionID().String())
		require.NoError(t, err)
		return sid
	}
	parseDevice := func() id.DeviceID {
		did, err := id.ParseDeviceID(id.NewSessionID().String())
		require.NoError(t, err)
		return did
	}
	scheduleID, err := id.ParseScheduleID(id.NewSessionID().String())
	require.NoError(t, err)

	f := &ingestFixture{
		store:      NewInMemoryStore(),
		sessions:   session.NewInMemoryStore(),
		whitelists: whitelist.NewInMemoryStore(),
		aggregator: &capturedAggregator{},
		observer:   &capturedObserver{},
		auditor:    &capturedAuditor{},
		alice:      parseSubject(),
		dev:        parseDevice(),
		peer:       parseDevice(),
	}

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	f.now = start.Add(5 * time.Minute)
	f.sess = domain.Session{
		ID:         id.NewSessionID(),
		ScheduleID: scheduleID,
		Roster:     []id.SubjectID{f.alice},
		StartTime:  start,
		EndTime:    start.Add(30 * time.Minute),
		Status:     domain.SessionActive,
		Config: domain.SessionConfig{
			RoundCount:      1,
			WindowTolerance: time.Minute,
			GraceWindow:     2 * time.Minute,
		},
	}
	require.NoError(t, f.sessions.SaveSession(ctx, f.sess))

	f.round = domain.Round{
		ID:        id.NewRoundID(),
		SessionID: f.sess.ID,
		Number:    1,
		StartTime: start,
		EndTime:   start.Add(10 * time.Minute),
		Status:    domain.RoundActive,
	}
	require.NoError(t, f.sessions.SaveRound(ctx, f.round))

	require.NoError(t, f.whitelists.Save(ctx, domain.Whitelist{
		ScheduleID: scheduleID,
		Mode:       domain.ModePeerScan,
		Devices:    map[id.DeviceID]id.SubjectID{f.peer: parseSubject()},
		Version:    1,
	}))

	f.svc = NewService(f.store, NewMemoryReserver(), f.sessions, f.whitelists,
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return f.now }),
		WithAggregator(f.aggregator),
		WithAnomalyObserver(f.observer),
		WithAuditRecorder(f.auditor),
	)
	return f
}

func (f *ingestFixture) submission() domain.EvidenceSubmission {
	return domain.EvidenceSubmission{
		SubjectID: f.alice,
		SessionID: f.sess.ID,
		RoundID:   f.round.ID,
		DeviceID:  f.dev,
		Timestamp: f.round.StartTime.Add(3 * time.Minute),
		Mode:      domain.ModePeerScan,
		Peers:     []domain.PeerSighting{{DeviceID: f.peer, Signal: -58}},
	}
}

func TestSubmitEvidence(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts and hands off to aggregation", func(t *testing.T) {
		f := newIngestFixture(t)
		result, err := f.svc.SubmitEvidence(ctx, f.submission())
		require.NoError(t, err)

		assert.False(t, result.Duplicate)
		assert.False(t, result.Unvalidated)
		assert.False(t, result.EvidenceID.IsNil())

		require.Len(t, f.aggregator.evidence, 1)
		assert.Equal(t, result.EvidenceID, f.aggregator.evidence[0].ID)
		assert.Equal(t, f.sess.ScheduleID, f.aggregator.evidence[0].ScheduleID)
		assert.Len(t, f.observer.evidence, 1)
	})

	t.Run("same submission twice stores one row", func(t *testing.T) {
		f := newIngestFixture(t)
		first, err := f.svc.SubmitEvidence(ctx, f.submission())
		require.NoError(t, err)
		require.False(t, first.Duplicate)

		second, err := f.svc.SubmitEvidence(ctx, f.submission())
		require.NoError(t, err)
		assert.True(t, second.Duplicate)

		rows, err := f.store.ListByRound(ctx, f.round.ID)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
		assert.Len(t, f.aggregator.evidence, 1)
	})

	t.Run("retry inside the idempotency bucket is a duplicate", func(t *testing.T) {
		f := newIngestFixture(t)
		_, err := f.svc.SubmitEvidence(ctx, f.submission())
		require.NoError(t, err)

		retry := f.submission()
		retry.Timestamp = retry.Timestamp.Add(10 * time.Second)
		result, err := f.svc.SubmitEvidence(ctx, retry)
		require.NoError(t, err)
		assert.True(t, result.Duplicate)
	})

	t.Run("failed store write does not poison the idempotency key", func(t *testing.T) {
		f := newIngestFixture(t)
		flaky := &flakyStore{Store: f.store, failures: 1}
		f.svc = NewService(flaky, NewMemoryReserver(), f.sessions, f.whitelists,
			WithLogger(logger.Discard()),
			WithClock(func() time.Time { return f.now }),
		)

		_, err := f.svc.SubmitEvidence(ctx, f.submission())
		require.Error(t, err)

		// The reservation must have been released: the retry is a fresh
		// submission, not a duplicate of a row that was never written.
		result, err := f.svc.SubmitEvidence(ctx, f.submission())
		require.NoError(t, err)
		assert.False(t, result.Duplicate)
		assert.False(t, result.EvidenceID.IsNil())

		rows, err := f.store.ListByRound(ctx, f.round.ID)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("store catches duplicates when the reserver misses", func(t *testing.T) {
		f := newIngestFixture(t)
		ev := f.submission()
		ev.ID = id.NewEvidenceID()
		ev.ScheduleID = f.sess.ScheduleID
		stored, err := f.store.Save(ctx, ev)
		require.NoError(t, err)
		require.True(t, stored)

		// fresh reserver knows nothing about the row already stored
		result, err := f.svc.SubmitEvidence(ctx, f.submission())
		require.NoError(t, err)
		assert.True(t, result.Duplicate)
	})

	t.Run("missing whitelist stores unvalidated", func(t *testing.T) {
		f := newIngestFixture(t)
		f.whitelists = whitelist.NewInMemoryStore() // empty
		f.svc = NewService(f.store, NewMemoryReserver(), f.sessions, f.whitelists,
			WithLogger(logger.Discard()),
			WithAggregator(f.aggregator),
		)

		result, err := f.svc.SubmitEvidence(ctx, f.submission())
		require.NoError(t, err)
		assert.True(t, result.Unvalidated)
		assert.False(t, result.EvidenceID.IsNil())

		pending, err := f.store.ListUnvalidatedBySchedule(ctx, f.sess.ScheduleID)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
		// unvalidated evidence is not aggregated on the spot
		assert.Empty(t, f.aggregator.evidence)
	})

	t.Run("rejection taxonomy", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(f *ingestFixture, ev *domain.EvidenceSubmission)
			code   dErrors.Code
		}{
			{
				"malformed submission",
				func(_ *ingestFixture, ev *domain.EvidenceSubmission) { ev.Peers = nil },
				dErrors.CodeInvalidInput,
			},
			{
				"unknown session",
				func(_ *ingestFixture, ev *domain.EvidenceSubmission) { ev.SessionID = id.NewSessionID() },
				dErrors.CodeNotFound,
			},
			{
				"unknown round",
				func(_ *ingestFixture, ev *domain.EvidenceSubmission) { ev.RoundID = id.NewRoundID() },
				dErrors.CodeNotFound,
			},
			{
				"subject not enrolled",
				func(f *ingestFixture, ev *domain.EvidenceSubmission) {
					sid, err := id.ParseSubjectID(id.NewSessionID().String())
					require.NoError(t, err)
					ev.SubjectID = sid
				},
				dErrors.CodeInvalidInput,
			},
			{
				"cancelled session",
				func(f *ingestFixture, _ *domain.EvidenceSubmission) {
					f.sess.Status = domain.SessionCancelled
					require.NoError(t, f.sessions.SaveSession(context.Background(), f.sess))
				},
				dErrors.CodeInvalidState,
			},
			{
				"timestamp outside the round window",
				func(f *ingestFixture, ev *domain.EvidenceSubmission) {
					ev.Timestamp = f.round.EndTime.Add(5 * time.Minute)
				},
				dErrors.CodeOutOfWindow,
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newIngestFixture(t)
				ev := f.submission()
				tt.mutate(f, &ev)

				_, err := f.svc.SubmitEvidence(ctx, ev)
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, tt.code), "got %v", err)

				rows, err := f.store.ListByRound(ctx, f.round.ID)
				require.NoError(t, err)
				assert.Empty(t, rows)
			})
		}
	})

	t.Run("round from a different session is rejected", func(t *testing.T) {
		f := newIngestFixture(t)
		foreign := domain.Round{
			ID:        id.NewRoundID(),
			SessionID: id.NewSessionID(),
			Number:    1,
			StartTime: f.round.StartTime,
			EndTime:   f.round.EndTime,
			Status:    domain.RoundActive,
		}
		require.NoError(t, f.sessions.SaveRound(ctx, foreign))

		ev := f.submission()
		ev.RoundID = foreign.ID
		_, err := f.svc.SubmitEvidence(ctx, ev)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("post-grace evidence on a closed round is audited", func(t *testing.T) {
		f := newIngestFixture(t)
		closedAt := f.round.EndTime
		f.round.Status = domain.RoundCompleted
		f.round.ClosedAt = &closedAt
		require.NoError(t, f.sessions.SaveRound(ctx, f.round))

		ev := f.submission()
		ev.Timestamp = closedAt.Add(3 * time.Minute) // past the 2 minute grace

		_, err := f.svc.SubmitEvidence(ctx, ev)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeRoundClosed))

		require.Len(t, f.auditor.events, 1)
		assert.Equal(t, audit.ActionLateEvidence, f.auditor.events[0].Action)
		assert.Equal(t, f.sess.ID, f.auditor.events[0].SessionID)
		assert.Equal(t, f.alice, f.auditor.events[0].SubjectID)
	})

	t.Run("late delivery with an in-window timestamp is rejected", func(t *testing.T) {
		f := newIngestFixture(t)
		closedAt := f.round.EndTime
		f.round.Status = domain.RoundCompleted
		f.round.ClosedAt = &closedAt
		require.NoError(t, f.sessions.SaveRound(ctx, f.round))

		// capture time claims mid-round, but delivery is an hour past
		// the grace window
		f.now = closedAt.Add(time.Hour)

		_, err := f.svc.SubmitEvidence(ctx, f.submission())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeRoundClosed))

		require.Len(t, f.auditor.events, 1)
		assert.Equal(t, audit.ActionLateEvidence, f.auditor.events[0].Action)

		rows, err := f.store.ListByRound(ctx, f.round.ID)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("evidence inside the grace window is accepted", func(t *testing.T) {
		f := newIngestFixture(t)
		closedAt := f.round.EndTime
		f.round.Status = domain.RoundCompleted
		f.round.ClosedAt = &closedAt
		require.NoError(t, f.sessions.SaveRound(ctx, f.round))

		ev := f.submission()
		ev.Timestamp = closedAt.Add(time.Minute)

		result, err := f.svc.SubmitEvidence(ctx, ev)
		require.NoError(t, err)
		assert.False(t, result.Duplicate)
	})
}

func TestEvidenceReadPath(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t)

	first := f.submission()
	_, err := f.svc.SubmitEvidence(ctx, first)
	require.NoError(t, err)

	second := f.submission()
	second.Timestamp = first.Timestamp.Add(2 * time.Minute)
	_, err = f.svc.SubmitEvidence(ctx, second)
	require.NoError(t, err)

	rows, err := f.svc.Evidence(ctx, f.alice, f.sess.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Timestamp.Before(rows[1].Timestamp))
}

func TestMemoryReserver(t *testing.T) {
	r := NewMemoryReserver()
	ctx := context.Background()

	ok, err := r.Reserve(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Reserve(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.Reserve(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// a released key reserves fresh again
	require.NoError(t, r.Release(ctx, "a"))
	ok, err = r.Reserve(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
