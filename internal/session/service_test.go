package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/domain"
	"rollcall/internal/platform/logger"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
)

type fakeAggregator struct {
	signals []RoundClosedSignal
}

func (f *fakeAggregator) OnRoundClosed(_ context.Context, signal RoundClosedSignal) error {
	f.signals = append(f.signals, signal)
	return nil
}

type fakeFinalizer struct {
	sessions []domain.Session
}

func (f *fakeFinalizer) FinalizeSession(_ context.Context, sess domain.Session) error {
	f.sessions = append(f.sessions, sess)
	return nil
}

type spyRunner struct {
	calls  int
	active bool
}

func (r *spyRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.calls++
	r.active = true
	defer func() { r.active = false }()
	return fn(ctx)
}

// txCheckedStore fails the test if a creation write lands outside the
// transaction runner.
type txCheckedStore struct {
	*InMemoryStore
	t      *testing.T
	runner *spyRunner
}

func (s *txCheckedStore) SaveSession(ctx context.Context, sess domain.Session) error {
	if !s.runner.active {
		s.t.Error("session write outside the transaction runner")
	}
	return s.InMemoryStore.SaveSession(ctx, sess)
}

func (s *txCheckedStore) SaveRound(ctx context.Context, round domain.Round) error {
	if !s.runner.active {
		s.t.Error("round write outside the transaction runner")
	}
	return s.InMemoryStore.SaveRound(ctx, round)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *InMemoryStore) {
	t.Helper()
	store := NewInMemoryStore()
	base := []Option{WithLogger(logger.Discard())}
	return New(store, append(base, opts...)...), store
}

func testInput(t *testing.T) CreateSessionInput {
	t.Helper()
	scheduleID, err := id.ParseScheduleID(id.NewSessionID().String())
	require.NoError(t, err)
	subject, err := id.ParseSubjectID(id.NewSessionID().String())
	require.NoError(t, err)
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return CreateSessionInput{
		ScheduleID: scheduleID,
		Roster:     []id.SubjectID{subject},
		StartTime:  start,
		EndTime:    start.Add(50 * time.Minute),
		Config: domain.SessionConfig{
			RoundCount:      5,
			WindowTolerance: time.Minute,
			GraceWindow:     2 * time.Minute,
		},
	}
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("slices rounds from config", func(t *testing.T) {
		svc, store := newTestService(t)
		sess, err := svc.CreateSession(ctx, testInput(t))
		require.NoError(t, err)

		assert.Equal(t, domain.SessionPending, sess.Status)
		rounds, err := store.ListRounds(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, rounds, 5)
		for i, r := range rounds {
			assert.Equal(t, i+1, r.Number)
			assert.Equal(t, domain.RoundPending, r.Status)
		}
	})

	t.Run("falls back to default round count", func(t *testing.T) {
		svc, store := newTestService(t, WithDefaultRoundCount(3))
		input := testInput(t)
		input.Config.RoundCount = 0
		sess, err := svc.CreateSession(ctx, input)
		require.NoError(t, err)

		rounds, err := store.ListRounds(ctx, sess.ID)
		require.NoError(t, err)
		assert.Len(t, rounds, 3)
	})

	t.Run("accepts explicit rounds", func(t *testing.T) {
		svc, store := newTestService(t)
		input := testInput(t)
		input.Rounds = []domain.Round{
			{Number: 1, StartTime: input.StartTime, EndTime: input.StartTime.Add(20 * time.Minute)},
			{Number: 2, StartTime: input.StartTime.Add(30 * time.Minute), EndTime: input.EndTime},
		}
		sess, err := svc.CreateSession(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, 2, sess.Config.RoundCount)

		rounds, err := store.ListRounds(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, rounds, 2)
		assert.Equal(t, sess.ID, rounds[0].SessionID)
		assert.False(t, rounds[0].ID.IsNil())
	})

	t.Run("session and rounds go through one transaction", func(t *testing.T) {
		runner := &spyRunner{}
		store := &txCheckedStore{InMemoryStore: NewInMemoryStore(), t: t, runner: runner}
		svc := New(store, WithLogger(logger.Discard()), WithTxRunner(runner))

		sess, err := svc.CreateSession(ctx, testInput(t))
		require.NoError(t, err)
		assert.Equal(t, 1, runner.calls)

		rounds, err := store.ListRounds(ctx, sess.ID)
		require.NoError(t, err)
		assert.Len(t, rounds, 5)
	})

	t.Run("rejects duplicate round numbers", func(t *testing.T) {
		svc, _ := newTestService(t)
		input := testInput(t)
		input.Rounds = []domain.Round{
			{Number: 1, StartTime: input.StartTime, EndTime: input.StartTime.Add(20 * time.Minute)},
			{Number: 1, StartTime: input.StartTime.Add(30 * time.Minute), EndTime: input.EndTime},
		}
		_, err := svc.CreateSession(ctx, input)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects inverted window", func(t *testing.T) {
		svc, _ := newTestService(t)
		input := testInput(t)
		input.EndTime = input.StartTime
		_, err := svc.CreateSession(ctx, input)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil schedule", func(t *testing.T) {
		svc, _ := newTestService(t)
		input := testInput(t)
		input.ScheduleID = id.ScheduleID{}
		_, err := svc.CreateSession(ctx, input)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("pending activates once", func(t *testing.T) {
		svc, _ := newTestService(t)
		sess, err := svc.CreateSession(ctx, testInput(t))
		require.NoError(t, err)

		activated, err := svc.ActivateSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionActive, activated.Status)

		_, err = svc.ActivateSession(ctx, sess.ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("pending cannot cancel", func(t *testing.T) {
		svc, _ := newTestService(t)
		sess, err := svc.CreateSession(ctx, testInput(t))
		require.NoError(t, err)

		_, err = svc.CancelSession(ctx, sess.ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("cancel closes open rounds as cancelled", func(t *testing.T) {
		svc, store := newTestService(t)
		sess, err := svc.CreateSession(ctx, testInput(t))
		require.NoError(t, err)
		_, err = svc.ActivateSession(ctx, sess.ID)
		require.NoError(t, err)

		cancelled, err := svc.CancelSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionCancelled, cancelled.Status)

		rounds, err := store.ListRounds(ctx, sess.ID)
		require.NoError(t, err)
		for _, r := range rounds {
			assert.Equal(t, domain.RoundCancelled, r.Status)
		}
	})

	t.Run("complete closes rounds, aggregates, finalizes", func(t *testing.T) {
		agg := &fakeAggregator{}
		fin := &fakeFinalizer{}
		svc, store := newTestService(t, WithAggregator(agg), WithFinalizer(fin))

		sess, err := svc.CreateSession(ctx, testInput(t))
		require.NoError(t, err)
		_, err = svc.ActivateSession(ctx, sess.ID)
		require.NoError(t, err)

		completed, err := svc.CompleteSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionCompleted, completed.Status)
		require.NotNil(t, completed.ActualEndTime)

		rounds, err := store.ListRounds(ctx, sess.ID)
		require.NoError(t, err)
		for _, r := range rounds {
			assert.Equal(t, domain.RoundCompleted, r.Status)
			assert.NotNil(t, r.ClosedAt)
		}

		assert.Len(t, agg.signals, 5)
		require.Len(t, fin.sessions, 1)
		assert.Equal(t, domain.SessionCompleted, fin.sessions[0].Status)

		_, err = svc.CompleteSession(ctx, sess.ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("unknown session maps to not found", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.ActivateSession(ctx, id.NewSessionID())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestCloseRound(t *testing.T) {
	ctx := context.Background()
	agg := &fakeAggregator{}
	svc, store := newTestService(t, WithAggregator(agg))

	sess, err := svc.CreateSession(ctx, testInput(t))
	require.NoError(t, err)
	rounds, err := store.ListRounds(ctx, sess.ID)
	require.NoError(t, err)

	require.NoError(t, svc.CloseRound(ctx, rounds[0].ID))

	closed, err := store.FindRound(ctx, rounds[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundCompleted, closed.Status)

	require.Len(t, agg.signals, 1)
	assert.Equal(t, rounds[0].ID, agg.signals[0].RoundID)
	assert.Equal(t, sess.ID, agg.signals[0].SessionID)

	err = svc.CloseRound(ctx, rounds[0].ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))

	err = svc.CloseRound(ctx, id.NewRoundID())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("activates and closes rounds by wall clock", func(t *testing.T) {
		agg := &fakeAggregator{}
		svc, store := newTestService(t, WithClock(clock), WithAggregator(agg))

		input := testInput(t)
		input.StartTime = now
		input.EndTime = now.Add(50 * time.Minute)
		sess, err := svc.CreateSession(ctx, input)
		require.NoError(t, err)
		_, err = svc.ActivateSession(ctx, sess.ID)
		require.NoError(t, err)

		// halfway through round 2: round 1 should close, round 2 activate
		now = input.StartTime.Add(15 * time.Minute)
		require.NoError(t, svc.Sweep(ctx))

		rounds, err := store.ListRounds(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RoundCompleted, rounds[0].Status)
		assert.Equal(t, domain.RoundActive, rounds[1].Status)
		assert.Equal(t, domain.RoundPending, rounds[2].Status)
		assert.Len(t, agg.signals, 1)
	})

	t.Run("marks stuck sessions missed", func(t *testing.T) {
		now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
		svc, store := newTestService(t, WithClock(clock), WithMissedThreshold(30*time.Minute))

		input := testInput(t)
		input.StartTime = now
		input.EndTime = now.Add(50 * time.Minute)
		sess, err := svc.CreateSession(ctx, input)
		require.NoError(t, err)
		_, err = svc.ActivateSession(ctx, sess.ID)
		require.NoError(t, err)

		now = input.EndTime.Add(31 * time.Minute)
		require.NoError(t, svc.Sweep(ctx))

		swept, err := store.FindSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionMissed, swept.Status)
	})
}
