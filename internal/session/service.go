package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rollcall/internal/domain"
	"rollcall/internal/session/metrics"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/platform/tx"
)

// Aggregator is the round-close hook: the aggregator runs one final pass
// over the round's evidence, catching anything that arrived in the grace
// window.
type Aggregator interface {
	OnRoundClosed(ctx context.Context, signal RoundClosedSignal) error
}

// Finalizer converts a completed session's participations into final
// attendance records for every enrolled subject.
type Finalizer interface {
	FinalizeSession(ctx context.Context, sess domain.Session) error
}

// Service owns the session/round state machine. All transitions are one
// directional; anything else fails with an invalid-state error.
type Service struct {
	store      Store
	aggregator Aggregator
	finalizer  Finalizer
	txRunner   tx.Runner
	metrics    *metrics.Metrics
	logger     *slog.Logger
	clock      func() time.Time

	defaultRoundCount int
	missedThreshold   time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithMetrics wires lifecycle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAggregator wires the round-close aggregation hook.
func WithAggregator(a Aggregator) Option {
	return func(s *Service) { s.aggregator = a }
}

// WithFinalizer wires the session-completion finalizer.
func WithFinalizer(f Finalizer) Option {
	return func(s *Service) { s.finalizer = f }
}

// WithTxRunner makes the session and its rounds one atomic write on
// stores that support transactions.
func WithTxRunner(r tx.Runner) Option {
	return func(s *Service) {
		if r != nil {
			s.txRunner = r
		}
	}
}

// WithDefaultRoundCount sets the round count used when a session is
// created without one.
func WithDefaultRoundCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.defaultRoundCount = n
		}
	}
}

// WithMissedThreshold sets how long past end time an active session may
// linger before the sweep marks it missed.
func WithMissedThreshold(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.missedThreshold = d
		}
	}
}

// New creates a lifecycle Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:             store,
		txRunner:          tx.NopRunner{},
		logger:            slog.Default(),
		clock:             time.Now,
		defaultRoundCount: 5,
		missedThreshold:   time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSessionInput describes a new session. Rounds may be supplied
// explicitly; otherwise the window is divided into Config.RoundCount equal
// slices.
type CreateSessionInput struct {
	ScheduleID id.ScheduleID
	Roster     []id.SubjectID
	StartTime  time.Time
	EndTime    time.Time
	Config     domain.SessionConfig
	Rounds     []domain.Round
}

// CreateSession creates a pending session with its rounds.
func (s *Service) CreateSession(ctx context.Context, input CreateSessionInput) (domain.Session, error) {
	if input.ScheduleID.IsNil() {
		return domain.Session{}, dErrors.New(dErrors.CodeInvalidInput, "schedule id is required")
	}
	if !input.EndTime.After(input.StartTime) {
		return domain.Session{}, dErrors.New(dErrors.CodeInvalidInput, "session end must be after start")
	}
	if err := input.Config.Validate(); err != nil {
		return domain.Session{}, err
	}
	if input.Config.RoundCount == 0 && len(input.Rounds) == 0 {
		input.Config.RoundCount = s.defaultRoundCount
	}

	now := s.clock()
	sess := domain.Session{
		ID:         id.NewSessionID(),
		ScheduleID: input.ScheduleID,
		Roster:     input.Roster,
		StartTime:  input.StartTime,
		EndTime:    input.EndTime,
		Status:     domain.SessionPending,
		Config:     input.Config,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	rounds := input.Rounds
	if len(rounds) == 0 {
		rounds = domain.SliceRounds(sess.ID, input.StartTime, input.EndTime, input.Config.RoundCount)
	} else {
		if err := validateExplicitRounds(sess.ID, rounds); err != nil {
			return domain.Session{}, err
		}
		sess.Config.RoundCount = len(rounds)
	}

	// A session without its full round set is unusable; the writes go
	// through one transaction so a mid-loop failure leaves nothing behind.
	err := s.txRunner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.SaveSession(ctx, sess); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		for _, round := range rounds {
			if err := s.store.SaveRound(ctx, round); err != nil {
				return fmt.Errorf("create round %d: %w", round.Number, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}

	s.metrics.IncrementTransition(domain.SessionPending.String())
	s.logger.InfoContext(ctx, "session created",
		"session_id", sess.ID.String(),
		"schedule_id", sess.ScheduleID.String(),
		"rounds", len(rounds),
	)
	return sess, nil
}

// ActivateSession transitions Pending to Active.
func (s *Service) ActivateSession(ctx context.Context, sessionID id.SessionID) (domain.Session, error) {
	return s.transition(ctx, sessionID, domain.SessionActive)
}

// CancelSession transitions Active to Cancelled and cancels open rounds.
// Terminal and one-way; in-flight aggregation detects the cancelled round
// state and discards its result.
func (s *Service) CancelSession(ctx context.Context, sessionID id.SessionID) (domain.Session, error) {
	sess, err := s.transition(ctx, sessionID, domain.SessionCancelled)
	if err != nil {
		return domain.Session{}, err
	}

	rounds, err := s.store.ListRounds(ctx, sessionID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("list rounds: %w", err)
	}
	for _, round := range rounds {
		if round.Status.IsTerminal() {
			continue
		}
		round.Status = domain.RoundCancelled
		if err := s.store.SaveRound(ctx, round); err != nil {
			return domain.Session{}, fmt.Errorf("cancel round %d: %w", round.Number, err)
		}
	}
	return sess, nil
}

// CompleteSession transitions Active to Completed. Any still-open round is
// closed first (triggering the aggregator's final pass), then the
// finalizer runs for every enrolled subject.
func (s *Service) CompleteSession(ctx context.Context, sessionID id.SessionID) (domain.Session, error) {
	sess, err := s.find(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if !sess.Status.CanTransitionTo(domain.SessionCompleted) {
		return domain.Session{}, dErrors.New(dErrors.CodeInvalidState,
			fmt.Sprintf("cannot complete session in status %s", sess.Status))
	}

	// Round closure happens before the session flips so the aggregator
	// still sees the session as active while it writes participations.
	rounds, err := s.store.ListRounds(ctx, sessionID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("list rounds: %w", err)
	}
	now := s.clock()
	for _, round := range rounds {
		if round.Status.IsTerminal() {
			continue
		}
		if err := s.closeRound(ctx, round, now); err != nil {
			return domain.Session{}, err
		}
	}

	sess.Status = domain.SessionCompleted
	sess.ActualEndTime = &now
	sess.UpdatedAt = now
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return domain.Session{}, fmt.Errorf("complete session: %w", err)
	}
	s.metrics.IncrementTransition(domain.SessionCompleted.String())

	if s.finalizer != nil {
		if err := s.finalizer.FinalizeSession(ctx, sess); err != nil {
			return domain.Session{}, fmt.Errorf("finalize session: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "session completed", "session_id", sessionID.String())
	return sess, nil
}

// CloseRound explicitly closes a round before its wall-clock end, e.g.
// when the session ends early.
func (s *Service) CloseRound(ctx context.Context, roundID id.RoundID) error {
	round, err := s.store.FindRound(ctx, roundID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "round not found")
	}
	if err != nil {
		return err
	}
	if round.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidState,
			fmt.Sprintf("cannot close round in status %s", round.Status))
	}
	return s.closeRound(ctx, round, s.clock())
}

// Session returns a session with its rounds.
func (s *Service) Session(ctx context.Context, sessionID id.SessionID) (domain.Session, []domain.Round, error) {
	sess, err := s.find(ctx, sessionID)
	if err != nil {
		return domain.Session{}, nil, err
	}
	rounds, err := s.store.ListRounds(ctx, sessionID)
	if err != nil {
		return domain.Session{}, nil, err
	}
	return sess, rounds, nil
}

// Round returns a single round.
func (s *Service) Round(ctx context.Context, roundID id.RoundID) (domain.Round, error) {
	round, err := s.store.FindRound(ctx, roundID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Round{}, dErrors.New(dErrors.CodeNotFound, "round not found")
	}
	return round, err
}

// Sweep drives rounds and sessions by wall clock: pending rounds past
// their start activate, active rounds past their end close, and active
// sessions stuck past endTime+missedThreshold go missed. Runs on a ticker,
// never on an ingestion path.
func (s *Service) Sweep(ctx context.Context) error {
	now := s.clock()
	active, err := s.store.ListSessionsByStatus(ctx, domain.SessionActive)
	if err != nil {
		return fmt.Errorf("sweep: list active sessions: %w", err)
	}

	for _, sess := range active {
		if now.After(sess.EndTime.Add(s.missedThreshold)) {
			sess.Status = domain.SessionMissed
			sess.UpdatedAt = now
			if err := s.store.SaveSession(ctx, sess); err != nil {
				return fmt.Errorf("sweep: mark missed: %w", err)
			}
			s.metrics.IncrementSweepMissed()
			s.metrics.IncrementTransition(domain.SessionMissed.String())
			s.logger.WarnContext(ctx, "session swept to missed", "session_id", sess.ID.String())
			continue
		}

		rounds, err := s.store.ListRounds(ctx, sess.ID)
		if err != nil {
			return fmt.Errorf("sweep: list rounds: %w", err)
		}
		for _, round := range rounds {
			switch round.Status {
			case domain.RoundPending:
				if !now.Before(round.StartTime) {
					round.Status = domain.RoundActive
					if err := s.store.SaveRound(ctx, round); err != nil {
						return fmt.Errorf("sweep: activate round: %w", err)
					}
				}
			case domain.RoundActive:
				if now.After(round.EndTime) {
					if err := s.closeRound(ctx, round, now); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// RunSweeper runs Sweep on the given interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sweep failed", "error", err.Error())
			}
		}
	}
}

func (s *Service) closeRound(ctx context.Context, round domain.Round, now time.Time) error {
	if round.Status == domain.RoundPending {
		// A round that never activated still completes; absence of
		// evidence aggregates to attended=false for everyone.
		round.Status = domain.RoundActive
	}
	if !round.Status.CanTransitionTo(domain.RoundCompleted) {
		return dErrors.New(dErrors.CodeInvalidState,
			fmt.Sprintf("cannot close round in status %s", round.Status))
	}
	round.Status = domain.RoundCompleted
	round.ClosedAt = &now
	if err := s.store.SaveRound(ctx, round); err != nil {
		return fmt.Errorf("close round %d: %w", round.Number, err)
	}
	s.metrics.IncrementRoundsClosed()

	if s.aggregator != nil {
		signal := RoundClosedSignal{
			SessionID: round.SessionID,
			RoundID:   round.ID,
			ClosedAt:  now,
		}
		if err := s.aggregator.OnRoundClosed(ctx, signal); err != nil {
			return fmt.Errorf("round close aggregation: %w", err)
		}
	}
	return nil
}

func (s *Service) transition(ctx context.Context, sessionID id.SessionID, next domain.SessionStatus) (domain.Session, error) {
	sess, err := s.find(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if !sess.Status.CanTransitionTo(next) {
		return domain.Session{}, dErrors.New(dErrors.CodeInvalidState,
			fmt.Sprintf("cannot transition session from %s to %s", sess.Status, next))
	}
	sess.Status = next
	sess.UpdatedAt = s.clock()
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return domain.Session{}, fmt.Errorf("save session: %w", err)
	}
	s.metrics.IncrementTransition(next.String())
	s.logger.InfoContext(ctx, "session transitioned",
		"session_id", sessionID.String(),
		"to", next.String(),
	)
	return sess, nil
}

func (s *Service) find(ctx context.Context, sessionID id.SessionID) (domain.Session, error) {
	sess, err := s.store.FindSession(ctx, sessionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Session{}, dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	return sess, err
}

func validateExplicitRounds(sessionID id.SessionID, rounds []domain.Round) error {
	seen := make(map[int]struct{}, len(rounds))
	for i := range rounds {
		round := &rounds[i]
		if round.Number <= 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "round numbers must be positive")
		}
		if _, dup := seen[round.Number]; dup {
			return dErrors.New(dErrors.CodeInvalidInput, "round numbers must be unique within a session")
		}
		seen[round.Number] = struct{}{}
		if !round.EndTime.After(round.StartTime) {
			return dErrors.New(dErrors.CodeInvalidInput, "round end must be after start")
		}
		round.SessionID = sessionID
		if round.ID.IsNil() {
			round.ID = id.NewRoundID()
		}
		round.Status = domain.RoundPending
	}
	return nil
}
