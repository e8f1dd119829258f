package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rollcall/internal/audit"
	"rollcall/internal/domain"
	"rollcall/internal/ingest/metrics"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/sentinel"
)

// reservationTTL bounds how long a fast-path idempotency reservation is
// held. The evidence log's unique key is the real guarantee; the
// reservation only shortcuts the common duplicate case.
const reservationTTL = 10 * time.Minute

// SessionSource provides the session and round state an ingestion
// decision needs. Satisfied by the session store.
type SessionSource interface {
	FindSession(ctx context.Context, sessionID id.SessionID) (domain.Session, error)
	FindRound(ctx context.Context, roundID id.RoundID) (domain.Round, error)
}

// WhitelistSource resolves the whitelist gating a schedule's evidence.
type WhitelistSource interface {
	Find(ctx context.Context, scheduleID id.ScheduleID) (domain.Whitelist, error)
}

// Aggregator receives validated evidence for incremental verdict updates.
type Aggregator interface {
	ProcessEvidence(ctx context.Context, ev domain.EvidenceSubmission) error
}

// AnomalyObserver receives stored evidence off the ingestion path. It
// must not block; detection runs on its own worker.
type AnomalyObserver interface {
	Observe(ev domain.EvidenceSubmission)
}

// AuditRecorder is satisfied by the audit publisher.
type AuditRecorder interface {
	Emit(event audit.Event)
}

// Result reports how a submission was disposed of. Duplicates and
// unvalidated evidence are both accepted outcomes, not errors.
type Result struct {
	EvidenceID  id.EvidenceID
	Duplicate   bool
	Unvalidated bool
}

// Service validates and records presence evidence. Acceptance is
// structural and temporal only; whether the evidence proves presence is
// the aggregator's call.
type Service struct {
	store      Store
	reserver   Reserver
	sessions   SessionSource
	whitelists WhitelistSource
	aggregator Aggregator
	observer   AnomalyObserver
	auditor    AuditRecorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithAggregator(a Aggregator) Option {
	return func(s *Service) { s.aggregator = a }
}

func WithAnomalyObserver(o AnomalyObserver) Option {
	return func(s *Service) { s.observer = o }
}

func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *Service) { s.auditor = a }
}

func NewService(store Store, reserver Reserver, sessions SessionSource, whitelists WhitelistSource, opts ...Option) *Service {
	s := &Service{
		store:      store,
		reserver:   reserver,
		sessions:   sessions,
		whitelists: whitelists,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitEvidence runs the full acceptance pipeline: structural checks,
// enrollment, round window, whitelist gating, idempotent store. Safe to
// call any number of times with the same submission.
func (s *Service) SubmitEvidence(ctx context.Context, ev domain.EvidenceSubmission) (Result, error) {
	if err := ev.ValidateStructure(); err != nil {
		s.metrics.IncrementSubmission("rejected")
		return Result{}, err
	}

	sess, err := s.sessions.FindSession(ctx, ev.SessionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.metrics.IncrementSubmission("rejected")
		return Result{}, dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	if err != nil {
		return Result{}, fmt.Errorf("find session: %w", err)
	}
	if sess.Status == domain.SessionCancelled || sess.Status == domain.SessionMissed {
		s.metrics.IncrementSubmission("rejected")
		return Result{}, dErrors.New(dErrors.CodeInvalidState, "session no longer accepts evidence")
	}
	if !sess.Enrolled(ev.SubjectID) {
		s.metrics.IncrementSubmission("rejected")
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "subject is not on the session roster")
	}

	round, err := s.sessions.FindRound(ctx, ev.RoundID)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.metrics.IncrementSubmission("rejected")
		return Result{}, dErrors.New(dErrors.CodeNotFound, "round not found")
	}
	if err != nil {
		return Result{}, fmt.Errorf("find round: %w", err)
	}
	if round.SessionID != sess.ID {
		s.metrics.IncrementSubmission("rejected")
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "round does not belong to session")
	}
	if err := round.Open(ev.Timestamp, sess.Config.WindowTolerance, sess.Config.GraceWindow); err != nil {
		s.metrics.IncrementSubmission("rejected")
		if dErrors.HasCode(err, dErrors.CodeRoundClosed) {
			// Post-grace submissions are audited as a possible fraud
			// signal, not silently dropped.
			s.audit(audit.Event{
				Action:    audit.ActionLateEvidence,
				SessionID: sess.ID,
				SubjectID: ev.SubjectID,
				Detail:    fmt.Sprintf("round %d, evidence timestamp %s", round.Number, ev.Timestamp.UTC().Format(time.RFC3339)),
			})
		}
		return Result{}, err
	}
	if err := round.AcceptsArrival(s.now(), sess.Config.GraceWindow); err != nil {
		s.metrics.IncrementSubmission("rejected")
		// A late delivery with an in-window claimed timestamp is the
		// classic backdating attempt; audit it like any post-grace
		// submission.
		s.audit(audit.Event{
			Action:    audit.ActionLateEvidence,
			SessionID: sess.ID,
			SubjectID: ev.SubjectID,
			Detail:    fmt.Sprintf("round %d, delivered %s, evidence timestamp %s", round.Number, s.now().UTC().Format(time.RFC3339), ev.Timestamp.UTC().Format(time.RFC3339)),
		})
		return Result{}, err
	}

	// Whitelist gating: evidence arriving before the schedule's whitelist
	// exists is stored but excluded from aggregation until reprocessed.
	unvalidated := false
	_, err = s.whitelists.Find(ctx, sess.ScheduleID)
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrNotFound) || dErrors.HasCode(err, dErrors.CodeNotFound):
		unvalidated = true
	default:
		return Result{}, fmt.Errorf("find whitelist: %w", err)
	}

	ev.ID = id.NewEvidenceID()
	ev.ScheduleID = sess.ScheduleID
	ev.Unvalidated = unvalidated
	ev.ReceivedAt = s.now().UTC()

	reserved, err := s.reserver.Reserve(ctx, ev.Key(), reservationTTL)
	if err != nil {
		// Reservation is an optimization; fall through to the store's
		// unique key rather than failing the submission.
		s.logger.Warn("idempotency reservation failed, relying on store",
			"error", err,
			"key", ev.Key(),
		)
		reserved = true
	}
	if !reserved {
		s.metrics.IncrementDuplicate()
		s.metrics.IncrementSubmission("duplicate")
		return Result{Duplicate: true, Unvalidated: unvalidated}, nil
	}

	stored, err := s.store.Save(ctx, ev)
	if err != nil {
		// Holding the reservation would make every retry of this
		// submission a false duplicate until the TTL expires.
		if relErr := s.reserver.Release(ctx, ev.Key()); relErr != nil {
			s.logger.Warn("idempotency release failed",
				"error", relErr,
				"key", ev.Key(),
			)
		}
		return Result{}, fmt.Errorf("save evidence: %w", err)
	}
	if !stored {
		s.metrics.IncrementDuplicate()
		s.metrics.IncrementSubmission("duplicate")
		return Result{Duplicate: true, Unvalidated: unvalidated}, nil
	}

	if unvalidated {
		s.metrics.IncrementUnvalidated()
		s.metrics.IncrementSubmission("unvalidated")
		s.logger.Info("evidence stored unvalidated, no whitelist for schedule",
			"schedule_id", sess.ScheduleID.String(),
			"evidence_id", ev.ID.String(),
		)
		return Result{EvidenceID: ev.ID, Unvalidated: true}, nil
	}

	s.metrics.IncrementSubmission("accepted")

	if s.aggregator != nil {
		if err := s.aggregator.ProcessEvidence(ctx, ev); err != nil {
			// The evidence is durable; aggregation catches up on the
			// round-close pass.
			s.logger.Error("incremental aggregation failed",
				"error", err,
				"evidence_id", ev.ID.String(),
			)
		}
	}
	if s.observer != nil {
		s.observer.Observe(ev)
	}

	return Result{EvidenceID: ev.ID}, nil
}

// Evidence returns a subject's stored submissions for a session, oldest
// first. Read path for the ops API.
func (s *Service) Evidence(ctx context.Context, subjectID id.SubjectID, sessionID id.SessionID) ([]domain.EvidenceSubmission, error) {
	return s.store.ListBySubject(ctx, subjectID, sessionID)
}

func (s *Service) audit(event audit.Event) {
	if s.auditor != nil {
		s.auditor.Emit(event)
	}
}
