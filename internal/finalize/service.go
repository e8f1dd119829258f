package finalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"rollcall/internal/audit"
	"rollcall/internal/domain"
	"rollcall/internal/finalize/metrics"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/events"
	"rollcall/pkg/platform/sentinel"
)

// finalizeConcurrency bounds the per-subject fan-out during a session
// finalization pass.
const finalizeConcurrency = 8

// TrackSource provides the aggregated attendance track a decision is
// derived from. Satisfied by the aggregation service.
type TrackSource interface {
	Track(ctx context.Context, subjectID id.SubjectID, sessionID id.SessionID) (domain.SubjectTrack, error)
}

// SessionSource resolves sessions for the override path.
type SessionSource interface {
	FindSession(ctx context.Context, sessionID id.SessionID) (domain.Session, error)
}

// LeaveChecker reports whether a subject holds an approved leave for a
// session. Leave status wins over any computed percentage.
type LeaveChecker interface {
	OnApprovedLeave(ctx context.Context, subjectID id.SubjectID, sessionID id.SessionID) (bool, error)
}

// EventSink receives finalized-attendance notifications. Satisfied by
// the events publisher.
type EventSink interface {
	PublishFinalized(ctx context.Context, event events.FinalizedAttendance)
}

// AuditRecorder is satisfied by the audit publisher.
type AuditRecorder interface {
	Emit(event audit.Event)
}

// Config carries the decision policy. Thresholds are percentages.
type Config struct {
	Thresholds domain.Thresholds
	// ZeroRoundsPresent controls what a session with no completed rounds
	// yields: Present when true, the thresholds' verdict on 0% otherwise.
	ZeroRoundsPresent bool
}

// Service turns aggregated tracks into final attendance records.
// Automatic finalization writes each (subject, session) at most once;
// manual overrides replace any record and are never overwritten back.
type Service struct {
	store    Store
	sessions SessionSource
	tracks   TrackSource
	leaves   LeaveChecker
	sink     EventSink
	auditor  AuditRecorder
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
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
	return func(s *Service) { s.metrics = m }
}

func WithLeaveChecker(lc LeaveChecker) Option {
	return func(s *Service) { s.leaves = lc }
}

func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *Service) { s.auditor = a }
}

func NewService(store Store, sessions SessionSource, tracks TrackSource, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		sessions: sessions,
		tracks:   tracks,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FinalizeSession writes a final attendance record for every enrolled
// subject. Idempotent: subjects that already hold a record, manual or
// automatic, are left untouched, so re-running after a partial failure
// only fills the gaps.
func (s *Service) FinalizeSession(ctx context.Context, sess domain.Session) error {
	started := s.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(finalizeConcurrency)
	for _, subject := range sess.Roster {
		g.Go(func() error {
			return s.finalizeSubject(gctx, sess, subject)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("finalize session %s: %w", sess.ID, err)
	}

	s.metrics.ObserveFinalization(s.now().Sub(started))
	s.logger.Info("session finalized",
		"session_id", sess.ID.String(),
		"subjects", len(sess.Roster),
	)
	return nil
}

func (s *Service) finalizeSubject(ctx context.Context, sess domain.Session, subject id.SubjectID) error {
	_, err := s.store.Find(ctx, sess.ID, subject)
	if err == nil {
		return nil // already finalized, manual or automatic
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return fmt.Errorf("find record for %s: %w", subject, err)
	}

	status, percentage, err := s.decide(ctx, sess, subject)
	if err != nil {
		return err
	}

	record := domain.FinalAttendanceRecord{
		SubjectID:   subject,
		SessionID:   sess.ID,
		Status:      status,
		Percentage:  percentage,
		FinalizedAt: s.now().UTC(),
	}
	stored, err := s.store.SaveIfAbsent(ctx, record)
	if err != nil {
		return fmt.Errorf("save record for %s: %w", subject, err)
	}
	if !stored {
		// An override, or another replica, landed between our check and
		// our write. Whoever wrote first owns the record.
		return nil
	}

	s.metrics.IncrementFinalization(status.String(), "automatic")
	s.emit(ctx, record)
	return nil
}

func (s *Service) decide(ctx context.Context, sess domain.Session, subject id.SubjectID) (domain.AttendanceStatus, float64, error) {
	if s.leaves != nil {
		onLeave, err := s.leaves.OnApprovedLeave(ctx, subject, sess.ID)
		if err != nil {
			return "", 0, fmt.Errorf("leave check for %s: %w", subject, err)
		}
		if onLeave {
			return domain.AttendanceExcusedLeave, 0, nil
		}
	}

	track, err := s.tracks.Track(ctx, subject, sess.ID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return "", 0, fmt.Errorf("track for %s: %w", subject, err)
	}

	// A subject with no track rode through a session where no round
	// completed for them; the zero-rounds policy decides.
	if track.CompletedRounds == 0 {
		if s.cfg.ZeroRoundsPresent {
			return domain.AttendancePresent, 0, nil
		}
		return s.cfg.Thresholds.StatusFor(0), 0, nil
	}

	percentage := track.Percentage()
	return s.cfg.Thresholds.StatusFor(percentage), percentage, nil
}

// OverrideInput describes a manual attendance correction.
type OverrideInput struct {
	SessionID id.SessionID
	SubjectID id.SubjectID
	Status    domain.AttendanceStatus
	Reason    string
	ActorID   id.ActorID
}

// OverrideAttendance replaces a subject's final record with a manual
// decision. Overrides always win: automatic finalization never touches
// a manual record again. Every override is audited.
func (s *Service) OverrideAttendance(ctx context.Context, input OverrideInput) (domain.FinalAttendanceRecord, error) {
	if !input.Status.IsValid() {
		return domain.FinalAttendanceRecord{}, dErrors.New(dErrors.CodeInvalidInput, "unknown attendance status")
	}
	if input.Reason == "" {
		return domain.FinalAttendanceRecord{}, dErrors.New(dErrors.CodeInvalidInput, "override reason is required")
	}
	if input.ActorID.IsNil() {
		return domain.FinalAttendanceRecord{}, dErrors.New(dErrors.CodeInvalidInput, "override actor is required")
	}

	sess, err := s.sessions.FindSession(ctx, input.SessionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.FinalAttendanceRecord{}, dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	if err != nil {
		return domain.FinalAttendanceRecord{}, fmt.Errorf("find session: %w", err)
	}
	if !sess.Enrolled(input.SubjectID) {
		return domain.FinalAttendanceRecord{}, dErrors.New(dErrors.CodeInvalidInput, "subject is not on the session roster")
	}
	if sess.Status == domain.SessionCancelled {
		return domain.FinalAttendanceRecord{}, dErrors.New(dErrors.CodeInvalidState, "cancelled sessions have no attendance to override")
	}

	// Percentage is informational on manual records; carry it over from
	// the track when one exists.
	var percentage float64
	track, err := s.tracks.Track(ctx, input.SubjectID, input.SessionID)
	if err == nil {
		percentage = track.Percentage()
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return domain.FinalAttendanceRecord{}, fmt.Errorf("track for %s: %w", input.SubjectID, err)
	}

	record := domain.FinalAttendanceRecord{
		SubjectID:   input.SubjectID,
		SessionID:   input.SessionID,
		Status:      input.Status,
		Percentage:  percentage,
		IsManual:    true,
		ActorID:     input.ActorID,
		Reason:      input.Reason,
		FinalizedAt: s.now().UTC(),
	}
	if err := s.store.Save(ctx, record); err != nil {
		return domain.FinalAttendanceRecord{}, fmt.Errorf("save override: %w", err)
	}

	s.metrics.IncrementOverride()
	s.metrics.IncrementFinalization(record.Status.String(), "manual")
	s.audit(audit.Event{
		Action:    audit.ActionOverride,
		SessionID: input.SessionID,
		SubjectID: input.SubjectID,
		ActorID:   input.ActorID,
		Reason:    input.Reason,
		Detail:    fmt.Sprintf("status set to %s", input.Status),
	})
	s.emit(ctx, record)
	return record, nil
}

// Record returns one subject's final attendance record.
func (s *Service) Record(ctx context.Context, sessionID id.SessionID, subjectID id.SubjectID) (domain.FinalAttendanceRecord, error) {
	record, err := s.store.Find(ctx, sessionID, subjectID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.FinalAttendanceRecord{}, dErrors.New(dErrors.CodeNotFound, "attendance record not found")
	}
	return record, err
}

// Records returns all final attendance records for a session.
func (s *Service) Records(ctx context.Context, sessionID id.SessionID) ([]domain.FinalAttendanceRecord, error) {
	return s.store.ListBySession(ctx, sessionID)
}

func (s *Service) emit(ctx context.Context, record domain.FinalAttendanceRecord) {
	if s.sink == nil {
		return
	}
	s.sink.PublishFinalized(ctx, events.FinalizedAttendance{
		SessionID:  record.SessionID,
		SubjectID:  record.SubjectID,
		Status:     record.Status.String(),
		Percentage: record.Percentage,
		IsManual:   record.IsManual,
		OccurredAt: record.FinalizedAt,
	})
}

func (s *Service) audit(event audit.Event) {
	if s.auditor != nil {
		s.auditor.Emit(event)
	}
}
