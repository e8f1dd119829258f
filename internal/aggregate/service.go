package aggregate

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"rollcall/internal/aggregate/metrics"
	"rollcall/internal/domain"
	"rollcall/internal/session"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/platform/tx"
)

// Config holds the aggregation thresholds. All of them are policy,
// injected from configuration.
type Config struct {
	// PeerOverlapThreshold is the minimum detected/expected peer ratio
	// for a peer-scan round to count as attended.
	PeerOverlapThreshold float64
	// MaxAccuracyMeters rejects geo fixes with worse reported accuracy.
	MaxAccuracyMeters float64
}

// Service turns a round's evidence into per-subject participations. A
// verdict is a pure function of the evidence set, the whitelist, and the
// thresholds, so recomputation is idempotent by construction.
type Service struct {
	store      Store
	evidence   EvidenceSource
	sessions   SessionSource
	whitelists WhitelistSource
	txRunner   tx.Runner
	cfg        Config
	metrics    *metrics.Metrics
	logger     *slog.Logger
	clock      func() time.Time

	// locks serializes writers per (subject, round); different keys
	// proceed in parallel.
	locks keyedMutex
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

// WithMetrics wires aggregation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTxRunner makes a subject's participation upsert and track recompute
// one atomic write on stores that support transactions.
func WithTxRunner(r tx.Runner) Option {
	return func(s *Service) {
		if r != nil {
			s.txRunner = r
		}
	}
}

// New creates an aggregation Service.
func New(store Store, evidence EvidenceSource, sessions SessionSource, whitelists WhitelistSource, cfg Config, opts ...Option) *Service {
	if cfg.PeerOverlapThreshold <= 0 {
		cfg.PeerOverlapThreshold = 0.5
	}
	if cfg.MaxAccuracyMeters <= 0 {
		cfg.MaxAccuracyMeters = 50
	}
	s := &Service{
		store:      store,
		evidence:   evidence,
		sessions:   sessions,
		whitelists: whitelists,
		txRunner:   tx.NopRunner{},
		cfg:        cfg,
		logger:     slog.Default(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessEvidence is the incremental path: recompute one subject's verdict
// for the submission's round. Safe to run concurrently with the
// round-close pass; both compute the same pure function.
func (s *Service) ProcessEvidence(ctx context.Context, ev domain.EvidenceSubmission) error {
	if ev.Unvalidated {
		// No whitelist yet; the submission waits for ReprocessSchedule.
		return nil
	}

	round, err := s.sessions.FindRound(ctx, ev.RoundID)
	if err != nil {
		return fmt.Errorf("aggregate: find round: %w", err)
	}
	if round.Status == domain.RoundCancelled {
		s.metrics.IncrementDiscardedStale()
		return nil
	}

	sess, err := s.sessions.FindSession(ctx, ev.SessionID)
	if err != nil {
		return fmt.Errorf("aggregate: find session: %w", err)
	}
	if sess.Status == domain.SessionCancelled {
		s.metrics.IncrementDiscardedStale()
		return nil
	}

	wl, err := s.whitelists.Find(ctx, sess.ScheduleID)
	if errors.Is(err, sentinel.ErrNotFound) {
		// Absent whitelist: the verdict would be meaningless. The
		// evidence stays stored; nothing is silently validated.
		return nil
	}
	if err != nil {
		return fmt.Errorf("aggregate: find whitelist: %w", err)
	}

	return s.aggregateAndTrack(ctx, sess, round, ev.SubjectID, wl)
}

// OnRoundClosed is the round-close pass: one final aggregation over every
// roster subject, catching grace-window evidence and writing attended=false
// rows for subjects who never submitted. Must run exactly once more after
// closure; running it again yields the same verdicts.
func (s *Service) OnRoundClosed(ctx context.Context, signal session.RoundClosedSignal) error {
	start := s.clock()

	round, err := s.sessions.FindRound(ctx, signal.RoundID)
	if err != nil {
		return fmt.Errorf("aggregate: find round: %w", err)
	}
	if round.Status == domain.RoundCancelled {
		s.metrics.IncrementDiscardedStale()
		return nil
	}

	sess, err := s.sessions.FindSession(ctx, signal.SessionID)
	if err != nil {
		return fmt.Errorf("aggregate: find session: %w", err)
	}
	if sess.Status == domain.SessionCancelled {
		s.metrics.IncrementDiscardedStale()
		return nil
	}

	wl, err := s.whitelists.Find(ctx, sess.ScheduleID)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.logger.WarnContext(ctx, "round closed without whitelist; evidence stays unvalidated",
			"session_id", sess.ID.String(),
			"round_id", round.ID.String(),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("aggregate: find whitelist: %w", err)
	}

	for _, subject := range sess.Roster {
		if err := s.aggregateAndTrack(ctx, sess, round, subject, wl); err != nil {
			return err
		}
	}

	s.metrics.ObserveRoundPass(s.clock().Sub(start))
	return nil
}

// aggregateAndTrack writes a subject's verdict and recomputed track as
// one unit: a track must never count a participation that was not
// durably written.
func (s *Service) aggregateAndTrack(ctx context.Context, sess domain.Session, round domain.Round, subject id.SubjectID, wl domain.Whitelist) error {
	return s.txRunner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.aggregateSubject(ctx, sess, round, subject, wl); err != nil {
			return err
		}
		return s.recomputeTrack(ctx, sess, subject)
	})
}

// ReprocessSchedule validates evidence stored before the schedule's
// whitelist existed and aggregates it. Invoked by the whitelist service
// after generation or a roster delta.
func (s *Service) ReprocessSchedule(ctx context.Context, scheduleID id.ScheduleID) error {
	pending, err := s.evidence.ListUnvalidatedBySchedule(ctx, scheduleID)
	if err != nil {
		return fmt.Errorf("aggregate: list unvalidated: %w", err)
	}

	for _, ev := range pending {
		if err := s.evidence.MarkValidated(ctx, ev.ID); err != nil {
			return fmt.Errorf("aggregate: mark validated: %w", err)
		}
		ev.Unvalidated = false
		if err := s.ProcessEvidence(ctx, ev); err != nil {
			return err
		}
		s.metrics.IncrementReprocessed()
	}

	if len(pending) > 0 {
		s.logger.InfoContext(ctx, "reprocessed unvalidated evidence",
			"schedule_id", scheduleID.String(),
			"count", len(pending),
		)
	}
	return nil
}

// Track returns a subject's running attendance track.
func (s *Service) Track(ctx context.Context, subjectID id.SubjectID, sessionID id.SessionID) (domain.SubjectTrack, error) {
	return s.store.FindTrack(ctx, subjectID, sessionID)
}

// Tracks returns all tracks for a session.
func (s *Service) Tracks(ctx context.Context, sessionID id.SessionID) ([]domain.SubjectTrack, error) {
	return s.store.ListTracks(ctx, sessionID)
}

// aggregateSubject computes and upserts one subject's verdict for one
// round from the round's validated evidence.
func (s *Service) aggregateSubject(ctx context.Context, sess domain.Session, round domain.Round, subject id.SubjectID, wl domain.Whitelist) error {
	unlock := s.locks.lock(subject.String() + ":" + round.ID.String())
	defer unlock()

	all, err := s.evidence.ListByRound(ctx, round.ID)
	if err != nil {
		return fmt.Errorf("aggregate: list evidence: %w", err)
	}

	// Re-check the round inside the lock: a cancellation racing with this
	// pass must win, and the stale result is discarded.
	current, err := s.sessions.FindRound(ctx, round.ID)
	if err != nil {
		return fmt.Errorf("aggregate: recheck round: %w", err)
	}
	if current.Status == domain.RoundCancelled {
		s.metrics.IncrementDiscardedStale()
		return nil
	}

	verdict := s.verdictFor(subject, all, wl)
	p := domain.SubjectRoundParticipation{
		SubjectID:   subject,
		RoundID:     round.ID,
		SessionID:   sess.ID,
		Attended:    verdict.attended,
		MatchMetric: verdict.metric,
		EvidenceID:  verdict.evidenceRef,
		ProcessedAt: s.clock(),
	}
	if err := s.store.UpsertParticipation(ctx, p); err != nil {
		return fmt.Errorf("aggregate: upsert participation: %w", err)
	}
	s.metrics.IncrementVerdict(wl.Mode.String(), verdict.attended)
	return nil
}

type verdict struct {
	attended    bool
	metric      float64
	evidenceRef id.EvidenceID
}

// verdictFor is the pure aggregation function: same evidence set, same
// whitelist, same verdict.
func (s *Service) verdictFor(subject id.SubjectID, all []domain.EvidenceSubmission, wl domain.Whitelist) verdict {
	switch wl.Mode {
	case domain.ModePeerScan:
		return s.peerVerdict(subject, all, wl)
	case domain.ModeGeo:
		return s.geoVerdict(subject, all, wl)
	}
	return verdict{}
}

// peerVerdict takes the best overlap ratio across the subject's
// submissions: the peers their device detected intersected with the
// whitelist-expected peer set.
func (s *Service) peerVerdict(subject id.SubjectID, all []domain.EvidenceSubmission, wl domain.Whitelist) verdict {
	expected := wl.ExpectedPeers(subject)
	best := verdict{}
	for _, ev := range all {
		if ev.SubjectID != subject || ev.Unvalidated || ev.Mode != domain.ModePeerScan {
			continue
		}
		detected := 0
		seen := make(map[id.DeviceID]struct{}, len(ev.Peers))
		for _, peer := range ev.Peers {
			if _, dup := seen[peer.DeviceID]; dup {
				continue
			}
			seen[peer.DeviceID] = struct{}{}
			if _, ok := expected[peer.DeviceID]; ok {
				detected++
			}
		}
		ratio := 1.0 // empty expected set means nothing to miss
		if len(expected) > 0 {
			ratio = float64(detected) / float64(len(expected))
		}
		if ratio > best.metric || best.evidenceRef.IsNil() {
			best = verdict{
				attended:    ratio >= s.cfg.PeerOverlapThreshold,
				metric:      ratio,
				evidenceRef: ev.ID,
			}
		}
	}
	return best
}

// geoVerdict takes the closest acceptable fix: within the fence radius
// with accuracy at or under the ceiling. The metric is the distance from
// the reference point in meters.
func (s *Service) geoVerdict(subject id.SubjectID, all []domain.EvidenceSubmission, wl domain.Whitelist) verdict {
	if wl.Fence == nil {
		return verdict{}
	}
	best := verdict{}
	found := false
	for _, ev := range all {
		if ev.SubjectID != subject || ev.Unvalidated || ev.Mode != domain.ModeGeo || ev.Location == nil {
			continue
		}
		distance := HaversineMeters(*ev.Location, wl.Fence.Center)
		valid := distance <= wl.Fence.Radius && ev.Location.Accuracy <= s.cfg.MaxAccuracyMeters
		if !found || distance < best.metric {
			best = verdict{attended: valid, metric: distance, evidenceRef: ev.ID}
			found = true
		}
	}
	return best
}

// recomputeTrack rebuilds a subject's running percentage over completed
// rounds. Monotonic in completed rounds: the denominator only grows as
// rounds close.
func (s *Service) recomputeTrack(ctx context.Context, sess domain.Session, subject id.SubjectID) error {
	rounds, err := s.sessions.ListRounds(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("aggregate: list rounds: %w", err)
	}

	completed := make(map[id.RoundID]struct{})
	for _, round := range rounds {
		if round.Status == domain.RoundCompleted {
			completed[round.ID] = struct{}{}
		}
	}

	attended := 0
	participations, err := s.store.ListParticipationsBySession(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("aggregate: list participations: %w", err)
	}
	for _, p := range participations {
		if p.SubjectID != subject {
			continue
		}
		if _, done := completed[p.RoundID]; done && p.Attended {
			attended++
		}
	}

	track := domain.SubjectTrack{
		SubjectID:       subject,
		SessionID:       sess.ID,
		AttendedRounds:  attended,
		CompletedRounds: len(completed),
		UpdatedAt:       s.clock(),
	}
	if err := s.store.SaveTrack(ctx, track); err != nil {
		return fmt.Errorf("aggregate: save track: %w", err)
	}
	return nil
}

// keyedMutex stripes locks across a fixed set of mutexes so unrelated
// (subject, round) keys rarely contend.
type keyedMutex struct {
	stripes [64]sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &k.stripes[h.Sum32()%uint32(len(k.stripes))]
	m.Lock()
	return m.Unlock
}
