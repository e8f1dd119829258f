package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
	txcontext "rollcall/pkg/platform/tx"
)

// PostgresStore persists sessions and rounds in relational rows. Round
// uniqueness per (session_id, round_number) is enforced by the schema.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess domain.Session) error {
	roster := make([]string, len(sess.Roster))
	for i, subject := range sess.Roster {
		roster[i] = subject.String()
	}

	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO sessions (
			id, schedule_id, roster, start_time, end_time, actual_end_time,
			status, round_count, window_tolerance_ms, grace_window_ms,
			grace_period_ms, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			roster = EXCLUDED.roster,
			actual_end_time = EXCLUDED.actual_end_time,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		sess.ID.String(), sess.ScheduleID.String(), pq.Array(roster),
		sess.StartTime, sess.EndTime, sess.ActualEndTime,
		sess.Status.String(), sess.Config.RoundCount,
		sess.Config.WindowTolerance.Milliseconds(),
		sess.Config.GraceWindow.Milliseconds(),
		sess.Config.GracePeriod.Milliseconds(),
		sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindSession(ctx context.Context, sessionID id.SessionID) (domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT schedule_id, roster, start_time, end_time, actual_end_time,
		       status, round_count, window_tolerance_ms, grace_window_ms,
		       grace_period_ms, created_at, updated_at
		FROM sessions WHERE id = $1`,
		sessionID.String())
	return s.scanSession(row, sessionID)
}

func (s *PostgresStore) ListSessionsByStatus(ctx context.Context, status domain.SessionStatus) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schedule_id, roster, start_time, end_time, actual_end_time,
		       status, round_count, window_tolerance_ms, grace_window_ms,
		       grace_period_ms, created_at, updated_at
		FROM sessions WHERE status = $1`,
		status.String())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		var (
			sess                          domain.Session
			sessID, scheduleID, st        string
			roster                        []string
			tolerance, grace, gracePeriod int64
		)
		if err := rows.Scan(&sessID, &scheduleID, pq.Array(&roster),
			&sess.StartTime, &sess.EndTime, &sess.ActualEndTime, &st,
			&sess.Config.RoundCount, &tolerance, &grace, &gracePeriod,
			&sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := hydrateSession(&sess, sessID, scheduleID, st, roster, tolerance, grace, gracePeriod); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveRound(ctx context.Context, round domain.Round) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO rounds (id, session_id, round_number, start_time, end_time, status, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			closed_at = EXCLUDED.closed_at`,
		round.ID.String(), round.SessionID.String(), round.Number,
		round.StartTime, round.EndTime, round.Status.String(), round.ClosedAt)
	if err != nil {
		return fmt.Errorf("save round: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindRound(ctx context.Context, roundID id.RoundID) (domain.Round, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, round_number, start_time, end_time, status, closed_at
		FROM rounds WHERE id = $1`,
		roundID.String())

	var (
		round      domain.Round
		sessID, st string
	)
	err := row.Scan(&sessID, &round.Number, &round.StartTime, &round.EndTime, &st, &round.ClosedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Round{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Round{}, fmt.Errorf("find round: %w", err)
	}

	sessionID, err := id.ParseSessionID(sessID)
	if err != nil {
		return domain.Round{}, fmt.Errorf("round session id: %w", err)
	}
	round.ID = roundID
	round.SessionID = sessionID
	round.Status = domain.RoundStatus(st)
	return round, nil
}

func (s *PostgresStore) ListRounds(ctx context.Context, sessionID id.SessionID) ([]domain.Round, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, round_number, start_time, end_time, status, closed_at
		FROM rounds WHERE session_id = $1
		ORDER BY round_number`,
		sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	var out []domain.Round
	for rows.Next() {
		var (
			round       domain.Round
			roundID, st string
		)
		if err := rows.Scan(&roundID, &round.Number, &round.StartTime, &round.EndTime, &st, &round.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		rid, err := id.ParseRoundID(roundID)
		if err != nil {
			return nil, fmt.Errorf("round id: %w", err)
		}
		round.ID = rid
		round.SessionID = sessionID
		round.Status = domain.RoundStatus(st)
		out = append(out, round)
	}
	return out, rows.Err()
}

func (s *PostgresStore) scanSession(row *sql.Row, sessionID id.SessionID) (domain.Session, error) {
	var (
		sess                          domain.Session
		scheduleID, st                string
		roster                        []string
		tolerance, grace, gracePeriod int64
	)
	err := row.Scan(&scheduleID, pq.Array(&roster), &sess.StartTime,
		&sess.EndTime, &sess.ActualEndTime, &st, &sess.Config.RoundCount,
		&tolerance, &grace, &gracePeriod, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("find session: %w", err)
	}
	if err := hydrateSession(&sess, sessionID.String(), scheduleID, st, roster, tolerance, grace, gracePeriod); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

func hydrateSession(sess *domain.Session, sessID, scheduleID, status string, roster []string, toleranceMS, graceMS, gracePeriodMS int64) error {
	parsedSession, err := id.ParseSessionID(sessID)
	if err != nil {
		return fmt.Errorf("session id: %w", err)
	}
	parsedSchedule, err := id.ParseScheduleID(scheduleID)
	if err != nil {
		return fmt.Errorf("session schedule id: %w", err)
	}
	sess.ID = parsedSession
	sess.ScheduleID = parsedSchedule
	sess.Status = domain.SessionStatus(status)
	sess.Config.WindowTolerance = time.Duration(toleranceMS) * time.Millisecond
	sess.Config.GraceWindow = time.Duration(graceMS) * time.Millisecond
	sess.Config.GracePeriod = time.Duration(gracePeriodMS) * time.Millisecond
	sess.Roster = make([]id.SubjectID, 0, len(roster))
	for _, subject := range roster {
		subjectID, err := id.ParseSubjectID(subject)
		if err != nil {
			return fmt.Errorf("roster subject id: %w", err)
		}
		sess.Roster = append(sess.Roster, subjectID)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}
