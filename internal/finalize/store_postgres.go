package finalize

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
)

// PostgresStore keeps one final attendance row per (subject, session).
// The primary key makes the write-once service logic safe under races:
// two concurrent finalizations converge on one row.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, record domain.FinalAttendanceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO final_attendance (
			subject_id, session_id, status, percentage, is_manual,
			actor_id, reason, finalized_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subject_id, session_id) DO UPDATE SET
			status = EXCLUDED.status,
			percentage = EXCLUDED.percentage,
			is_manual = EXCLUDED.is_manual,
			actor_id = EXCLUDED.actor_id,
			reason = EXCLUDED.reason,
			finalized_at = EXCLUDED.finalized_at`,
		record.SubjectID.String(), record.SessionID.String(),
		record.Status.String(), record.Percentage, record.IsManual,
		nullableActor(record.ActorID), record.Reason, record.FinalizedAt)
	if err != nil {
		return fmt.Errorf("save final attendance: %w", err)
	}
	return nil
}

// SaveIfAbsent inserts the record only when the (subject, session) slot
// is empty. The conflict target makes the automatic path safe against a
// concurrent override: whoever wrote first keeps the row.
func (s *PostgresStore) SaveIfAbsent(ctx context.Context, record domain.FinalAttendanceRecord) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO final_attendance (
			subject_id, session_id, status, percentage, is_manual,
			actor_id, reason, finalized_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subject_id, session_id) DO NOTHING`,
		record.SubjectID.String(), record.SessionID.String(),
		record.Status.String(), record.Percentage, record.IsManual,
		nullableActor(record.ActorID), record.Reason, record.FinalizedAt)
	if err != nil {
		return false, fmt.Errorf("save final attendance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save final attendance: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) Find(ctx context.Context, sessionID id.SessionID, subjectID id.SubjectID) (domain.FinalAttendanceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT status, percentage, is_manual, actor_id, reason, finalized_at
		FROM final_attendance WHERE session_id = $1 AND subject_id = $2`,
		sessionID.String(), subjectID.String())

	record := domain.FinalAttendanceRecord{SubjectID: subjectID, SessionID: sessionID}
	var (
		status  string
		actorID sql.NullString
	)
	err := row.Scan(&status, &record.Percentage, &record.IsManual, &actorID, &record.Reason, &record.FinalizedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FinalAttendanceRecord{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.FinalAttendanceRecord{}, fmt.Errorf("find final attendance: %w", err)
	}
	record.Status = domain.AttendanceStatus(status)
	if actorID.Valid {
		aid, err := id.ParseActorID(actorID.String)
		if err != nil {
			return domain.FinalAttendanceRecord{}, fmt.Errorf("final attendance actor id: %w", err)
		}
		record.ActorID = aid
	}
	return record, nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID id.SessionID) ([]domain.FinalAttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, status, percentage, is_manual, actor_id, reason, finalized_at
		FROM final_attendance WHERE session_id = $1
		ORDER BY subject_id ASC`,
		sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("list final attendance: %w", err)
	}
	defer rows.Close()

	var out []domain.FinalAttendanceRecord
	for rows.Next() {
		record := domain.FinalAttendanceRecord{SessionID: sessionID}
		var (
			subjectID, status string
			actorID           sql.NullString
		)
		if err := rows.Scan(&subjectID, &status, &record.Percentage, &record.IsManual, &actorID, &record.Reason, &record.FinalizedAt); err != nil {
			return nil, fmt.Errorf("scan final attendance: %w", err)
		}
		sid, err := id.ParseSubjectID(subjectID)
		if err != nil {
			return nil, fmt.Errorf("final attendance subject id: %w", err)
		}
		record.SubjectID = sid
		record.Status = domain.AttendanceStatus(status)
		if actorID.Valid {
			aid, err := id.ParseActorID(actorID.String)
			if err != nil {
				return nil, fmt.Errorf("final attendance actor id: %w", err)
			}
			record.ActorID = aid
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func nullableActor(aid id.ActorID) any {
	if aid.IsNil() {
		return nil
	}
	return aid.String()
}
