package aggregate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
	txcontext "rollcall/pkg/platform/tx"
)

// PostgresStore persists participations and tracks. The (subject, round)
// primary key plus ON CONFLICT upsert gives the aggregation-conflict
// resolution the engine relies on: last structurally-valid write wins,
// never two rows.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) UpsertParticipation(ctx context.Context, p domain.SubjectRoundParticipation) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO participations (
			subject_id, round_id, session_id, attended, match_metric,
			evidence_id, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (subject_id, round_id) DO UPDATE SET
			attended = EXCLUDED.attended,
			match_metric = EXCLUDED.match_metric,
			evidence_id = EXCLUDED.evidence_id,
			processed_at = EXCLUDED.processed_at`,
		p.SubjectID.String(), p.RoundID.String(), p.SessionID.String(),
		p.Attended, p.MatchMetric, nullableID(p.EvidenceID), p.ProcessedAt)
	if err != nil {
		return fmt.Errorf("upsert participation: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindParticipation(ctx context.Context, subjectID id.SubjectID, roundID id.RoundID) (domain.SubjectRoundParticipation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, attended, match_metric, evidence_id, processed_at
		FROM participations WHERE subject_id = $1 AND round_id = $2`,
		subjectID.String(), roundID.String())

	var (
		p          domain.SubjectRoundParticipation
		sessID     string
		evidenceID sql.NullString
	)
	err := row.Scan(&sessID, &p.Attended, &p.MatchMetric, &evidenceID, &p.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SubjectRoundParticipation{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.SubjectRoundParticipation{}, fmt.Errorf("find participation: %w", err)
	}

	sessionID, err := id.ParseSessionID(sessID)
	if err != nil {
		return domain.SubjectRoundParticipation{}, fmt.Errorf("participation session id: %w", err)
	}
	p.SubjectID = subjectID
	p.RoundID = roundID
	p.SessionID = sessionID
	if evidenceID.Valid {
		eid, err := id.ParseEvidenceID(evidenceID.String)
		if err != nil {
			return domain.SubjectRoundParticipation{}, fmt.Errorf("participation evidence id: %w", err)
		}
		p.EvidenceID = eid
	}
	return p, nil
}

func (s *PostgresStore) ListParticipationsBySession(ctx context.Context, sessionID id.SessionID) ([]domain.SubjectRoundParticipation, error) {
	// Goes through the execer so a track recompute inside a transaction
	// sees the participation upserted in the same transaction.
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT subject_id, round_id, attended, match_metric, evidence_id, processed_at
		FROM participations WHERE session_id = $1`,
		sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}
	defer rows.Close()

	var out []domain.SubjectRoundParticipation
	for rows.Next() {
		var (
			p                  domain.SubjectRoundParticipation
			subjectID, roundID string
			evidenceID         sql.NullString
		)
		if err := rows.Scan(&subjectID, &roundID, &p.Attended, &p.MatchMetric, &evidenceID, &p.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan participation: %w", err)
		}
		sid, err := id.ParseSubjectID(subjectID)
		if err != nil {
			return nil, fmt.Errorf("participation subject id: %w", err)
		}
		rid, err := id.ParseRoundID(roundID)
		if err != nil {
			return nil, fmt.Errorf("participation round id: %w", err)
		}
		p.SubjectID = sid
		p.RoundID = rid
		p.SessionID = sessionID
		if evidenceID.Valid {
			eid, err := id.ParseEvidenceID(evidenceID.String)
			if err != nil {
				return nil, fmt.Errorf("participation evidence id: %w", err)
			}
			p.EvidenceID = eid
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveTrack(ctx context.Context, track domain.SubjectTrack) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO subject_tracks (subject_id, session_id, attended_rounds, completed_rounds, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_id, session_id) DO UPDATE SET
			attended_rounds = EXCLUDED.attended_rounds,
			completed_rounds = EXCLUDED.completed_rounds,
			updated_at = EXCLUDED.updated_at`,
		track.SubjectID.String(), track.SessionID.String(),
		track.AttendedRounds, track.CompletedRounds, track.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save track: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindTrack(ctx context.Context, subjectID id.SubjectID, sessionID id.SessionID) (domain.SubjectTrack, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT attended_rounds, completed_rounds, updated_at
		FROM subject_tracks WHERE subject_id = $1 AND session_id = $2`,
		subjectID.String(), sessionID.String())

	track := domain.SubjectTrack{SubjectID: subjectID, SessionID: sessionID}
	err := row.Scan(&track.AttendedRounds, &track.CompletedRounds, &track.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SubjectTrack{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.SubjectTrack{}, fmt.Errorf("find track: %w", err)
	}
	return track, nil
}

func (s *PostgresStore) ListTracks(ctx context.Context, sessionID id.SessionID) ([]domain.SubjectTrack, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, attended_rounds, completed_rounds, updated_at
		FROM subject_tracks WHERE session_id = $1`,
		sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	defer rows.Close()

	var out []domain.SubjectTrack
	for rows.Next() {
		track := domain.SubjectTrack{SessionID: sessionID}
		var subjectID string
		if err := rows.Scan(&subjectID, &track.AttendedRounds, &track.CompletedRounds, &track.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		sid, err := id.ParseSubjectID(subjectID)
		if err != nil {
			return nil, fmt.Errorf("track subject id: %w", err)
		}
		track.SubjectID = sid
		out = append(out, track)
	}
	return out, rows.Err()
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func nullableID(eid id.EvidenceID) any {
	if eid.IsNil() {
		return nil
	}
	return eid.String()
}
