package anomaly

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, record domain.AnomalyRecord) error {
	refs := make([]string, 0, len(record.EvidenceRefs))
	for _, ref := range record.EvidenceRefs {
		refs = append(refs, ref.String())
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anomalies (
			id, subject_id, session_id, type, severity, evidence_refs,
			implied_speed_kmh, investigation, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		record.ID.String(), record.SubjectID.String(), record.SessionID.String(),
		record.Type.String(), record.Severity.String(), pq.Array(refs),
		record.ImpliedSpeed, string(record.Investigation), record.DetectedAt)
	if err != nil {
		return fmt.Errorf("save anomaly: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID id.SessionID) ([]domain.AnomalyRecord, error) {
	return s.list(ctx, `
		SELECT id, subject_id, session_id, type, severity, evidence_refs,
			implied_speed_kmh, investigation, detected_at
		FROM anomalies WHERE session_id = $1
		ORDER BY detected_at ASC`,
		sessionID.String())
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID id.SubjectID, sessionID id.SessionID) ([]domain.AnomalyRecord, error) {
	return s.list(ctx, `
		SELECT id, subject_id, session_id, type, severity, evidence_refs,
			implied_speed_kmh, investigation, detected_at
		FROM anomalies WHERE subject_id = $1 AND session_id = $2
		ORDER BY detected_at ASC`,
		subjectID.String(), sessionID.String())
}

func (s *PostgresStore) UpdateInvestigation(ctx context.Context, anomalyID id.EvidenceID, status domain.InvestigationStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE anomalies SET investigation = $1 WHERE id = $2`,
		string(status), anomalyID.String())
	if err != nil {
		return fmt.Errorf("update investigation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update investigation rows: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]domain.AnomalyRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var out []domain.AnomalyRecord
	for rows.Next() {
		var (
			record                                  domain.AnomalyRecord
			anomalyID, subjectID, sessID            string
			anomalyType, severity, investigation    string
			refs                                    pq.StringArray
		)
		if err := rows.Scan(&anomalyID, &subjectID, &sessID, &anomalyType, &severity,
			&refs, &record.ImpliedSpeed, &investigation, &record.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		if record.ID, err = id.ParseEvidenceID(anomalyID); err != nil {
			return nil, fmt.Errorf("anomaly id: %w", err)
		}
		if record.SubjectID, err = id.ParseSubjectID(subjectID); err != nil {
			return nil, fmt.Errorf("anomaly subject id: %w", err)
		}
		if record.SessionID, err = id.ParseSessionID(sessID); err != nil {
			return nil, fmt.Errorf("anomaly session id: %w", err)
		}
		record.Type = domain.AnomalyType(anomalyType)
		record.Severity = domain.AnomalySeverity(severity)
		record.Investigation = domain.InvestigationStatus(investigation)
		for _, ref := range refs {
			eid, err := id.ParseEvidenceID(ref)
			if err != nil {
				return nil, fmt.Errorf("anomaly evidence ref: %w", err)
			}
			record.EvidenceRefs = append(record.EvidenceRefs, eid)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}
