package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
)

// PostgresStore persists the evidence log. A unique index on the
// idempotency key makes duplicate submissions no-ops at the storage layer,
// which is what makes at-least-once delivery safe even without Redis.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type payloadRow struct {
	Peers    []domain.PeerSighting `json:"peers,omitempty"`
	Location *domain.GeoPoint      `json:"location,omitempty"`
}

func (s *PostgresStore) Save(ctx context.Context, ev domain.EvidenceSubmission) (bool, error) {
	payload, err := json.Marshal(payloadRow{Peers: ev.Peers, Location: ev.Location})
	if err != nil {
		return false, fmt.Errorf("marshal evidence payload: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence (
			id, idempotency_key, subject_id, session_id, schedule_id,
			round_id, device_id, ts, mode, payload, unvalidated, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		ev.ID.String(), ev.Key(), ev.SubjectID.String(), ev.SessionID.String(),
		ev.ScheduleID.String(), ev.RoundID.String(), ev.DeviceID.String(),
		ev.Timestamp, ev.Mode.String(), payload, ev.Unvalidated, ev.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("save evidence: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save evidence rows: %w", err)
	}
	return rows == 1, nil
}

func (s *PostgresStore) ListByRound(ctx context.Context, roundID id.RoundID) ([]domain.EvidenceSubmission, error) {
	return s.list(ctx, `
		SELECT id, subject_id, session_id, schedule_id, round_id, device_id,
		       ts, mode, payload, unvalidated, received_at
		FROM evidence WHERE round_id = $1
		ORDER BY ts`, roundID.String())
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID id.SubjectID, sessionID id.SessionID) ([]domain.EvidenceSubmission, error) {
	return s.list(ctx, `
		SELECT id, subject_id, session_id, schedule_id, round_id, device_id,
		       ts, mode, payload, unvalidated, received_at
		FROM evidence WHERE subject_id = $1 AND session_id = $2
		ORDER BY ts`, subjectID.String(), sessionID.String())
}

func (s *PostgresStore) ListUnvalidatedBySchedule(ctx context.Context, scheduleID id.ScheduleID) ([]domain.EvidenceSubmission, error) {
	return s.list(ctx, `
		SELECT id, subject_id, session_id, schedule_id, round_id, device_id,
		       ts, mode, payload, unvalidated, received_at
		FROM evidence WHERE schedule_id = $1 AND unvalidated
		ORDER BY ts`, scheduleID.String())
}

func (s *PostgresStore) MarkValidated(ctx context.Context, evidenceID id.EvidenceID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE evidence SET unvalidated = FALSE WHERE id = $1`,
		evidenceID.String())
	if err != nil {
		return fmt.Errorf("mark evidence validated: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark evidence validated rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]domain.EvidenceSubmission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	var out []domain.EvidenceSubmission
	for rows.Next() {
		var (
			ev                                                    domain.EvidenceSubmission
			evID, subjectID, sessID, scheduleID, roundID, deviceID string
			mode                                                  string
			payload                                               []byte
		)
		if err := rows.Scan(&evID, &subjectID, &sessID, &scheduleID, &roundID,
			&deviceID, &ev.Timestamp, &mode, &payload, &ev.Unvalidated, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		if err := hydrate(&ev, evID, subjectID, sessID, scheduleID, roundID, deviceID, mode, payload); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func hydrate(ev *domain.EvidenceSubmission, evID, subjectID, sessID, scheduleID, roundID, deviceID, mode string, payload []byte) error {
	var err error
	if ev.ID, err = id.ParseEvidenceID(evID); err != nil {
		return fmt.Errorf("evidence id: %w", err)
	}
	if ev.SubjectID, err = id.ParseSubjectID(subjectID); err != nil {
		return fmt.Errorf("evidence subject id: %w", err)
	}
	if ev.SessionID, err = id.ParseSessionID(sessID); err != nil {
		return fmt.Errorf("evidence session id: %w", err)
	}
	if ev.ScheduleID, err = id.ParseScheduleID(scheduleID); err != nil {
		return fmt.Errorf("evidence schedule id: %w", err)
	}
	if ev.RoundID, err = id.ParseRoundID(roundID); err != nil {
		return fmt.Errorf("evidence round id: %w", err)
	}
	if ev.DeviceID, err = id.ParseDeviceID(deviceID); err != nil {
		return fmt.Errorf("evidence device id: %w", err)
	}
	ev.Mode = domain.EvidenceMode(mode)

	var p payloadRow
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("unmarshal evidence payload: %w", err)
	}
	ev.Peers = p.Peers
	ev.Location = p.Location
	return nil
}
