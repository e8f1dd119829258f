package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "rollcall/pkg/domain"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, occurred_at, action, session_id, subject_id, actor_id, reason, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.Timestamp, string(event.Action),
		nullableUUID(uuid.UUID(event.SessionID)),
		nullableUUID(uuid.UUID(event.SubjectID)),
		nullableUUID(uuid.UUID(event.ActorID)),
		event.Reason, event.Detail)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID id.SessionID) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, action, subject_id, actor_id, reason, detail
		FROM audit_events WHERE session_id = $1
		ORDER BY occurred_at ASC`,
		sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e                Event
			action           string
			subjectID, actor sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &action, &subjectID, &actor, &e.Reason, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = Action(action)
		e.SessionID = sessionID
		if subjectID.Valid {
			sid, err := id.ParseSubjectID(subjectID.String)
			if err != nil {
				return nil, fmt.Errorf("audit subject id: %w", err)
			}
			e.SubjectID = sid
		}
		if actor.Valid {
			aid, err := id.ParseActorID(actor.String)
			if err != nil {
				return nil, fmt.Errorf("audit actor id: %w", err)
			}
			e.ActorID = aid
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableUUID(u uuid.UUID) any {
	if u == uuid.Nil {
		return nil
	}
	return u.String()
}
