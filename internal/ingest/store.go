package ingest

import (
	"context"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
)

// Store is the append-only evidence log. Rows are immutable once stored
// except for the unvalidated flag, which flips exactly once when a
// whitelist appears. Save with an already-stored idempotency key is a
// no-op, not an error.
type Store interface {
	Save(ctx context.Context, ev domain.EvidenceSubmission) (stored bool, err error)
	ListByRound(ctx context.Context, roundID id.RoundID) ([]domain.EvidenceSubmission, error)
	ListBySubject(ctx context.Context, subjectID id.SubjectID, sessionID id.SessionID) ([]domain.EvidenceSubmission, error)
	ListUnvalidatedBySchedule(ctx context.Context, scheduleID id.ScheduleID) ([]domain.EvidenceSubmission, error)
	MarkValidated(ctx context.Context, evidenceID id.EvidenceID) error
}
