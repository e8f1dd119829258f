package finalize

import (
	"context"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
)

// Store persists final attendance records, one per (subject, session).
// Save replaces the row unconditionally and belongs to the override
// path. SaveIfAbsent is the automatic path's write: it loses to any
// existing row, so an override committed between the service's check and
// its write is never clobbered.
type Store interface {
	Save(ctx context.Context, record domain.FinalAttendanceRecord) error
	SaveIfAbsent(ctx context.Context, record domain.FinalAttendanceRecord) (stored bool, err error)
	Find(ctx context.Context, sessionID id.SessionID, subjectID id.SubjectID) (domain.FinalAttendanceRecord, error)
	ListBySession(ctx context.Context, sessionID id.SessionID) ([]domain.FinalAttendanceRecord, error)
}
