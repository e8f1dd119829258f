package whitelist

import (
	"context"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
)

// Store persists one whitelist per schedule. Save is a versioned replace:
// regenerating for the same schedule overwrites, never duplicates.
type Store interface {
	Save(ctx context.Context, wl domain.Whitelist) error
	Find(ctx context.Context, scheduleID id.ScheduleID) (domain.Whitelist, error)
}
