package audit

import (
	"context"

	id "rollcall/pkg/domain"
)

type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySession(ctx context.Context, sessionID id.SessionID) ([]Event, error)
}
