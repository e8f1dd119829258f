package session

import (
	"context"
	"time"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
)

// Store persists sessions and their rounds. Implementations return
// sentinel.ErrNotFound for missing entities; the service translates.
type Store interface {
	SaveSession(ctx context.Context, sess domain.Session) error
	FindSession(ctx context.Context, sessionID id.SessionID) (domain.Session, error)
	// ListSessionsByStatus supports the background sweeps.
	ListSessionsByStatus(ctx context.Context, status domain.SessionStatus) ([]domain.Session, error)

	SaveRound(ctx context.Context, round domain.Round) error
	FindRound(ctx context.Context, roundID id.RoundID) (domain.Round, error)
	ListRounds(ctx context.Context, sessionID id.SessionID) ([]domain.Round, error)
}

// RoundClosedSignal is published when a round completes so the aggregator
// runs its final pass over grace-window evidence.
type RoundClosedSignal struct {
	SessionID id.SessionID
	RoundID   id.RoundID
	ClosedAt  time.Time
}
