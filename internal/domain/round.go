package domain

import (
	"time"

	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
)

// RoundStatus is the lifecycle state of a round. Transitions are one
// directional; a completed or cancelled round is never resurrected.
type RoundStatus string

const (
	RoundPending   RoundStatus = "pending"
	RoundActive    RoundStatus = "active"
	RoundCompleted RoundStatus = "completed"
	RoundCancelled RoundStatus = "cancelled"
)

// IsValid checks if the status is one of the supported enum values.
func (s RoundStatus) IsValid() bool {
	switch s {
	case RoundPending, RoundActive, RoundCompleted, RoundCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the round can no longer change state.
func (s RoundStatus) IsTerminal() bool {
	return s == RoundCompleted || s == RoundCancelled
}

// CanTransitionTo enforces the one-way round state machine.
func (s RoundStatus) CanTransitionTo(next RoundStatus) bool {
	switch s {
	case RoundPending:
		return next == RoundActive || next == RoundCancelled
	case RoundActive:
		return next == RoundCompleted || next == RoundCancelled
	default:
		return false
	}
}

func (s RoundStatus) String() string { return string(s) }

// Round is an ordered time slice of a session during which presence
// evidence is collected once. Round numbers are unique and monotonic
// within a session.
type Round struct {
	ID        id.RoundID
	SessionID id.SessionID
	Number    int
	StartTime time.Time
	EndTime   time.Time
	Status    RoundStatus
	ClosedAt  *time.Time
}

// Open reports whether the round accepts evidence timestamped at ts given
// the session's tolerance and grace configuration. Rounds accept evidence
// while pending or active; after completion only within the grace window.
func (r *Round) Open(ts time.Time, tolerance, grace time.Duration) error {
	if r.Status == RoundCancelled {
		return dErrors.New(dErrors.CodeInvalidState, "round is cancelled")
	}
	if r.Status == RoundCompleted {
		closed := r.EndTime
		if r.ClosedAt != nil {
			closed = *r.ClosedAt
		}
		if ts.After(closed.Add(grace)) {
			return dErrors.New(dErrors.CodeRoundClosed, "evidence arrived after round grace window")
		}
	}
	if ts.Before(r.StartTime.Add(-tolerance)) || ts.After(r.EndTime.Add(grace)) {
		return dErrors.New(dErrors.CodeOutOfWindow, "evidence timestamp outside round window")
	}
	return nil
}

// AcceptsArrival rejects evidence delivered to a completed round after
// its grace window has passed, regardless of the claimed capture
// timestamp. The capture timestamp is self-reported; delivery time is
// not.
func (r *Round) AcceptsArrival(at time.Time, grace time.Duration) error {
	if r.Status != RoundCompleted {
		return nil
	}
	closed := r.EndTime
	if r.ClosedAt != nil {
		closed = *r.ClosedAt
	}
	if at.After(closed.Add(grace)) {
		return dErrors.New(dErrors.CodeRoundClosed, "evidence delivered after round grace window")
	}
	return nil
}

// SliceRounds divides [start, end) into count equal rounds, numbered from 1.
// Used at session setup when explicit round boundaries are not supplied.
func SliceRounds(sessionID id.SessionID, start, end time.Time, count int) []Round {
	if count <= 0 || !end.After(start) {
		return nil
	}
	slice := end.Sub(start) / time.Duration(count)
	rounds := make([]Round, 0, count)
	for i := 0; i < count; i++ {
		roundStart := start.Add(time.Duration(i) * slice)
		roundEnd := roundStart.Add(slice)
		if i == count-1 {
			roundEnd = end // absorb division remainder
		}
		rounds = append(rounds, Round{
			ID:        id.NewRoundID(),
			SessionID: sessionID,
			Number:    i + 1,
			StartTime: roundStart,
			EndTime:   roundEnd,
			Status:    RoundPending,
		})
	}
	return rounds
}
