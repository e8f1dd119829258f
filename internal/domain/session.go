package domain

import (
	"time"

	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
)

// SessionStatus is the lifecycle state of a presence-tracking session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
	// SessionMissed marks a session that stayed active past its end time
	// plus the missed threshold without being completed. Set by the
	// background sweep, never by an ingestion path.
	SessionMissed SessionStatus = "missed"
)

// IsValid checks if the status is one of the supported enum values.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionPending, SessionActive, SessionCompleted, SessionCancelled, SessionMissed:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition is allowed.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionCancelled, SessionMissed:
		return true
	}
	return false
}

// CanTransitionTo enforces the one-way session state machine.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionPending:
		return next == SessionActive
	case SessionActive:
		return next == SessionCompleted || next == SessionCancelled || next == SessionMissed
	default:
		return false
	}
}

func (s SessionStatus) String() string { return string(s) }

// SessionConfig is the per-session snapshot of verification parameters.
// Snapshotted at creation so later config edits never change the rules a
// running session was created under.
type SessionConfig struct {
	RoundCount      int
	WindowTolerance time.Duration // evidence accepted from roundStart-tolerance
	GraceWindow     time.Duration // evidence accepted until roundEnd+grace
	GracePeriod     time.Duration // post-completion correction window
}

// Validate rejects configs that would make a session unverifiable.
func (c SessionConfig) Validate() error {
	if c.RoundCount < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "round count must not be negative")
	}
	if c.WindowTolerance < 0 || c.GraceWindow < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "tolerance and grace window must not be negative")
	}
	return nil
}

// Session is a bounded presence-tracking period: a class session or a work
// shift. Mutated only by the lifecycle manager; immutable once completed
// except for grace-period corrections.
type Session struct {
	ID            id.SessionID
	ScheduleID    id.ScheduleID
	Roster        []id.SubjectID
	StartTime     time.Time
	EndTime       time.Time
	ActualEndTime *time.Time // set when completed
	Status        SessionStatus
	Config        SessionConfig
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Enrolled reports whether the subject is on this session's roster.
func (s *Session) Enrolled(subject id.SubjectID) bool {
	for _, member := range s.Roster {
		if member == subject {
			return true
		}
	}
	return false
}
