package domain

import (
	"time"

	id "rollcall/pkg/domain"
)

// AttendanceStatus is the terminal attendance decision for a subject in a
// session.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceLate    AttendanceStatus = "late"
	AttendanceAbsent  AttendanceStatus = "absent"
	// AttendanceExcusedLeave wins unconditionally over any computed
	// percentage when the subject is on an approved leave path.
	AttendanceExcusedLeave AttendanceStatus = "excused_leave"
)

// IsValid checks if the status is one of the supported enum values.
func (s AttendanceStatus) IsValid() bool {
	switch s {
	case AttendancePresent, AttendanceLate, AttendanceAbsent, AttendanceExcusedLeave:
		return true
	}
	return false
}

func (s AttendanceStatus) String() string { return string(s) }

// FinalAttendanceRecord is the terminal decision per (subject, session).
// Written at most once automatically; later changes only through the
// audited override path.
type FinalAttendanceRecord struct {
	SubjectID   id.SubjectID
	SessionID   id.SessionID
	Status      AttendanceStatus
	Percentage  float64
	IsManual    bool
	ActorID     id.ActorID // set on manual overrides
	Reason      string     // required on manual overrides
	FinalizedAt time.Time
}

// Thresholds maps an attendance percentage to a terminal status. Values
// are configuration, never hard-coded: percentage >= Present yields
// Present, >= Partial yields Late, otherwise Absent.
type Thresholds struct {
	Present float64
	Partial float64
}

// StatusFor derives the terminal status from a percentage.
func (t Thresholds) StatusFor(percentage float64) AttendanceStatus {
	switch {
	case percentage >= t.Present:
		return AttendancePresent
	case percentage >= t.Partial:
		return AttendanceLate
	default:
		return AttendanceAbsent
	}
}
