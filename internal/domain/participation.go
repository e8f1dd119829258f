package domain

import (
	"time"

	id "rollcall/pkg/domain"
)

// SubjectRoundParticipation is the per-subject, per-round verdict. One row
// per (subject, round); upserted, never duplicated. MatchMetric is the
// peer-overlap ratio for peer-scan mode or the distance from the reference
// point (meters) for geo mode.
type SubjectRoundParticipation struct {
	SubjectID   id.SubjectID
	RoundID     id.RoundID
	SessionID   id.SessionID
	Attended    bool
	MatchMetric float64
	EvidenceID  id.EvidenceID
	ProcessedAt time.Time
}

// SubjectTrack aggregates a subject's participations across a session's
// rounds. Recomputed on each new participation; percentage is only over
// completed rounds.
type SubjectTrack struct {
	SubjectID       id.SubjectID
	SessionID       id.SessionID
	AttendedRounds  int
	CompletedRounds int
	UpdatedAt       time.Time
}

// Percentage returns attended/completed x 100, or 0 when no round has
// completed yet.
func (t SubjectTrack) Percentage() float64 {
	if t.CompletedRounds == 0 {
		return 0
	}
	return float64(t.AttendedRounds) / float64(t.CompletedRounds) * 100
}
