package aggregate

import (
	"context"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
)

// Store persists participations and subject tracks. Upserts are keyed by
// (subject, round); concurrent writers for the same key resolve to one row,
// never two.
type Store interface {
	UpsertParticipation(ctx context.Context, p domain.SubjectRoundParticipation) error
	FindParticipation(ctx context.Context, subjectID id.SubjectID, roundID id.RoundID) (domain.SubjectRoundParticipation, error)
	ListParticipationsBySession(ctx context.Context, sessionID id.SessionID) ([]domain.SubjectRoundParticipation, error)

	SaveTrack(ctx context.Context, track domain.SubjectTrack) error
	FindTrack(ctx context.Context, subjectID id.SubjectID, sessionID id.SessionID) (domain.SubjectTrack, error)
	ListTracks(ctx context.Context, sessionID id.SessionID) ([]domain.SubjectTrack, error)
}

// EvidenceSource is the aggregator's read side of the evidence log, owned
// by the ingestion package.
type EvidenceSource interface {
	ListByRound(ctx context.Context, roundID id.RoundID) ([]domain.EvidenceSubmission, error)
	ListUnvalidatedBySchedule(ctx context.Context, scheduleID id.ScheduleID) ([]domain.EvidenceSubmission, error)
	MarkValidated(ctx context.Context, evidenceID id.EvidenceID) error
}

// SessionSource is the aggregator's read side of the session store.
type SessionSource interface {
	FindSession(ctx context.Context, sessionID id.SessionID) (domain.Session, error)
	FindRound(ctx context.Context, roundID id.RoundID) (domain.Round, error)
	ListRounds(ctx context.Context, sessionID id.SessionID) ([]domain.Round, error)
}

// WhitelistSource resolves the expected peer set or geofence for a
// schedule.
type WhitelistSource interface {
	Find(ctx context.Context, scheduleID id.ScheduleID) (domain.Whitelist, error)
}
