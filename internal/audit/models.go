package audit

import (
	"time"

	id "rollcall/pkg/domain"
)

// Action names the auditable operations. Late evidence is audited because
// post-grace submissions are a possible fraud signal; overrides are audited
// because they rewrite terminal records.
type Action string

const (
	ActionOverride       Action = "attendance.override"
	ActionLateEvidence   Action = "evidence.late_rejected"
	ActionSessionCreated Action = "session.created"
	ActionSessionClosed  Action = "session.completed"
	ActionSessionMissed  Action = "session.missed"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string
	Timestamp time.Time
	Action    Action
	SessionID id.SessionID
	SubjectID id.SubjectID
	ActorID   id.ActorID
	Reason    string
	Detail    string
}
