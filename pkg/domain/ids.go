package domain

import (
	"github.com/google/uuid"

	dErrors "rollcall/pkg/domain-errors"
)

// Typed IDs prevent cross-entity assignment at compile time. All IDs are
// UUIDs; parsing enforces "valid, non-empty, non-nil" at trust boundaries.

type (
	// SessionID identifies a bounded presence-tracking period.
	SessionID uuid.UUID
	// RoundID identifies one time slice within a session.
	RoundID uuid.UUID
	// SubjectID identifies an enrolled subject (student or employee).
	SubjectID uuid.UUID
	// ScheduleID identifies the recurring schedule a session belongs to.
	ScheduleID uuid.UUID
	// DeviceID identifies the device that submitted evidence.
	DeviceID uuid.UUID
	// EvidenceID identifies a stored evidence submission.
	EvidenceID uuid.UUID
	// ActorID identifies the human actor behind a manual override.
	ActorID uuid.UUID
)

func parseUUID(s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return u, nil
}

// ParseSessionID validates and returns a SessionID.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s)
	return SessionID(u), err
}

// ParseRoundID validates and returns a RoundID.
func ParseRoundID(s string) (RoundID, error) {
	u, err := parseUUID(s)
	return RoundID(u), err
}

// ParseSubjectID validates and returns a SubjectID.
func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parseUUID(s)
	return SubjectID(u), err
}

// ParseScheduleID validates and returns a ScheduleID.
func ParseScheduleID(s string) (ScheduleID, error) {
	u, err := parseUUID(s)
	return ScheduleID(u), err
}

// ParseDeviceID validates and returns a DeviceID.
func ParseDeviceID(s string) (DeviceID, error) {
	u, err := parseUUID(s)
	return DeviceID(u), err
}

// ParseEvidenceID validates and returns an EvidenceID.
func ParseEvidenceID(s string) (EvidenceID, error) {
	u, err := parseUUID(s)
	return EvidenceID(u), err
}

// ParseActorID validates and returns an ActorID.
func ParseActorID(s string) (ActorID, error) {
	u, err := parseUUID(s)
	return ActorID(u), err
}

func (id SessionID) String() string  { return uuid.UUID(id).String() }
func (id RoundID) String() string    { return uuid.UUID(id).String() }
func (id SubjectID) String() string  { return uuid.UUID(id).String() }
func (id ScheduleID) String() string { return uuid.UUID(id).String() }
func (id DeviceID) String() string   { return uuid.UUID(id).String() }
func (id EvidenceID) String() string { return uuid.UUID(id).String() }
func (id ActorID) String() string    { return uuid.UUID(id).String() }

func (id SessionID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id RoundID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id SubjectID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ScheduleID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id DeviceID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id EvidenceID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ActorID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// MarshalText implementations make typed IDs render as UUID strings in
// JSON wire payloads and stored documents.

func (id SessionID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id RoundID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id SubjectID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id ScheduleID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id DeviceID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id EvidenceID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id ActorID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }

func (id *SessionID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = SessionID(u)
	return nil
}

func (id *RoundID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = RoundID(u)
	return nil
}

func (id *SubjectID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = SubjectID(u)
	return nil
}

func (id *ScheduleID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = ScheduleID(u)
	return nil
}

func (id *DeviceID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = DeviceID(u)
	return nil
}

func (id *EvidenceID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = EvidenceID(u)
	return nil
}

func (id *ActorID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = ActorID(u)
	return nil
}

// NewSessionID generates a fresh SessionID.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// NewRoundID generates a fresh RoundID.
func NewRoundID() RoundID { return RoundID(uuid.New()) }

// NewEvidenceID generates a fresh EvidenceID.
func NewEvidenceID() EvidenceID { return EvidenceID(uuid.New()) }
