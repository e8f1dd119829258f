package domain

import (
	"time"

	id "rollcall/pkg/domain"
)

// AnomalyType classifies an implausible evidence pattern.
type AnomalyType string

const (
	// AnomalyImpossibleSpeed flags implied movement above the speed ceiling.
	AnomalyImpossibleSpeed AnomalyType = "impossible_speed"
	// AnomalyOutOfRange flags a point outside the session geofence while
	// the subject is expected present.
	AnomalyOutOfRange AnomalyType = "out_of_range"
	// AnomalyTeleportation escalates the speed check when the implied
	// speed is far beyond any vehicle.
	AnomalyTeleportation AnomalyType = "teleportation"
	// AnomalySpoofing escalates when implausible movement pairs with
	// suspiciously uniform accuracy readings.
	AnomalySpoofing AnomalyType = "spoofing"
)

// IsValid checks if the type is one of the supported enum values.
func (t AnomalyType) IsValid() bool {
	switch t {
	case AnomalyImpossibleSpeed, AnomalyOutOfRange, AnomalyTeleportation, AnomalySpoofing:
		return true
	}
	return false
}

func (t AnomalyType) String() string { return string(t) }

// AnomalySeverity grades an anomaly for triage.
type AnomalySeverity string

const (
	SeverityLow      AnomalySeverity = "low"
	SeverityMedium   AnomalySeverity = "medium"
	SeverityHigh     AnomalySeverity = "high"
	SeverityCritical AnomalySeverity = "critical"
)

// IsValid checks if the severity is one of the supported enum values.
func (s AnomalySeverity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

func (s AnomalySeverity) String() string { return string(s) }

// InvestigationStatus tracks the independent anomaly lifecycle.
type InvestigationStatus string

const (
	InvestigationOpen      InvestigationStatus = "open"
	InvestigationReviewing InvestigationStatus = "reviewing"
	InvestigationResolved  InvestigationStatus = "resolved"
	InvestigationDismissed InvestigationStatus = "dismissed"
)

// IsValid checks if the status is one of the supported enum values.
func (s InvestigationStatus) IsValid() bool {
	switch s {
	case InvestigationOpen, InvestigationReviewing, InvestigationResolved, InvestigationDismissed:
		return true
	}
	return false
}

// AnomalyRecord flags a subject + evidence window exhibiting an implausible
// pattern. It has an independent lifecycle and never gates finalization
// automatically.
type AnomalyRecord struct {
	ID            id.EvidenceID // anomaly ids share the evidence id space
	SubjectID     id.SubjectID
	SessionID     id.SessionID
	Type          AnomalyType
	Severity      AnomalySeverity
	EvidenceRefs  []id.EvidenceID
	ImpliedSpeed  float64 // km/h, zero when not a speed anomaly
	Investigation InvestigationStatus
	DetectedAt    time.Time
}
