package domain

import (
	"fmt"
	"time"

	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
)

// EvidenceMode distinguishes the two proof shapes a device can submit.
type EvidenceMode string

const (
	// ModePeerScan carries the peer devices a subject's device detected.
	ModePeerScan EvidenceMode = "peer-scan"
	// ModeGeo carries a geocoordinate capture with accuracy.
	ModeGeo EvidenceMode = "geo"
)

// IsValid checks if the mode is one of the supported enum values.
func (m EvidenceMode) IsValid() bool {
	return m == ModePeerScan || m == ModeGeo
}

func (m EvidenceMode) String() string { return string(m) }

// PeerSighting is one detected peer device with its signal strength.
type PeerSighting struct {
	DeviceID id.DeviceID `json:"deviceId"`
	Signal   int         `json:"signal"` // RSSI, dBm
}

// GeoPoint is one geolocation capture.
type GeoPoint struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"` // meters, reported by the device
}

// Valid rejects coordinates outside the WGS84 domain.
func (p GeoPoint) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180 && p.Accuracy >= 0
}

// IdempotencyBucket is the timestamp-bucket width used in evidence keys.
// Re-deliveries and device retries inside one bucket collapse to one row.
const IdempotencyBucket = 30 * time.Second

// EvidenceSubmission is one subject's raw presence proof for one round.
// Immutable once stored.
type EvidenceSubmission struct {
	ID        id.EvidenceID
	SubjectID id.SubjectID
	SessionID id.SessionID
	// ScheduleID is denormalized from the session at ingestion so
	// whitelist-gated reprocessing can select by schedule directly.
	ScheduleID id.ScheduleID
	RoundID    id.RoundID
	DeviceID   id.DeviceID
	Timestamp time.Time
	Mode      EvidenceMode
	Peers     []PeerSighting // peer-scan mode
	Location  *GeoPoint      // geo mode
	// Unvalidated marks evidence stored before a whitelist existed for
	// the schedule. Excluded from aggregation until reprocessed.
	Unvalidated bool
	ReceivedAt  time.Time
}

// Key is the idempotency key: (subject, round, device, timestamp-bucket).
// At-least-once delivery is safe because re-deliveries map to the same key.
func (e *EvidenceSubmission) Key() string {
	bucket := e.Timestamp.UTC().Truncate(IdempotencyBucket).Unix()
	return fmt.Sprintf("%s:%s:%s:%d", e.SubjectID, e.RoundID, e.DeviceID, bucket)
}

// ValidateStructure rejects structurally malformed submissions before any
// store or whitelist lookup happens.
func (e *EvidenceSubmission) ValidateStructure() error {
	if e.SubjectID.IsNil() || e.SessionID.IsNil() || e.RoundID.IsNil() || e.DeviceID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "subject, session, round and device ids are required")
	}
	if e.Timestamp.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "timestamp is required")
	}
	switch e.Mode {
	case ModePeerScan:
		if len(e.Peers) == 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "peer-scan evidence requires at least one peer sighting")
		}
		for _, p := range e.Peers {
			if p.DeviceID.IsNil() {
				return dErrors.New(dErrors.CodeInvalidInput, "peer sighting has a nil device id")
			}
		}
	case ModeGeo:
		if e.Location == nil {
			return dErrors.New(dErrors.CodeInvalidInput, "geo evidence requires a location")
		}
		if !e.Location.Valid() {
			return dErrors.New(dErrors.CodeInvalidInput, "location coordinates out of range")
		}
	default:
		return dErrors.New(dErrors.CodeInvalidInput, "unknown evidence mode")
	}
	return nil
}
