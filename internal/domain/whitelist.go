package domain

import (
	"time"

	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
)

// Geofence is a reference point plus radius in meters.
type Geofence struct {
	Center GeoPoint
	Radius float64
}

// Whitelist is the expected peer-device set or geofence for a schedule.
// One whitelist per schedule; regeneration is a versioned replace, never a
// duplicate.
type Whitelist struct {
	ScheduleID  id.ScheduleID
	Mode        EvidenceMode
	Devices     map[id.DeviceID]id.SubjectID // peer-scan: expected devices and their owners
	Fence       *Geofence                    // geo: expected boundary
	Version     int
	GeneratedAt time.Time
}

// Validate rejects whitelists with no usable expectation.
func (w *Whitelist) Validate() error {
	switch w.Mode {
	case ModePeerScan:
		if len(w.Devices) == 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "peer-scan whitelist requires at least one device")
		}
	case ModeGeo:
		if w.Fence == nil || w.Fence.Radius <= 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "geo whitelist requires a fence with positive radius")
		}
		if !w.Fence.Center.Valid() {
			return dErrors.New(dErrors.CodeInvalidInput, "geo whitelist center out of range")
		}
	default:
		return dErrors.New(dErrors.CodeInvalidInput, "unknown whitelist mode")
	}
	return nil
}

// ExpectedPeers returns the device set excluding the subject's own devices,
// since a device never detects itself.
func (w *Whitelist) ExpectedPeers(subject id.SubjectID) map[id.DeviceID]struct{} {
	peers := make(map[id.DeviceID]struct{}, len(w.Devices))
	for device, owner := range w.Devices {
		if owner == subject {
			continue
		}
		peers[device] = struct{}{}
	}
	return peers
}
