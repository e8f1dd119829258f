package whitelist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
)

// PostgresStore persists whitelists as one versioned row per schedule.
// The device map and fence are stored as JSON; the idempotency invariant
// lives in the ON CONFLICT clause.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type fenceRow struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Radius float64 `json:"radius"`
}

func (s *PostgresStore) Save(ctx context.Context, wl domain.Whitelist) error {
	devices, err := json.Marshal(deviceOwners(wl.Devices))
	if err != nil {
		return fmt.Errorf("marshal whitelist devices: %w", err)
	}

	var fence []byte
	if wl.Fence != nil {
		fence, err = json.Marshal(fenceRow{
			Lat:    wl.Fence.Center.Lat,
			Lng:    wl.Fence.Center.Lng,
			Radius: wl.Fence.Radius,
		})
		if err != nil {
			return fmt.Errorf("marshal whitelist fence: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO whitelists (schedule_id, mode, devices, fence, version, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (schedule_id) DO UPDATE SET
			mode = EXCLUDED.mode,
			devices = EXCLUDED.devices,
			fence = EXCLUDED.fence,
			version = EXCLUDED.version,
			generated_at = EXCLUDED.generated_at`,
		wl.ScheduleID.String(), wl.Mode.String(), devices, fence, wl.Version, wl.GeneratedAt)
	if err != nil {
		return fmt.Errorf("save whitelist: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, scheduleID id.ScheduleID) (domain.Whitelist, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT mode, devices, fence, version, generated_at
		FROM whitelists WHERE schedule_id = $1`,
		scheduleID.String())

	var (
		mode    string
		devices []byte
		fence   []byte
		wl      domain.Whitelist
	)
	err := row.Scan(&mode, &devices, &fence, &wl.Version, &wl.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Whitelist{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Whitelist{}, fmt.Errorf("find whitelist: %w", err)
	}

	wl.ScheduleID = scheduleID
	wl.Mode = domain.EvidenceMode(mode)

	if len(devices) > 0 {
		var owners map[string]string
		if err := json.Unmarshal(devices, &owners); err != nil {
			return domain.Whitelist{}, fmt.Errorf("unmarshal whitelist devices: %w", err)
		}
		wl.Devices = make(map[id.DeviceID]id.SubjectID, len(owners))
		for device, owner := range owners {
			deviceID, err := id.ParseDeviceID(device)
			if err != nil {
				return domain.Whitelist{}, fmt.Errorf("whitelist device id: %w", err)
			}
			subjectID, err := id.ParseSubjectID(owner)
			if err != nil {
				return domain.Whitelist{}, fmt.Errorf("whitelist subject id: %w", err)
			}
			wl.Devices[deviceID] = subjectID
		}
	}

	if len(fence) > 0 {
		var f fenceRow
		if err := json.Unmarshal(fence, &f); err != nil {
			return domain.Whitelist{}, fmt.Errorf("unmarshal whitelist fence: %w", err)
		}
		wl.Fence = &domain.Geofence{
			Center: domain.GeoPoint{Lat: f.Lat, Lng: f.Lng},
			Radius: f.Radius,
		}
	}

	return wl, nil
}

func deviceOwners(devices map[id.DeviceID]id.SubjectID) map[string]string {
	owners := make(map[string]string, len(devices))
	for device, owner := range devices {
		owners[device.String()] = owner.String()
	}
	return owners
}
