package whitelist

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/sentinel"
)

// RosterEntry is one enrolled subject and the devices registered to them.
type RosterEntry struct {
	SubjectID id.SubjectID
	DeviceIDs []id.DeviceID
}

// Reprocessor is notified after a whitelist appears or changes so evidence
// stored as unvalidated can be validated. Wired to the round aggregator.
type Reprocessor interface {
	ReprocessSchedule(ctx context.Context, scheduleID id.ScheduleID) error
}

// Service generates and replaces whitelists. Regeneration with the same
// roster bumps the timestamp only; a roster delta bumps the version and
// triggers reprocessing of unvalidated evidence.
type Service struct {
	store       Store
	reprocessor Reprocessor
	logger      *slog.Logger
	clock       func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithReprocessor wires the aggregator hook invoked on whitelist changes.
func WithReprocessor(r Reprocessor) Option {
	return func(s *Service) { s.reprocessor = r }
}

// New creates a whitelist Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GeneratePeerScan builds the peer-scan whitelist for a schedule: the full
// device roster of enrolled subjects.
func (s *Service) GeneratePeerScan(ctx context.Context, scheduleID id.ScheduleID, roster []RosterEntry) (domain.Whitelist, error) {
	if scheduleID.IsNil() {
		return domain.Whitelist{}, dErrors.New(dErrors.CodeInvalidInput, "schedule id is required")
	}
	devices := make(map[id.DeviceID]id.SubjectID)
	for _, entry := range roster {
		if entry.SubjectID.IsNil() {
			return domain.Whitelist{}, dErrors.New(dErrors.CodeInvalidInput, "roster entry has a nil subject id")
		}
		for _, device := range entry.DeviceIDs {
			if device.IsNil() {
				return domain.Whitelist{}, dErrors.New(dErrors.CodeInvalidInput, "roster entry has a nil device id")
			}
			devices[device] = entry.SubjectID
		}
	}

	wl := domain.Whitelist{
		ScheduleID: scheduleID,
		Mode:       domain.ModePeerScan,
		Devices:    devices,
	}
	return s.replace(ctx, wl)
}

// GenerateGeo builds the geolocation whitelist for a schedule: the
// configured reference point plus radius.
func (s *Service) GenerateGeo(ctx context.Context, scheduleID id.ScheduleID, fence domain.Geofence) (domain.Whitelist, error) {
	if scheduleID.IsNil() {
		return domain.Whitelist{}, dErrors.New(dErrors.CodeInvalidInput, "schedule id is required")
	}
	wl := domain.Whitelist{
		ScheduleID: scheduleID,
		Mode:       domain.ModeGeo,
		Fence:      &fence,
	}
	return s.replace(ctx, wl)
}

// Find returns the current whitelist for a schedule.
func (s *Service) Find(ctx context.Context, scheduleID id.ScheduleID) (domain.Whitelist, error) {
	wl, err := s.store.Find(ctx, scheduleID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return domain.Whitelist{}, dErrors.New(dErrors.CodeNotFound, "no whitelist for schedule")
	}
	return wl, err
}

// replace implements the idempotent versioned replace. Same content keeps
// the version; a delta increments it and notifies the reprocessor.
func (s *Service) replace(ctx context.Context, wl domain.Whitelist) (domain.Whitelist, error) {
	if err := wl.Validate(); err != nil {
		return domain.Whitelist{}, err
	}

	now := s.clock()
	existing, err := s.store.Find(ctx, wl.ScheduleID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		wl.Version = 1
	case err != nil:
		return domain.Whitelist{}, err
	case sameContent(existing, wl):
		// Timestamp bump only; no version change, no reprocessing.
		existing.GeneratedAt = now
		if err := s.store.Save(ctx, existing); err != nil {
			return domain.Whitelist{}, err
		}
		return existing, nil
	default:
		wl.Version = existing.Version + 1
	}

	wl.GeneratedAt = now
	if err := s.store.Save(ctx, wl); err != nil {
		return domain.Whitelist{}, err
	}

	s.logger.InfoContext(ctx, "whitelist generated",
		"schedule_id", wl.ScheduleID.String(),
		"mode", wl.Mode.String(),
		"version", wl.Version,
	)

	if s.reprocessor != nil {
		if err := s.reprocessor.ReprocessSchedule(ctx, wl.ScheduleID); err != nil {
			// The whitelist write already succeeded. Evidence left
			// unvalidated here stays that way until the next generation
			// or roster delta triggers another reprocess.
			s.logger.WarnContext(ctx, "unvalidated evidence reprocessing failed",
				"schedule_id", wl.ScheduleID.String(),
				"error", err.Error(),
			)
		}
	}
	return wl, nil
}

func sameContent(a, b domain.Whitelist) bool {
	if a.Mode != b.Mode {
		return false
	}
	switch a.Mode {
	case domain.ModePeerScan:
		if len(a.Devices) != len(b.Devices) {
			return false
		}
		for device, owner := range a.Devices {
			if b.Devices[device] != owner {
				return false
			}
		}
		return true
	case domain.ModeGeo:
		if a.Fence == nil || b.Fence == nil {
			return a.Fence == b.Fence
		}
		return *a.Fence == *b.Fence
	}
	return false
}
