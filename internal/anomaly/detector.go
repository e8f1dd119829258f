// Package anomaly flags implausible evidence patterns: movement faster
// than any vehicle, fixes outside the session geofence, accuracy
// signatures typical of location spoofing. Detection runs off the
// ingestion path and never blocks aggregation or finalization; its
// records feed investigation tooling, not attendance decisions.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rollcall/internal/aggregate"
	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/sentinel"
)

// spoofWindow is how many trailing geo fixes the uniform-accuracy
// heuristic inspects, current fix included.
const spoofWindow = 5

// EvidenceSource provides a subject's stored evidence, oldest first.
// Satisfied by the evidence store.
type EvidenceSource interface {
	ListBySubject(ctx context.Context, subjectID id.SubjectID, sessionID id.SessionID) ([]domain.EvidenceSubmission, error)
}

// WhitelistSource resolves the geofence for a schedule.
type WhitelistSource interface {
	Find(ctx context.Context, scheduleID id.ScheduleID) (domain.Whitelist, error)
}

// Config carries the plausibility ceilings in km/h.
type Config struct {
	SpeedCeilingKMH    float64
	TeleportCeilingKMH float64
}

// Detector derives anomaly records from a geo evidence submission and
// the subject's earlier fixes in the same session.
type Detector struct {
	evidence   EvidenceSource
	whitelists WhitelistSource
	cfg        Config
	now        func() time.Time
}

func NewDetector(evidence EvidenceSource, whitelists WhitelistSource, cfg Config) *Detector {
	return &Detector{
		evidence:   evidence,
		whitelists: whitelists,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Detect returns the anomalies implied by ev. Peer-scan evidence has no
// location and yields nothing.
func (d *Detector) Detect(ctx context.Context, ev domain.EvidenceSubmission) ([]domain.AnomalyRecord, error) {
	if ev.Mode != domain.ModeGeo || ev.Location == nil {
		return nil, nil
	}

	history, err := d.priorFixes(ctx, ev)
	if err != nil {
		return nil, err
	}

	var records []domain.AnomalyRecord
	if prev := latest(history); prev != nil {
		speed := aggregate.ImpliedSpeedKMH(*prev.Location, *ev.Location, ev.Timestamp.Sub(prev.Timestamp))
		refs := []id.EvidenceID{prev.ID, ev.ID}
		switch {
		case speed > d.cfg.TeleportCeilingKMH:
			records = append(records, d.record(ev, domain.AnomalyTeleportation, domain.SeverityCritical, refs, speed))
		case speed > d.cfg.SpeedCeilingKMH:
			records = append(records, d.record(ev, domain.AnomalyImpossibleSpeed, domain.SeverityHigh, refs, speed))
		}
		if speed > d.cfg.SpeedCeilingKMH && uniformAccuracy(history, ev) {
			// Real GPS noise varies; identical accuracy across fixes paired
			// with implausible movement points at injected coordinates.
			records = append(records, d.record(ev, domain.AnomalySpoofing, domain.SeverityCritical, spoofRefs(history, ev), speed))
		}
	}

	fenced, err := d.outOfFence(ctx, ev)
	if err != nil {
		return nil, err
	}
	records = append(records, fenced...)
	return records, nil
}

func (d *Detector) priorFixes(ctx context.Context, ev domain.EvidenceSubmission) ([]domain.EvidenceSubmission, error) {
	all, err := d.evidence.ListBySubject(ctx, ev.SubjectID, ev.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list subject evidence: %w", err)
	}
	var fixes []domain.EvidenceSubmission
	for _, e := range all {
		if e.ID == ev.ID || e.Mode != domain.ModeGeo || e.Location == nil {
			continue
		}
		if e.Timestamp.After(ev.Timestamp) {
			continue
		}
		fixes = append(fixes, e)
	}
	return fixes, nil
}

func (d *Detector) outOfFence(ctx context.Context, ev domain.EvidenceSubmission) ([]domain.AnomalyRecord, error) {
	wl, err := d.whitelists.Find(ctx, ev.ScheduleID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound) || dErrors.HasCode(err, dErrors.CodeNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("find whitelist: %w", err)
	}
	if wl.Mode != domain.ModeGeo || wl.Fence == nil {
		return nil, nil
	}

	distance := aggregate.HaversineMeters(wl.Fence.Center, *ev.Location)
	// Accuracy slack: a fix just over the boundary with a wide accuracy
	// circle is not an anomaly, only a weak fix.
	if distance <= wl.Fence.Radius+ev.Location.Accuracy {
		return nil, nil
	}

	severity := domain.SeverityMedium
	if distance > 2*wl.Fence.Radius {
		severity = domain.SeverityHigh
	}
	return []domain.AnomalyRecord{
		d.record(ev, domain.AnomalyOutOfRange, severity, []id.EvidenceID{ev.ID}, 0),
	}, nil
}

func (d *Detector) record(ev domain.EvidenceSubmission, t domain.AnomalyType, sev domain.AnomalySeverity, refs []id.EvidenceID, speed float64) domain.AnomalyRecord {
	return domain.AnomalyRecord{
		ID:            id.NewEvidenceID(),
		SubjectID:     ev.SubjectID,
		SessionID:     ev.SessionID,
		Type:          t,
		Severity:      sev,
		EvidenceRefs:  refs,
		ImpliedSpeed:  speed,
		Investigation: domain.InvestigationOpen,
		DetectedAt:    d.now().UTC(),
	}
}

func latest(fixes []domain.EvidenceSubmission) *domain.EvidenceSubmission {
	if len(fixes) == 0 {
		return nil
	}
	return &fixes[len(fixes)-1]
}

// uniformAccuracy reports whether the trailing fixes share one exact
// accuracy value. Needs at least three samples to mean anything.
func uniformAccuracy(history []domain.EvidenceSubmission, ev domain.EvidenceSubmission) bool {
	window := trailing(history, spoofWindow-1)
	if len(window)+1 < 3 {
		return false
	}
	want := ev.Location.Accuracy
	if want <= 0 {
		return false
	}
	for _, e := range window {
		if e.Location.Accuracy != want {
			return false
		}
	}
	return true
}

func spoofRefs(history []domain.EvidenceSubmission, ev domain.EvidenceSubmission) []id.EvidenceID {
	window := trailing(history, spoofWindow-1)
	refs := make([]id.EvidenceID, 0, len(window)+1)
	for _, e := range window {
		refs = append(refs, e.ID)
	}
	return append(refs, ev.ID)
}

func trailing(fixes []domain.EvidenceSubmission, n int) []domain.EvidenceSubmission {
	if len(fixes) <= n {
		return fixes
	}
	return fixes[len(fixes)-n:]
}
