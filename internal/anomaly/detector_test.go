package anomaly

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/domain"
	"rollcall/internal/ingest"
	"rollcall/internal/whitelist"
	id "rollcall/pkg/domain"
)

type detectorFixture struct {
	detector   *Detector
	evidence   *ingest.InMemoryStore
	whitelists *whitelist.InMemoryStore

	sessionID  id.SessionID
	scheduleID id.ScheduleID
	roundID    id.RoundID
	subject    id.SubjectID
	device     id.DeviceID
	base       time.Time
}

func defaultDetectorConfig() Config {
	return Config{SpeedCeilingKMH: 150, TeleportCeilingKMH: 1000}
}

func newDetectorFixture(t *testing.T, cfg Config) *detectorFixture {
	t.Helper()

	scheduleID, err := id.ParseScheduleID(id.NewSessionID().String())
	require.NoError(t, err)
	subject, err := id.ParseSubjectID(id.NewSessionID().String())
	require.NoError(t, err)
	device, err := id.ParseDeviceID(id.NewSessionID().String())
	require.NoError(t, err)

	f := &detectorFixture{
		evidence:   ingest.NewInMemoryStore(),
		whitelists: whitelist.NewInMemoryStore(),
		sessionID:  id.NewSessionID(),
		scheduleID: scheduleID,
		roundID:    id.NewRoundID(),
		subject:    subject,
		device:     device,
		base:       time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	f.detector = NewDetector(f.evidence, f.whitelists, cfg)
	return f
}

// fix stores a geo submission and returns it the way the ingestion path
// would hand it to the observer.
func (f *detectorFixture) fix(t *testing.T, offset time.Duration, loc domain.GeoPoint) domain.EvidenceSubmission {
	t.Helper()
	ev := domain.EvidenceSubmission{
		ID:         id.NewEvidenceID(),
		SubjectID:  f.subject,
		SessionID:  f.sessionID,
		ScheduleID: f.scheduleID,
		RoundID:    f.roundID,
		DeviceID:   f.device,
		Timestamp:  f.base.Add(offset),
		Mode:       domain.ModeGeo,
		Location:   &loc,
	}
	stored, err := f.evidence.Save(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, stored)
	return ev
}

func TestDetectSpeed(t *testing.T) {
	ctx := context.Background()
	berlin := domain.GeoPoint{Lat: 52.5200, Lng: 13.4050, Accuracy: 10}

	t.Run("50km in 2 minutes exceeds any vehicle", func(t *testing.T) {
		// raise the teleport ceiling so the plain speed check is what fires
		f := newDetectorFixture(t, Config{SpeedCeilingKMH: 150, TeleportCeilingKMH: 10000})
		first := f.fix(t, 0, berlin)
		second := f.fix(t, 2*time.Minute, domain.GeoPoint{Lat: 52.9700, Lng: 13.4050, Accuracy: 25})

		records, err := f.detector.Detect(ctx, second)
		require.NoError(t, err)
		require.Len(t, records, 1)

		r := records[0]
		assert.Equal(t, domain.AnomalyImpossibleSpeed, r.Type)
		assert.Equal(t, domain.SeverityHigh, r.Severity)
		assert.Equal(t, []id.EvidenceID{first.ID, second.ID}, r.EvidenceRefs)
		assert.InDelta(t, 1500, r.ImpliedSpeed, 30)
		assert.Equal(t, domain.InvestigationOpen, r.Investigation)
	})

	t.Run("speed past the teleport ceiling escalates", func(t *testing.T) {
		f := newDetectorFixture(t, defaultDetectorConfig())
		f.fix(t, 0, berlin)
		second := f.fix(t, 2*time.Minute, domain.GeoPoint{Lat: 52.9700, Lng: 13.4050, Accuracy: 25})

		records, err := f.detector.Detect(ctx, second)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, domain.AnomalyTeleportation, records[0].Type)
		assert.Equal(t, domain.SeverityCritical, records[0].Severity)
	})

	t.Run("plausible movement yields nothing", func(t *testing.T) {
		f := newDetectorFixture(t, defaultDetectorConfig())
		f.fix(t, 0, berlin)
		second := f.fix(t, 10*time.Minute, domain.GeoPoint{Lat: 52.5280, Lng: 13.4050, Accuracy: 15})

		records, err := f.detector.Detect(ctx, second)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("first fix has no history to compare", func(t *testing.T) {
		f := newDetectorFixture(t, defaultDetectorConfig())
		only := f.fix(t, 0, berlin)

		records, err := f.detector.Detect(ctx, only)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("peer-scan evidence is ignored", func(t *testing.T) {
		f := newDetectorFixture(t, defaultDetectorConfig())
		records, err := f.detector.Detect(ctx, domain.EvidenceSubmission{
			ID:        id.NewEvidenceID(),
			SubjectID: f.subject,
			SessionID: f.sessionID,
			Mode:      domain.ModePeerScan,
		})
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestDetectSpoofing(t *testing.T) {
	ctx := context.Background()

	f := newDetectorFixture(t, defaultDetectorConfig())
	// three fixes with byte-identical accuracy, the last one teleporting
	f.fix(t, 0, domain.GeoPoint{Lat: 52.5200, Lng: 13.4050, Accuracy: 5})
	f.fix(t, time.Minute, domain.GeoPoint{Lat: 52.5210, Lng: 13.4050, Accuracy: 5})
	last := f.fix(t, 3*time.Minute, domain.GeoPoint{Lat: 52.9700, Lng: 13.4050, Accuracy: 5})

	records, err := f.detector.Detect(ctx, last)
	require.NoError(t, err)
	require.Len(t, records, 2)

	types := map[domain.AnomalyType]domain.AnomalyRecord{}
	for _, r := range records {
		types[r.Type] = r
	}
	require.Contains(t, types, domain.AnomalyTeleportation)
	require.Contains(t, types, domain.AnomalySpoofing)
	spoof := types[domain.AnomalySpoofing]
	assert.Equal(t, domain.SeverityCritical, spoof.Severity)
	assert.Len(t, spoof.EvidenceRefs, 3)
}

func TestDetectSpoofingNeedsVariedAccuracyEvidence(t *testing.T) {
	ctx := context.Background()

	f := newDetectorFixture(t, defaultDetectorConfig())
	f.fix(t, 0, domain.GeoPoint{Lat: 52.5200, Lng: 13.4050, Accuracy: 5})
	f.fix(t, time.Minute, domain.GeoPoint{Lat: 52.5210, Lng: 13.4050, Accuracy: 9})
	last := f.fix(t, 3*time.Minute, domain.GeoPoint{Lat: 52.9700, Lng: 13.4050, Accuracy: 5})

	records, err := f.detector.Detect(ctx, last)
	require.NoError(t, err)
	require.Len(t, records, 1) // speed only, the accuracy spread looks organic
	assert.Equal(t, domain.AnomalyTeleportation, records[0].Type)
}

func TestDetectOutOfFence(t *testing.T) {
	ctx := context.Background()
	center := domain.GeoPoint{Lat: 52.5200, Lng: 13.4050}

	newFencedFixture := func(t *testing.T) *detectorFixture {
		f := newDetectorFixture(t, defaultDetectorConfig())
		require.NoError(t, f.whitelists.Save(ctx, domain.Whitelist{
			ScheduleID: f.scheduleID,
			Mode:       domain.ModeGeo,
			Fence:      &domain.Geofence{Center: center, Radius: 100},
			Version:    1,
		}))
		return f
	}

	t.Run("inside the fence is clean", func(t *testing.T) {
		f := newFencedFixture(t)
		ev := f.fix(t, 0, domain.GeoPoint{Lat: 52.52040, Lng: 13.4050, Accuracy: 10})
		records, err := f.detector.Detect(ctx, ev)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("just outside within accuracy slack is clean", func(t *testing.T) {
		f := newFencedFixture(t)
		// ~111m out with a 30m accuracy circle overlapping the fence
		ev := f.fix(t, 0, domain.GeoPoint{Lat: 52.5210, Lng: 13.4050, Accuracy: 30})
		records, err := f.detector.Detect(ctx, ev)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("moderately out is medium severity", func(t *testing.T) {
		f := newFencedFixture(t)
		// ~167m out: past radius+accuracy but under 2x radius
		ev := f.fix(t, 0, domain.GeoPoint{Lat: 52.5215, Lng: 13.4050, Accuracy: 10})
		records, err := f.detector.Detect(ctx, ev)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, domain.AnomalyOutOfRange, records[0].Type)
		assert.Equal(t, domain.SeverityMedium, records[0].Severity)
	})

	t.Run("far out is high severity", func(t *testing.T) {
		f := newFencedFixture(t)
		ev := f.fix(t, 0, domain.GeoPoint{Lat: 52.5300, Lng: 13.4050, Accuracy: 10})
		records, err := f.detector.Detect(ctx, ev)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, domain.AnomalyOutOfRange, records[0].Type)
		assert.Equal(t, domain.SeverityHigh, records[0].Severity)
	})

	t.Run("peer-scan whitelist has no fence to check", func(t *testing.T) {
		f := newDetectorFixture(t, defaultDetectorConfig())
		require.NoError(t, f.whitelists.Save(ctx, domain.Whitelist{
			ScheduleID: f.scheduleID,
			Mode:       domain.ModePeerScan,
			Devices:    map[id.DeviceID]id.SubjectID{f.device: f.subject},
			Version:    1,
		}))
		ev := f.fix(t, 0, domain.GeoPoint{Lat: 52.9999, Lng: 13.4050, Accuracy: 10})
		records, err := f.detector.Detect(ctx, ev)
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}
