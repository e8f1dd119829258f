//go:build integration

package whitelist_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"rollcall/internal/domain"
	"rollcall/internal/platform/logger"
	"rollcall/internal/whitelist"
	id "rollcall/pkg/domain"
	"rollcall/pkg/testutil/containers"
)

type CachedStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	inner *whitelist.InMemoryStore
	store *whitelist.CachedStore
}

func TestCachedStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(CachedStoreSuite))
}

func (s *CachedStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *CachedStoreSuite) TearDownSuite() {
	s.redis.Terminate(context.Background())
}

func (s *CachedStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.inner = whitelist.NewInMemoryStore()
	s.store = whitelist.NewCachedStore(s.inner, s.redis.Client, logger.Discard())
}

func (s *CachedStoreSuite) sampleWhitelist() domain.Whitelist {
	scheduleID, err := id.ParseScheduleID(id.NewSessionID().String())
	s.Require().NoError(err)
	subject, err := id.ParseSubjectID(id.NewSessionID().String())
	s.Require().NoError(err)
	device, err := id.ParseDeviceID(id.NewSessionID().String())
	s.Require().NoError(err)
	return domain.Whitelist{
		ScheduleID:  scheduleID,
		Mode:        domain.ModePeerScan,
		Devices:     map[id.DeviceID]id.SubjectID{device: subject},
		Version:     1,
		GeneratedAt: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC).UTC(),
	}
}

func (s *CachedStoreSuite) TestReadThroughFillsCache() {
	ctx := context.Background()
	wl := s.sampleWhitelist()
	s.Require().NoError(s.inner.Save(ctx, wl))

	got, err := s.store.Find(ctx, wl.ScheduleID)
	s.Require().NoError(err)
	s.Equal(wl.Devices, got.Devices)

	keys, err := s.redis.Client.Keys(ctx, "rollcall:whitelist:*").Result()
	s.Require().NoError(err)
	s.Len(keys, 1)
}

func (s *CachedStoreSuite) TestCacheHitServesStaleUntilWriteThrough() {
	ctx := context.Background()
	wl := s.sampleWhitelist()
	s.Require().NoError(s.store.Save(ctx, wl))

	// A direct write to the backing store is invisible while cached.
	bumped := wl
	bumped.Version = 2
	s.Require().NoError(s.inner.Save(ctx, bumped))

	got, err := s.store.Find(ctx, wl.ScheduleID)
	s.Require().NoError(err)
	s.Equal(1, got.Version)

	// Writing through the cache refreshes the entry immediately.
	s.Require().NoError(s.store.Save(ctx, bumped))
	got, err = s.store.Find(ctx, wl.ScheduleID)
	s.Require().NoError(err)
	s.Equal(2, got.Version)
}

func (s *CachedStoreSuite) TestCorruptEntryFallsBackToStore() {
	ctx := context.Background()
	wl := s.sampleWhitelist()
	s.Require().NoError(s.inner.Save(ctx, wl))

	key := "rollcall:whitelist:" + wl.ScheduleID.String()
	s.Require().NoError(s.redis.Client.Set(ctx, key, "{not json", time.Minute).Err())

	got, err := s.store.Find(ctx, wl.ScheduleID)
	s.Require().NoError(err)
	s.Equal(wl.ScheduleID, got.ScheduleID)
	s.Equal(1, got.Version)
}

func (s *CachedStoreSuite) TestMissOnUnknownSchedule() {
	scheduleID, err := id.ParseScheduleID(id.NewSessionID().String())
	s.Require().NoError(err)
	_, err = s.store.Find(context.Background(), scheduleID)
	s.Error(err)
}
