//go:build integration

package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"rollcall/internal/ingest"
	"rollcall/pkg/testutil/containers"
)

type RedisReserverSuite struct {
	suite.Suite
	redis    *containers.RedisContainer
	reserver *ingest.RedisReserver
}

func TestRedisReserverSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisReserverSuite))
}

func (s *RedisReserverSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.reserver = ingest.NewRedisReserver(s.redis.Client)
}

func (s *RedisReserverSuite) TearDownSuite() {
	s.redis.Terminate(context.Background())
}

func (s *RedisReserverSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisReserverSuite) TestReserveIsFirstWriterWins() {
	ctx := context.Background()

	fresh, err := s.reserver.Reserve(ctx, "subject:round:device:123", time.Minute)
	s.Require().NoError(err)
	s.True(fresh)

	fresh, err = s.reserver.Reserve(ctx, "subject:round:device:123", time.Minute)
	s.Require().NoError(err)
	s.False(fresh)

	fresh, err = s.reserver.Reserve(ctx, "subject:round:device:456", time.Minute)
	s.Require().NoError(err)
	s.True(fresh)
}

func (s *RedisReserverSuite) TestReleaseFreesTheKey() {
	ctx := context.Background()

	fresh, err := s.reserver.Reserve(ctx, "subject:round:device:789", time.Minute)
	s.Require().NoError(err)
	s.True(fresh)

	s.Require().NoError(s.reserver.Release(ctx, "subject:round:device:789"))

	fresh, err = s.reserver.Reserve(ctx, "subject:round:device:789", time.Minute)
	s.Require().NoError(err)
	s.True(fresh)
}

func (s *RedisReserverSuite) TestReservationExpires() {
	ctx := context.Background()

	fresh, err := s.reserver.Reserve(ctx, "ephemeral", time.Second)
	s.Require().NoError(err)
	s.True(fresh)

	s.Eventually(func() bool {
		fresh, err := s.reserver.Reserve(ctx, "ephemeral", time.Second)
		return err == nil && fresh
	}, 5*time.Second, 200*time.Millisecond)
}
