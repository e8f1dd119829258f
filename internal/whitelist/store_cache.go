package whitelist

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
)

const (
	cacheKeyPrefix = "rollcall:whitelist:"
	cacheTTL       = 5 * time.Minute
)

// CachedStore is a read-through redis cache over a Store. Every evidence
// submission resolves the schedule's whitelist, so the hot path reads
// redis and only misses hit postgres. Save writes through and refreshes
// the cache so version bumps are visible immediately.
type CachedStore struct {
	inner  Store
	client *redis.Client
	logger *slog.Logger
}

func NewCachedStore(inner Store, client *redis.Client, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{inner: inner, client: client, logger: logger}
}

func (s *CachedStore) Save(ctx context.Context, wl domain.Whitelist) error {
	if err := s.inner.Save(ctx, wl); err != nil {
		return err
	}
	s.fill(ctx, wl)
	return nil
}

func (s *CachedStore) Find(ctx context.Context, scheduleID id.ScheduleID) (domain.Whitelist, error) {
	key := cacheKeyPrefix + scheduleID.String()
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		var wl domain.Whitelist
		if err := json.Unmarshal(raw, &wl); err == nil {
			return wl, nil
		}
		// Corrupt entry: fall through to the store and overwrite.
		s.logger.Warn("discarding corrupt whitelist cache entry", "key", key)
	} else if err != redis.Nil {
		// Cache unavailability degrades to store reads, never to errors.
		s.logger.Warn("whitelist cache read failed", "error", err, "key", key)
	}

	wl, err := s.inner.Find(ctx, scheduleID)
	if err != nil {
		return domain.Whitelist{}, err
	}
	s.fill(ctx, wl)
	return wl, nil
}

func (s *CachedStore) fill(ctx context.Context, wl domain.Whitelist) {
	raw, err := json.Marshal(wl)
	if err != nil {
		return
	}
	key := cacheKeyPrefix + wl.ScheduleID.String()
	if err := s.client.Set(ctx, key, raw, cacheTTL).Err(); err != nil {
		s.logger.Warn("whitelist cache write failed", "error", err, "key", key)
	}
}
