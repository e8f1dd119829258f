package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reserver answers "has this idempotency key been seen before" ahead of
// the evidence log write. It is an optimization; the log's unique key is
// the invariant. A Reserver error therefore degrades to the store-level
// conflict path instead of failing the submission.
// A reservation whose store write fails must be released, or every
// redelivery inside the TTL would be misreported as a duplicate.
type Reserver interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (fresh bool, err error)
	Release(ctx context.Context, key string) error
}

// RedisReserver reserves keys with SET NX EX so every engine replica
// shares one view of seen keys.
type RedisReserver struct {
	client *redis.Client
	prefix string
}

func NewRedisReserver(client *redis.Client) *RedisReserver {
	return &RedisReserver{client: client, prefix: "rollcall:evidence:"}
}

func (r *RedisReserver) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fresh, err := r.client.SetNX(ctx, r.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return fresh, nil
}

func (r *RedisReserver) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// MemoryReserver is the single-replica fallback when Redis is not
// configured.
type MemoryReserver struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryReserver() *MemoryReserver {
	return &MemoryReserver{seen: make(map[string]time.Time)}
}

func (r *MemoryReserver) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if expiry, ok := r.seen[key]; ok && now.Before(expiry) {
		return false, nil
	}
	r.seen[key] = now.Add(ttl)
	// Opportunistic cleanup keeps the map bounded without a sweeper.
	if len(r.seen) > 4096 {
		for k, expiry := range r.seen {
			if now.After(expiry) {
				delete(r.seen, k)
			}
		}
	}
	return true, nil
}

func (r *MemoryReserver) Release(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, key)
	return nil
}
