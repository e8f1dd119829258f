package whitelist

import (
	"context"
	"sync"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
)

// InMemoryStore keeps whitelists in a map. Used in tests and when Postgres
// is not configured.
type InMemoryStore struct {
	mu         sync.RWMutex
	whitelists map[id.ScheduleID]domain.Whitelist
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{whitelists: make(map[id.ScheduleID]domain.Whitelist)}
}

func (s *InMemoryStore) Save(_ context.Context, wl domain.Whitelist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.whitelists[wl.ScheduleID] = wl
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, scheduleID id.ScheduleID) (domain.Whitelist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if wl, ok := s.whitelists[scheduleID]; ok {
		return wl, nil
	}
	return domain.Whitelist{}, sentinel.ErrNotFound
}
