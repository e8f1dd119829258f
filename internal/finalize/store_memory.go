package finalize

import (
	"context"
	"sort"
	"sync"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
)

type recordKey struct {
	sessionID id.SessionID
	subjectID id.SubjectID
}

type InMemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]domain.FinalAttendanceRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[recordKey]domain.FinalAttendanceRecord)}
}

func (s *InMemoryStore) Save(_ context.Context, record domain.FinalAttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey{record.SessionID, record.SubjectID}] = record
	return nil
}

func (s *InMemoryStore) SaveIfAbsent(_ context.Context, record domain.FinalAttendanceRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey{record.SessionID, record.SubjectID}
	if _, exists := s.records[key]; exists {
		return false, nil
	}
	s.records[key] = record
	return true, nil
}

func (s *InMemoryStore) Find(_ context.Context, sessionID id.SessionID, subjectID id.SubjectID) (domain.FinalAttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[recordKey{sessionID, subjectID}]
	if !ok {
		return domain.FinalAttendanceRecord{}, sentinel.ErrNotFound
	}
	return record, nil
}

func (s *InMemoryStore) ListBySession(_ context.Context, sessionID id.SessionID) ([]domain.FinalAttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.FinalAttendanceRecord
	for key, record := range s.records {
		if key.sessionID == sessionID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubjectID.String() < out[j].SubjectID.String()
	})
	return out, nil
}
