package anomaly

import (
	"context"
	"sort"
	"sync"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.EvidenceID]domain.AnomalyRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.EvidenceID]domain.AnomalyRecord)}
}

func (s *InMemoryStore) Save(_ context.Context, record domain.AnomalyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

func (s *InMemoryStore) ListBySession(_ context.Context, sessionID id.SessionID) ([]domain.AnomalyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AnomalyRecord
	for _, record := range s.records {
		if record.SessionID == sessionID {
			out = append(out, record)
		}
	}
	sortByDetection(out)
	return out, nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID id.SubjectID, sessionID id.SessionID) ([]domain.AnomalyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AnomalyRecord
	for _, record := range s.records {
		if record.SubjectID == subjectID && record.SessionID == sessionID {
			out = append(out, record)
		}
	}
	sortByDetection(out)
	return out, nil
}

func (s *InMemoryStore) UpdateInvestigation(_ context.Context, anomalyID id.EvidenceID, status domain.InvestigationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[anomalyID]
	if !ok {
		return sentinel.ErrNotFound
	}
	record.Investigation = status
	s.records[anomalyID] = record
	return nil
}

func sortByDetection(records []domain.AnomalyRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].DetectedAt.Before(records[j].DetectedAt)
	})
}
