package ingest

import (
	"context"
	"sort"
	"sync"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
)

// InMemoryStore keeps the evidence log in maps keyed by idempotency key.
type InMemoryStore struct {
	mu    sync.RWMutex
	byKey map[string]id.EvidenceID
	byID  map[id.EvidenceID]domain.EvidenceSubmission
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byKey: make(map[string]id.EvidenceID),
		byID:  make(map[id.EvidenceID]domain.EvidenceSubmission),
	}
}

func (s *InMemoryStore) Save(_ context.Context, ev domain.EvidenceSubmission) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ev.Key()
	if _, dup := s.byKey[key]; dup {
		return false, nil
	}
	s.byKey[key] = ev.ID
	s.byID[ev.ID] = ev
	return true, nil
}

func (s *InMemoryStore) ListByRound(_ context.Context, roundID id.RoundID) ([]domain.EvidenceSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EvidenceSubmission
	for _, ev := range s.byID {
		if ev.RoundID == roundID {
			out = append(out, ev)
		}
	}
	sortByTimestamp(out)
	return out, nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID id.SubjectID, sessionID id.SessionID) ([]domain.EvidenceSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EvidenceSubmission
	for _, ev := range s.byID {
		if ev.SubjectID == subjectID && ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	sortByTimestamp(out)
	return out, nil
}

func (s *InMemoryStore) ListUnvalidatedBySchedule(_ context.Context, scheduleID id.ScheduleID) ([]domain.EvidenceSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EvidenceSubmission
	for _, ev := range s.byID {
		if ev.Unvalidated && ev.ScheduleID == scheduleID {
			out = append(out, ev)
		}
	}
	sortByTimestamp(out)
	return out, nil
}

func (s *InMemoryStore) MarkValidated(_ context.Context, evidenceID id.EvidenceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.byID[evidenceID]
	if !ok {
		return sentinel.ErrNotFound
	}
	ev.Unvalidated = false
	s.byID[evidenceID] = ev
	return nil
}

func sortByTimestamp(evs []domain.EvidenceSubmission) {
	sort.Slice(evs, func(i, j int) bool { return evs[i].Timestamp.Before(evs[j].Timestamp) })
}
