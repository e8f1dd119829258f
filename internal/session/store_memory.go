package session

import (
	"context"
	"sort"
	"sync"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
)

// InMemoryStore keeps sessions and rounds in maps. Arena-style tables keyed
// by id; traversal is always by lookup, never embedded back-pointers.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]domain.Session
	rounds   map[id.RoundID]domain.Round
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[id.SessionID]domain.Session),
		rounds:   make(map[id.RoundID]domain.Round),
	}
}

func (s *InMemoryStore) SaveSession(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *InMemoryStore) FindSession(_ context.Context, sessionID id.SessionID) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess, nil
	}
	return domain.Session{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListSessionsByStatus(_ context.Context, status domain.SessionStatus) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Session
	for _, sess := range s.sessions {
		if sess.Status == status {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *InMemoryStore) SaveRound(_ context.Context, round domain.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds[round.ID] = round
	return nil
}

func (s *InMemoryStore) FindRound(_ context.Context, roundID id.RoundID) (domain.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if round, ok := s.rounds[roundID]; ok {
		return round, nil
	}
	return domain.Round{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListRounds(_ context.Context, sessionID id.SessionID) ([]domain.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Round
	for _, round := range s.rounds {
		if round.SessionID == sessionID {
			out = append(out, round)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}
