package aggregate

import (
	"context"
	"sync"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
)

type participationKey struct {
	subject id.SubjectID
	round   id.RoundID
}

type trackKey struct {
	subject id.SubjectID
	session id.SessionID
}

// InMemoryStore keeps participations and tracks in maps. The upsert
// invariant (one row per subject+round) holds by construction.
type InMemoryStore struct {
	mu             sync.RWMutex
	participations map[participationKey]domain.SubjectRoundParticipation
	tracks         map[trackKey]domain.SubjectTrack
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		participations: make(map[participationKey]domain.SubjectRoundParticipation),
		tracks:         make(map[trackKey]domain.SubjectTrack),
	}
}

func (s *InMemoryStore) UpsertParticipation(_ context.Context, p domain.SubjectRoundParticipation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participations[participationKey{p.SubjectID, p.RoundID}] = p
	return nil
}

func (s *InMemoryStore) FindParticipation(_ context.Context, subjectID id.SubjectID, roundID id.RoundID) (domain.SubjectRoundParticipation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.participations[participationKey{subjectID, roundID}]; ok {
		return p, nil
	}
	return domain.SubjectRoundParticipation{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListParticipationsBySession(_ context.Context, sessionID id.SessionID) ([]domain.SubjectRoundParticipation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SubjectRoundParticipation
	for _, p := range s.participations {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *InMemoryStore) SaveTrack(_ context.Context, track domain.SubjectTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[trackKey{track.SubjectID, track.SessionID}] = track
	return nil
}

func (s *InMemoryStore) FindTrack(_ context.Context, subjectID id.SubjectID, sessionID id.SessionID) (domain.SubjectTrack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if track, ok := s.tracks[trackKey{subjectID, sessionID}]; ok {
		return track, nil
	}
	return domain.SubjectTrack{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListTracks(_ context.Context, sessionID id.SessionID) ([]domain.SubjectTrack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SubjectTrack
	for _, track := range s.tracks {
		if track.SessionID == sessionID {
			out = append(out, track)
		}
	}
	return out, nil
}
