package anomaly

import (
	"context"
	"errors"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/sentinel"
)

// Service is the read and investigation surface over recorded anomalies.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// BySession returns a session's anomalies, oldest first.
func (s *Service) BySession(ctx context.Context, sessionID id.SessionID) ([]domain.AnomalyRecord, error) {
	return s.store.ListBySession(ctx, sessionID)
}

// BySubject returns one subject's anomalies within a session.
func (s *Service) BySubject(ctx context.Context, subjectID id.SubjectID, sessionID id.SessionID) ([]domain.AnomalyRecord, error) {
	return s.store.ListBySubject(ctx, subjectID, sessionID)
}

// SetInvestigation moves an anomaly through its investigation lifecycle.
func (s *Service) SetInvestigation(ctx context.Context, anomalyID id.EvidenceID, status domain.InvestigationStatus) error {
	if !status.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown investigation status")
	}
	err := s.store.UpdateInvestigation(ctx, anomalyID, status)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "anomaly not found")
	}
	return err
}
