package anomaly

import (
	"context"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
)

// Store persists anomaly records. Anomalies have their own lifecycle;
// nothing here ever touches attendance records.
type Store interface {
	Save(ctx context.Context, record domain.AnomalyRecord) error
	ListBySession(ctx context.Context, sessionID id.SessionID) ([]domain.AnomalyRecord, error)
	ListBySubject(ctx context.Context, subjectID id.SubjectID, sessionID id.SessionID) ([]domain.AnomalyRecord, error)
	UpdateInvestigation(ctx context.Context, anomalyID id.EvidenceID, status domain.InvestigationStatus) error
}
