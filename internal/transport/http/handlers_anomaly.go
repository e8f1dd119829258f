package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
)

type anomalyResponse struct {
	ID            string    `json:"id"`
	SubjectID     string    `json:"subjectId"`
	Type          string    `json:"type"`
	Severity      string    `json:"severity"`
	EvidenceRefs  []string  `json:"evidenceRefs"`
	ImpliedSpeed  float64   `json:"impliedSpeedKmh,omitempty"`
	Investigation string    `json:"investigation"`
	DetectedAt    time.Time `json:"detectedAt"`
}

type investigationRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}

	var records []domain.AnomalyRecord
	if raw := r.URL.Query().Get("subjectId"); raw != "" {
		subjectID, err := id.ParseSubjectID(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		records, err = h.anomalies.BySubject(r.Context(), subjectID, sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
	} else {
		records, err = h.anomalies.BySession(r.Context(), sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	out := make([]anomalyResponse, 0, len(records))
	for _, record := range records {
		refs := make([]string, 0, len(record.EvidenceRefs))
		for _, ref := range record.EvidenceRefs {
			refs = append(refs, ref.String())
		}
		out = append(out, anomalyResponse{
			ID:            record.ID.String(),
			SubjectID:     record.SubjectID.String(),
			Type:          record.Type.String(),
			Severity:      record.Severity.String(),
			EvidenceRefs:  refs,
			ImpliedSpeed:  record.ImpliedSpeed,
			Investigation: string(record.Investigation),
			DetectedAt:    record.DetectedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleSetInvestigation(w http.ResponseWriter, r *http.Request) {
	anomalyID, err := id.ParseEvidenceID(chi.URLParam(r, "anomalyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req investigationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.anomalies.SetInvestigation(r.Context(), anomalyID, domain.InvestigationStatus(req.Status)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
