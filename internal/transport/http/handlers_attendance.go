package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"rollcall/internal/domain"
	"rollcall/internal/finalize"
	id "rollcall/pkg/domain"
)

type overrideRequest struct {
	Status  string `json:"status"`
	Reason  string `json:"reason"`
	ActorID string `json:"actorId"`
}

type attendanceResponse struct {
	SubjectID   string    `json:"subjectId"`
	SessionID   string    `json:"sessionId"`
	Status      string    `json:"status"`
	Percentage  float64   `json:"percentage"`
	IsManual    bool      `json:"isManual"`
	ActorID     string    `json:"actorId,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	FinalizedAt time.Time `json:"finalizedAt"`
}

func (h *Handler) handleListAttendance(w http.ResponseWriter, r *http.Request) {
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := h.attendance.Records(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]attendanceResponse, 0, len(records))
	for _, record := range records {
		out = append(out, toAttendanceResponse(record))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetAttendance(w http.ResponseWriter, r *http.Request) {
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	subjectID, err := id.ParseSubjectID(chi.URLParam(r, "subjectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	record, err := h.attendance.Record(r.Context(), sessionID, subjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttendanceResponse(record))
}

func (h *Handler) handleOverrideAttendance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	subjectID, err := id.ParseSubjectID(chi.URLParam(r, "subjectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	actorID, err := id.ParseActorID(req.ActorID)
	if err != nil {
		writeError(w, err)
		return
	}

	record, err := h.attendance.OverrideAttendance(ctx, finalize.OverrideInput{
		SessionID: sessionID,
		SubjectID: subjectID,
		Status:    domain.AttendanceStatus(req.Status),
		Reason:    req.Reason,
		ActorID:   actorID,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "attendance override failed",
			"request_id", chimiddleware.GetReqID(ctx),
			"session_id", sessionID.String(),
			"subject_id", subjectID.String(),
			"error", err.Error(),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttendanceResponse(record))
}

func toAttendanceResponse(record domain.FinalAttendanceRecord) attendanceResponse {
	resp := attendanceResponse{
		SubjectID:   record.SubjectID.String(),
		SessionID:   record.SessionID.String(),
		Status:      record.Status.String(),
		Percentage:  record.Percentage,
		IsManual:    record.IsManual,
		Reason:      record.Reason,
		FinalizedAt: record.FinalizedAt,
	}
	if !record.ActorID.IsNil() {
		resp.ActorID = record.ActorID.String()
	}
	return resp
}
