package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"rollcall/internal/domain"
	id "rollcall/pkg/domain"
)

// submitEvidenceRequest mirrors the queue wire shape so collaborators
// can post the same document over HTTP.
type submitEvidenceRequest struct {
	SubjectID string `json:"subjectId"`
	SessionID string `json:"sessionId"`
	RoundID   string `json:"roundId"`
	DeviceID  string `json:"deviceId"`
	Timestamp string `json:"timestamp"`
	Mode      string `json:"mode"`

	Peers    []peerSightingPayload `json:"peers,omitempty"`
	Location *geoPointPayload      `json:"location,omitempty"`
}

type peerSightingPayload struct {
	DeviceID string `json:"deviceId"`
	Signal   int    `json:"signal"`
}

type geoPointPayload struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
}

type submitEvidenceResponse struct {
	EvidenceID  string `json:"evidenceId,omitempty"`
	Duplicate   bool   `json:"duplicate"`
	Unvalidated bool   `json:"unvalidated"`
}

type evidenceResponse struct {
	ID          string    `json:"id"`
	RoundID     string    `json:"roundId"`
	DeviceID    string    `json:"deviceId"`
	Mode        string    `json:"mode"`
	Timestamp   time.Time `json:"timestamp"`
	Unvalidated bool      `json:"unvalidated"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

func (h *Handler) handleSubmitEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req submitEvidenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ev, err := req.toSubmission()
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.evidence.SubmitEvidence(ctx, ev)
	if err != nil {
		h.logger.WarnContext(ctx, "evidence rejected",
			"request_id", chimiddleware.GetReqID(ctx),
			"subject_id", req.SubjectID,
			"error", err.Error(),
		)
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	} else if result.Unvalidated {
		status = http.StatusAccepted
	}
	resp := submitEvidenceResponse{
		Duplicate:   result.Duplicate,
		Unvalidated: result.Unvalidated,
	}
	if !result.EvidenceID.IsNil() {
		resp.EvidenceID = result.EvidenceID.String()
	}
	writeJSON(w, status, resp)
}

func (req submitEvidenceRequest) toSubmission() (domain.EvidenceSubmission, error) {
	var (
		ev  domain.EvidenceSubmission
		err error
	)
	if ev.SubjectID, err = id.ParseSubjectID(req.SubjectID); err != nil {
		return domain.EvidenceSubmission{}, err
	}
	if ev.SessionID, err = id.ParseSessionID(req.SessionID); err != nil {
		return domain.EvidenceSubmission{}, err
	}
	if ev.RoundID, err = id.ParseRoundID(req.RoundID); err != nil {
		return domain.EvidenceSubmission{}, err
	}
	if ev.DeviceID, err = id.ParseDeviceID(req.DeviceID); err != nil {
		return domain.EvidenceSubmission{}, err
	}
	if ev.Timestamp, err = parseTime(req.Timestamp, "timestamp"); err != nil {
		return domain.EvidenceSubmission{}, err
	}
	ev.Mode = domain.EvidenceMode(req.Mode)
	for _, p := range req.Peers {
		device, err := id.ParseDeviceID(p.DeviceID)
		if err != nil {
			return domain.EvidenceSubmission{}, err
		}
		ev.Peers = append(ev.Peers, domain.PeerSighting{DeviceID: device, Signal: p.Signal})
	}
	if req.Location != nil {
		ev.Location = &domain.GeoPoint{Lat: req.Location.Lat, Lng: req.Location.Lng, Accuracy: req.Location.Accuracy}
	}
	return ev, nil
}

func (h *Handler) handleListEvidence(w http.ResponseWriter, r *http.Request) {
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

	evs, err := h.evidence.Evidence(r.Context(), subjectID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]evidenceResponse, 0, len(evs))
	for _, ev := range evs {
		out = append(out, evidenceResponse{
			ID:          ev.ID.String(),
			RoundID:     ev.RoundID.String(),
			DeviceID:    ev.DeviceID.String(),
			Mode:        ev.Mode.String(),
			Timestamp:   ev.Timestamp,
			Unvalidated: ev.Unvalidated,
			ReceivedAt:  ev.ReceivedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
