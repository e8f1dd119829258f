package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"rollcall/internal/domain"
	"rollcall/internal/whitelist"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
)

type generateWhitelistRequest struct {
	Mode string `json:"mode"`

	// peer-scan
	Roster []rosterEntryPayload `json:"roster,omitempty"`

	// geo
	Fence *fencePayload `json:"fence,omitempty"`
}

type rosterEntryPayload struct {
	SubjectID string   `json:"subjectId"`
	DeviceIDs []string `json:"deviceIds"`
}

type fencePayload struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Radius float64 `json:"radius"`
}

type whitelistResponse struct {
	ScheduleID  string            `json:"scheduleId"`
	Mode        string            `json:"mode"`
	Version     int               `json:"version"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Devices     map[string]string `json:"devices,omitempty"`
	Fence       *fencePayload     `json:"fence,omitempty"`
}

func (h *Handler) handleGenerateWhitelist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scheduleID, err := id.ParseScheduleID(chi.URLParam(r, "scheduleID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req generateWhitelistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var wl domain.Whitelist
	switch domain.EvidenceMode(req.Mode) {
	case domain.ModePeerScan:
		roster := make([]whitelist.RosterEntry, 0, len(req.Roster))
		for _, entry := range req.Roster {
			subject, err := id.ParseSubjectID(entry.SubjectID)
			if err != nil {
				writeError(w, err)
				return
			}
			devices := make([]id.DeviceID, 0, len(entry.DeviceIDs))
			for _, raw := range entry.DeviceIDs {
				device, err := id.ParseDeviceID(raw)
				if err != nil {
					writeError(w, err)
					return
				}
				devices = append(devices, device)
			}
			roster = append(roster, whitelist.RosterEntry{SubjectID: subject, DeviceIDs: devices})
		}
		wl, err = h.whitelists.GeneratePeerScan(ctx, scheduleID, roster)
	case domain.ModeGeo:
		if req.Fence == nil {
			writeError(w, dErrors.New(dErrors.CodeInvalidInput, "geo mode requires a fence"))
			return
		}
		wl, err = h.whitelists.GenerateGeo(ctx, scheduleID, domain.Geofence{
			Center: domain.GeoPoint{Lat: req.Fence.Lat, Lng: req.Fence.Lng},
			Radius: req.Fence.Radius,
		})
	default:
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown whitelist mode"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWhitelistResponse(wl))
}

func (h *Handler) handleGetWhitelist(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := id.ParseScheduleID(chi.URLParam(r, "scheduleID"))
	if err != nil {
		writeError(w, err)
		return
	}
	wl, err := h.whitelists.Find(r.Context(), scheduleID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWhitelistResponse(wl))
}

func toWhitelistResponse(wl domain.Whitelist) whitelistResponse {
	resp := whitelistResponse{
		ScheduleID:  wl.ScheduleID.String(),
		Mode:        wl.Mode.String(),
		Version:     wl.Version,
		GeneratedAt: wl.GeneratedAt,
	}
	if len(wl.Devices) > 0 {
		resp.Devices = make(map[string]string, len(wl.Devices))
		for device, owner := range wl.Devices {
			resp.Devices[device.String()] = owner.String()
		}
	}
	if wl.Fence != nil {
		resp.Fence = &fencePayload{
			Lat:    wl.Fence.Center.Lat,
			Lng:    wl.Fence.Center.Lng,
			Radius: wl.Fence.Radius,
		}
	}
	return resp
}
