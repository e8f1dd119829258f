package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"rollcall/internal/domain"
	"rollcall/internal/session"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
)

type createSessionRequest struct {
	ScheduleID string   `json:"scheduleId"`
	Roster     []string `json:"roster"`
	StartTime  string   `json:"startTime"`
	EndTime    string   `json:"endTime"`

	RoundCount        int    `json:"roundCount,omitempty"`
	WindowToleranceMS int64  `json:"windowToleranceMs,omitempty"`
	GraceWindowMS     int64  `json:"graceWindowMs,omitempty"`
	GracePeriodMS     int64  `json:"gracePeriodMs,omitempty"`

	Rounds []roundBoundary `json:"rounds,omitempty"`
}

type roundBoundary struct {
	Number    int    `json:"number"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type sessionResponse struct {
	ID            string          `json:"id"`
	ScheduleID    string          `json:"scheduleId"`
	Status        string          `json:"status"`
	StartTime     time.Time       `json:"startTime"`
	EndTime       time.Time       `json:"endTime"`
	ActualEndTime *time.Time      `json:"actualEndTime,omitempty"`
	RoundCount    int             `json:"roundCount"`
	Roster        []string        `json:"roster"`
	Rounds        []roundResponse `json:"rounds,omitempty"`
	Tracks        []trackResponse `json:"tracks,omitempty"`
}

type roundResponse struct {
	ID        string     `json:"id"`
	Number    int        `json:"number"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"startTime"`
	EndTime   time.Time  `json:"endTime"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

type trackResponse struct {
	SubjectID       string  `json:"subjectId"`
	AttendedRounds  int     `json:"attendedRounds"`
	CompletedRounds int     `json:"completedRounds"`
	Percentage      float64 `json:"percentage"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	input, err := req.toInput()
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := h.sessions.CreateSession(ctx, input)
	if err != nil {
		h.logger.WarnContext(ctx, "create session failed",
			"request_id", chimiddleware.GetReqID(ctx),
			"error", err.Error(),
		)
		writeError(w, err)
		return
	}
	h.metrics.IncrementSessionsCreated()
	writeJSON(w, http.StatusCreated, toSessionResponse(sess, nil, nil))
}

func (req createSessionRequest) toInput() (session.CreateSessionInput, error) {
	scheduleID, err := id.ParseScheduleID(req.ScheduleID)
	if err != nil {
		return session.CreateSessionInput{}, err
	}
	start, err := parseTime(req.StartTime, "startTime")
	if err != nil {
		return session.CreateSessionInput{}, err
	}
	end, err := parseTime(req.EndTime, "endTime")
	if err != nil {
		return session.CreateSessionInput{}, err
	}

	roster := make([]id.SubjectID, 0, len(req.Roster))
	for _, raw := range req.Roster {
		subject, err := id.ParseSubjectID(raw)
		if err != nil {
			return session.CreateSessionInput{}, err
		}
		roster = append(roster, subject)
	}

	input := session.CreateSessionInput{
		ScheduleID: scheduleID,
		Roster:     roster,
		StartTime:  start,
		EndTime:    end,
		Config: domain.SessionConfig{
			RoundCount:      req.RoundCount,
			WindowTolerance: time.Duration(req.WindowToleranceMS) * time.Millisecond,
			GraceWindow:     time.Duration(req.GraceWindowMS) * time.Millisecond,
			GracePeriod:     time.Duration(req.GracePeriodMS) * time.Millisecond,
		},
	}
	for _, rb := range req.Rounds {
		rStart, err := parseTime(rb.StartTime, "round startTime")
		if err != nil {
			return session.CreateSessionInput{}, err
		}
		rEnd, err := parseTime(rb.EndTime, "round endTime")
		if err != nil {
			return session.CreateSessionInput{}, err
		}
		input.Rounds = append(input.Rounds, domain.Round{
			ID:        id.NewRoundID(),
			Number:    rb.Number,
			StartTime: rStart,
			EndTime:   rEnd,
			Status:    domain.RoundPending,
		})
	}
	return input, nil
}

func (h *Handler) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}

	sess, rounds, err := h.sessions.Session(ctx, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	tracks, err := h.tracks.Tracks(ctx, sessionID)
	if err != nil {
		h.logger.WarnContext(ctx, "track listing failed",
			"session_id", sessionID.String(),
			"error", err.Error(),
		)
		tracks = nil // detail still useful without tracks
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess, rounds, tracks))
}

func (h *Handler) handleActivateSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.sessions.ActivateSession)
}

func (h *Handler) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.sessions.CompleteSession)
}

func (h *Handler) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.sessions.CancelSession)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, sessionID id.SessionID) (domain.Session, error)) {
	ctx := r.Context()
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := op(ctx, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess, nil, nil))
}

func (h *Handler) handleCloseRound(w http.ResponseWriter, r *http.Request) {
	roundID, err := id.ParseRoundID(chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.sessions.CloseRound(r.Context(), roundID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toSessionResponse(sess domain.Session, rounds []domain.Round, tracks []domain.SubjectTrack) sessionResponse {
	resp := sessionResponse{
		ID:            sess.ID.String(),
		ScheduleID:    sess.ScheduleID.String(),
		Status:        sess.Status.String(),
		StartTime:     sess.StartTime,
		EndTime:       sess.EndTime,
		ActualEndTime: sess.ActualEndTime,
		RoundCount:    sess.Config.RoundCount,
		Roster:        make([]string, 0, len(sess.Roster)),
	}
	for _, subject := range sess.Roster {
		resp.Roster = append(resp.Roster, subject.String())
	}
	for _, round := range rounds {
		resp.Rounds = append(resp.Rounds, roundResponse{
			ID:        round.ID.String(),
			Number:    round.Number,
			Status:    round.Status.String(),
			StartTime: round.StartTime,
			EndTime:   round.EndTime,
			ClosedAt:  round.ClosedAt,
		})
	}
	for _, track := range tracks {
		resp.Tracks = append(resp.Tracks, trackResponse{
			SubjectID:       track.SubjectID.String(),
			AttendedRounds:  track.AttendedRounds,
			CompletedRounds: track.CompletedRounds,
			Percentage:      track.Percentage(),
		})
	}
	return resp
}

func parseTime(raw, field string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeInvalidInput, field+" must be RFC 3339")
	}
	return ts, nil
}
