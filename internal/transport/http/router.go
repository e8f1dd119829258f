// Package httptransport is the ops HTTP surface: session lifecycle,
// direct evidence submission for collaborators without queue access,
// whitelist management, attendance reads and overrides, anomaly triage.
// Handlers delegate to domain services and never embed business logic.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/domain"
	"rollcall/internal/finalize"
	"rollcall/internal/ingest"
	"rollcall/internal/platform/metrics"
	"rollcall/internal/session"
	"rollcall/internal/whitelist"
	id "rollcall/pkg/domain"
)

// SessionService is the lifecycle surface the handlers need.
type SessionService interface {
	CreateSession(ctx context.Context, input session.CreateSessionInput) (domain.Session, error)
	ActivateSession(ctx context.Context, sessionID id.SessionID) (domain.Session, error)
	CompleteSession(ctx context.Context, sessionID id.SessionID) (domain.Session, error)
	CancelSession(ctx context.Context, sessionID id.SessionID) (domain.Session, error)
	CloseRound(ctx context.Context, roundID id.RoundID) error
	Session(ctx context.Context, sessionID id.SessionID) (domain.Session, []domain.Round, error)
}

// EvidenceService accepts and lists presence evidence.
type EvidenceService interface {
	SubmitEvidence(ctx context.Context, ev domain.EvidenceSubmission) (ingest.Result, error)
	Evidence(ctx context.Context, subjectID id.SubjectID, sessionID id.SessionID) ([]domain.EvidenceSubmission, error)
}

// WhitelistService generates and resolves per-schedule whitelists.
type WhitelistService interface {
	GeneratePeerScan(ctx context.Context, scheduleID id.ScheduleID, roster []whitelist.RosterEntry) (domain.Whitelist, error)
	GenerateGeo(ctx context.Context, scheduleID id.ScheduleID, fence domain.Geofence) (domain.Whitelist, error)
	Find(ctx context.Context, scheduleID id.ScheduleID) (domain.Whitelist, error)
}

// AttendanceService reads and overrides final attendance records.
type AttendanceService interface {
	OverrideAttendance(ctx context.Context, input finalize.OverrideInput) (domain.FinalAttendanceRecord, error)
	Record(ctx context.Context, sessionID id.SessionID, subjectID id.SubjectID) (domain.FinalAttendanceRecord, error)
	Records(ctx context.Context, sessionID id.SessionID) ([]domain.FinalAttendanceRecord, error)
}

// TrackService exposes the running per-subject tracks.
type TrackService interface {
	Tracks(ctx context.Context, sessionID id.SessionID) ([]domain.SubjectTrack, error)
}

// AnomalyService reads anomalies and moves their investigations.
type AnomalyService interface {
	BySession(ctx context.Context, sessionID id.SessionID) ([]domain.AnomalyRecord, error)
	BySubject(ctx context.Context, subjectID id.SubjectID, sessionID id.SessionID) ([]domain.AnomalyRecord, error)
	SetInvestigation(ctx context.Context, anomalyID id.EvidenceID, status domain.InvestigationStatus) error
}

// Handler is the thin HTTP layer over the engine's services.
type Handler struct {
	sessions   SessionService
	evidence   EvidenceService
	whitelists WhitelistService
	attendance AttendanceService
	tracks     TrackService
	anomalies  AnomalyService
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(
	sessions SessionService,
	evidence EvidenceService,
	whitelists WhitelistService,
	attendance AttendanceService,
	tracks TrackService,
	anomalies AnomalyService,
	opts ...Option,
) *Handler {
	h := &Handler{
		sessions:   sessions,
		evidence:   evidence,
		whitelists: whitelists,
		attendance: attendance,
		tracks:     tracks,
		anomalies:  anomalies,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter wires all endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(h.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleSessionDetail)
			r.Post("/activate", h.handleActivateSession)
			r.Post("/complete", h.handleCompleteSession)
			r.Post("/cancel", h.handleCancelSession)
			r.Get("/attendance", h.handleListAttendance)
			r.Get("/attendance/{subjectID}", h.handleGetAttendance)
			r.Post("/attendance/{subjectID}/override", h.handleOverrideAttendance)
			r.Get("/anomalies", h.handleListAnomalies)
			r.Get("/evidence/{subjectID}", h.handleListEvidence)
		})
	})
	r.Post("/rounds/{roundID}/close", h.handleCloseRound)
	r.Post("/evidence", h.handleSubmitEvidence)
	r.Route("/schedules/{scheduleID}/whitelist", func(r chi.Router) {
		r.Put("/", h.handleGenerateWhitelist)
		r.Get("/", h.handleGetWhitelist)
	})
	r.Patch("/anomalies/{anomalyID}/investigation", h.handleSetInvestigation)

	return r
}

// observe records request durations against the chi route pattern so
// path parameters do not explode label cardinality.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		h.metrics.ObserveHTTP(route, strconv.Itoa(ww.Status()), time.Since(started).Seconds())
	})
}
