// Package api serves the planning engine as a JSON HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"ai-meal-calendar/internal/calendar"
	"ai-meal-calendar/internal/jobs"
	"ai-meal-calendar/internal/metrics"
	"ai-meal-calendar/internal/planner"
	"ai-meal-calendar/internal/settings"
	"ai-meal-calendar/internal/view"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresher re-reads a user's rule after settings change.
type Refresher interface {
	Refresh(userID string) (time.Time, bool)
}

// Deps are the components the handlers call. Scheduler, Metrics and Gatherer
// may be nil.
type Deps struct {
	Settings  *settings.Store
	Calendar  *calendar.Store
	Views     *view.Builder
	Planner   *planner.Planner
	Jobs      *jobs.Tracker
	Scheduler Refresher
	Metrics   *metrics.Store
	Gatherer  prometheus.Gatherer
	DataDir   string
	JWTSecret string
}

// Server holds the HTTP handlers.
type Server struct {
	deps Deps
	auth *Authenticator
	now  func() time.Time
}

// NewServer creates a new Server instance.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps, auth: NewAuthenticator(deps.JWTSecret), now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/schedule/next-run", s.handleNextRun)
	api.HandleFunc("GET /api/schedule/settings", s.handleGetSettings)
	api.HandleFunc("PUT /api/schedule/settings", s.handlePutSettings)
	api.HandleFunc("POST /api/schedule/toggle", s.handleToggleSchedule)
	api.HandleFunc("POST /api/schedule/slots/toggle", s.handleToggleSlot)

	api.HandleFunc("GET /api/calendar", s.handleCalendar)
	api.HandleFunc("DELETE /api/calendar/{date}/{slot}", s.handleRemoveSlot)

	api.HandleFunc("POST /api/plan/draft", s.handleGenerateDraft)
	api.HandleFunc("GET /api/plan/draft", s.handleGetDraft)
	api.HandleFunc("DELETE /api/plan/draft", s.handleDiscardDraft)
	api.HandleFunc("POST /api/plan/draft/modify", s.handleModifyDraft)
	api.HandleFunc("POST /api/plan/confirm", s.handleConfirm)
	api.HandleFunc("GET /api/plan/active", s.handleGetActive)
	api.HandleFunc("POST /api/plan/active/modify", s.handleModifyActive)
	api.HandleFunc("POST /api/plan/active/toggle", s.handleToggleActive)
	api.HandleFunc("POST /api/plan/active/rate", s.handleRate)

	api.HandleFunc("GET /api/jobs/current", s.handleJobStatus)
	api.HandleFunc("POST /api/jobs/current/cancel", s.handleJobCancel)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.auth.Middleware(api))
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("api: failed to encode response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writeErr maps domain errors to HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	var genErr *planner.GenerationError
	switch {
	case errors.Is(err, planner.ErrNoDraft), errors.Is(err, planner.ErrNoActivePlan),
		errors.Is(err, planner.ErrMealNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, planner.ErrEmptyFeedback), errors.Is(err, planner.ErrInvalidRating),
		errors.Is(err, planner.ErrUnknownToggle), errors.Is(err, planner.ErrNothingToPlan),
		errors.Is(err, settings.ErrInvalidRunDay), errors.Is(err, settings.ErrInvalidRunTime),
		errors.Is(err, settings.ErrInvalidDuration), errors.Is(err, settings.ErrInvalidViewMode),
		errors.Is(err, settings.ErrInvalidSlot):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, jobs.ErrAlreadyRunning), errors.Is(err, jobs.ErrNotRunning),
		errors.Is(err, planner.ErrDraftChanged):
		writeJSONError(w, http.StatusConflict, "conflict", err.Error())
	case errors.As(err, &genErr):
		writeJSONError(w, http.StatusBadGateway, "generation_failed", err.Error())
	default:
		slog.Error("api: request failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
