package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ai-meal-calendar/internal/meal"
	"ai-meal-calendar/internal/metrics"
	"ai-meal-calendar/internal/planner"
	"ai-meal-calendar/internal/recurrence"
	"ai-meal-calendar/internal/view"
)

// Job kinds started by the API.
const (
	JobGenerateDraft = "generate_draft"
	JobModifyDraft   = "modify_draft"
	JobModifyActive  = "modify_active"
)

type nextRunResponse struct {
	Enabled bool       `json:"enabled"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

func (s *Server) handleNextRun(w http.ResponseWriter, r *http.Request) {
	rule, err := s.deps.Settings.Rule(r.Context(), UserFrom(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := nextRunResponse{}
	if next, ok := recurrence.NextRun(rule, s.now()); ok {
		resp.Enabled = true
		resp.NextRun = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Settings.Load(r.Context(), UserFrom(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// settingsRequest is the body of PUT /api/schedule/settings. Absent fields
// are left unchanged.
type settingsRequest struct {
	RunDay       *string `json:"run_day"`
	RunTime      *string `json:"run_time"`
	DurationDays *int    `json:"duration_days"`
	ViewMode     *string `json:"view_mode"`
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	ctx, user := r.Context(), UserFrom(r.Context())

	var req settingsRequest
	if err := decode(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	current, err := s.deps.Settings.Load(ctx, user)
	if err != nil {
		writeErr(w, err)
		return
	}
	if req.RunDay != nil || req.RunTime != nil {
		runDay, runTime := current.RunDay, current.RunTime
		if req.RunDay != nil {
			runDay = *req.RunDay
		}
		if req.RunTime != nil {
			runTime = *req.RunTime
		}
		if current, err = s.deps.Settings.UpdateRun(ctx, user, runDay, runTime, 0); err != nil {
			writeErr(w, err)
			return
		}
	}
	if req.DurationDays != nil {
		if current, err = s.deps.Settings.SetDuration(ctx, user, *req.DurationDays); err != nil {
			writeErr(w, err)
			return
		}
	}
	if req.ViewMode != nil {
		if current, err = s.deps.Settings.SetViewMode(ctx, user, *req.ViewMode); err != nil {
			writeErr(w, err)
			return
		}
	}

	s.refresh(user)
	writeJSON(w, http.StatusOK, current)
}

func (s *Server) handleToggleSchedule(w http.ResponseWriter, r *http.Request) {
	user := UserFrom(r.Context())
	enabled, err := s.deps.Settings.ToggleEnabled(r.Context(), user)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.refresh(user)
	writeJSON(w, http.StatusOK, map[string]bool{"schedule_enabled": enabled})
}

type slotToggleRequest struct {
	Weekday string `json:"weekday"`
	Slot    string `json:"slot"`
}

func (s *Server) handleToggleSlot(w http.ResponseWriter, r *http.Request) {
	var req slotToggleRequest
	if err := decode(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	enabled, err := s.deps.Settings.ToggleSlot(r.Context(), UserFrom(r.Context()), req.Weekday, req.Slot)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (s *Server) refresh(user string) {
	if s.deps.Scheduler != nil {
		s.deps.Scheduler.Refresh(user)
	}
}

type calendarResponse struct {
	Date string         `json:"date"`
	View string         `json:"view"`
	Prev string         `json:"prev"`
	Next string         `json:"next"`
	Days []view.DayView `json:"days"`
}

// handleCalendar renders GET /api/calendar?date=YYYY-MM-DD&view=week. The view
// defaults to the user's stored view mode and the date to today.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	ctx, user := r.Context(), UserFrom(r.Context())
	now := s.now()

	ref := meal.Day(now)
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := meal.ParseDate(raw, now.Location())
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid date %q", raw))
			return
		}
		ref = d
	}

	mode := r.URL.Query().Get("view")
	if mode == "" {
		cfg, err := s.deps.Settings.Load(ctx, user)
		if err != nil {
			writeErr(w, err)
			return
		}
		mode = cfg.ViewMode
	}
	g, ok := view.ParseGranularity(mode)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unknown view %q", mode))
		return
	}

	writeJSON(w, http.StatusOK, calendarResponse{
		Date: meal.FormatDate(ref),
		View: string(g),
		Prev: meal.FormatDate(view.Navigate(ref, g, -1)),
		Next: meal.FormatDate(view.Navigate(ref, g, 1)),
		Days: s.deps.Views.Build(ctx, user, ref, g),
	})
}

func (s *Server) handleRemoveSlot(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if _, err := meal.ParseDate(date, nil); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid date %q", date))
		return
	}
	slot, ok := meal.ParseSlot(r.PathValue("slot"))
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unknown slot %q", r.PathValue("slot")))
		return
	}
	if err := s.deps.Calendar.RemoveSlot(r.Context(), UserFrom(r.Context()), date, slot); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type generateRequest struct {
	StartDate string `json:"start_date"`
	Duration  int    `json:"duration"`
}

func (s *Server) handleGenerateDraft(w http.ResponseWriter, r *http.Request) {
	user := UserFrom(r.Context())

	var req generateRequest
	if err := decode(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	gr := planner.GenerateRequest{Duration: req.Duration}
	if req.StartDate != "" {
		d, err := meal.ParseDate(req.StartDate, s.now().Location())
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid start_date %q", req.StartDate))
			return
		}
		gr.StartDate = d
	}

	s.startJob(w, user, JobGenerateDraft, func(ctx context.Context) (string, error) {
		draft, err := s.deps.Planner.GenerateDraft(ctx, user, gr)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Draft ready: %d days from %s", len(draft.Days), draft.StartDate), nil
	})
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := s.deps.Planner.Draft(r.Context(), UserFrom(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *Server) handleDiscardDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Planner.DiscardDraft(r.Context(), UserFrom(r.Context())); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

func (s *Server) handleModifyDraft(w http.ResponseWriter, r *http.Request) {
	s.handleFeedback(w, r, JobModifyDraft, func(ctx context.Context, user, feedback string) (string, error) {
		draft, err := s.deps.Planner.ModifyDraft(ctx, user, feedback)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Draft updated: %d days", len(draft.Days)), nil
	})
}

func (s *Server) handleModifyActive(w http.ResponseWriter, r *http.Request) {
	s.handleFeedback(w, r, JobModifyActive, func(ctx context.Context, user, feedback string) (string, error) {
		active, err := s.deps.Planner.ModifyActive(ctx, user, feedback)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Active plan updated: %d days", len(active.Days)), nil
	})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request, kind string, run func(ctx context.Context, user, feedback string) (string, error)) {
	user := UserFrom(r.Context())
	var req feedbackRequest
	if err := decode(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Feedback == "" {
		writeErr(w, planner.ErrEmptyFeedback)
		return
	}
	s.startJob(w, user, kind, func(ctx context.Context) (string, error) {
		return run(ctx, user, req.Feedback)
	})
}

func (s *Server) startJob(w http.ResponseWriter, user, kind string, fn func(ctx context.Context) (string, error)) {
	st, err := s.deps.Jobs.Start(user, kind, fn)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	active, err := s.deps.Planner.Confirm(r.Context(), UserFrom(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleGetActive(w http.ResponseWriter, r *http.Request) {
	active, err := s.deps.Planner.Active(r.Context(), UserFrom(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

type toggleRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (s *Server) handleToggleActive(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decode(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.ID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}
	checked, err := s.deps.Planner.Toggle(r.Context(), UserFrom(r.Context()), planner.ToggleKind(req.Kind), req.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"checked": checked})
}

type rateRequest struct {
	Date   string `json:"date"`
	Slot   string `json:"slot"`
	Rating int    `json:"rating"`
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decode(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	slot, ok := meal.ParseSlot(req.Slot)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unknown slot %q", req.Slot))
		return
	}
	if err := s.deps.Planner.RateMeal(r.Context(), UserFrom(r.Context()), req.Date, slot, req.Rating); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rating": req.Rating})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Jobs.Status(UserFrom(r.Context())))
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Jobs.Cancel(UserFrom(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

type healthResponse struct {
	Status string               `json:"status"`
	System metrics.SysHealth    `json:"system"`
	Usage  []metrics.DailyUsage `json:"usage,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", System: metrics.GetSysHealth(s.deps.DataDir)}
	if s.deps.Metrics != nil {
		days := 7
		if raw := r.URL.Query().Get("days"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				days = n
			}
		}
		usage, err := s.deps.Metrics.GetDailyUsage(days)
		if err != nil {
			resp.Status = "degraded"
		}
		resp.Usage = usage
	}
	writeJSON(w, http.StatusOK, resp)
}
