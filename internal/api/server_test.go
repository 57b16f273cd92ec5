package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ai-meal-calendar/internal/calendar"
	"ai-meal-calendar/internal/history"
	"ai-meal-calendar/internal/jobs"
	"ai-meal-calendar/internal/llm"
	"ai-meal-calendar/internal/meal"
	"ai-meal-calendar/internal/planner"
	"ai-meal-calendar/internal/settings"
	"ai-meal-calendar/internal/storage"
	"ai-meal-calendar/internal/view"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const planJSON = `{
	"days": [
		{"date": "2025-01-09",
		 "breakfast": {"name": "Oats", "ingredients": ["oats"], "instructions": ["cook"]},
		 "dinner": {"name": "Soup", "ingredients": ["leeks", "potatoes"], "instructions": ["chop", "simmer"]}}
	],
	"shopping_list": ["oats", "leeks", "potatoes"],
	"summary_message": "Cosy."
}`

type stubGenerator struct{}

func (stubGenerator) Generate(context.Context, string, string, *llm.Schema) (llm.ContentResponse, error) {
	return llm.ContentResponse{Content: planJSON}, nil
}

type recordingRefresher struct {
	mu    sync.Mutex
	users []string
}

func (r *recordingRefresher) Refresh(userID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	return time.Time{}, false
}

// Wednesday.
var testNow = time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)

type harness struct {
	srv       *httptest.Server
	docs      storage.Store
	jobs      *jobs.Tracker
	refresher *recordingRefresher
	token     string
}

func newHarness(t *testing.T, secret string) *harness {
	t.Helper()
	docs, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	clock := func() time.Time { return testNow }
	settingsStore := settings.NewStore(docs)
	calendarStore := calendar.NewStore(docs)
	tracker := jobs.NewTracker(context.Background())
	refresher := &recordingRefresher{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "t"}))

	s := NewServer(Deps{
		Settings:  settingsStore,
		Calendar:  calendarStore,
		Views:     view.NewBuilder(calendarStore, history.NewStore(docs), settingsStore).WithClock(clock),
		Planner:   planner.NewPlanner(docs, stubGenerator{}, planner.Options{}).WithClock(clock),
		Jobs:      tracker,
		Scheduler: refresher,
		Gatherer:  reg,
		DataDir:   t.TempDir(),
		JWTSecret: secret,
	}).WithClock(clock)

	h := &harness{srv: httptest.NewServer(s.Handler()), docs: docs, jobs: tracker, refresher: refresher}
	t.Cleanup(h.srv.Close)
	if secret != "" {
		h.token, err = IssueToken(secret, "alice", time.Hour)
		require.NoError(t, err)
	}
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestAuth(t *testing.T) {
	h := newHarness(t, "s3cret")

	resp, _ := h.do(t, http.MethodGet, "/api/schedule/settings", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Settings written through the API land in alice's state root.
	resp, _ = h.do(t, http.MethodPost, "/api/schedule/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ok, err := h.docs.Exists(context.Background(), "alice", storage.ScheduleConfig)
	require.NoError(t, err)
	assert.True(t, ok)

	h.token = ""
	resp, _ = h.do(t, http.MethodGet, "/api/schedule/settings", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	h.token, err = IssueToken("other", "alice", time.Hour)
	require.NoError(t, err)
	resp, _ = h.do(t, http.MethodGet, "/api/schedule/settings", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	h.token, err = IssueToken("s3cret", "alice", -time.Minute)
	require.NoError(t, err)
	resp, _ = h.do(t, http.MethodGet, "/api/schedule/settings", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "expired token")

	h.token = ""
	resp, _ = h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is public")
}

func TestSchedule(t *testing.T) {
	h := newHarness(t, "")

	resp, body := h.do(t, http.MethodGet, "/api/schedule/next-run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"enabled": true, "next_run": "2025-01-12T10:00:00Z"}`, string(body))

	resp, body = h.do(t, http.MethodPut, "/api/schedule/settings", map[string]any{"run_day": "Friday", "duration_days": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var got settings.Settings
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Friday", got.RunDay)
	assert.Equal(t, "10:00", got.RunTime)
	assert.Equal(t, 3, got.DurationDays)
	assert.Equal(t, []string{DefaultUser}, h.refresher.users)

	resp, body = h.do(t, http.MethodGet, "/api/schedule/next-run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "2025-01-10T10:00:00Z")

	resp, _ = h.do(t, http.MethodPut, "/api/schedule/settings", map[string]any{"run_time": "25:00"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPut, "/api/schedule/settings", map[string]any{"view_mode": "fortnight"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.do(t, http.MethodPost, "/api/schedule/slots/toggle", map[string]string{"weekday": "Monday", "slot": "lunch"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"enabled": false}`, string(body))
	resp, _ = h.do(t, http.MethodPost, "/api/schedule/slots/toggle", map[string]string{"weekday": "Someday", "slot": "lunch"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.do(t, http.MethodPost, "/api/schedule/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"schedule_enabled": false}`, string(body))
	_, body = h.do(t, http.MethodGet, "/api/schedule/next-run", nil)
	assert.JSONEq(t, `{"enabled": false}`, string(body))
}

func TestCalendar(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	require.NoError(t, calendar.NewStore(h.docs).OverlayUpdate(ctx, DefaultUser, calendar.Calendar{
		"2025-01-08": {meal.Dinner: meal.Named("Pasta"), meal.Lunch: meal.Named("Soup")},
	}))
	require.NoError(t, history.NewStore(h.docs).Append(ctx, DefaultUser, history.Entry{
		RunDate: "2025-01-01",
		Meals:   []history.Meal{{Name: "Chili", Slot: meal.Dinner, ScheduledDate: "2025-01-07"}},
	}))

	resp, body := h.do(t, http.MethodGet, "/api/calendar?date=2025-01-07&view=3day", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cal calendarResponse
	require.NoError(t, json.Unmarshal(body, &cal))
	assert.Equal(t, "2025-01-04", cal.Prev)
	assert.Equal(t, "2025-01-10", cal.Next)
	require.Len(t, cal.Days, 3)
	assert.Equal(t, view.FromHistory, cal.Days[0].Source)
	assert.Equal(t, "Chili", cal.Days[0].Meals[meal.Dinner].Name)
	assert.True(t, cal.Days[1].IsToday)
	assert.Equal(t, "Pasta", cal.Days[1].Meals[meal.Dinner].Name)

	_, body = h.do(t, http.MethodGet, "/api/calendar", nil)
	require.NoError(t, json.Unmarshal(body, &cal))
	assert.Equal(t, string(view.WorkWeek), cal.View)
	assert.Len(t, cal.Days, 5)

	resp, _ = h.do(t, http.MethodGet, "/api/calendar?view=fortnight", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = h.do(t, http.MethodGet, "/api/calendar?date=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodDelete, "/api/calendar/2025-01-08/dinner", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = h.do(t, http.MethodDelete, "/api/calendar/2025-01-08/brunch", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, calendar.Day{meal.Lunch: meal.Named("Soup")}, calendar.NewStore(h.docs).Load(ctx, DefaultUser)["2025-01-08"])
}

func TestPlanLifecycle(t *testing.T) {
	h := newHarness(t, "")

	resp, _ := h.do(t, http.MethodGet, "/api/plan/draft", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := h.do(t, http.MethodPost, "/api/plan/draft", map[string]any{"start_date": "2025-01-09", "duration": 1})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var st jobs.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, JobGenerateDraft, st.Kind)
	h.jobs.Wait()

	_, body = h.do(t, http.MethodGet, "/api/jobs/current", nil)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, jobs.Idle, st.State)
	assert.Equal(t, "Draft ready: 1 days from 2025-01-09", st.Message)

	resp, _ = h.do(t, http.MethodGet, "/api/plan/draft", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/plan/draft/modify", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.do(t, http.MethodPost, "/api/plan/confirm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = h.do(t, http.MethodGet, "/api/plan/draft", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = h.do(t, http.MethodPost, "/api/plan/active/toggle", map[string]string{"kind": "grocery", "id": "2025-01-09-dinner-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"checked": true}`, string(body))
	resp, _ = h.do(t, http.MethodPost, "/api/plan/active/toggle", map[string]string{"kind": "pantry", "id": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/plan/active/rate", map[string]any{"date": "2025-01-09", "slot": "dinner", "rating": 4})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/api/plan/active/rate", map[string]any{"date": "2025-01-09", "slot": "lunch", "rating": 4})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/api/plan/active/rate", map[string]any{"date": "2025-01-09", "slot": "dinner", "rating": 9})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.do(t, http.MethodGet, "/api/plan/active", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var active planner.ActivePlan
	require.NoError(t, json.Unmarshal(body, &active))
	assert.True(t, active.CheckedGroceries["2025-01-09-dinner-1"])
	assert.Equal(t, 4, active.Days[0].Dinner.Rating)

	resp, _ = h.do(t, http.MethodPost, "/api/plan/active/modify", map[string]string{"feedback": "less soup"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	h.jobs.Wait()
	_, body = h.do(t, http.MethodGet, "/api/jobs/current", nil)
	assert.Contains(t, string(body), "Active plan updated")

	resp, _ = h.do(t, http.MethodDelete, "/api/plan/draft", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestJobs(t *testing.T) {
	h := newHarness(t, "")

	resp, _ := h.do(t, http.MethodPost, "/api/jobs/current/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	release := make(chan struct{})
	_, err := h.jobs.Start(DefaultUser, "other", func(ctx context.Context) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "", ctx.Err()
	})
	require.NoError(t, err)

	resp, _ = h.do(t, http.MethodPost, "/api/plan/draft", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := h.do(t, http.MethodPost, "/api/jobs/current/cancel", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Contains(t, string(body), `"cancelling"`)
	close(release)
	h.jobs.Wait()
}

func TestWriteErr(t *testing.T) {
	for err, want := range map[error]int{
		planner.ErrNoDraft:                             http.StatusNotFound,
		planner.ErrDraftChanged:                        http.StatusConflict,
		jobs.ErrAlreadyRunning:                         http.StatusConflict,
		planner.ErrNothingToPlan:                       http.StatusBadRequest,
		&planner.GenerationError{Op: "x", Err: io.EOF}: http.StatusBadGateway,
	} {
		rec := httptest.NewRecorder()
		writeErr(rec, err)
		assert.Equal(t, want, rec.Code, err.Error())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, "")

	resp, body := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"healthy"`)

	resp, body = h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "test_total"))
}
