package planner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-meal-calendar/internal/calendar"
	"ai-meal-calendar/internal/history"
	"ai-meal-calendar/internal/llm"
	"ai-meal-calendar/internal/meal"
	"ai-meal-calendar/internal/settings"
	"ai-meal-calendar/internal/shared"
	"ai-meal-calendar/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	System, User string
}

// MockGenerator replays canned responses in order.
type MockGenerator struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     []call
}

func (m *MockGenerator) Generate(ctx context.Context, system, user string, schema *llm.Schema) (llm.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.calls)
	m.calls = append(m.calls, call{System: system, User: user})
	if i < len(m.errs) && m.errs[i] != nil {
		return llm.ContentResponse{}, m.errs[i]
	}
	if i >= len(m.responses) {
		return llm.ContentResponse{}, errors.New("no more responses")
	}
	return llm.ContentResponse{
		Content: m.responses[i],
		Usage:   shared.TokenUsage{PromptTokens: 10, CompletionTokens: 20, Model: "mock"},
	}, nil
}

type recorderFunc func(shared.AgentMeta) error

func (f recorderFunc) RecordMeta(m shared.AgentMeta) error { return f(m) }

type notifierFunc func(context.Context, string, *ActivePlan) error

func (f notifierFunc) PlanConfirmed(ctx context.Context, userID string, plan *ActivePlan) error {
	return f(ctx, userID, plan)
}

// Wednesday 2025-01-08 12:00 UTC.
var testNow = time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)

func newPlanner(t *testing.T, gen llm.Generator) (*Planner, storage.Store) {
	t.Helper()
	docs, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	p := NewPlanner(docs, gen, Options{Timeout: time.Second, Attempts: 2, HistoryDepth: 5}).
		WithClock(func() time.Time { return testNow })
	return p, docs
}

const twoDayPlan = `{
	"days": [
		{"date": "2025-01-10",
		 "breakfast": {"name": "Oats", "ingredients": ["oats", "milk"], "instructions": ["cook"], "source": "chef"},
		 "lunch": {"name": "Salad", "ingredients": ["lettuce"], "instructions": ["toss"], "source": "library", "recipe_id": "r7"}},
		{"date": "2025-01-11",
		 "breakfast": {"name": "Eggs", "ingredients": ["eggs"], "instructions": ["fry"]},
		 "lunch": {"name": "Wrap", "ingredients": ["tortilla"], "instructions": ["roll"]}}
	],
	"shopping_list": ["oats", "milk", "lettuce", "eggs", "tortilla"],
	"summary_message": "Light week."
}`

func saveDraft(t *testing.T, docs storage.Store, content string) {
	t.Helper()
	plan, err := parseMealPlan(content)
	require.NoError(t, err)
	require.NoError(t, storage.SaveJSON(context.Background(), docs, "u", storage.CurrentDraft, Draft{MealPlan: plan}))
}

func TestConfirm_OverlaysWithoutClobbering(t *testing.T) {
	ctx := context.Background()
	p, docs := newPlanner(t, &MockGenerator{})

	cal := calendar.NewStore(docs)
	require.NoError(t, cal.OverlayUpdate(ctx, "u", calendar.Calendar{
		"2025-01-10": {meal.Dinner: meal.Named("Existing Dinner")},
	}))
	saveDraft(t, docs, twoDayPlan)

	var notified *ActivePlan
	p.WithNotifier(notifierFunc(func(_ context.Context, user string, plan *ActivePlan) error {
		notified = plan
		return errors.New("telegram down")
	}))

	active, err := p.Confirm(ctx, "u")
	require.NoError(t, err)
	require.NotNil(t, notified, "notifier failure must not fail confirm")
	assert.Len(t, active.Days, 2)

	got := cal.Load(ctx, "u")
	assert.Equal(t, calendar.Day{
		meal.Breakfast: meal.Named("Oats"),
		meal.Lunch:     meal.Named("Salad"),
		meal.Dinner:    meal.Named("Existing Dinner"),
	}, got["2025-01-10"])
	assert.Len(t, got["2025-01-11"], 2)

	entries := history.NewStore(docs).Load(ctx, "u", 0)
	require.Len(t, entries, 1)
	assert.Equal(t, "2025-01-08", entries[0].RunDate)
	assert.Equal(t, "Light week.", entries[0].Summary)
	require.Len(t, entries[0].Meals, 4)
	assert.Equal(t, history.Meal{Name: "Salad", Slot: meal.Lunch, ScheduledDate: "2025-01-10", RecipeID: "r7", Source: meal.SourceLibrary}, entries[0].Meals[1])
	assert.Equal(t, meal.SourceChef, entries[0].Meals[2].Source, "missing source defaults to chef")

	_, err = p.Draft(ctx, "u")
	assert.ErrorIs(t, err, ErrNoDraft)
	assert.True(t, p.ActivePlanExists(ctx, "u"))

	stored, err := p.Active(ctx, "u")
	require.NoError(t, err)
	assert.Empty(t, stored.CheckedGroceries)
	assert.NotNil(t, stored.CompletedMeals)
}

func TestConfirm_NoDraft(t *testing.T) {
	p, _ := newPlanner(t, &MockGenerator{})
	_, err := p.Confirm(context.Background(), "u")
	assert.ErrorIs(t, err, ErrNoDraft)
}

// failingStore fails Put for one document.
type failingStore struct {
	storage.Store
	failOn storage.Document
}

func (f failingStore) Put(ctx context.Context, userID string, doc storage.Document, data []byte) error {
	if doc == f.failOn {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, userID, doc, data)
}

func TestConfirm_FailureKeepsDraftAndRollsBack(t *testing.T) {
	ctx := context.Background()
	base, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	saveDraftTo := func(s storage.Store) {
		plan, err := parseMealPlan(twoDayPlan)
		require.NoError(t, err)
		require.NoError(t, storage.SaveJSON(ctx, s, "u", storage.CurrentDraft, Draft{MealPlan: plan}))
	}
	saveDraftTo(base)

	docs := failingStore{Store: base, failOn: storage.ActivePlan}
	p := NewPlanner(docs, &MockGenerator{}, Options{}).WithClock(func() time.Time { return testNow })

	_, err = p.Confirm(ctx, "u")
	require.Error(t, err)

	draft, err := p.Draft(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, draft.Days, 2)

	assert.Empty(t, calendar.NewStore(base).Load(ctx, "u"), "calendar overlay must be rolled back")
	assert.Empty(t, history.NewStore(base).Load(ctx, "u", 0), "history append must be rolled back")
	assert.False(t, p.ActivePlanExists(ctx, "u"))
}

func TestGenerateDraft_DefaultsAndPrompt(t *testing.T) {
	ctx := context.Background()
	gen := &MockGenerator{responses: []string{twoDayPlan}}
	var metas []shared.AgentMeta
	p, docs := newPlanner(t, gen)
	p.WithRecorder(recorderFunc(func(m shared.AgentMeta) error {
		metas = append(metas, m)
		return nil
	}))

	s := settings.NewStore(docs)
	_, err := s.UpdateRun(ctx, "u", "Friday", "10:00", 3)
	require.NoError(t, err)
	_, err = s.ToggleSlot(ctx, "u", "Saturday", "breakfast")
	require.NoError(t, err)
	require.NoError(t, history.NewStore(docs).Append(ctx, "u", history.Entry{Summary: "Pizza night"}))

	draft, err := p.GenerateDraft(ctx, "u", GenerateRequest{})
	require.NoError(t, err)
	assert.Equal(t, "2025-01-10", draft.StartDate)
	assert.Equal(t, 3, draft.DurationDays)

	require.Len(t, gen.calls, 1)
	prompt := gen.calls[0].User
	assert.Contains(t, prompt, "Friday (2025-01-10): breakfast, lunch, dinner")
	assert.Contains(t, prompt, "Saturday (2025-01-11): lunch, dinner")
	assert.Contains(t, prompt, "Sunday (2025-01-12)")
	assert.NotContains(t, prompt, "2025-01-13")
	assert.Contains(t, prompt, "Pizza night")

	stored, err := p.Draft(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "Light week.", stored.SummaryMessage)
	require.Len(t, stored.Days, 2)
	assert.Nil(t, stored.Days[1].Breakfast, "Saturday breakfast is switched off")
	assert.Equal(t, "Wrap", stored.Days[1].Lunch.Name)

	require.Len(t, metas, 1)
	assert.Equal(t, "GenerateDraft", metas[0].AgentName)
	assert.True(t, metas[0].Success)
	assert.Equal(t, "u", metas[0].UserID)
}

func TestGenerateDraft_KeepsToRequestedRange(t *testing.T) {
	ctx := context.Background()
	wide := `{"days": [
		{"date": "2024-12-01", "dinner": {"name": "Roast", "ingredients": ["beef"], "instructions": ["roast"]}},
		{"date": "2025-01-10", "dinner": {"name": "Curry", "ingredients": ["rice"], "instructions": ["simmer"]}},
		{"date": "2025-01-11",
		 "breakfast": {"name": "Eggs", "ingredients": ["eggs"], "instructions": ["fry"]},
		 "lunch": {"name": "Wrap", "ingredients": ["tortilla"], "instructions": ["roll"]}},
		{"date": "2025-01-12", "breakfast": {"name": "Toast", "ingredients": ["bread"], "instructions": ["toast"]}},
		{"date": "2025-03-01", "lunch": {"name": "Stew", "ingredients": ["beans"], "instructions": ["stew"]}}
	], "shopping_list": ["rice"], "summary_message": "Too much."}`
	p, docs := newPlanner(t, &MockGenerator{responses: []string{wide}})
	_, err := settings.NewStore(docs).ToggleSlot(ctx, "u", "Saturday", "breakfast")
	require.NoError(t, err)

	draft, err := p.GenerateDraft(ctx, "u", GenerateRequest{
		StartDate: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Duration:  2,
	})
	require.NoError(t, err)

	require.Len(t, draft.Days, 2)
	assert.Equal(t, "2025-01-10", draft.Days[0].Date)
	assert.Equal(t, "2025-01-11", draft.Days[1].Date)
	assert.Nil(t, draft.Days[1].Breakfast)
	assert.Equal(t, "Wrap", draft.Days[1].Lunch.Name)

	_, err = p.Confirm(ctx, "u")
	require.NoError(t, err)
	got := calendar.NewStore(docs).Load(ctx, "u")
	assert.Len(t, got, 2)
	assert.NotContains(t, got, "2024-12-01")
	assert.NotContains(t, got, "2025-03-01")
}

func TestGenerateDraft_NothingInRangeFails(t *testing.T) {
	ctx := context.Background()
	elsewhere := `{"days": [
		{"date": "2024-12-01", "dinner": {"name": "Roast", "ingredients": ["beef"], "instructions": ["roast"]}},
		{"date": "2025-03-01", "lunch": {"name": "Stew", "ingredients": ["beans"], "instructions": ["stew"]}}
	], "shopping_list": [], "summary_message": "Wrong dates."}`
	gen := &MockGenerator{responses: []string{elsewhere, elsewhere}}
	p, docs := newPlanner(t, gen)

	_, err := p.GenerateDraft(ctx, "u", GenerateRequest{
		StartDate: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Duration:  2,
	})
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.ErrorContains(t, err, "no meals on the requested dates")
	assert.Len(t, gen.calls, 2)

	_, err = p.Draft(ctx, "u")
	assert.ErrorIs(t, err, ErrNoDraft)
	assert.Empty(t, calendar.NewStore(docs).Load(ctx, "u"))
}

func TestPlanWindow(t *testing.T) {
	cfg := settings.Defaults()
	cfg.Schedule["Saturday"][meal.Breakfast] = false

	// Friday and Saturday.
	w := newPlanWindow(cfg, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), 2)
	assert.Len(t, w, 2)
	assert.True(t, w["2025-01-10"][meal.Breakfast])
	assert.False(t, w["2025-01-11"][meal.Breakfast])
	assert.True(t, w["2025-01-11"][meal.Dinner])

	plan, err := parseMealPlan(twoDayPlan)
	require.NoError(t, err)
	fitted, err := w.fit(plan)
	require.NoError(t, err)
	assert.Nil(t, fitted.Days[1].Breakfast)
	assert.NotNil(t, plan.Days[1].Breakfast, "the input plan is not modified")

	// A plan already holding Saturday breakfast keeps that slot open.
	of := planWindowOf(cfg, plan)
	assert.Len(t, of, 2)
	assert.True(t, of["2025-01-11"][meal.Breakfast])
	assert.False(t, of["2025-01-12"][meal.Breakfast])

	_, err = planWindow{}.fit(plan)
	assert.Error(t, err)
}

func TestGenerateDraft_ClampsRange(t *testing.T) {
	ctx := context.Background()
	gen := &MockGenerator{responses: []string{twoDayPlan}}
	p, _ := newPlanner(t, gen)

	draft, err := p.GenerateDraft(ctx, "u", GenerateRequest{
		StartDate: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		Duration:  30,
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-01-08", draft.StartDate, "start is clamped to today")
	assert.Equal(t, MaxDuration, draft.DurationDays)
	assert.Contains(t, gen.calls[0].User, "2025-01-14")
	assert.NotContains(t, gen.calls[0].User, "2025-01-15")
}

func TestGenerateDraft_DisabledScheduleStartsTomorrow(t *testing.T) {
	ctx := context.Background()
	p, docs := newPlanner(t, &MockGenerator{})

	_, err := settings.NewStore(docs).ToggleEnabled(ctx, "u")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC), p.DefaultStartDate(ctx, "u"))
}

func TestGenerateDraft_FailureKeepsPreviousDraft(t *testing.T) {
	ctx := context.Background()
	gen := &MockGenerator{responses: []string{"not json", `{"days": []}`}}
	p, docs := newPlanner(t, gen)
	saveDraft(t, docs, twoDayPlan)

	_, err := p.GenerateDraft(ctx, "u", GenerateRequest{Duration: 2})
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "GenerateDraft", genErr.Op)
	assert.Len(t, gen.calls, 2, "every attempt is used")

	draft, err := p.Draft(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "Light week.", draft.SummaryMessage)
}

func TestGenerateDraft_RetryRecovers(t *testing.T) {
	ctx := context.Background()
	gen := &MockGenerator{errs: []error{errors.New("503")}, responses: []string{"", twoDayPlan}}
	p, _ := newPlanner(t, gen)

	draft, err := p.GenerateDraft(ctx, "u", GenerateRequest{
		StartDate: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Duration:  2,
	})
	require.NoError(t, err)
	assert.Len(t, draft.Days, 2)
}

func TestGenerateDraft_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &MockGenerator{responses: []string{twoDayPlan}}
	p, _ := newPlanner(t, gen)

	_, err := p.GenerateDraft(ctx, "u", GenerateRequest{})
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, gen.calls)
}

func TestModifyDraft(t *testing.T) {
	ctx := context.Background()
	modified := `{"days": [{"date": "2025-01-10", "dinner": {"name": "Tacos", "ingredients": ["tortilla"], "instructions": ["fill"]}}],
		"shopping_list": ["tortilla"], "summary_message": "Tacos it is."}`
	gen := &MockGenerator{responses: []string{modified}}
	p, docs := newPlanner(t, gen)

	_, err := p.ModifyDraft(ctx, "u", "tacos please")
	assert.ErrorIs(t, err, ErrNoDraft)

	saveDraft(t, docs, twoDayPlan)
	_, err = p.ModifyDraft(ctx, "u", "")
	assert.ErrorIs(t, err, ErrEmptyFeedback)

	draft, err := p.ModifyDraft(ctx, "u", "tacos please")
	require.NoError(t, err)
	assert.Equal(t, "Tacos", draft.Days[0].Dinner.Name)
	assert.Contains(t, gen.calls[0].User, `"Oats"`)
	assert.Contains(t, gen.calls[0].User, "tacos please")
}

func TestModifyDraft_StaysInDraftRange(t *testing.T) {
	ctx := context.Background()
	modified := `{"days": [
		{"date": "2025-01-10", "dinner": {"name": "Tacos", "ingredients": ["tortilla"], "instructions": ["fill"]}},
		{"date": "2025-01-20", "dinner": {"name": "Pizza", "ingredients": ["dough"], "instructions": ["bake"]}}
	], "shopping_list": ["tortilla"], "summary_message": "Tacos."}`
	p, docs := newPlanner(t, &MockGenerator{responses: []string{modified}})

	plan, err := parseMealPlan(twoDayPlan)
	require.NoError(t, err)
	require.NoError(t, storage.SaveJSON(ctx, docs, "u", storage.CurrentDraft,
		Draft{MealPlan: plan, StartDate: "2025-01-10", DurationDays: 2}))

	draft, err := p.ModifyDraft(ctx, "u", "tacos please")
	require.NoError(t, err)
	require.Len(t, draft.Days, 1)
	assert.Equal(t, "2025-01-10", draft.Days[0].Date)
	assert.Equal(t, "2025-01-10", draft.StartDate)
	assert.Equal(t, 2, draft.DurationDays)
}

// blockingGenerator holds every call until release is closed.
type blockingGenerator struct {
	started chan struct{}
	release chan struct{}
	content string
}

func newBlockingGenerator(content string) *blockingGenerator {
	return &blockingGenerator{started: make(chan struct{}, 4), release: make(chan struct{}), content: content}
}

func (g *blockingGenerator) Generate(ctx context.Context, system, user string, schema *llm.Schema) (llm.ContentResponse, error) {
	g.started <- struct{}{}
	select {
	case <-g.release:
		return llm.ContentResponse{Content: g.content}, nil
	case <-ctx.Done():
		return llm.ContentResponse{}, ctx.Err()
	}
}

func TestModifyDraft_ConfirmedWhileGenerating(t *testing.T) {
	ctx := context.Background()
	modified := `{"days": [{"date": "2025-01-10", "dinner": {"name": "Tacos", "ingredients": ["tortilla"], "instructions": ["fill"]}}],
		"shopping_list": ["tortilla"], "summary_message": "Tacos it is."}`
	gen := newBlockingGenerator(modified)
	p, docs := newPlanner(t, gen)
	saveDraft(t, docs, twoDayPlan)

	done := make(chan error, 1)
	go func() {
		_, err := p.ModifyDraft(ctx, "u", "tacos please")
		done <- err
	}()
	<-gen.started

	_, err := p.Confirm(ctx, "u")
	require.NoError(t, err)
	close(gen.release)

	assert.ErrorIs(t, <-done, ErrDraftChanged)

	_, err = p.Draft(ctx, "u")
	assert.ErrorIs(t, err, ErrNoDraft, "a confirmed draft is not written back")
	active, err := p.Active(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "Oats", active.Days[0].Breakfast.Name)
	assert.NotContains(t, calendar.NewStore(docs).Load(ctx, "u")["2025-01-10"], meal.Dinner)
}

func TestGenerateDraft_DiscardedWhileGenerating(t *testing.T) {
	ctx := context.Background()
	gen := newBlockingGenerator(twoDayPlan)
	p, docs := newPlanner(t, gen)
	saveDraft(t, docs, twoDayPlan)

	done := make(chan error, 1)
	go func() {
		_, err := p.GenerateDraft(ctx, "u", GenerateRequest{
			StartDate: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
			Duration:  2,
		})
		done <- err
	}()
	<-gen.started

	require.NoError(t, p.DiscardDraft(ctx, "u"))
	close(gen.release)

	assert.ErrorIs(t, <-done, ErrDraftChanged)
	_, err := p.Draft(ctx, "u")
	assert.ErrorIs(t, err, ErrNoDraft)
}

func TestModifyDraft_FailureLeavesDraft(t *testing.T) {
	ctx := context.Background()
	gen := &MockGenerator{errs: []error{errors.New("timeout"), errors.New("timeout")}}
	p, docs := newPlanner(t, gen)
	saveDraft(t, docs, twoDayPlan)

	_, err := p.ModifyDraft(ctx, "u", "more fish")
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)

	draft, err := p.Draft(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "Oats", draft.Days[0].Breakfast.Name)
}

func TestDiscardDraft(t *testing.T) {
	ctx := context.Background()
	p, docs := newPlanner(t, &MockGenerator{})
	saveDraft(t, docs, twoDayPlan)

	require.NoError(t, p.DiscardDraft(ctx, "u"))
	_, err := p.Draft(ctx, "u")
	assert.ErrorIs(t, err, ErrNoDraft)
	require.NoError(t, p.DiscardDraft(ctx, "u"))
}

func TestModifyActive_PreservesSubstate(t *testing.T) {
	ctx := context.Background()
	replaced := `{"days": [
		{"date": "2025-01-10", "breakfast": {"name": "Oats", "ingredients": ["oats"], "instructions": ["cook"]},
		 "dinner": {"name": "Curry", "ingredients": ["rice"], "instructions": ["simmer"]}},
		{"date": "2025-01-11", "breakfast": {"name": "Pancakes", "ingredients": ["flour"], "instructions": ["flip"]}}
	], "shopping_list": ["oats", "rice", "flour"], "summary_message": "Swapped things."}`
	gen := &MockGenerator{responses: []string{replaced}}
	p, docs := newPlanner(t, gen)

	saveDraft(t, docs, twoDayPlan)
	_, err := p.Confirm(ctx, "u")
	require.NoError(t, err)

	_, err = p.Toggle(ctx, "u", ToggleGrocery, IngredientID("2025-01-10", meal.Breakfast, 0))
	require.NoError(t, err)
	_, err = p.Toggle(ctx, "u", ToggleMealCompleted, MealID("2025-01-10", meal.Breakfast))
	require.NoError(t, err)
	_, err = p.Toggle(ctx, "u", ToggleCookingStep, StepID("2025-01-10", meal.Breakfast, 0))
	require.NoError(t, err)
	require.NoError(t, p.RateMeal(ctx, "u", "2025-01-10", meal.Breakfast, 5))
	require.NoError(t, p.RateMeal(ctx, "u", "2025-01-11", meal.Breakfast, 2))

	before, err := p.Active(ctx, "u")
	require.NoError(t, err)

	after, err := p.ModifyActive(ctx, "u", "curry on friday")
	require.NoError(t, err)

	assert.Equal(t, before.CheckedGroceries, after.CheckedGroceries)
	assert.Equal(t, before.CompletedMeals, after.CompletedMeals)
	assert.Equal(t, before.CompletedCookingSteps, after.CompletedCookingSteps)
	assert.Equal(t, before.CheckedCookingIngredients, after.CheckedCookingIngredients)
	assert.Equal(t, "Curry", after.Days[0].Dinner.Name)
	assert.Equal(t, 5, after.Days[0].Breakfast.Rating, "unchanged meal keeps its rating")
	assert.Equal(t, 0, after.Days[1].Breakfast.Rating, "replaced meal starts unrated")

	stored, err := p.Active(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, before.CheckedGroceries, stored.CheckedGroceries)

	day := calendar.NewStore(docs).Load(ctx, "u")["2025-01-10"]
	assert.Equal(t, calendar.Day{
		meal.Breakfast: meal.Named("Oats"),
		meal.Lunch:     meal.Named("Salad"),
		meal.Dinner:    meal.Named("Curry"),
	}, day)
}

func TestModifyActive_Errors(t *testing.T) {
	ctx := context.Background()
	gen := &MockGenerator{errs: []error{errors.New("x"), errors.New("y")}}
	p, docs := newPlanner(t, gen)

	_, err := p.ModifyActive(ctx, "u", "anything")
	assert.ErrorIs(t, err, ErrNoActivePlan)

	saveDraft(t, docs, twoDayPlan)
	_, err = p.Confirm(ctx, "u")
	require.NoError(t, err)

	_, err = p.ModifyActive(ctx, "u", "anything")
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)

	active, err := p.Active(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "Oats", active.Days[0].Breakfast.Name)
}

func TestToggleAndRate(t *testing.T) {
	ctx := context.Background()
	p, docs := newPlanner(t, &MockGenerator{})

	_, err := p.Toggle(ctx, "u", ToggleGrocery, "x")
	assert.ErrorIs(t, err, ErrNoActivePlan)

	saveDraft(t, docs, twoDayPlan)
	_, err = p.Confirm(ctx, "u")
	require.NoError(t, err)

	on, err := p.Toggle(ctx, "u", ToggleCookingIngredient, "2025-01-11-lunch-0")
	require.NoError(t, err)
	assert.True(t, on)
	off, err := p.Toggle(ctx, "u", ToggleCookingIngredient, "2025-01-11-lunch-0")
	require.NoError(t, err)
	assert.False(t, off)

	_, err = p.Toggle(ctx, "u", "pantry", "x")
	assert.ErrorIs(t, err, ErrUnknownToggle)

	assert.ErrorIs(t, p.RateMeal(ctx, "u", "2025-01-10", meal.Lunch, 6), ErrInvalidRating)
	assert.ErrorIs(t, p.RateMeal(ctx, "u", "2025-01-10", meal.Dinner, 3), ErrMealNotFound)
	require.NoError(t, p.RateMeal(ctx, "u", "2025-01-10", meal.Lunch, 4))

	active, err := p.Active(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 4, active.Days[0].Lunch.Rating)
}

func TestRunScheduled(t *testing.T) {
	ctx := context.Background()
	gen := &MockGenerator{responses: []string{twoDayPlan}}
	p, docs := newPlanner(t, gen)

	runAt := time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)
	active, err := p.RunScheduled(ctx, "u", runAt)
	require.NoError(t, err)
	assert.Len(t, active.Days, 2)
	assert.Contains(t, gen.calls[0].User, "Friday (2025-01-10)")

	_, err = p.Draft(ctx, "u")
	assert.ErrorIs(t, err, ErrNoDraft)
	assert.Len(t, history.NewStore(docs).Load(ctx, "u", 0), 1)
}

func TestParseMealPlan(t *testing.T) {
	_, err := parseMealPlan("```json\n" + twoDayPlan + "\n```")
	assert.NoError(t, err)

	for name, content := range map[string]string{
		"no days":      `{"days": []}`,
		"bad date":     `{"days": [{"date": "Friday"}]}`,
		"nameless":     `{"days": [{"date": "2025-01-10", "lunch": {"name": " "}}]}`,
		"repeated day": `{"days": [{"date": "2025-01-10"}, {"date": "2025-01-10"}]}`,
	} {
		_, err := parseMealPlan(content)
		assert.Error(t, err, name)
	}
}
