// Package planner drives a meal plan from generated draft through review and
// confirmation into the calendar, history and active plan.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ai-meal-calendar/internal/calendar"
	"ai-meal-calendar/internal/history"
	"ai-meal-calendar/internal/llm"
	"ai-meal-calendar/internal/meal"
	"ai-meal-calendar/internal/recurrence"
	"ai-meal-calendar/internal/settings"
	"ai-meal-calendar/internal/shared"
	"ai-meal-calendar/internal/storage"
)

// MaxDuration caps how many days one generation may cover.
const MaxDuration = 7

var (
	ErrNoDraft       = errors.New("no draft plan")
	ErrNoActivePlan  = errors.New("no active plan")
	ErrEmptyFeedback = errors.New("feedback is empty")
	ErrNothingToPlan = errors.New("no meal slots enabled in the requested range")
	ErrInvalidRating = errors.New("rating must be between 0 and 5")
	ErrMealNotFound  = errors.New("meal not found in active plan")
	ErrUnknownToggle = errors.New("unknown toggle kind")
	ErrDraftChanged  = errors.New("draft was replaced or removed while a new one was generated")
)

// GenerationError reports a failed generator call. Committed state is never
// changed when one is returned.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: generation failed: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Notifier is told about confirmed plans.
type Notifier interface {
	PlanConfirmed(ctx context.Context, userID string, plan *ActivePlan) error
}

// Recorder receives metadata about every generator call.
type Recorder interface {
	RecordMeta(meta shared.AgentMeta) error
}

// Options tunes generator calls.
type Options struct {
	Timeout      time.Duration
	Attempts     int
	HistoryDepth int
}

// Planner is the plan lifecycle controller.
type Planner struct {
	docs      storage.Store
	calendar  *calendar.Store
	history   *history.Store
	settings  *settings.Store
	generator llm.Generator
	opts      Options
	notifier  Notifier
	recorder  Recorder
	now       func() time.Time

	locks sync.Map // user id -> *sync.Mutex
}

// NewPlanner creates a new Planner instance.
func NewPlanner(docs storage.Store, generator llm.Generator, opts Options) *Planner {
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	return &Planner{
		docs:      docs,
		calendar:  calendar.NewStore(docs),
		history:   history.NewStore(docs),
		settings:  settings.NewStore(docs),
		generator: generator,
		opts:      opts,
		now:       time.Now,
	}
}

// WithNotifier sets the confirmation notifier.
func (p *Planner) WithNotifier(n Notifier) *Planner {
	p.notifier = n
	return p
}

// WithRecorder sets the generation metrics recorder.
func (p *Planner) WithRecorder(r Recorder) *Planner {
	p.recorder = r
	return p
}

// WithClock replaces the wall clock, for tests.
func (p *Planner) WithClock(now func() time.Time) *Planner {
	p.now = now
	return p
}

func (p *Planner) lock(userID string) func() {
	m, _ := p.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// DefaultStartDate is the date of the next scheduled run, or tomorrow when the
// schedule is disabled.
func (p *Planner) DefaultStartDate(ctx context.Context, userID string) time.Time {
	now := p.now()
	rule, err := p.settings.Rule(ctx, userID)
	if err != nil {
		slog.Warn("planner: settings unavailable, using defaults", "user", userID, "error", err)
	}
	if next, ok := recurrence.NextRun(rule, now); ok {
		return meal.Day(next)
	}
	return meal.Day(now).AddDate(0, 0, 1)
}

// GenerateRequest selects the range of a new draft. Zero values use defaults.
type GenerateRequest struct {
	StartDate time.Time
	Duration  int
}

// GenerateDraft generates a plan and stores it as the user's draft, replacing
// any unconfirmed draft. Meals outside the range or in disabled slots are
// dropped. If the stored draft changes while the generator runs nothing is
// saved and ErrDraftChanged is returned.
func (p *Planner) GenerateDraft(ctx context.Context, userID string, req GenerateRequest) (*Draft, error) {
	cfg, err := p.settings.Load(ctx, userID)
	if err != nil {
		slog.Warn("planner: settings unavailable, using defaults", "user", userID, "error", err)
	}

	today := meal.Day(p.now())
	start := req.StartDate
	if start.IsZero() {
		start = p.DefaultStartDate(ctx, userID)
	}
	y, m, d := start.Date()
	start = time.Date(y, m, d, 0, 0, 0, 0, today.Location())
	if start.Before(today) {
		start = today
	}

	duration := req.Duration
	if duration <= 0 {
		duration = cfg.DurationDays
	}
	duration = min(max(duration, 1), MaxDuration)

	days := planningDays(cfg, start, duration)
	if len(days) == 0 {
		return nil, ErrNothingToPlan
	}

	userPrompt, err := buildDraftPrompt(days, p.history.Load(ctx, userID, p.opts.HistoryDepth))
	if err != nil {
		return nil, err
	}

	base, err := p.currentDraftVersion(ctx, userID)
	if err != nil {
		return nil, err
	}
	window := newPlanWindow(cfg, start, duration)
	plan, err := p.generate(ctx, "GenerateDraft", userID, draftSystemPrompt, userPrompt, window)
	if err != nil {
		return nil, err
	}

	draft := &Draft{
		MealPlan:     plan,
		StartDate:    meal.FormatDate(start),
		DurationDays: duration,
		GeneratedAt:  p.now().UTC(),
	}
	if err := p.replaceDraft(ctx, userID, base, draft); err != nil {
		return nil, err
	}
	slog.Info("planner: draft generated", "user", userID, "start", draft.StartDate, "days", duration)
	return draft, nil
}

// Draft returns the user's pending draft.
func (p *Planner) Draft(ctx context.Context, userID string) (*Draft, error) {
	draft, status, err := storage.LoadJSON[Draft](ctx, p.docs, userID, storage.CurrentDraft)
	if err != nil {
		return nil, err
	}
	if status != storage.Loaded {
		return nil, ErrNoDraft
	}
	return &draft, nil
}

// draftVersion identifies the stored draft, if any.
type draftVersion struct {
	exists      bool
	generatedAt time.Time
}

func (p *Planner) currentDraftVersion(ctx context.Context, userID string) (draftVersion, error) {
	d, err := p.Draft(ctx, userID)
	if errors.Is(err, ErrNoDraft) {
		return draftVersion{}, nil
	}
	if err != nil {
		return draftVersion{}, err
	}
	return draftVersion{exists: true, generatedAt: d.GeneratedAt}, nil
}

// replaceDraft saves draft only if the stored draft is still the one generation
// started from. A draft confirmed or discarded in the meantime stays gone.
func (p *Planner) replaceDraft(ctx context.Context, userID string, base draftVersion, draft *Draft) error {
	unlock := p.lock(userID)
	defer unlock()

	current, err := p.currentDraftVersion(ctx, userID)
	if err != nil {
		return err
	}
	if current.exists != base.exists || !current.generatedAt.Equal(base.generatedAt) {
		return ErrDraftChanged
	}
	return storage.SaveJSON(ctx, p.docs, userID, storage.CurrentDraft, draft)
}

// ModifyDraft regenerates the draft from feedback. On failure the stored draft
// is left untouched.
func (p *Planner) ModifyDraft(ctx context.Context, userID, feedback string) (*Draft, error) {
	if feedback == "" {
		return nil, ErrEmptyFeedback
	}
	current, err := p.Draft(ctx, userID)
	if err != nil {
		return nil, err
	}

	cfg, err := p.settings.Load(ctx, userID)
	if err != nil {
		slog.Warn("planner: settings unavailable, using defaults", "user", userID, "error", err)
	}
	window := planWindowOf(cfg, current.MealPlan)
	if start, err := meal.ParseDate(current.StartDate, p.now().Location()); err == nil && current.DurationDays > 0 {
		window = newPlanWindow(cfg, start, current.DurationDays)
	}

	userPrompt, err := buildModifyPrompt(current.MealPlan, feedback)
	if err != nil {
		return nil, err
	}
	plan, err := p.generate(ctx, "ModifyDraft", userID, modifySystemPrompt, userPrompt, window)
	if err != nil {
		return nil, err
	}

	draft := &Draft{
		MealPlan:     plan,
		StartDate:    current.StartDate,
		DurationDays: current.DurationDays,
		GeneratedAt:  p.now().UTC(),
	}
	base := draftVersion{exists: true, generatedAt: current.GeneratedAt}
	if err := p.replaceDraft(ctx, userID, base, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// DiscardDraft deletes the pending draft, if any.
func (p *Planner) DiscardDraft(ctx context.Context, userID string) error {
	unlock := p.lock(userID)
	defer unlock()
	return p.docs.Delete(ctx, userID, storage.CurrentDraft)
}

// Confirm commits the draft: the calendar gets its meals, history gets a
// summary entry, the draft becomes the active plan and is then removed. If any
// step fails every document is restored and the draft survives.
func (p *Planner) Confirm(ctx context.Context, userID string) (*ActivePlan, error) {
	active, err := p.confirm(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.notify(ctx, userID, active)
	return active, nil
}

func (p *Planner) confirm(ctx context.Context, userID string) (*ActivePlan, error) {
	unlock := p.lock(userID)
	defer unlock()

	draft, err := p.Draft(ctx, userID)
	if err != nil {
		return nil, err
	}

	snap, err := storage.TakeSnapshot(ctx, p.docs, userID,
		storage.Calendar, storage.History, storage.ActivePlan, storage.CurrentDraft)
	if err != nil {
		return nil, err
	}

	now := p.now()
	active := &ActivePlan{MealPlan: draft.MealPlan, ConfirmedAt: now.UTC()}
	active.ensureMaps()

	steps := []struct {
		name string
		run  func() error
	}{
		{"update calendar", func() error {
			return p.calendar.OverlayUpdate(ctx, userID, calendarOverlay(draft.MealPlan))
		}},
		{"append history", func() error {
			return p.history.Append(ctx, userID, historyEntry(draft.MealPlan, meal.FormatDate(now)))
		}},
		{"save active plan", func() error {
			return storage.SaveJSON(ctx, p.docs, userID, storage.ActivePlan, active)
		}},
		{"clear draft", func() error {
			return p.docs.Delete(ctx, userID, storage.CurrentDraft)
		}},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			if rerr := snap.Restore(ctx, p.docs); rerr != nil {
				slog.Error("planner: rollback after failed confirm incomplete", "user", userID, "error", rerr)
			}
			return nil, fmt.Errorf("confirm: %s: %w", step.name, err)
		}
	}

	slog.Info("planner: plan confirmed", "user", userID, "days", len(active.Days))
	return active, nil
}

func (p *Planner) notify(ctx context.Context, userID string, active *ActivePlan) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.PlanConfirmed(ctx, userID, active); err != nil {
		slog.Warn("planner: notification failed", "user", userID, "error", err)
	}
}

// Active returns the user's confirmed plan.
func (p *Planner) Active(ctx context.Context, userID string) (*ActivePlan, error) {
	active, status, err := storage.LoadJSON[ActivePlan](ctx, p.docs, userID, storage.ActivePlan)
	if err != nil {
		return nil, err
	}
	if status != storage.Loaded {
		return nil, ErrNoActivePlan
	}
	active.ensureMaps()
	return &active, nil
}

// ActivePlanExists reports whether the user has a confirmed plan.
func (p *Planner) ActivePlanExists(ctx context.Context, userID string) bool {
	return p.calendar.ActivePlanExists(ctx, userID)
}

// ModifyActive regenerates the active plan from feedback. Check-off state and
// ratings of unchanged meals carry over, and the calendar is overlaid with the
// new meals.
func (p *Planner) ModifyActive(ctx context.Context, userID, feedback string) (*ActivePlan, error) {
	if feedback == "" {
		return nil, ErrEmptyFeedback
	}
	current, err := p.Active(ctx, userID)
	if err != nil {
		return nil, err
	}

	cfg, err := p.settings.Load(ctx, userID)
	if err != nil {
		slog.Warn("planner: settings unavailable, using defaults", "user", userID, "error", err)
	}

	userPrompt, err := buildModifyPrompt(current.MealPlan, feedback)
	if err != nil {
		return nil, err
	}
	plan, err := p.generate(ctx, "ModifyActive", userID, modifySystemPrompt, userPrompt, planWindowOf(cfg, current.MealPlan))
	if err != nil {
		return nil, err
	}

	unlock := p.lock(userID)
	defer unlock()

	// Re-read: check-offs may have changed while the generator ran.
	latest, err := p.Active(ctx, userID)
	if err != nil {
		return nil, err
	}
	carryRatings(&latest.MealPlan, &plan)
	next := &ActivePlan{
		MealPlan:                  plan,
		ConfirmedAt:               latest.ConfirmedAt,
		CheckedGroceries:          copyFlags(latest.CheckedGroceries),
		CheckedCookingIngredients: copyFlags(latest.CheckedCookingIngredients),
		CompletedCookingSteps:     copyFlags(latest.CompletedCookingSteps),
		CompletedMeals:            copyFlags(latest.CompletedMeals),
	}

	snap, err := storage.TakeSnapshot(ctx, p.docs, userID, storage.Calendar, storage.ActivePlan)
	if err != nil {
		return nil, err
	}
	if err := storage.SaveJSON(ctx, p.docs, userID, storage.ActivePlan, next); err != nil {
		return nil, err
	}
	if err := p.calendar.OverlayUpdate(ctx, userID, calendarOverlay(plan)); err != nil {
		if rerr := snap.Restore(ctx, p.docs); rerr != nil {
			slog.Error("planner: rollback after failed modify incomplete", "user", userID, "error", rerr)
		}
		return nil, fmt.Errorf("modify active: update calendar: %w", err)
	}
	return next, nil
}

// ToggleKind selects which check-off map a toggle applies to.
type ToggleKind string

const (
	ToggleGrocery           ToggleKind = "grocery"
	ToggleCookingIngredient ToggleKind = "ingredient"
	ToggleCookingStep       ToggleKind = "step"
	ToggleMealCompleted     ToggleKind = "meal"
)

// Toggle flips one check-off flag on the active plan and returns its new value.
func (p *Planner) Toggle(ctx context.Context, userID string, kind ToggleKind, id string) (bool, error) {
	unlock := p.lock(userID)
	defer unlock()

	active, err := p.Active(ctx, userID)
	if err != nil {
		return false, err
	}

	var flags map[string]bool
	switch kind {
	case ToggleGrocery:
		flags = active.CheckedGroceries
	case ToggleCookingIngredient:
		flags = active.CheckedCookingIngredients
	case ToggleCookingStep:
		flags = active.CompletedCookingSteps
	case ToggleMealCompleted:
		flags = active.CompletedMeals
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownToggle, kind)
	}
	flags[id] = !flags[id]

	if err := storage.SaveJSON(ctx, p.docs, userID, storage.ActivePlan, active); err != nil {
		return false, err
	}
	return flags[id], nil
}

// RateMeal stores a 0-5 rating on an active plan meal.
func (p *Planner) RateMeal(ctx context.Context, userID, date string, slot meal.Slot, rating int) error {
	if rating < 0 || rating > 5 {
		return ErrInvalidRating
	}

	unlock := p.lock(userID)
	defer unlock()

	active, err := p.Active(ctx, userID)
	if err != nil {
		return err
	}

	var target *Meal
	for i := range active.Days {
		if active.Days[i].Date == date {
			target = active.Days[i].Meal(slot)
			break
		}
	}
	if target == nil {
		return ErrMealNotFound
	}
	target.Rating = rating

	return storage.SaveJSON(ctx, p.docs, userID, storage.ActivePlan, active)
}

// RunScheduled is the automatic planning run: it generates a draft starting on
// the run's date and confirms it.
func (p *Planner) RunScheduled(ctx context.Context, userID string, runAt time.Time) (*ActivePlan, error) {
	cfg, err := p.settings.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := p.GenerateDraft(ctx, userID, GenerateRequest{StartDate: runAt, Duration: cfg.DurationDays}); err != nil {
		return nil, err
	}
	return p.Confirm(ctx, userID)
}

// generate calls the generator up to Attempts times, each bounded by Timeout.
// Output is cut to window. Cancellation of ctx is checked between attempts.
func (p *Planner) generate(ctx context.Context, op, userID, system, user string, window planWindow) (MealPlan, error) {
	var lastErr error
	for attempt := 1; attempt <= p.opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return MealPlan{}, &GenerationError{Op: op, Err: err}
		}

		plan, err := p.attempt(ctx, op, userID, system, user, window)
		if err == nil {
			return plan, nil
		}
		lastErr = err
		slog.Warn("planner: generation attempt failed", "op", op, "user", userID, "attempt", attempt, "error", err)
	}
	slog.Error("planner: generation failed", "op", op, "user", userID, "error", lastErr)
	return MealPlan{}, &GenerationError{Op: op, Err: lastErr}
}

func (p *Planner) attempt(ctx context.Context, op, userID, system, user string, window planWindow) (MealPlan, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.generator.Generate(ctx, system, user, llm.PlanSchema)
	meta := shared.AgentMeta{
		AgentName: op,
		UserID:    userID,
		Usage:     resp.Usage,
		Latency:   time.Since(start),
	}
	if err != nil {
		p.record(meta)
		return MealPlan{}, err
	}

	plan, err := parseMealPlan(resp.Content)
	if err == nil {
		plan, err = window.fit(plan)
	}
	meta.Success = err == nil
	p.record(meta)
	return plan, err
}

func (p *Planner) record(meta shared.AgentMeta) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordMeta(meta); err != nil {
		slog.Warn("planner: failed to record metrics", "op", meta.AgentName, "error", err)
	}
}
