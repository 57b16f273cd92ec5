package planner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ai-meal-calendar/internal/calendar"
	"ai-meal-calendar/internal/history"
	"ai-meal-calendar/internal/meal"
	"ai-meal-calendar/internal/settings"
)

// Meal is one planned dish with its full recipe.
type Meal struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Ingredients  []string `json:"ingredients"`
	Instructions []string `json:"instructions"`
	Source       string   `json:"source,omitempty"`
	RecipeID     string   `json:"recipe_id,omitempty"`
	Rating       int      `json:"rating,omitempty"`
}

// DayPlan holds the meals of one date. Unplanned slots are nil.
type DayPlan struct {
	Date      string `json:"date"`
	Breakfast *Meal  `json:"breakfast,omitempty"`
	Lunch     *Meal  `json:"lunch,omitempty"`
	Dinner    *Meal  `json:"dinner,omitempty"`
}

// Meal returns the meal in slot, or nil.
func (d *DayPlan) Meal(slot meal.Slot) *Meal {
	switch slot {
	case meal.Breakfast:
		return d.Breakfast
	case meal.Lunch:
		return d.Lunch
	case meal.Dinner:
		return d.Dinner
	}
	return nil
}

func (d *DayPlan) clear(slot meal.Slot) {
	switch slot {
	case meal.Breakfast:
		d.Breakfast = nil
	case meal.Lunch:
		d.Lunch = nil
	case meal.Dinner:
		d.Dinner = nil
	}
}

func (d *DayPlan) empty() bool {
	return d.Breakfast == nil && d.Lunch == nil && d.Dinner == nil
}

// MealPlan is a multi-day plan as produced by the generator.
type MealPlan struct {
	Days           []DayPlan `json:"days"`
	ShoppingList   []string  `json:"shopping_list"`
	SummaryMessage string    `json:"summary_message"`
}

// Draft is a generated plan awaiting confirmation (current_draft.json).
type Draft struct {
	MealPlan
	StartDate    string    `json:"start_date,omitempty"`
	DurationDays int       `json:"duration_days,omitempty"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// ActivePlan is the confirmed plan with its check-off state (active_plan.json).
type ActivePlan struct {
	MealPlan
	ConfirmedAt               time.Time       `json:"confirmed_at"`
	CheckedGroceries          map[string]bool `json:"checked_groceries"`
	CheckedCookingIngredients map[string]bool `json:"checked_cooking_ingredients"`
	CompletedCookingSteps     map[string]bool `json:"completed_cooking_steps"`
	CompletedMeals            map[string]bool `json:"completed_meals"`
}

func (a *ActivePlan) ensureMaps() {
	if a.CheckedGroceries == nil {
		a.CheckedGroceries = map[string]bool{}
	}
	if a.CheckedCookingIngredients == nil {
		a.CheckedCookingIngredients = map[string]bool{}
	}
	if a.CompletedCookingSteps == nil {
		a.CompletedCookingSteps = map[string]bool{}
	}
	if a.CompletedMeals == nil {
		a.CompletedMeals = map[string]bool{}
	}
}

// IngredientID identifies the i-th ingredient of a meal on the grocery list
// and in the cooking view.
func IngredientID(date string, slot meal.Slot, i int) string {
	return fmt.Sprintf("%s-%s-%d", date, slot, i)
}

// StepID identifies the i-th cooking step of a meal.
func StepID(date string, slot meal.Slot, i int) string {
	return fmt.Sprintf("%s-%s-step-%d", date, slot, i)
}

// MealID identifies a planned meal.
func MealID(date string, slot meal.Slot) string {
	return fmt.Sprintf("%s-%s", date, slot)
}

// parseMealPlan decodes generator output, tolerating a markdown code fence.
func parseMealPlan(content string) (MealPlan, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}

	var plan MealPlan
	if err := json.Unmarshal([]byte(content), &plan); err != nil {
		return MealPlan{}, fmt.Errorf("failed to parse meal plan JSON: %w", err)
	}
	if err := plan.validate(); err != nil {
		return MealPlan{}, err
	}
	return plan, nil
}

func (p MealPlan) validate() error {
	if len(p.Days) == 0 {
		return fmt.Errorf("plan has no days")
	}
	seen := make(map[string]bool, len(p.Days))
	for i := range p.Days {
		d := &p.Days[i]
		if _, err := meal.ParseDate(d.Date, time.UTC); err != nil {
			return fmt.Errorf("day %d has invalid date %q", i, d.Date)
		}
		if seen[d.Date] {
			return fmt.Errorf("date %s appears twice", d.Date)
		}
		seen[d.Date] = true
		for _, slot := range meal.Slots {
			if m := d.Meal(slot); m != nil && strings.TrimSpace(m.Name) == "" {
				return fmt.Errorf("%s %s has a meal without a name", d.Date, slot)
			}
		}
	}
	return nil
}

// planWindow lists the dates a generated plan may fill and the slots open on
// each of them.
type planWindow map[string]map[meal.Slot]bool

// newPlanWindow covers [start, start+days) with the slots enabled in cfg.
func newPlanWindow(cfg settings.Settings, start time.Time, days int) planWindow {
	w := make(planWindow, days)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		w.open(meal.FormatDate(d), cfg.EnabledSlots(d.Weekday()))
	}
	return w
}

// planWindowOf covers the dates already in plan. Slots the plan fills stay
// open even if they have been disabled since.
func planWindowOf(cfg settings.Settings, plan MealPlan) planWindow {
	w := make(planWindow, len(plan.Days))
	for i := range plan.Days {
		d := &plan.Days[i]
		date, err := meal.ParseDate(d.Date, time.UTC)
		if err != nil {
			continue
		}
		w.open(d.Date, cfg.EnabledSlots(date.Weekday()))
		for _, slot := range meal.Slots {
			if d.Meal(slot) != nil {
				w.open(d.Date, []meal.Slot{slot})
			}
		}
	}
	return w
}

func (w planWindow) open(date string, slots []meal.Slot) {
	if w[date] == nil {
		w[date] = map[meal.Slot]bool{}
	}
	for _, s := range slots {
		w[date][s] = true
	}
}

// fit drops days outside the window and meals in closed slots. It fails when
// nothing is left.
func (w planWindow) fit(plan MealPlan) (MealPlan, error) {
	days := make([]DayPlan, 0, len(plan.Days))
	for _, d := range plan.Days {
		open, ok := w[d.Date]
		if !ok {
			slog.Warn("planner: dropping day outside the requested range", "date", d.Date)
			continue
		}
		for _, slot := range meal.Slots {
			if d.Meal(slot) != nil && !open[slot] {
				slog.Warn("planner: dropping meal in disabled slot", "date", d.Date, "slot", slot)
				d.clear(slot)
			}
		}
		if d.empty() {
			continue
		}
		days = append(days, d)
	}
	if len(days) == 0 {
		return MealPlan{}, fmt.Errorf("plan has no meals on the requested dates")
	}
	plan.Days = days
	return plan, nil
}

// calendarOverlay projects the present slots of each day to bare meal names.
func calendarOverlay(p MealPlan) calendar.Calendar {
	overlay := make(calendar.Calendar, len(p.Days))
	for i := range p.Days {
		d := &p.Days[i]
		day := calendar.Day{}
		for _, slot := range meal.Slots {
			if m := d.Meal(slot); m != nil {
				day[slot] = meal.Named(m.Name)
			}
		}
		if len(day) > 0 {
			overlay[d.Date] = day
		}
	}
	return overlay
}

// historyEntry summarizes a confirmed plan for the history log.
func historyEntry(p MealPlan, runDate string) history.Entry {
	entry := history.Entry{RunDate: runDate, Summary: p.SummaryMessage}
	for i := range p.Days {
		d := &p.Days[i]
		for _, slot := range meal.Slots {
			m := d.Meal(slot)
			if m == nil {
				continue
			}
			source := m.Source
			if source == "" {
				source = meal.SourceChef
			}
			entry.Meals = append(entry.Meals, history.Meal{
				Name:          m.Name,
				Slot:          slot,
				ScheduledDate: d.Date,
				RecipeID:      m.RecipeID,
				Source:        source,
				Rating:        m.Rating,
			})
		}
	}
	return entry
}

// carryRatings copies ratings from prev onto meals of next that keep the same
// name in the same date and slot.
func carryRatings(prev, next *MealPlan) {
	byDate := make(map[string]*DayPlan, len(prev.Days))
	for i := range prev.Days {
		byDate[prev.Days[i].Date] = &prev.Days[i]
	}
	for i := range next.Days {
		old, ok := byDate[next.Days[i].Date]
		if !ok {
			continue
		}
		for _, slot := range meal.Slots {
			n, o := next.Days[i].Meal(slot), old.Meal(slot)
			if n == nil || o == nil || o.Rating == 0 || n.Rating != 0 {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(n.Name), strings.TrimSpace(o.Name)) {
				n.Rating = o.Rating
			}
		}
	}
}

func copyFlags(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
