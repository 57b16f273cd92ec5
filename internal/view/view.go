// Package view builds the per-day calendar display. Days before today come
// from history, today and later from the calendar.
package view

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"ai-meal-calendar/internal/calendar"
	"ai-meal-calendar/internal/history"
	"ai-meal-calendar/internal/meal"
	"ai-meal-calendar/internal/recurrence"
)

// Granularity selects the length of the rolling window.
type Granularity string

const (
	Day      Granularity = "day"
	ThreeDay Granularity = "3day"
	WorkWeek Granularity = "work_week"
	Week     Granularity = "week"
	Month    Granularity = "month"
)

// Days returns the window length.
func (g Granularity) Days() int {
	switch g {
	case Day:
		return 1
	case ThreeDay:
		return 3
	case WorkWeek:
		return 5
	case Week:
		return 7
	case Month:
		return 30
	}
	return 5
}

// ParseGranularity maps a view mode name to a Granularity.
func ParseGranularity(s string) (Granularity, bool) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Day, ThreeDay, WorkWeek, Week, Month:
		return g, true
	}
	return WorkWeek, false
}

// Source names where a DayView's meals came from.
const (
	FromHistory  = "history"
	FromCalendar = "calendar"
)

// DayView is one rendered day.
type DayView struct {
	Date         string                  `json:"date" yaml:"date"`
	Weekday      string                  `json:"weekday" yaml:"weekday"`
	IsToday      bool                    `json:"is_today" yaml:"is_today"`
	InPlanWindow bool                    `json:"in_plan_window" yaml:"in_plan_window"`
	Source       string                  `json:"source" yaml:"source"`
	Meals        map[meal.Slot]meal.Info `json:"meals" yaml:"meals"`
}

// Assemble renders days consecutive days from ref. It is pure: the caller
// supplies today, the planning window and both data sources.
func Assemble(ref time.Time, days int, today time.Time, window map[string]bool, cal calendar.Calendar, past map[string]map[meal.Slot]meal.Info) []DayView {
	todayKey := meal.FormatDate(today)
	start := meal.Day(ref)

	out := make([]DayView, 0, days)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		key := meal.FormatDate(d)

		dv := DayView{
			Date:         key,
			Weekday:      d.Weekday().String(),
			IsToday:      key == todayKey,
			InPlanWindow: window[key],
			Meals:        map[meal.Slot]meal.Info{},
		}
		// ISO dates order lexically.
		if key < todayKey {
			dv.Source = FromHistory
			for slot, info := range past[key] {
				dv.Meals[slot] = info
			}
		} else {
			dv.Source = FromCalendar
			for slot, r := range cal[key] {
				dv.Meals[slot] = r.Normalize()
			}
		}
		out = append(out, dv)
	}
	return out
}

// RuleSource provides a user's recurrence rule.
type RuleSource interface {
	Rule(ctx context.Context, userID string) (recurrence.Rule, error)
}

// Builder reads the stores for Assemble. It never writes.
type Builder struct {
	calendar *calendar.Store
	history  *history.Store
	rules    RuleSource
	now      func() time.Time
}

func NewBuilder(cal *calendar.Store, hist *history.Store, rules RuleSource) *Builder {
	return &Builder{calendar: cal, history: hist, rules: rules, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build renders the window of granularity g starting at ref for userID.
func (b *Builder) Build(ctx context.Context, userID string, ref time.Time, g Granularity) []DayView {
	now := b.now()
	if ref.IsZero() {
		ref = now
	}
	y, m, d := ref.Date()
	ref = time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	rule, err := b.rules.Rule(ctx, userID)
	if err != nil {
		slog.Warn("view: rule unavailable, no planning window", "user", userID, "error", err)
		rule.Enabled = false
	}

	return Assemble(
		ref,
		g.Days(),
		meal.Day(now),
		recurrence.PlanningWindow(rule, now),
		b.calendar.Load(ctx, userID),
		history.Index(b.history.Load(ctx, userID, 0)),
	)
}

// Navigate moves ref one window forward (direction > 0) or back (direction < 0).
func Navigate(ref time.Time, g Granularity, direction int) time.Time {
	switch {
	case direction > 0:
		return ref.AddDate(0, 0, g.Days())
	case direction < 0:
		return ref.AddDate(0, 0, -g.Days())
	}
	return ref
}
