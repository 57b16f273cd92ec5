// Package recurrence computes when the next automatic planning run happens.
//
// Everything here is pure: callers pass "now" explicitly and nothing touches
// storage or the wall clock.
package recurrence

import (
	"strconv"
	"strings"
	"time"

	"ai-meal-calendar/internal/meal"
)

const (
	// DefaultTimeOfDay is used when a rule carries an unparsable time.
	DefaultTimeOfDay = "10:00"
	// staleOverride is how far in the past a one-off date may be before it
	// degrades into a weekly rule.
	staleOverride = 24 * time.Hour
)

// Rule describes a weekly (or one-off) planning run.
type Rule struct {
	// Mode is a weekday name ("Friday") or an ISO date ("2025-01-10") for a
	// one-off reschedule.
	Mode        string
	TimeOfDay   string
	Enabled     bool
	HorizonDays int
}

// Horizon returns the planning horizon, never less than one day.
func (r Rule) Horizon() int {
	if r.HorizonDays < 1 {
		return 1
	}
	return r.HorizonDays
}

// NextRun returns the next run instant for rule relative to now. The boolean is
// false when the rule is disabled.
func NextRun(rule Rule, now time.Time) (time.Time, bool) {
	if !rule.Enabled {
		return time.Time{}, false
	}

	hour, minute := ParseTimeOfDay(rule.TimeOfDay)
	mode := strings.TrimSpace(rule.Mode)

	if override, err := meal.ParseDate(mode, now.Location()); err == nil {
		runAt := at(override, 0, hour, minute)
		if now.Sub(runAt) <= staleOverride {
			return runAt, true
		}
		// Stale one-off: keep firing on the same weekday from now on.
		return nextWeekday(override.Weekday(), hour, minute, now), true
	}

	return nextWeekday(ParseWeekday(mode), hour, minute, now), true
}

// NextRunAfter is NextRun restricted to instants strictly after t, for timers
// that have just fired. A one-off date that is no longer ahead continues on its
// weekday.
func NextRunAfter(rule Rule, t time.Time) (time.Time, bool) {
	next, ok := NextRun(rule, t)
	if !ok || next.After(t) {
		return next, ok
	}

	hour, minute := ParseTimeOfDay(rule.TimeOfDay)
	mode := strings.TrimSpace(rule.Mode)
	target := ParseWeekday(mode)
	if override, err := meal.ParseDate(mode, t.Location()); err == nil {
		target = override.Weekday()
	}
	return nextWeekday(target, hour, minute, t.Add(time.Minute)), true
}

func nextWeekday(target time.Weekday, hour, minute int, now time.Time) time.Time {
	daysAhead := (int(target) - int(now.Weekday()) + 7) % 7
	if daysAhead == 0 && now.After(at(now, 0, hour, minute)) {
		daysAhead = 7
	}
	return at(now, daysAhead, hour, minute)
}

// at builds the instant days after the calendar date of t at hour:minute.
func at(t time.Time, days, hour, minute int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+days, hour, minute, 0, 0, t.Location())
}

// ParseWeekday maps a weekday name (full or three-letter, any case) to a
// time.Weekday. Unknown names resolve to Monday.
func ParseWeekday(name string) time.Weekday {
	n := strings.ToLower(strings.TrimSpace(name))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if n == full || (len(n) == 3 && strings.HasPrefix(full, n)) {
			return d
		}
	}
	return time.Monday
}

// ParseTimeOfDay parses a 24h HH:MM string. Invalid input falls back to
// DefaultTimeOfDay.
func ParseTimeOfDay(s string) (hour, minute int) {
	if h, m, ok := parseHHMM(s); ok {
		return h, m
	}
	h, m, _ := parseHHMM(DefaultTimeOfDay)
	return h, m
}

// ValidTimeOfDay reports whether s is a valid 24h HH:MM time.
func ValidTimeOfDay(s string) bool {
	_, _, ok := parseHHMM(s)
	return ok
}

func parseHHMM(s string) (int, int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) != 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

// Window returns the ISO dates in [start, start+days).
func Window(start time.Time, days int) map[string]bool {
	window := make(map[string]bool, days)
	for i := 0; i < days; i++ {
		window[meal.FormatDate(at(start, i, 0, 0))] = true
	}
	return window
}

// PlanningWindow returns the highlighted planning dates for rule, or an empty
// set when the rule is disabled.
func PlanningWindow(rule Rule, now time.Time) map[string]bool {
	next, ok := NextRun(rule, now)
	if !ok {
		return map[string]bool{}
	}
	return Window(next, rule.Horizon())
}
