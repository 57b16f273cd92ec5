// Package settings manages the per-user schedule configuration document.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ai-meal-calendar/internal/meal"
	"ai-meal-calendar/internal/recurrence"
	"ai-meal-calendar/internal/storage"
	"ai-meal-calendar/internal/view"
)

const (
	DefaultRunDay   = "Sunday"
	DefaultDuration = 7
	DefaultViewMode = string(view.WorkWeek)
)

var (
	ErrInvalidRunDay   = errors.New("run day must be a weekday name or a YYYY-MM-DD date")
	ErrInvalidRunTime  = errors.New("run time must be HH:MM (24h)")
	ErrInvalidDuration = errors.New("duration must be at least one day")
	ErrInvalidViewMode = errors.New("unknown view mode")
	ErrInvalidSlot     = errors.New("unknown weekday or meal slot")
)

// Settings mirrors schedule_config.json.
type Settings struct {
	RunDay          string                        `json:"run_day" yaml:"run_day"`
	RunTime         string                        `json:"run_time" yaml:"run_time"`
	DurationDays    int                           `json:"duration_days" yaml:"duration_days"`
	ScheduleEnabled bool                          `json:"schedule_enabled" yaml:"schedule_enabled"`
	Schedule        map[string]map[meal.Slot]bool `json:"schedule" yaml:"schedule"`
	ViewMode        string                        `json:"view_mode" yaml:"view_mode"`
}

// Defaults returns the configuration used when nothing is stored.
func Defaults() Settings {
	schedule := make(map[string]map[meal.Slot]bool, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		slots := make(map[meal.Slot]bool, len(meal.Slots))
		for _, s := range meal.Slots {
			slots[s] = true
		}
		schedule[d.String()] = slots
	}
	return Settings{
		RunDay:          DefaultRunDay,
		RunTime:         recurrence.DefaultTimeOfDay,
		DurationDays:    DefaultDuration,
		ScheduleEnabled: true,
		Schedule:        schedule,
		ViewMode:        DefaultViewMode,
	}
}

// UnmarshalJSON fills fields absent from the document with defaults, so a
// partially written config still yields a usable rule.
func (s *Settings) UnmarshalJSON(data []byte) error {
	type plain Settings
	v := plain(Defaults())
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Schedule == nil {
		v.Schedule = Defaults().Schedule
	}
	*s = Settings(v)
	return nil
}

// Rule converts the run fields into a recurrence rule.
func (s Settings) Rule() recurrence.Rule {
	return recurrence.Rule{
		Mode:        s.RunDay,
		TimeOfDay:   s.RunTime,
		Enabled:     s.ScheduleEnabled,
		HorizonDays: s.DurationDays,
	}
}

// SlotEnabled reports whether slot should be planned on weekday. Days or slots
// missing from the schedule count as enabled.
func (s Settings) SlotEnabled(day time.Weekday, slot meal.Slot) bool {
	slots, ok := s.Schedule[day.String()]
	if !ok {
		return true
	}
	enabled, ok := slots[slot]
	return !ok || enabled
}

// EnabledSlots returns the slots to plan on weekday, in display order.
func (s Settings) EnabledSlots(day time.Weekday) []meal.Slot {
	var out []meal.Slot
	for _, slot := range meal.Slots {
		if s.SlotEnabled(day, slot) {
			out = append(out, slot)
		}
	}
	return out
}

// Store loads and saves Settings on top of a storage.Store.
type Store struct {
	docs storage.Store
}

func NewStore(docs storage.Store) *Store {
	return &Store{docs: docs}
}

// Load returns the user's settings. Missing or corrupt documents yield
// Defaults(); only backend failures are returned as errors.
func (s *Store) Load(ctx context.Context, userID string) (Settings, error) {
	v, status, err := storage.LoadJSON[Settings](ctx, s.docs, userID, storage.ScheduleConfig)
	if err != nil {
		return Defaults(), err
	}
	if status != storage.Loaded {
		return Defaults(), nil
	}
	return v, nil
}

// Rule is a shortcut for Load followed by Settings.Rule.
func (s *Store) Rule(ctx context.Context, userID string) (recurrence.Rule, error) {
	v, err := s.Load(ctx, userID)
	return v.Rule(), err
}

func (s *Store) update(ctx context.Context, userID string, fn func(*Settings) error) (Settings, error) {
	v, err := s.Load(ctx, userID)
	if err != nil {
		return v, err
	}
	if err := fn(&v); err != nil {
		return v, err
	}
	if err := storage.SaveJSON(ctx, s.docs, userID, storage.ScheduleConfig, v); err != nil {
		return v, err
	}
	return v, nil
}

// UpdateRun sets the run day and time, and the duration when duration > 0.
func (s *Store) UpdateRun(ctx context.Context, userID, runDay, runTime string, duration int) (Settings, error) {
	runDay = strings.TrimSpace(runDay)
	if !validRunDay(runDay) {
		return Settings{}, ErrInvalidRunDay
	}
	if !recurrence.ValidTimeOfDay(runTime) {
		return Settings{}, ErrInvalidRunTime
	}
	if duration < 0 {
		return Settings{}, ErrInvalidDuration
	}
	return s.update(ctx, userID, func(v *Settings) error {
		v.RunDay = runDay
		v.RunTime = strings.TrimSpace(runTime)
		if duration > 0 {
			v.DurationDays = duration
		}
		return nil
	})
}

// ToggleEnabled flips schedule_enabled and returns the new value.
func (s *Store) ToggleEnabled(ctx context.Context, userID string) (bool, error) {
	v, err := s.update(ctx, userID, func(v *Settings) error {
		v.ScheduleEnabled = !v.ScheduleEnabled
		return nil
	})
	return v.ScheduleEnabled, err
}

// ToggleSlot flips one weekday/slot flag and returns the new value.
func (s *Store) ToggleSlot(ctx context.Context, userID, weekday, slot string) (bool, error) {
	day, ok := parseWeekdayStrict(weekday)
	if !ok {
		return false, ErrInvalidSlot
	}
	ms, ok := meal.ParseSlot(slot)
	if !ok {
		return false, ErrInvalidSlot
	}

	var state bool
	_, err := s.update(ctx, userID, func(v *Settings) error {
		slots, ok := v.Schedule[day.String()]
		if !ok {
			slots = map[meal.Slot]bool{}
			v.Schedule[day.String()] = slots
		}
		state = !v.SlotEnabled(day, ms)
		slots[ms] = state
		return nil
	})
	return state, err
}

// SetDuration sets the planning horizon in days.
func (s *Store) SetDuration(ctx context.Context, userID string, days int) (Settings, error) {
	if days < 1 {
		return Settings{}, ErrInvalidDuration
	}
	return s.update(ctx, userID, func(v *Settings) error {
		v.DurationDays = days
		return nil
	})
}

// SetViewMode stores the preferred calendar view.
func (s *Store) SetViewMode(ctx context.Context, userID, mode string) (Settings, error) {
	g, ok := view.ParseGranularity(mode)
	if !ok {
		return Settings{}, fmt.Errorf("%w: %q", ErrInvalidViewMode, mode)
	}
	return s.update(ctx, userID, func(v *Settings) error {
		v.ViewMode = string(g)
		return nil
	})
}

func validRunDay(runDay string) bool {
	if _, err := meal.ParseDate(runDay, nil); err == nil {
		return true
	}
	_, ok := parseWeekdayStrict(runDay)
	return ok
}

// parseWeekdayStrict is ParseWeekday without the Monday fallback.
func parseWeekdayStrict(name string) (time.Weekday, bool) {
	d := recurrence.ParseWeekday(name)
	if d != time.Monday {
		return d, true
	}
	n := strings.ToLower(strings.TrimSpace(name))
	return d, n == "monday" || n == "mon"
}
