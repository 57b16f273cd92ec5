// Package calendar persists which meal occupies each slot of each date.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"ai-meal-calendar/internal/meal"
	"ai-meal-calendar/internal/storage"
)

// Day maps a slot to the meal planned for it.
type Day map[meal.Slot]meal.Ref

// Calendar maps an ISO date to its Day. A date with no slots is never stored.
type Calendar map[string]Day

// Dates returns the calendar's dates in ascending order.
func (c Calendar) Dates() []string {
	dates := make([]string, 0, len(c))
	for d := range c {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Store is the calendar.json document of each user.
type Store struct {
	docs storage.Store
}

func NewStore(docs storage.Store) *Store {
	return &Store{docs: docs}
}

// Load returns the user's calendar. Missing, corrupt or unreadable storage
// yields an empty calendar.
func (s *Store) Load(ctx context.Context, userID string) Calendar {
	cal, err := s.load(ctx, userID)
	if err != nil {
		slog.Error("calendar: load failed, showing empty calendar", "user", userID, "error", err)
		return Calendar{}
	}
	return cal
}

func (s *Store) load(ctx context.Context, userID string) (Calendar, error) {
	cal, _, err := storage.LoadJSON[Calendar](ctx, s.docs, userID, storage.Calendar)
	if err != nil {
		return nil, err
	}
	if cal == nil {
		cal = Calendar{}
	}
	for date, day := range cal {
		if len(day) == 0 {
			delete(cal, date)
		}
	}
	return cal, nil
}

// OverlayUpdate merges partial into the calendar one slot at a time: slots in
// partial replace stored ones, slots absent from partial are kept.
func (s *Store) OverlayUpdate(ctx context.Context, userID string, partial Calendar) error {
	cal, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	for date, slots := range partial {
		if len(slots) == 0 {
			continue
		}
		day, ok := cal[date]
		if !ok {
			day = Day{}
			cal[date] = day
		}
		for slot, ref := range slots {
			day[slot] = ref
		}
	}
	if err := storage.SaveJSON(ctx, s.docs, userID, storage.Calendar, cal); err != nil {
		return fmt.Errorf("failed to save calendar: %w", err)
	}
	return nil
}

// RemoveSlot deletes one slot and drops the date once it has no slots left.
// Removing a slot that is not set is a no-op.
func (s *Store) RemoveSlot(ctx context.Context, userID, date string, slot meal.Slot) error {
	cal, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	day, ok := cal[date]
	if !ok {
		return nil
	}
	if _, ok := day[slot]; !ok {
		return nil
	}
	delete(day, slot)
	if len(day) == 0 {
		delete(cal, date)
	}
	if err := storage.SaveJSON(ctx, s.docs, userID, storage.Calendar, cal); err != nil {
		return fmt.Errorf("failed to save calendar: %w", err)
	}
	return nil
}

// ActivePlanExists reports whether the user has a confirmed plan.
func (s *Store) ActivePlanExists(ctx context.Context, userID string) bool {
	ok, err := s.docs.Exists(ctx, userID, storage.ActivePlan)
	if err != nil {
		slog.Warn("calendar: active plan check failed", "user", userID, "error", err)
		return false
	}
	return ok
}
