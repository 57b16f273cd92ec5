// Package history keeps the capped, append-only log of confirmed plans.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"ai-meal-calendar/internal/meal"
	"ai-meal-calendar/internal/storage"
)

// MaxEntries is the most entries kept; older ones are evicted first.
const MaxEntries = 100

// Meal is one executed meal inside an Entry.
type Meal struct {
	Name          string    `json:"name"`
	Slot          meal.Slot `json:"slot,omitempty"`
	ScheduledDate string    `json:"scheduled_date,omitempty"`
	RecipeID      string    `json:"recipe_id,omitempty"`
	Source        string    `json:"source,omitempty"`
	Rating        int       `json:"rating"`
}

// UnmarshalJSON accepts the legacy bare meal name as well as the object form.
func (m *Meal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*m = Meal{Name: name}
		return nil
	}
	type plain Meal
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Meal(v)
	return nil
}

// Info returns the display shape of m.
func (m Meal) Info() meal.Info {
	return meal.Info{Name: m.Name, RecipeID: m.RecipeID, Source: m.Source}
}

// Entry is one confirmed plan.
type Entry struct {
	RunDate string `json:"run_date"`
	Summary string `json:"summary"`
	Meals   []Meal `json:"meals"`
}

// UnmarshalJSON also reads older entries that stored the run date as "date".
func (e *Entry) UnmarshalJSON(data []byte) error {
	var v struct {
		RunDate string `json:"run_date"`
		Date    string `json:"date"`
		Summary string `json:"summary"`
		Meals   []Meal `json:"meals"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.RunDate == "" {
		v.RunDate = v.Date
	}
	*e = Entry{RunDate: v.RunDate, Summary: v.Summary, Meals: v.Meals}
	return nil
}

// Store is the history.json document of each user.
type Store struct {
	docs storage.Store
}

func NewStore(docs storage.Store) *Store {
	return &Store{docs: docs}
}

func (s *Store) load(ctx context.Context, userID string) ([]Entry, error) {
	entries, _, err := storage.LoadJSON[[]Entry](ctx, s.docs, userID, storage.History)
	return entries, err
}

// Append adds entry at the end, evicting the oldest entries beyond MaxEntries.
func (s *Store) Append(ctx context.Context, userID string, entry Entry) error {
	entries, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	if len(entries) > MaxEntries {
		entries = entries[len(entries)-MaxEntries:]
	}
	if err := storage.SaveJSON(ctx, s.docs, userID, storage.History, entries); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// Load returns entries oldest first. With limit > 0 only the last limit
// entries are returned.
func (s *Store) Load(ctx context.Context, userID string, limit int) []Entry {
	entries, err := s.load(ctx, userID)
	if err != nil {
		slog.Error("history: load failed", "user", userID, "error", err)
		return nil
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// Query returns what was eaten on date, keyed by slot.
func (s *Store) Query(ctx context.Context, userID, date string) map[meal.Slot]meal.Info {
	return Index(s.Load(ctx, userID, 0))[date]
}

// Index groups meals by scheduled date and slot. When several entries cover
// the same slot the later entry wins. Meals without a date or slot (older
// records) cannot be placed and are skipped.
func Index(entries []Entry) map[string]map[meal.Slot]meal.Info {
	idx := make(map[string]map[meal.Slot]meal.Info)
	for _, e := range entries {
		for _, m := range e.Meals {
			if m.ScheduledDate == "" || m.Slot == "" {
				continue
			}
			day, ok := idx[m.ScheduledDate]
			if !ok {
				day = make(map[meal.Slot]meal.Info)
				idx[m.ScheduledDate] = day
			}
			day[m.Slot] = m.Info()
		}
	}
	return idx
}
