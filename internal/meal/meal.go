// Package meal holds the vocabulary shared by the calendar, history and planner
// packages: meal slots, ISO date handling and the meal reference variant.
package meal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the ISO date format used for every date key.
const DateLayout = "2006-01-02"

// Slot is a meal slot within a day.
type Slot string

const (
	Breakfast Slot = "breakfast"
	Lunch     Slot = "lunch"
	Dinner    Slot = "dinner"
)

// Slots lists the slots in display order.
var Slots = []Slot{Breakfast, Lunch, Dinner}

// ParseSlot returns the slot for a case-insensitive name.
func ParseSlot(s string) (Slot, bool) {
	switch Slot(strings.ToLower(strings.TrimSpace(s))) {
	case Breakfast:
		return Breakfast, true
	case Lunch:
		return Lunch, true
	case Dinner:
		return Dinner, true
	}
	return "", false
}

// Source values recorded on meals.
const (
	SourceLibrary = "library"
	SourceChef    = "chef"
)

// Info is the normalized shape of a meal used for display.
type Info struct {
	Name     string `json:"name" yaml:"name"`
	RecipeID string `json:"recipe_id,omitempty" yaml:"recipe_id,omitempty"`
	Source   string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Ref is a meal reference as persisted in the calendar. Older documents store a
// bare meal name; newer ones store an object. Both decode into Ref and Legacy
// records which shape was read so the value can be written back unchanged.
type Ref struct {
	Info
	Legacy bool `json:"-"`
}

// Named returns a legacy (bare name) reference.
func Named(name string) Ref {
	return Ref{Info: Info{Name: name}, Legacy: true}
}

// Rich returns an object reference.
func Rich(info Info) Ref {
	return Ref{Info: info}
}

// UnmarshalJSON accepts either a JSON string or an object.
func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*r = Named(name)
		return nil
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("meal reference is neither a name nor an object: %w", err)
	}
	*r = Rich(info)
	return nil
}

// MarshalJSON writes the shape the reference was created with.
func (r Ref) MarshalJSON() ([]byte, error) {
	if r.Legacy {
		return json.Marshal(r.Name)
	}
	return json.Marshal(r.Info)
}

// Normalize returns the display shape regardless of the stored shape.
func (r Ref) Normalize() Info {
	return r.Info
}

// Day returns the local midnight of t.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// FormatDate formats t as an ISO date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses an ISO date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
}
