package calendar

import (
	"context"
	"testing"

	"ai-meal-calendar/internal/meal"
	"ai-meal-calendar/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, storage.Store) {
	t.Helper()
	docs, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewStore(docs), docs
}

func TestOverlayUpdate_KeepsOtherSlots(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	require.NoError(t, s.OverlayUpdate(ctx, "u", Calendar{"2025-01-10": {meal.Breakfast: meal.Named("Eggs")}}))
	require.NoError(t, s.OverlayUpdate(ctx, "u", Calendar{"2025-01-10": {meal.Lunch: meal.Named("Salad")}}))

	cal := s.Load(ctx, "u")
	assert.Equal(t, Calendar{"2025-01-10": {
		meal.Breakfast: meal.Named("Eggs"),
		meal.Lunch:     meal.Named("Salad"),
	}}, cal)
}

func TestOverlayUpdate_ReplacesPresentSlots(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	require.NoError(t, s.OverlayUpdate(ctx, "u", Calendar{
		"2025-01-10": {meal.Dinner: meal.Named("Soup")},
		"2025-01-11": {meal.Dinner: meal.Named("Stew")},
	}))
	require.NoError(t, s.OverlayUpdate(ctx, "u", Calendar{
		"2025-01-10": {meal.Dinner: meal.Named("Curry")},
		"2025-01-12": {},
	}))

	cal := s.Load(ctx, "u")
	assert.Equal(t, "Curry", cal["2025-01-10"][meal.Dinner].Name)
	assert.Equal(t, "Stew", cal["2025-01-11"][meal.Dinner].Name)
	assert.NotContains(t, cal, "2025-01-12")
}

func TestRemoveSlot_PrunesEmptyDay(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	require.NoError(t, s.OverlayUpdate(ctx, "u", Calendar{"2025-01-10": {
		meal.Breakfast: meal.Named("Eggs"),
		meal.Dinner:    meal.Named("Soup"),
	}}))

	require.NoError(t, s.RemoveSlot(ctx, "u", "2025-01-10", meal.Breakfast))
	assert.Equal(t, Calendar{"2025-01-10": {meal.Dinner: meal.Named("Soup")}}, s.Load(ctx, "u"))

	require.NoError(t, s.RemoveSlot(ctx, "u", "2025-01-10", meal.Dinner))
	assert.Empty(t, s.Load(ctx, "u"))

	// Unknown date and slot are no-ops.
	require.NoError(t, s.RemoveSlot(ctx, "u", "2030-01-01", meal.Lunch))
}

func TestLoad_DegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	s, docs := newStore(t)

	assert.Empty(t, s.Load(ctx, "nobody"))

	require.NoError(t, docs.Put(ctx, "u", storage.Calendar, []byte("not json")))
	assert.Empty(t, s.Load(ctx, "u"))

	require.NoError(t, docs.Put(ctx, "u", storage.Calendar, []byte(`{"2025-01-10": {}, "2025-01-11": {"lunch": "Wrap"}}`)))
	assert.Equal(t, []string{"2025-01-11"}, s.Load(ctx, "u").Dates())
}

func TestLoad_ReadsRichAndLegacyShapes(t *testing.T) {
	ctx := context.Background()
	s, docs := newStore(t)

	require.NoError(t, docs.Put(ctx, "u", storage.Calendar, []byte(`{
		"2025-01-10": {"lunch": "Wrap", "dinner": {"name": "Pho", "recipe_id": "r9", "source": "library"}}
	}`)))

	day := s.Load(ctx, "u")["2025-01-10"]
	assert.Equal(t, meal.Info{Name: "Wrap"}, day[meal.Lunch].Normalize())
	assert.Equal(t, meal.Info{Name: "Pho", RecipeID: "r9", Source: meal.SourceLibrary}, day[meal.Dinner].Normalize())
}

func TestActivePlanExists(t *testing.T) {
	ctx := context.Background()
	s, docs := newStore(t)

	assert.False(t, s.ActivePlanExists(ctx, "u"))
	require.NoError(t, docs.Put(ctx, "u", storage.ActivePlan, []byte(`{}`)))
	assert.True(t, s.ActivePlanExists(ctx, "u"))
}
