package exercise

import (
	"testing"
	"time"

	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		activity string
		movement string
		repBased bool
		want     Category
	}{
		{"Evening walk", "", false, CategoryWalk},
		{"workout", "post_meal_walk", false, CategoryWalk},
		{"monkey bars", "dead_hang", false, CategoryMonkeyBar},
		{"gym", "pullups", true, CategoryMonkeyBar},
		{"home", "pushups", true, CategoryBodyweight},
		{"Squat session", "", false, CategoryBodyweight},
		{"gym", "deadlift", false, CategoryStrength},
		{"circuit", "", true, CategoryStrength},
		{"yoga", "", false, CategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.activity+"/"+tt.movement, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.activity, tt.movement, tt.repBased))
		})
	}
}

func TestParseCategory(t *testing.T) {
	c, ok := ParseCategory(" walk ")
	assert.True(t, ok)
	assert.Equal(t, CategoryWalk, c)

	_, ok = ParseCategory("swimming")
	assert.False(t, ok)
}

func TestWalkBonus_CountsLongWalksOnly(t *testing.T) {
	events := []storage.ExerciseEvent{
		{Category: string(CategoryWalk), DurationMinutes: 20},
		{Category: string(CategoryStrength), DurationMinutes: 30, PostMealWalk: true},
		{Category: string(CategoryWalk), DurationMinutes: 14},
		{Category: string(CategoryBodyweight), DurationMinutes: 45},
	}
	assert.Equal(t, 2.0, WalkBonus(events))
}

func TestWalkAfter_WindowBounds(t *testing.T) {
	meal := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	walk := func(offset time.Duration) []storage.ExerciseEvent {
		return []storage.ExerciseEvent{{Category: string(CategoryWalk), PerformedAt: meal.Add(offset), DurationMinutes: 10}}
	}

	assert.True(t, WalkAfter(walk(0), meal))
	assert.True(t, WalkAfter(walk(time.Hour), meal))
	assert.False(t, WalkAfter(walk(61*time.Minute), meal))
	assert.False(t, WalkAfter(walk(-time.Minute), meal))
}

func TestStrengthIndex(t *testing.T) {
	events := []storage.ExerciseEvent{
		{MovementType: "pushups", Reps: 10, Sets: 3},
		{MovementType: "squats", Reps: 20},
		{MovementType: "pullups", PullUps: 5},
		{MovementType: "dead_hang", DeadHangSeconds: 50},
	}
	got := StrengthIndex(events)
	assert.Equal(t, 30, got.Pushups)
	assert.Equal(t, 20, got.Squats)
	// 30*0.25 + 5*2 + 50*0.08 + 20*0.2
	assert.Equal(t, 25.5, got.Index)
}
