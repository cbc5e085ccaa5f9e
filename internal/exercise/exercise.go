// Package exercise classifies activities and derives walk and strength
// signals from exercise events.
package exercise

import (
	"strings"
	"time"

	"github.com/fdg312/metabolic-hub/internal/storage"
)

type Category string

const (
	CategoryWalk       Category = "WALK"
	CategoryBodyweight Category = "BODYWEIGHT"
	CategoryMonkeyBar  Category = "MONKEY_BAR"
	CategoryStrength   Category = "STRENGTH"
	CategoryOther      Category = "OTHER"
)

const (
	// MinWalkMinutes is the shortest session that earns a walk bonus.
	MinWalkMinutes = 15
	// PostMealWindow bounds how long after a meal a walk still counts.
	PostMealWindow = time.Hour
)

var (
	monkeyBarTokens  = []string{"pull", "hang", "grip", "monkey"}
	bodyweightTokens = []string{"push", "squat", "bodyweight", "plank", "lunge"}
	strengthTokens   = []string{"strength", "deadlift", "bench", "press", "row", "kettlebell", "dumbbell", "barbell"}
)

// Classify infers a category from free activity text. Text with no known
// token is STRENGTH when rep-based (sets or reps given) and OTHER otherwise.
func Classify(activityType, movementType string, repBased bool) Category {
	normalized := strings.ToLower(activityType + " " + movementType)
	if strings.Contains(normalized, "walk") {
		return CategoryWalk
	}
	if containsAny(normalized, monkeyBarTokens) {
		return CategoryMonkeyBar
	}
	if containsAny(normalized, bodyweightTokens) {
		return CategoryBodyweight
	}
	if containsAny(normalized, strengthTokens) || repBased {
		return CategoryStrength
	}
	return CategoryOther
}

// ParseCategory normalizes a stored or client-supplied category.
func ParseCategory(v string) (Category, bool) {
	switch c := Category(strings.ToUpper(strings.TrimSpace(v))); c {
	case CategoryWalk, CategoryBodyweight, CategoryMonkeyBar, CategoryStrength, CategoryOther:
		return c, true
	default:
		return "", false
	}
}

// IsStrength reports whether the category counts as a strength session.
func IsStrength(c Category) bool {
	return c == CategoryStrength || c == CategoryBodyweight || c == CategoryMonkeyBar
}

// IsWalk reports whether an event counts as a walk for post-meal purposes.
func IsWalk(ev storage.ExerciseEvent) bool {
	return ev.PostMealWalk || Category(ev.Category) == CategoryWalk
}

// WalkBonus counts walk sessions of at least MinWalkMinutes.
func WalkBonus(events []storage.ExerciseEvent) float64 {
	bonus := 0.0
	for _, ev := range events {
		if IsWalk(ev) && ev.DurationMinutes >= MinWalkMinutes {
			bonus++
		}
	}
	return bonus
}

// WalkAfter reports whether a walk started within PostMealWindow after at.
func WalkAfter(events []storage.ExerciseEvent, at time.Time) bool {
	limit := at.Add(PostMealWindow)
	for _, ev := range events {
		if !IsWalk(ev) {
			continue
		}
		if !ev.PerformedAt.Before(at) && !ev.PerformedAt.After(limit) {
			return true
		}
	}
	return false
}
