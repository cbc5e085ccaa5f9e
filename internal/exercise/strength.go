package exercise

import (
	"strings"

	"github.com/fdg312/metabolic-hub/internal/insulin"
	"github.com/fdg312/metabolic-hub/internal/storage"
)

const (
	pushupWeight   = 0.25
	pullupWeight   = 2.0
	deadHangWeight = 0.08
	squatWeight    = 0.2
)

type StrengthBreakdown struct {
	Pushups         int     `json:"pushups"`
	Pullups         int     `json:"pullups"`
	DeadHangSeconds int     `json:"dead_hang_seconds"`
	Squats          int     `json:"squats"`
	Index           float64 `json:"strength_index"`
}

// StrengthIndex is a weighted sum of pushup reps, pull-ups, dead-hang
// seconds and squat reps. Reps count reps×sets with sets defaulting to 1.
func StrengthIndex(events []storage.ExerciseEvent) StrengthBreakdown {
	var b StrengthBreakdown
	for _, ev := range events {
		switch ev.MovementType {
		case "pushups":
			b.Pushups += repsTotal(ev)
		case "squats":
			b.Squats += repsTotal(ev)
		}
		b.Pullups += ev.PullUps
		b.DeadHangSeconds += ev.DeadHangSeconds
	}
	b.Index = insulin.Round2(float64(b.Pushups)*pushupWeight +
		float64(b.Pullups)*pullupWeight +
		float64(b.DeadHangSeconds)*deadHangWeight +
		float64(b.Squats)*squatWeight)
	return b
}

// StrengthSessions counts events in strength categories.
func StrengthSessions(events []storage.ExerciseEvent) int {
	n := 0
	for _, ev := range events {
		if IsStrength(Category(ev.Category)) {
			n++
		}
	}
	return n
}

func repsTotal(ev storage.ExerciseEvent) int {
	sets := ev.Sets
	if sets <= 0 {
		sets = 1
	}
	return ev.Reps * sets
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
