package agent

import (
	"fmt"
	"time"

	"github.com/fdg312/metabolic-hub/internal/storage"
)

const (
	highInsulinScore = 70.0
	lowProteinG      = 80.0
	lowProteinDays   = 2
)

func dailyWindow(today time.Time) span { return daysBack(today, 2, 0) }

func dailyScan(h *history, state storage.AgentState, today time.Time) ([]draft, storage.AgentState) {
	window := dailyWindow(today)
	var drafts []draft

	scores := h.currentScores(window)
	high := make([]string, 0, len(scores))
	for _, s := range scores {
		if s.Score > highInsulinScore {
			high = append(high, s.Day)
		}
	}
	if hasConsecutiveDays(high) {
		drafts = append(drafts, draft{
			kind:       TypeDailyCarbReduction,
			title:      "Reduce carbs tomorrow",
			summary:    "Insulin load was above 70 on two consecutive days. Reduce carb intake tomorrow.",
			confidence: 0.84,
			data:       map[string]any{"insulin_load_last_3_days": scores},
			threshold:  "Insulin load > 70 for two consecutive days.",
			historical: fmt.Sprintf("High-insulin days in last 3-day window: %d (consecutive rule satisfied).", len(high)),
		})
	}

	protein := h.protein(window)
	low := 0
	for _, p := range protein {
		if p.ProteinG < lowProteinG {
			low++
		}
	}
	if low >= lowProteinDays {
		drafts = append(drafts, draft{
			kind:       TypeDailyProteinSupport,
			title:      "Add protein source tomorrow",
			summary:    "Protein intake was below 80g on two recent days. Add a protein source such as whey tomorrow.",
			confidence: 0.87,
			data:       map[string]any{"protein_last_3_days": protein},
			threshold:  "Protein intake < 80g for two days.",
			historical: fmt.Sprintf("Days below 80g protein in last 3-day window: %d.", low),
		})
	}

	violations, _ := h.fastingViolations(window)
	state.Notes = fmt.Sprintf("Daily scan %s: fasting_violations=%d, hydration_compliance=%g, strength_sessions=%d",
		window.To, violations, h.hydrationCompliance(window), h.strengthSessions(window))
	return drafts, state
}

// hasConsecutiveDays reports whether two of the sorted dates are adjacent
// calendar days.
func hasConsecutiveDays(days []string) bool {
	for i := 1; i < len(days); i++ {
		prev, err1 := time.Parse(storage.DateLayout, days[i-1])
		cur, err2 := time.Parse(storage.DateLayout, days[i])
		if err1 != nil || err2 != nil {
			continue
		}
		if prev.AddDate(0, 0, 1).Equal(cur) {
			return true
		}
	}
	return false
}
