package tracking

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fdg312/metabolic-hub/internal/compliance"
	"github.com/fdg312/metabolic-hub/internal/storage"
)

// ChallengeType is how hard a habit is asked of the user.
type ChallengeType string

const (
	ChallengeStrict  ChallengeType = "STRICT"
	ChallengeMicro   ChallengeType = "MICRO"
	ChallengeSupport ChallengeType = "SUPPORT"

	DefaultHabitDays = 90

	challengeStepFailures = 3
)

// NextChallenge eases the challenge one step once a habit has three or more
// failures. SUPPORT is the floor.
func NextChallenge(current ChallengeType, failures int) ChallengeType {
	if failures < challengeStepFailures {
		return current
	}
	switch current {
	case ChallengeStrict:
		return ChallengeMicro
	default:
		return ChallengeSupport
	}
}

type HabitStats struct {
	Code                 string        `json:"code"`
	ChallengeType        ChallengeType `json:"challenge_type"`
	RecommendedChallenge ChallengeType `json:"recommended_challenge_type"`
	CurrentStreak        int           `json:"current_streak"`
	LongestStreak        int           `json:"longest_streak"`
	SuccessRate          float64       `json:"success_rate"`
	Failures             int           `json:"failures"`
}

type HabitSummary struct {
	From               string       `json:"from"`
	To                 string       `json:"to"`
	Habits             []HabitStats `json:"habits"`
	OverallSuccessRate float64      `json:"overall_success_rate"`
	Insights           []string     `json:"insights"`
}

// SummarizeHabits reports streaks and success rates per habit code over the
// last days local days ending at now. Every habit starts at STRICT.
func (s *Service) SummarizeHabits(ctx context.Context, userID string, now time.Time, days int) (HabitSummary, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return HabitSummary{}, err
	}
	if days <= 0 {
		days = DefaultHabitDays
	}
	profile, err := compliance.EnsureProfile(ctx, s.store, userID)
	if err != nil {
		return HabitSummary{}, err
	}
	end := now.In(profile.Location())
	summary := HabitSummary{
		From: end.AddDate(0, 0, -(days - 1)).Format(storage.DateLayout),
		To:   end.Format(storage.DateLayout),
	}

	checkins, err := s.store.ListHabitCheckins(ctx, userID, summary.From, summary.To)
	if err != nil {
		return HabitSummary{}, fmt.Errorf("list habit checkins: %w", err)
	}
	sort.SliceStable(checkins, func(i, j int) bool { return checkins[i].Date < checkins[j].Date })

	outcomes := make(map[string][]bool)
	var codes []string
	failuresByDay := make(map[time.Weekday]int)
	successes := 0
	for _, c := range checkins {
		if _, ok := outcomes[c.Code]; !ok {
			codes = append(codes, c.Code)
		}
		outcomes[c.Code] = append(outcomes[c.Code], c.Success)
		if c.Success {
			successes++
			continue
		}
		if d, err := time.Parse(storage.DateLayout, c.Date); err == nil {
			failuresByDay[d.Weekday()]++
		}
	}
	sort.Strings(codes)

	var adjusted []string
	for _, code := range codes {
		stats := habitStats(code, outcomes[code])
		if stats.RecommendedChallenge != stats.ChallengeType {
			adjusted = append(adjusted, code)
		}
		summary.Habits = append(summary.Habits, stats)
	}
	if len(checkins) > 0 {
		summary.OverallSuccessRate = round3(float64(successes) / float64(len(checkins)))
	}

	if day, ok := worstWeekday(failuresByDay); ok {
		summary.Insights = append(summary.Insights, fmt.Sprintf("Carb spike tends to occur on %ss.", day))
	}
	if len(adjusted) > 0 {
		summary.Insights = append(summary.Insights,
			"Repeated misses detected. Challenge intensity adjusted for: "+strings.Join(adjusted, ", ")+".")
	}
	return summary, nil
}

func habitStats(code string, outcomes []bool) HabitStats {
	stats := HabitStats{Code: code, ChallengeType: ChallengeStrict}
	run := 0
	for _, ok := range outcomes {
		if !ok {
			stats.Failures++
			run = 0
			continue
		}
		run++
		stats.LongestStreak = max(stats.LongestStreak, run)
	}
	stats.CurrentStreak = run
	if n := len(outcomes); n > 0 {
		stats.SuccessRate = round3(float64(n-stats.Failures) / float64(n))
	}
	stats.RecommendedChallenge = NextChallenge(stats.ChallengeType, stats.Failures)
	return stats
}

// worstWeekday picks the weekday with the most failures, Monday first on ties.
func worstWeekday(failures map[time.Weekday]int) (time.Weekday, bool) {
	best, top := time.Monday, 0
	for i := 0; i < 7; i++ {
		d := time.Weekday((int(time.Monday) + i) % 7)
		if failures[d] > top {
			best, top = d, failures[d]
		}
	}
	return best, top > 0
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
