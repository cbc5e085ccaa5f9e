package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fdg312/metabolic-hub/internal/compliance"
	"github.com/fdg312/metabolic-hub/internal/exercise"
	"github.com/fdg312/metabolic-hub/internal/insulin"
	"github.com/fdg312/metabolic-hub/internal/storage"
)

// span is an inclusive range of local calendar days.
type span struct {
	From string
	To   string
}

func (s span) has(date string) bool {
	return date >= s.From && date <= s.To
}

// daysBack returns [today-from, today-to].
func daysBack(today time.Time, from, to int) span {
	return span{
		From: today.AddDate(0, 0, -from).Format(storage.DateLayout),
		To:   today.AddDate(0, 0, -to).Format(storage.DateLayout),
	}
}

// history is everything a scan reads, loaded once per run.
type history struct {
	loc        *time.Location
	profile    storage.MetabolicProfile
	aggregates []storage.DailyAggregate
	scores     []storage.InsulinScoreRecord
	meals      []storage.MealEntry
	exercises  []storage.ExerciseEvent
	vitals     []storage.VitalsSnapshot
	habits     []storage.HabitCheckin
}

func loadHistory(ctx context.Context, store Store, profile storage.MetabolicProfile, window span) (*history, error) {
	loc := profile.Location()
	from, _, err := compliance.DayBounds(window.From, loc)
	if err != nil {
		return nil, err
	}
	_, to, err := compliance.DayBounds(window.To, loc)
	if err != nil {
		return nil, err
	}
	userID := profile.UserID

	h := &history{loc: loc, profile: profile}
	if h.aggregates, err = store.ListDailyAggregates(ctx, userID, window.From, window.To); err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	if h.scores, err = store.ListInsulinScores(ctx, userID, window.From, window.To); err != nil {
		return nil, fmt.Errorf("list insulin scores: %w", err)
	}
	if h.meals, err = store.ListMeals(ctx, userID, from, to); err != nil {
		return nil, fmt.Errorf("list meals: %w", err)
	}
	if h.exercises, err = store.ListExerciseEvents(ctx, userID, from, to); err != nil {
		return nil, fmt.Errorf("list exercise: %w", err)
	}
	if h.vitals, err = store.ListVitals(ctx, userID, from, to); err != nil {
		return nil, fmt.Errorf("list vitals: %w", err)
	}
	if h.habits, err = store.ListHabitCheckins(ctx, userID, window.From, window.To); err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	return h, nil
}

func (h *history) localDate(t time.Time) string {
	return compliance.LocalDate(t, h.loc)
}

type dayScore struct {
	Day   string  `json:"day"`
	Score float64 `json:"score"`
}

// currentScores returns the latest snapshot per day, ordered by day.
func (h *history) currentScores(sp span) []dayScore {
	latest := make(map[string]storage.InsulinScoreRecord)
	for _, r := range h.scores {
		if !sp.has(r.Date) {
			continue
		}
		if cur, ok := latest[r.Date]; !ok || !r.CalculatedAt.Before(cur.CalculatedAt) {
			latest[r.Date] = r
		}
	}
	out := make([]dayScore, 0, len(latest))
	for day, r := range latest {
		out = append(out, dayScore{Day: day, Score: r.Score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

func (h *history) meanScore(sp span) *float64 {
	days := h.currentScores(sp)
	if len(days) == 0 {
		return nil
	}
	sum := 0.0
	for _, d := range days {
		sum += d.Score
	}
	return round2Ptr(sum / float64(len(days)))
}

type dayProtein struct {
	Day      string  `json:"day"`
	ProteinG float64 `json:"protein_g"`
}

func (h *history) protein(sp span) []dayProtein {
	out := make([]dayProtein, 0, 3)
	for _, a := range h.aggregates {
		if sp.has(a.Date) {
			out = append(out, dayProtein{Day: a.Date, ProteinG: insulin.Round2(a.Totals.ProteinG)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

func (h *history) avgVital(sp span, pick func(storage.VitalsSnapshot) *float64) *float64 {
	sum, n := 0.0, 0
	for _, v := range h.vitals {
		p := pick(v)
		if p == nil || !sp.has(h.localDate(v.RecordedAt)) {
			continue
		}
		sum += *p
		n++
	}
	if n == 0 {
		return nil
	}
	return round2Ptr(sum / float64(n))
}

func waist(v storage.VitalsSnapshot) *float64     { return v.WaistCm }
func hdl(v storage.VitalsSnapshot) *float64       { return v.HDL }
func restingHR(v storage.VitalsSnapshot) *float64 { return v.RestingHR }
func sleep(v storage.VitalsSnapshot) *float64     { return v.SleepHours }

func (h *history) exercisesIn(sp span) []storage.ExerciseEvent {
	out := make([]storage.ExerciseEvent, 0)
	for _, ev := range h.exercises {
		if sp.has(h.localDate(ev.PerformedAt)) {
			out = append(out, ev)
		}
	}
	return out
}

func (h *history) mealsIn(sp span) []storage.MealEntry {
	out := make([]storage.MealEntry, 0)
	for _, m := range h.meals {
		if sp.has(h.localDate(m.ConsumedAt)) {
			out = append(out, m)
		}
	}
	return out
}

func (h *history) strengthIndex(sp span) float64 {
	return exercise.StrengthIndex(h.exercisesIn(sp)).Index
}

func (h *history) strengthSessions(sp span) int {
	return exercise.StrengthSessions(h.exercisesIn(sp))
}

func (h *history) groupDays(sp span, group string) map[string]bool {
	days := make(map[string]bool)
	for _, m := range h.mealsIn(sp) {
		if m.FoodGroup == group {
			days[h.localDate(m.ConsumedAt)] = true
		}
	}
	return days
}

func (h *history) fruitDays(sp span) int {
	return len(h.groupDays(sp, compliance.FoodGroupFruit))
}

// hdlSupportDays counts days with both a nut meal and a strength session.
func (h *history) hdlSupportDays(sp span) int {
	nuts := h.groupDays(sp, compliance.FoodGroupNut)
	both := make(map[string]bool)
	for _, ev := range h.exercisesIn(sp) {
		if !exercise.IsStrength(exercise.Category(ev.Category)) {
			continue
		}
		if d := h.localDate(ev.PerformedAt); nuts[d] {
			both[d] = true
		}
	}
	return len(both)
}

func (h *history) avgOil(sp span) *float64 {
	sum, n := 0.0, 0
	for _, a := range h.aggregates {
		if sp.has(a.Date) {
			sum += a.Totals.HiddenOilTsp
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return round2Ptr(sum / float64(n))
}

// restaurantMeals counts photo-logged meals recognized with confidence ≥ 0.6.
func (h *history) restaurantMeals(sp span) int {
	n := 0
	for _, m := range h.mealsIn(sp) {
		if m.Source == "photo" && m.PhotoConfidence != nil && *m.PhotoConfidence >= 0.6 {
			n++
		}
	}
	return n
}

// fastingViolations counts meals consumed inside the fasting window,
// including imported meals that were flagged.
func (h *history) fastingViolations(sp span) (violations, meals int) {
	for _, m := range h.mealsIn(sp) {
		meals++
		if m.FastingViolation || compliance.InFastingWindow(h.profile, m.ConsumedAt) {
			violations++
		}
	}
	return violations, meals
}

func (h *history) fastingCompliance(sp span) float64 {
	violations, meals := h.fastingViolations(sp)
	if meals == 0 {
		return 0
	}
	return insulin.Round2(math.Max(0, 1-float64(violations)/float64(meals)))
}

var hydrationHabits = map[string]bool{"hydration": true, "water_goal": true}

func (h *history) hydrationCompliance(sp span) float64 {
	return h.habitRatio(sp, func(code string) bool { return hydrationHabits[code] })
}

func (h *history) habitCompliance(sp span) float64 {
	return h.habitRatio(sp, func(string) bool { return true })
}

func (h *history) habitRatio(sp span, match func(code string) bool) float64 {
	total, ok := 0, 0
	for _, c := range h.habits {
		if !sp.has(c.Date) || !match(c.Code) {
			continue
		}
		total++
		if c.Success {
			ok++
		}
	}
	if total == 0 {
		return 0
	}
	return insulin.Round2(float64(ok) / float64(total))
}

func round2Ptr(v float64) *float64 {
	r := insulin.Round2(v)
	return &r
}
