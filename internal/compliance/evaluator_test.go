package compliance

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/fdg312/metabolic-hub/internal/insulin"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/fdg312/metabolic-hub/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clock(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestCheckMealTime_FastingWindowWrapsMidnight(t *testing.T) {
	profile := storage.DefaultProfile("u1") // fasting 14:00 -> 08:00

	tests := []struct {
		name   string
		at     time.Time
		reject bool
	}{
		{"evening inside", clock(20, 0), true},
		{"morning outside", clock(10, 0), false},
		{"start boundary", clock(14, 0), true},
		{"end boundary", clock(8, 0), true},
		{"just after end", clock(8, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckMealTime(profile, tt.at)
			if !tt.reject {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFastingViolation))

			var rejection *RejectionError
			require.ErrorAs(t, err, &rejection)
			assert.Equal(t, []string{RuleFastingWindow}, rejection.Rules())
		})
	}
}

func TestCheckMealTime_UsesProfileTimeZone(t *testing.T) {
	profile := storage.DefaultProfile("u1")
	profile.TimeZone = "Asia/Kolkata" // UTC+05:30

	// 05:00 UTC is 10:30 local, outside the fasting window.
	assert.NoError(t, CheckMealTime(profile, clock(5, 0)))
	// 10:00 UTC is 15:30 local, inside.
	assert.ErrorIs(t, CheckMealTime(profile, clock(10, 0)), ErrFastingViolation)
}

func TestPrecheck_ReportsEveryViolatedRule(t *testing.T) {
	profile := storage.DefaultProfile("u1")
	agg := storage.DailyAggregate{Totals: storage.MacroTotals{CarbsG: 80, HiddenOilTsp: 2.5}}

	err := Precheck(profile, agg, storage.MacroTotals{CarbsG: 20, HiddenOilTsp: 1}, clock(20, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFastingViolation)
	assert.ErrorIs(t, err, ErrCarbCeilingExceeded)
	assert.ErrorIs(t, err, ErrOilLimitExceeded)

	assert.NoError(t, Precheck(profile, agg, storage.MacroTotals{CarbsG: 5}, clock(10, 0)))
}

func TestEvaluateDailyStatus_BonusesAndChecks(t *testing.T) {
	profile := storage.DefaultProfile("u1")
	lunch := clock(12, 0)
	day := Day{
		Aggregate: storage.DailyAggregate{
			Date:   "2026-03-10",
			Totals: storage.MacroTotals{ProteinG: 95, CarbsG: 70, HiddenOilTsp: 2, SugarG: 10},
		},
		Meals: []storage.MealEntry{
			{ConsumedAt: clock(9, 0), FoodGroup: FoodGroupFruit, Macros: storage.MacroTotals{SugarG: 10}},
			{ConsumedAt: lunch, FoodGroup: FoodGroupNut, HealthyFatScore: 5},
		},
	}
	events := []storage.ExerciseEvent{
		{Category: "WALK", PerformedAt: lunch.Add(20 * time.Minute), DurationMinutes: 20},
		{Category: "STRENGTH", PerformedAt: clock(18, 0), DurationMinutes: 40},
	}

	status := EvaluateDailyStatus(day, events, profile)

	assert.Equal(t, 1.0, status.WalkBonus)
	assert.Equal(t, ReductionBonusPerMeal, status.ReductionBonus, "only the lunch has a walk within an hour")
	// 70 + 1 + 8 - 28.5 - 1 - 22.5
	assert.Equal(t, 27.0, status.RawScore)
	assert.Equal(t, 27.0, status.Score)
	assert.Equal(t, insulin.BandGreen, status.Band)
	assert.True(t, status.Compliant)
	assert.Empty(t, status.Checks.Failed())
	assert.Nil(t, status.Dinner)
}

func TestEvaluateDailyStatus_ReductionBonusOncePerMeal(t *testing.T) {
	meal := clock(12, 0)
	day := Day{Meals: []storage.MealEntry{{ConsumedAt: meal}}}
	events := []storage.ExerciseEvent{
		{Category: "WALK", PerformedAt: meal.Add(10 * time.Minute), DurationMinutes: 5},
		{Category: "WALK", PerformedAt: meal.Add(30 * time.Minute), DurationMinutes: 5},
	}
	status := EvaluateDailyStatus(day, events, storage.DefaultProfile("u1"))
	assert.Equal(t, ReductionBonusPerMeal, status.ReductionBonus)
	assert.Equal(t, 0.0, status.WalkBonus, "short walks earn no walk bonus")
}

func TestEvaluateDailyStatus_FailedChecksAndDinner(t *testing.T) {
	profile := storage.DefaultProfile("u1")
	day := Day{Aggregate: storage.DailyAggregate{
		Totals: storage.MacroTotals{ProteinG: 40, CarbsG: 150, HiddenOilTsp: 5},
		Dinner: &storage.DinnerRecord{CarbsG: 40, ProteinG: 5, LoggedAt: clock(21, 0)},
	}}

	status := EvaluateDailyStatus(day, nil, profile)
	assert.False(t, status.Checks.ProteinOK)
	assert.False(t, status.Checks.CarbsOK)
	assert.False(t, status.Checks.OilOK)
	assert.Equal(t, insulin.BandRed, status.Band)
	assert.False(t, status.Compliant)
	assert.Equal(t, []string{"protein", "carbs", "oil"}, status.Checks.Failed())
	require.NotNil(t, status.Dinner)
	assert.True(t, status.Dinner.EveningSpikeRisk)
}

func TestEvaluateHydration(t *testing.T) {
	tests := []struct {
		ml       int
		score    float64
		achieved bool
		message  string
	}{
		{ml: 0, score: 0, message: "Recovery Mode: water intake below pace."},
		{ml: 1199, score: 48, message: "Recovery Mode: water intake below pace."},
		{ml: 1200, score: 48, message: "Discipline Active: keep hydrating toward target."},
		{ml: 1333, score: 53.3, message: "Discipline Active: keep hydrating toward target."},
		{ml: 2500, score: 100, achieved: true, message: "Hydration target achieved."},
		{ml: 4000, score: 100, achieved: true, message: "Hydration target achieved."},
	}
	for _, tt := range tests {
		h := EvaluateHydration(tt.ml)
		assert.InDelta(t, tt.score, h.Score, 1e-9, tt.ml)
		assert.Equal(t, tt.achieved, h.TargetAchieved, tt.ml)
		assert.Equal(t, tt.message, h.Message, tt.ml)
		assert.Equal(t, HydrationTargetMaxMl, h.TargetMaxMl)
	}
}

func TestEvaluateDailyStatus_CarriesHydration(t *testing.T) {
	day := Day{Aggregate: storage.DailyAggregate{Date: "2026-03-10", WaterMl: 1800}}
	status := EvaluateDailyStatus(day, nil, storage.DefaultProfile("u1"))
	assert.Equal(t, 1800, status.Hydration.WaterMl)
	assert.InDelta(t, 72, status.Hydration.Score, 1e-9)
	assert.False(t, status.Hydration.TargetAchieved)
}

func TestRescore_IdempotentOnUnchangedAggregate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewService(store, nil)

	_, _, err := store.AddMeal(ctx, "2026-03-10", storage.MealEntry{
		UserID:     "u1",
		ConsumedAt: clock(12, 0),
		Macros:     storage.MacroTotals{ProteinG: 30, CarbsG: 60, HiddenOilTsp: 1},
	})
	require.NoError(t, err)

	first, rec1, err := svc.Rescore(ctx, "u1", "2026-03-10", "meal", clock(12, 1))
	require.NoError(t, err)
	second, rec2, err := svc.Rescore(ctx, "u1", "2026-03-10", "recheck", clock(12, 2))
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, rec1.Score, rec2.Score)
	assert.NotEqual(t, rec1.ID, rec2.ID, "each call appends a snapshot")

	scores, err := store.ListAggregateScores(ctx, rec1.AggregateID)
	require.NoError(t, err)
	assert.Len(t, scores, 2)
}

func TestRescore_BackdatedStampStaysNewest(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewService(store, nil)

	_, _, err := store.AddMeal(ctx, "2026-03-10", storage.MealEntry{UserID: "u1", ConsumedAt: clock(12, 0), Macros: storage.MacroTotals{CarbsG: 30}})
	require.NoError(t, err)
	_, first, err := svc.Rescore(ctx, "u1", "2026-03-10", "meal", clock(12, 0))
	require.NoError(t, err)

	_, _, err = store.AddMeal(ctx, "2026-03-10", storage.MealEntry{UserID: "u1", ConsumedAt: clock(9, 0), Macros: storage.MacroTotals{CarbsG: 40}})
	require.NoError(t, err)
	status, second, err := svc.Rescore(ctx, "u1", "2026-03-10", "meal", clock(9, 0))
	require.NoError(t, err)

	assert.True(t, second.CalculatedAt.After(first.CalculatedAt))
	latest, ok, err := store.LatestInsulinScore(ctx, second.AggregateID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, status.Score, latest.Score)
	assert.InDelta(t, 70, latest.Score, 1e-9)
}

func TestEnsureProfile_CreatesDefaultsOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	p, err := EnsureProfile(ctx, store, "u1")
	require.NoError(t, err)
	assert.Equal(t, 90.0, p.CarbCeiling)

	p.CarbCeiling = 70
	_, err = store.UpsertProfile(ctx, p)
	require.NoError(t, err)

	again, err := EnsureProfile(ctx, store, "u1")
	require.NoError(t, err)
	assert.Equal(t, 70.0, again.CarbCeiling)
}
