package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/fdg312/metabolic-hub/internal/ai"
	"github.com/fdg312/metabolic-hub/internal/compliance"
	"github.com/fdg312/metabolic-hub/internal/insulin"
	"github.com/fdg312/metabolic-hub/internal/movement"
	"github.com/fdg312/metabolic-hub/internal/notify"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/fdg312/metabolic-hub/internal/storage/memory"
	"github.com/fdg312/metabolic-hub/internal/userlock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *memory.MemoryStorage) {
	t.Helper()
	store := memory.New()
	locks := userlock.New()
	dispatcher := notify.NewDispatcher(store, notify.Defaults{MaxPerDay: 3, ReminderDelayMinutes: 45}, nil)
	dispatcher.Register(notify.ChannelPush, notify.NewLocalSender(nil))
	engine := movement.NewEngine(store, locks, dispatcher, movement.Options{}, nil)
	estimator := ai.NewGuardedEstimator(nil, ai.NewCatalogEstimator(store), ai.GuardOptions{}, nil)
	svc := NewService(store, locks, compliance.NewService(store, nil), estimator, engine, nil).
		WithClock(func() time.Time { return at(23, 30) })
	return svc, store
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func macros(protein, carbs float64) *storage.MacroTotals {
	return &storage.MacroTotals{ProteinG: protein, CarbsG: carbs}
}

func TestLogMeal_EstimatesFromTextAndRescores(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.LogMeal(ctx, MealRequest{UserID: " u1 ", ConsumedAt: at(10, 0), Text: "2 chapatis with dal"})
	require.NoError(t, err)
	require.NotNil(t, res.Estimate)
	assert.Equal(t, ai.SourceFallback, res.Meal.Source)
	assert.InDelta(t, 56, res.Aggregate.Totals.CarbsG, 1e-9)
	assert.Equal(t, "meal_logged", res.Score.Reason)

	latest, ok, err := store.LatestInsulinScore(ctx, res.Aggregate.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Score.ID, latest.ID)
}

func TestLogMeal_RejectsFastingWindow(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.LogMeal(ctx, MealRequest{UserID: "u1", ConsumedAt: at(20, 0), Macros: macros(20, 10)})
	require.ErrorIs(t, err, compliance.ErrFastingViolation)

	_, ok, err := store.GetDailyAggregate(ctx, "u1", "2026-03-10")
	require.NoError(t, err)
	assert.False(t, ok, "rejected meal must not create the day")
}

func TestLogMeal_InvalidRequests(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []MealRequest{
		{UserID: "", ConsumedAt: at(10, 0), Macros: macros(1, 1)},
		{UserID: "u1", Macros: macros(1, 1)},
		{UserID: "u1", ConsumedAt: at(10, 0)},
		{UserID: "u1", ConsumedAt: at(10, 0), Macros: macros(-1, 1)},
		{UserID: "u1", ConsumedAt: at(10, 0), Macros: macros(1, 1), FoodGroup: "candy"},
	}
	for i, req := range cases {
		_, err := svc.LogMeal(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidRequest, "case %d", i)
	}
}

func TestImportMeal_FlagsFastingViolation(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.ImportMeal(context.Background(), MealRequest{UserID: "u1", ConsumedAt: at(21, 0), Macros: macros(10, 30)})
	require.NoError(t, err)
	assert.True(t, res.Meal.FastingViolation)
	assert.Equal(t, "import", res.Meal.Source)

	ok, err := svc.ImportMeal(context.Background(), MealRequest{UserID: "u1", ConsumedAt: at(9, 0), Macros: macros(10, 30)})
	require.NoError(t, err)
	assert.False(t, ok.Meal.FastingViolation)
}

func TestLogExercise_WalkLowersScore(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	meal, err := svc.LogMeal(ctx, MealRequest{UserID: "u1", ConsumedAt: at(10, 0), Macros: macros(10, 80)})
	require.NoError(t, err)

	ev, status, err := svc.LogExercise(ctx, ExerciseRequest{
		UserID:          "u1",
		PerformedAt:     at(10, 20),
		ActivityType:    "brisk walk",
		DurationMinutes: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, "WALK", ev.Category)
	assert.Less(t, status.Score, meal.Status.Score)
}

func TestLatestSnapshot_FollowsBackfilledMealsAndWalks(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	latestScore := func(aggregateID uuid.UUID) float64 {
		t.Helper()
		rec, ok, err := store.LatestInsulinScore(ctx, aggregateID)
		require.NoError(t, err)
		require.True(t, ok)
		return rec.Score
	}

	first, err := svc.LogMeal(ctx, MealRequest{UserID: "u1", ConsumedAt: at(12, 0), LoggedAt: at(12, 0), Macros: macros(0, 30)})
	require.NoError(t, err)
	assert.InDelta(t, 30, latestScore(first.Aggregate.ID), 1e-9)

	backfill, err := svc.LogMeal(ctx, MealRequest{UserID: "u1", ConsumedAt: at(9, 0), LoggedAt: at(12, 5), Macros: macros(0, 40)})
	require.NoError(t, err)
	assert.Equal(t, at(9, 0), backfill.Meal.ConsumedAt)
	assert.Equal(t, at(12, 5), backfill.Score.CalculatedAt)
	assert.InDelta(t, 70, backfill.Status.Score, 1e-9)
	assert.InDelta(t, backfill.Status.Score, latestScore(backfill.Aggregate.ID), 1e-9)

	ev, status, err := svc.LogExercise(ctx, ExerciseRequest{
		UserID:          "u1",
		PerformedAt:     at(11, 0),
		LoggedAt:        at(12, 10),
		ActivityType:    "walk",
		DurationMinutes: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, at(11, 0), ev.PerformedAt)
	assert.InDelta(t, 60, status.Score, 1e-9)
	assert.InDelta(t, status.Score, latestScore(backfill.Aggregate.ID), 1e-9)
}

func TestLogExercise_WithoutLoggedAtUsesClock(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	meal, err := svc.LogMeal(ctx, MealRequest{UserID: "u1", ConsumedAt: at(10, 0), Macros: macros(0, 50)})
	require.NoError(t, err)
	assert.Equal(t, at(23, 30), meal.Score.CalculatedAt)

	_, status, err := svc.LogExercise(ctx, ExerciseRequest{UserID: "u1", PerformedAt: at(9, 0), ActivityType: "walk", DurationMinutes: 30})
	require.NoError(t, err)

	latest, ok, err := store.LatestInsulinScore(ctx, meal.Aggregate.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, latest.CalculatedAt.After(meal.Score.CalculatedAt))
	assert.Equal(t, status.Score, latest.Score)
}

func TestLogExercise_ExplicitCategoryValidated(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.LogExercise(context.Background(), ExerciseRequest{UserID: "u1", PerformedAt: at(9, 0), Category: "yoga"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	ev, _, err := svc.LogExercise(context.Background(), ExerciseRequest{UserID: "u1", PerformedAt: at(9, 0), ActivityType: "sets", Reps: 10, Sets: 3})
	require.NoError(t, err)
	assert.Equal(t, "STRENGTH", ev.Category)
}

func TestLogMeal_ProteinDinnerMode(t *testing.T) {
	svc, _ := newTestService(t)
	res, err := svc.LogMeal(context.Background(), MealRequest{
		UserID:     "u1",
		ConsumedAt: at(13, 0),
		Macros:     macros(35, 3),
		IsDinner:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, insulin.DinnerModeProteinOnly, res.Meal.DinnerMode)
	require.NotNil(t, res.Status.Dinner)
	assert.True(t, res.Status.Dinner.ProteinOnly)
}

func TestCorrectDay_FloorsAtZeroAndRescores(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.LogMeal(ctx, MealRequest{UserID: "u1", ConsumedAt: at(10, 0), Macros: macros(10, 40)})
	require.NoError(t, err)

	agg, status, err := svc.CorrectDay(ctx, "u1", "2026-03-10", storage.MacroTotals{CarbsG: 100}, at(11, 0))
	require.NoError(t, err)
	assert.Zero(t, agg.Totals.CarbsG)
	assert.Equal(t, 10.0, agg.Totals.ProteinG)
	assert.Zero(t, status.Score)

	_, _, err = svc.CorrectDay(ctx, "u1", "2026-03-10", storage.MacroTotals{CarbsG: -1}, at(11, 0))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAnalyzeMeal_ReportsEveryViolation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.LogMeal(ctx, MealRequest{UserID: "u1", ConsumedAt: at(9, 0), Macros: macros(10, 70)})
	require.NoError(t, err)

	_, err = svc.AnalyzeMeal(ctx, MealRequest{UserID: "u1", ConsumedAt: at(15, 0), Macros: macros(5, 40)})
	var rejection *compliance.RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.ElementsMatch(t, []string{compliance.RuleFastingWindow, compliance.RuleCarbCeiling}, rejection.Rules())
}

func TestLogWaterAndHabit(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	agg, err := svc.LogWater(ctx, "u1", 500, at(9, 0))
	require.NoError(t, err)
	assert.Equal(t, 500, agg.WaterMl)
	_, err = svc.LogWater(ctx, "u1", 0, at(9, 0))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	require.NoError(t, svc.LogHabit(ctx, storage.HabitCheckin{UserID: "u1", Date: "2026-03-10", Code: " Hydration ", Success: true}))
	checkins, err := store.ListHabitCheckins(ctx, "u1", "2026-03-10", "2026-03-10")
	require.NoError(t, err)
	require.Len(t, checkins, 1)
	assert.Equal(t, "hydration", checkins[0].Code)

	assert.ErrorIs(t, svc.LogHabit(ctx, storage.HabitCheckin{UserID: "u1", Date: "10/03/2026", Code: "x"}), ErrInvalidRequest)
}

func TestSyncSteps_DelegatesToEngine(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.SyncSteps(ctx, "u1", 100, at(9, 0))
	require.NoError(t, err)
	res, err := svc.SyncSteps(ctx, "u1", 2000, at(9, 30))
	require.NoError(t, err)
	assert.True(t, res.BonusApplied)

	_, err = svc.SyncSteps(ctx, "u1", -5, at(9, 45))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSummarizeHabits_StreaksAndChallenge(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seed := map[string]map[string]bool{
		"walk":     {"2026-03-02": true, "2026-03-03": true, "2026-03-04": true, "2026-03-05": false, "2026-03-10": true},
		"no_sugar": {"2026-03-03": false, "2026-03-06": false, "2026-03-09": true, "2026-03-10": false, "2026-02-20": false},
	}
	for code, days := range seed {
		for date, ok := range days {
			require.NoError(t, store.UpsertHabitCheckin(ctx, storage.HabitCheckin{UserID: "u1", Date: date, Code: code, Success: ok}))
		}
	}

	summary, err := svc.SummarizeHabits(ctx, "u1", at(9, 0), 10)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", summary.From)
	assert.Equal(t, "2026-03-10", summary.To)
	require.Len(t, summary.Habits, 2)

	noSugar, walk := summary.Habits[0], summary.Habits[1]
	assert.Equal(t, HabitStats{
		Code: "no_sugar", ChallengeType: ChallengeStrict, RecommendedChallenge: ChallengeMicro,
		CurrentStreak: 0, LongestStreak: 1, SuccessRate: 0.25, Failures: 3,
	}, noSugar)
	assert.Equal(t, HabitStats{
		Code: "walk", ChallengeType: ChallengeStrict, RecommendedChallenge: ChallengeStrict,
		CurrentStreak: 1, LongestStreak: 3, SuccessRate: 0.8, Failures: 1,
	}, walk)
	assert.InDelta(t, 0.556, summary.OverallSuccessRate, 1e-9)
	assert.Equal(t, []string{
		"Carb spike tends to occur on Tuesdays.",
		"Repeated misses detected. Challenge intensity adjusted for: no_sugar.",
	}, summary.Insights)
}

func TestSummarizeHabits_Empty(t *testing.T) {
	svc, _ := newTestService(t)
	summary, err := svc.SummarizeHabits(context.Background(), "u1", at(9, 0), 0)
	require.NoError(t, err)
	assert.Empty(t, summary.Habits)
	assert.Empty(t, summary.Insights)
	assert.Zero(t, summary.OverallSuccessRate)
	assert.Equal(t, "2025-12-11", summary.From)
}

func TestNextChallenge(t *testing.T) {
	assert.Equal(t, ChallengeStrict, NextChallenge(ChallengeStrict, 2))
	assert.Equal(t, ChallengeMicro, NextChallenge(ChallengeStrict, 3))
	assert.Equal(t, ChallengeSupport, NextChallenge(ChallengeMicro, 5))
	assert.Equal(t, ChallengeSupport, NextChallenge(ChallengeSupport, 9))
}
