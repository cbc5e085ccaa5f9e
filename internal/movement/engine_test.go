package movement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fdg312/metabolic-hub/internal/compliance"
	"github.com/fdg312/metabolic-hub/internal/exercise"
	"github.com/fdg312/metabolic-hub/internal/notify"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/fdg312/metabolic-hub/internal/storage/memory"
	"github.com/fdg312/metabolic-hub/internal/userlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (f *fakeSender) Send(ctx context.Context, msg notify.Message) (notify.DeliveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return notify.DeliveryResult{Status: notify.StatusSent}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type fixture struct {
	store  *memory.MemoryStorage
	engine *Engine
	scorer *compliance.Service
	sender *fakeSender
}

func newFixture(t *testing.T, maxPerDay int) *fixture {
	t.Helper()
	store := memory.New()
	sender := &fakeSender{}
	d := notify.NewDispatcher(store, notify.Defaults{MaxPerDay: maxPerDay, ReminderDelayMinutes: 45}, nil)
	d.Register(notify.ChannelPush, sender)
	return &fixture{
		store:  store,
		engine: NewEngine(store, userlock.New(), d, Options{}, nil),
		scorer: compliance.NewService(store, nil),
		sender: sender,
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

// logMeal stores the meal and rescored the day like the tracking pipeline.
func (f *fixture) logMeal(t *testing.T, consumedAt time.Time, carbs float64) storage.MealEntry {
	t.Helper()
	ctx := context.Background()
	date := consumedAt.Format(storage.DateLayout)
	_, meal, err := f.store.AddMeal(ctx, date, storage.MealEntry{
		UserID:     "u1",
		ConsumedAt: consumedAt,
		Name:       "rice bowl",
		FoodGroup:  "staple",
		Macros:     storage.MacroTotals{CarbsG: carbs},
		Source:     "manual",
	})
	require.NoError(t, err)
	_, _, err = f.scorer.Rescore(ctx, "u1", date, "meal_logged", consumedAt)
	require.NoError(t, err)
	return meal
}

func (f *fixture) exerciseAt(t *testing.T, when time.Time, category exercise.Category, postMeal bool) {
	t.Helper()
	_, err := f.store.InsertExercise(context.Background(), storage.ExerciseEvent{
		UserID:          "u1",
		PerformedAt:     when,
		Category:        string(category),
		DurationMinutes: 20,
		PostMealWalk:    postMeal,
	})
	require.NoError(t, err)
}

func alertsOfType(eval Evaluation, typ string) []AlertOutcome {
	var out []AlertOutcome
	for _, a := range eval.Alerts {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func TestEvaluateMovementAlerts_WalkReminderThenEscalationWithPenalty(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	// a strength set before the meal keeps the inactivity nudge quiet
	f.exerciseAt(t, at(11, 30), exercise.CategoryStrength, false)
	meal := f.logMeal(t, at(12, 0), 35)

	early, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(12, 30))
	require.NoError(t, err)
	assert.Empty(t, early.Alerts, "reminder delay has not elapsed")

	eval, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(12, 46))
	require.NoError(t, err)
	walks := alertsOfType(eval, AlertPostMealWalk)
	require.Len(t, walks, 1)
	assert.True(t, walks[0].Result.Sent())
	assert.Empty(t, alertsOfType(eval, AlertPostMealEscalation))
	assert.Zero(t, eval.PenaltiesApplied)

	again, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(12, 50))
	require.NoError(t, err)
	assert.Empty(t, alertsOfType(again, AlertPostMealWalk), "walk reminder is sent once per meal")

	before, ok, err := f.store.LatestInsulinScore(ctx, meal.AggregateID)
	require.NoError(t, err)
	require.True(t, ok)

	late, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(13, 1))
	require.NoError(t, err)
	esc := alertsOfType(late, AlertPostMealEscalation)
	require.Len(t, esc, 1)
	assert.True(t, esc[0].Result.Sent())
	assert.Equal(t, 1, late.PenaltiesApplied)

	after, ok, err := f.store.LatestInsulinScore(ctx, meal.AggregateID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, before.Score+10, after.Score, 1e-9)
	assert.InDelta(t, before.RawScore+10, after.RawScore, 1e-9)

	// a later pass neither re-penalizes nor re-escalates
	repeat, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(13, 20))
	require.NoError(t, err)
	assert.Zero(t, repeat.PenaltiesApplied)
	assert.Empty(t, alertsOfType(repeat, AlertPostMealEscalation))
	assert.Equal(t, 2, f.sender.count())
}

func TestEvaluateMovementAlerts_LowCarbMealNoPenalty(t *testing.T) {
	f := newFixture(t, 3)
	f.exerciseAt(t, at(11, 30), exercise.CategoryStrength, false)
	f.logMeal(t, at(12, 0), 20)

	eval, err := f.engine.EvaluateMovementAlerts(context.Background(), "u1", at(13, 5))
	require.NoError(t, err)
	assert.Len(t, alertsOfType(eval, AlertPostMealEscalation), 1)
	assert.Zero(t, eval.PenaltiesApplied)
}

func TestEvaluateMovementAlerts_WalkSuppressesReminders(t *testing.T) {
	f := newFixture(t, 3)
	f.logMeal(t, at(12, 0), 50)
	f.exerciseAt(t, at(12, 20), exercise.CategoryWalk, true)

	eval, err := f.engine.EvaluateMovementAlerts(context.Background(), "u1", at(13, 10))
	require.NoError(t, err)
	assert.Empty(t, alertsOfType(eval, AlertPostMealWalk))
	assert.Empty(t, alertsOfType(eval, AlertPostMealEscalation))
	assert.Empty(t, alertsOfType(eval, AlertInactivityReset))
	assert.Zero(t, eval.PenaltiesApplied)
}

func TestEvaluateMovementAlerts_HighInsulinAndEscalation(t *testing.T) {
	f := newFixture(t, 5)
	f.exerciseAt(t, at(9, 0), exercise.CategoryStrength, false)
	f.logMeal(t, at(9, 30), 120) // score well above 70
	ctx := context.Background()

	first, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(9, 40))
	require.NoError(t, err)
	require.Len(t, alertsOfType(first, AlertHighInsulin), 1)
	assert.Empty(t, alertsOfType(first, AlertHighInsulinEscalation))

	second, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(10, 31))
	require.NoError(t, err)
	assert.Len(t, alertsOfType(second, AlertHighInsulinEscalation), 1)
}

func TestEvaluateMovementAlerts_WalkAfterLatestSnapshotStopsEscalation(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.logMeal(t, at(9, 30), 120)
	meal := f.logMeal(t, at(11, 0), 20)
	f.exerciseAt(t, at(11, 20), exercise.CategoryWalk, true)

	latest, ok, err := f.store.LatestInsulinScore(ctx, meal.AggregateID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, at(11, 0), latest.CalculatedAt)

	eval, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(12, 5))
	require.NoError(t, err)
	high := alertsOfType(eval, AlertHighInsulin)
	require.Len(t, high, 1)
	assert.Equal(t, AlertHighInsulin+":"+latest.ID.String(), high[0].DedupeKey)
	assert.Empty(t, alertsOfType(eval, AlertHighInsulinEscalation))
}

func TestEvaluateMovementAlerts_EscalationTimedFromLatestRescore(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.logMeal(t, at(9, 30), 120)
	meal := f.logMeal(t, at(11, 0), 40)

	rescore, ok, err := f.store.LatestInsulinScore(ctx, meal.AggregateID)
	require.NoError(t, err)
	require.True(t, ok)

	early, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(11, 50))
	require.NoError(t, err)
	assert.Empty(t, alertsOfType(early, AlertHighInsulinEscalation), "the 09:30 snapshot no longer times the escalation")

	// the missed-walk penalty lands in this pass and must not restart the clock
	eval, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(12, 5))
	require.NoError(t, err)
	assert.Equal(t, 1, eval.PenaltiesApplied)
	esc := alertsOfType(eval, AlertHighInsulinEscalation)
	require.Len(t, esc, 1)
	assert.Equal(t, AlertHighInsulinEscalation+":"+rescore.ID.String(), esc[0].DedupeKey)
}

func TestEvaluateMovementAlerts_InactivityOncePerBucket(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	eval, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(10, 0))
	require.NoError(t, err)
	require.Len(t, alertsOfType(eval, AlertInactivityReset), 1)

	same, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(10, 30))
	require.NoError(t, err)
	assert.Empty(t, alertsOfType(same, AlertInactivityReset))

	next, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(12, 10))
	require.NoError(t, err)
	assert.Len(t, alertsOfType(next, AlertInactivityReset), 1)

	night, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(23, 30))
	require.NoError(t, err)
	assert.Empty(t, alertsOfType(night, AlertInactivityReset))
}

func TestEvaluateMovementAlerts_DailyCapNeverExceeded(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	for _, m := range []int{0, 10, 20, 30, 40} {
		f.logMeal(t, at(9, m), 40)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(11, 0))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, f.sender.count())
	sent, err := f.store.CountAlerts(ctx, "u1", at(0, 0), at(23, 59))
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
}

func TestProcessStepSnapshot_SurgeCountsAsWalk(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	meal := f.logMeal(t, at(12, 0), 60)
	before, _, err := f.store.LatestInsulinScore(ctx, meal.AggregateID)
	require.NoError(t, err)

	res, err := f.engine.ProcessStepSnapshot(ctx, "u1", 4000, at(12, 5))
	require.NoError(t, err)
	assert.Zero(t, res.Delta)
	assert.False(t, res.BonusApplied)

	res, err = f.engine.ProcessStepSnapshot(ctx, "u1", 5800, at(12, 40))
	require.NoError(t, err)
	assert.Equal(t, 1800, res.Delta)
	assert.True(t, res.BonusApplied)

	after, _, err := f.store.LatestInsulinScore(ctx, meal.AggregateID)
	require.NoError(t, err)
	assert.InDelta(t, before.Score-8, after.Score, 1e-9)

	events, err := f.store.ListExerciseEvents(ctx, "u1", at(0, 0), at(23, 59))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].PostMealWalk)
	assert.Equal(t, "step_surge", events[0].Source)

	// the synthetic walk suppresses the meal reminders
	eval, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(13, 10))
	require.NoError(t, err)
	assert.Empty(t, alertsOfType(eval, AlertPostMealEscalation))
}

func TestProcessStepSnapshot_SmallRiseIgnored(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	_, err := f.engine.ProcessStepSnapshot(ctx, "u1", 1000, at(8, 0))
	require.NoError(t, err)
	res, err := f.engine.ProcessStepSnapshot(ctx, "u1", 2500, at(8, 30))
	require.NoError(t, err)
	assert.Equal(t, 1500, res.Delta)
	assert.False(t, res.BonusApplied)
}

func TestWalkStreakAndPanelBadge(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	now := at(18, 0)
	for d := 0; d < 5; d++ {
		f.exerciseAt(t, now.AddDate(0, 0, -d).Add(-2*time.Hour), exercise.CategoryWalk, true)
	}
	// gap on day -5, then an older walk that must not count
	f.exerciseAt(t, now.AddDate(0, 0, -6), exercise.CategoryWalk, true)

	streak, err := f.engine.WalkStreak(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, 5, streak)

	panel, err := f.engine.Panel(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, StreakBadge, panel.Badge)
	assert.Equal(t, "done", panel.PostMealWalkStatus)
	assert.Equal(t, 3, panel.AlertsRemaining)
	assert.Nil(t, panel.LatestScore)

	tomorrow, err := f.engine.Panel(ctx, "u1", now.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Zero(t, tomorrow.WalkStreak)
	assert.Empty(t, tomorrow.Badge)
	assert.Equal(t, "pending", tomorrow.PostMealWalkStatus)
}

func TestUpdateSettings_Validates(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	s := notify.Defaults{MaxPerDay: 3, ReminderDelayMinutes: 45}.Settings("u1")

	s.MovementReminderDelayMinutes = 5
	_, err := f.engine.UpdateSettings(ctx, s)
	assert.ErrorIs(t, err, notify.ErrInvalidSettings)

	s.MovementReminderDelayMinutes = 30
	s.MovementSensitivity = "RELAXED"
	saved, err := f.engine.UpdateSettings(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, notify.SensitivityRelaxed, saved.MovementSensitivity)

	// a 30 minute delay fires the reminder earlier
	f.exerciseAt(t, at(11, 30), exercise.CategoryStrength, false)
	f.logMeal(t, at(12, 0), 35)
	eval, err := f.engine.EvaluateMovementAlerts(ctx, "u1", at(12, 31))
	require.NoError(t, err)
	assert.Len(t, alertsOfType(eval, AlertPostMealWalk), 1)
}
