package copilot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fdg312/metabolic-hub/internal/compliance"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/fdg312/metabolic-hub/internal/tracking"
	"go.uber.org/zap"
)

// minMacroConfidence is the lowest model confidence at which estimated
// macros are stored as given; below it the items go through the estimator.
const minMacroConfidence = 0.5

type Outcome struct {
	Action       string `json:"action"`
	Confirmation string `json:"confirmation"`
}

// Executor runs decoded actions through the tracking service.
type Executor struct {
	tracking *tracking.Service
	logger   *zap.Logger
}

func NewExecutor(t *tracking.Service, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{tracking: t, logger: logger}
}

// ExecuteRaw decodes and executes one action payload.
func (e *Executor) ExecuteRaw(ctx context.Context, userID string, data []byte, now time.Time) (Outcome, error) {
	action, err := DecodeAction(data)
	if err != nil {
		return Outcome{}, err
	}
	return e.Execute(ctx, userID, action, now)
}

func (e *Executor) Execute(ctx context.Context, userID string, action Action, now time.Time) (Outcome, error) {
	out := Outcome{Action: action.Kind()}
	var err error
	switch a := action.(type) {
	case *MealAction:
		out.Confirmation, err = e.logMeal(ctx, userID, a, now)
	case *WaterAction:
		out.Confirmation, err = e.logWater(ctx, userID, a, now)
	case *ExerciseAction:
		out.Confirmation, err = e.logExercise(ctx, userID, a, now)
	case *VitalsAction:
		out.Confirmation, err = e.logVitals(ctx, userID, a, now)
	case *HabitAction:
		out.Confirmation, err = e.logHabit(ctx, userID, a, now)
	default:
		return Outcome{}, fmt.Errorf("%w: %T", ErrUnknownAction, action)
	}
	if err != nil {
		return Outcome{}, err
	}

	e.logger.Info("copilot action executed",
		zap.String("user_id", userID),
		zap.String("action", out.Action),
	)
	return out, nil
}

func (e *Executor) logMeal(ctx context.Context, userID string, a *MealAction, now time.Time) (string, error) {
	req := tracking.MealRequest{
		UserID:     userID,
		ConsumedAt: timeOr(a.ConsumedAt, now),
		LoggedAt:   now,
		IsDinner:   a.IsDinner,
	}
	if m := a.EstimatedMacros; m != nil && a.Confidence >= minMacroConfidence {
		req.Name = strings.Join(a.Items, ", ")
		req.FoodGroup = "other"
		req.Macros = &storage.MacroTotals{
			ProteinG:     m.Protein,
			CarbsG:       m.Carbs,
			FatsG:        m.Fats,
			HiddenOilTsp: m.HiddenOil,
		}
	} else {
		req.Text = strings.Join(a.Items, " and ")
	}

	res, err := e.tracking.LogMeal(ctx, req)
	if err != nil {
		return "", err
	}
	checks := "All daily checks on track."
	if !res.Status.Compliant {
		checks = "Off target: " + strings.Join(res.Status.Checks.Failed(), ", ") + "."
	}
	return fmt.Sprintf("Logged successfully. Today's carbs: %.1fg. Insulin load %.0f (%s). %s",
		res.Aggregate.Totals.CarbsG, res.Score.Score, res.Status.Band, checks), nil
}

func (e *Executor) logWater(ctx context.Context, userID string, a *WaterAction, now time.Time) (string, error) {
	agg, err := e.tracking.LogWater(ctx, userID, a.Ml, timeOr(a.At, now))
	if err != nil {
		return "", err
	}
	h := compliance.EvaluateHydration(agg.WaterMl)
	return fmt.Sprintf("Logged %d ml of water. Today's total: %d ml. %s", a.Ml, agg.WaterMl, h.Message), nil
}

func (e *Executor) logExercise(ctx context.Context, userID string, a *ExerciseAction, now time.Time) (string, error) {
	ev, _, err := e.tracking.LogExercise(ctx, tracking.ExerciseRequest{
		UserID:          userID,
		PerformedAt:     timeOr(a.PerformedAt, now),
		LoggedAt:        now,
		ActivityType:    a.ActivityType,
		MovementType:    a.MovementType,
		DurationMinutes: a.DurationMinutes,
		PostMealWalk:    a.PostMealWalk,
		Reps:            a.Reps,
		Sets:            a.Sets,
		PullUps:         a.PullUps,
		DeadHangSeconds: a.DeadHangSeconds,
		Source:          "copilot",
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Logged %s exercise.", strings.ToLower(ev.Category)), nil
}

func (e *Executor) logVitals(ctx context.Context, userID string, a *VitalsAction, now time.Time) (string, error) {
	_, err := e.tracking.LogVitals(ctx, storage.VitalsSnapshot{
		UserID:         userID,
		RecordedAt:     timeOr(a.RecordedAt, now),
		WeightKg:       a.WeightKg,
		WaistCm:        a.WaistCm,
		HDL:            a.HDL,
		RestingHR:      a.RestingHR,
		SleepHours:     a.SleepHours,
		FastingGlucose: a.FastingGlucose,
	})
	if err != nil {
		return "", err
	}
	return "Vitals recorded.", nil
}

func (e *Executor) logHabit(ctx context.Context, userID string, a *HabitAction, now time.Time) (string, error) {
	date := a.Date
	if date == "" {
		date = compliance.LocalDate(now, time.UTC)
	}
	if err := e.tracking.LogHabit(ctx, storage.HabitCheckin{
		UserID:  userID,
		Date:    date,
		Code:    a.Code,
		Success: a.Success,
	}); err != nil {
		return "", err
	}
	code := strings.ToLower(strings.TrimSpace(a.Code))
	msg := fmt.Sprintf("Habit %s recorded for %s.", code, date)

	summary, err := e.tracking.SummarizeHabits(ctx, userID, now, tracking.DefaultHabitDays)
	if err != nil {
		e.logger.Warn("habit summary failed", zap.String("user_id", userID), zap.Error(err))
		return msg, nil
	}
	for _, h := range summary.Habits {
		if h.Code == code {
			msg += fmt.Sprintf(" Current streak: %d, longest: %d.", h.CurrentStreak, h.LongestStreak)
		}
	}
	return msg, nil
}

func timeOr(t *time.Time, fallback time.Time) time.Time {
	if t == nil || t.IsZero() {
		return fallback
	}
	return *t
}
