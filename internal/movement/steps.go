package movement

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fdg312/metabolic-hub/internal/compliance"
	"github.com/fdg312/metabolic-hub/internal/exercise"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"go.uber.org/zap"
)

type StepResult struct {
	Delta        int
	BonusApplied bool
}

// ProcessStepSnapshot records a cumulative step reading. A rise of more than
// StepSurgeThreshold over the trailing hour's minimum counts as a post-meal
// walk and lowers the day's latest score by StepSurgeBonus.
func (e *Engine) ProcessStepSnapshot(ctx context.Context, userID string, steps int, at time.Time) (StepResult, error) {
	if steps < 0 {
		return StepResult{}, fmt.Errorf("steps must be non-negative, got %d", steps)
	}

	var result StepResult
	err := e.locks.Do(ctx, userID, func(ctx context.Context) error {
		prior, ok, err := e.store.MinStepsBetween(ctx, userID, at.Add(-time.Hour), at.Add(time.Nanosecond))
		if err != nil {
			return fmt.Errorf("min steps: %w", err)
		}
		if !ok {
			prior = steps
		}
		if err := e.store.InsertStepSnapshot(ctx, storage.StepSnapshot{UserID: userID, RecordedAt: at, Steps: steps}); err != nil {
			return fmt.Errorf("insert step snapshot: %w", err)
		}

		result.Delta = steps - prior
		if result.Delta <= StepSurgeThreshold {
			return nil
		}
		result.BonusApplied = true
		return e.applyStepSurge(ctx, userID, result.Delta, at)
	})
	if err != nil {
		return StepResult{}, err
	}
	return result, nil
}

func (e *Engine) applyStepSurge(ctx context.Context, userID string, delta int, at time.Time) error {
	if _, err := e.store.InsertExercise(ctx, storage.ExerciseEvent{
		UserID:          userID,
		PerformedAt:     at,
		Category:        string(exercise.CategoryWalk),
		ActivityType:    "step_surge_walk",
		MovementType:    "step_surge",
		DurationMinutes: 20,
		PostMealWalk:    true,
		StepCount:       delta,
		Source:          "step_surge",
	}); err != nil {
		return fmt.Errorf("insert surge walk: %w", err)
	}

	profile, err := compliance.EnsureProfile(ctx, e.store, userID)
	if err != nil {
		return err
	}
	agg, err := e.store.GetOrCreateDailyAggregate(ctx, userID, compliance.LocalDate(at, profile.Location()))
	if err != nil {
		return fmt.Errorf("get daily aggregate: %w", err)
	}
	latest, ok, err := e.store.LatestInsulinScore(ctx, agg.ID)
	if err != nil {
		return fmt.Errorf("latest insulin score: %w", err)
	}
	if !ok {
		return nil
	}
	if _, err := e.store.AppendInsulinScore(ctx, storage.InsulinScoreRecord{
		AggregateID:  agg.ID,
		UserID:       userID,
		Date:         agg.Date,
		Score:        math.Max(0, latest.Score-StepSurgeBonus),
		RawScore:     math.Max(0, latest.RawScore-StepSurgeBonus),
		Reason:       "step_surge",
		CalculatedAt: snapshotStamp(latest, at),
	}); err != nil {
		return fmt.Errorf("append surge snapshot: %w", err)
	}
	e.logger.Info("step surge counted as walk", zap.String("user_id", userID), zap.Int("delta", delta))
	return nil
}
