package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fdg312/metabolic-hub/internal/ai"
	"github.com/fdg312/metabolic-hub/internal/compliance"
	"github.com/fdg312/metabolic-hub/internal/movement"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"go.uber.org/zap"
)

var foodGroups = map[string]bool{
	"fruit": true, "nut": true, "staple": true, "protein": true, "vegetable": true, "other": true,
}

// MealRequest describes a meal either by explicit macros or by text/photo
// for the estimator.
type MealRequest struct {
	UserID     string
	ConsumedAt time.Time
	// LoggedAt is when the request arrived. The snapshot is stamped and
	// movement alerts are evaluated at this instant. Zero means the service
	// clock.
	LoggedAt time.Time

	Text      string
	Image     []byte
	ImageMIME string

	// Explicit values skip the estimator.
	Name            string
	FoodGroup       string
	Macros          *storage.MacroTotals
	HealthyFatScore float64
	StapleUnits     float64

	IsDinner   bool
	DinnerMode string
}

type MealResult struct {
	Meal      storage.MealEntry
	Aggregate storage.DailyAggregate
	Status    compliance.DailyStatus
	Score     storage.InsulinScoreRecord
	Estimate  *ai.Estimate
	Movement  movement.Evaluation
}

// LogMeal rejects meals inside the fasting window, stores the meal, rescores
// the day and runs the movement engine for the user.
func (s *Service) LogMeal(ctx context.Context, req MealRequest) (MealResult, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return MealResult{}, err
	}
	req.UserID = userID
	if err := validateMeal(req); err != nil {
		return MealResult{}, err
	}

	profile, err := compliance.EnsureProfile(ctx, s.store, userID)
	if err != nil {
		return MealResult{}, err
	}
	if err := compliance.CheckMealTime(profile, req.ConsumedAt); err != nil {
		return MealResult{}, err
	}

	entry, est, err := s.buildEntry(ctx, req)
	if err != nil {
		return MealResult{}, err
	}

	at := s.processedAt(req.LoggedAt, req.ConsumedAt)
	result, err := s.storeMeal(ctx, profile, entry, "meal_logged", at)
	if err != nil {
		return MealResult{}, err
	}
	result.Estimate = est

	if s.movement != nil {
		eval, err := s.movement.EvaluateMovementAlerts(ctx, userID, at)
		if err != nil {
			s.logger.Warn("movement evaluation after meal failed", zap.String("user_id", userID), zap.Error(err))
		} else {
			result.Movement = eval
		}
	}
	return result, nil
}

// ImportMeal stores a meal from a health-data import. Fasting violations are
// flagged on the row instead of rejected.
func (s *Service) ImportMeal(ctx context.Context, req MealRequest) (MealResult, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return MealResult{}, err
	}
	req.UserID = userID
	if err := validateMeal(req); err != nil {
		return MealResult{}, err
	}

	profile, err := compliance.EnsureProfile(ctx, s.store, userID)
	if err != nil {
		return MealResult{}, err
	}

	entry, est, err := s.buildEntry(ctx, req)
	if err != nil {
		return MealResult{}, err
	}
	entry.Source = "import"
	entry.FastingViolation = compliance.InFastingWindow(profile, req.ConsumedAt)

	result, err := s.storeMeal(ctx, profile, entry, "meal_imported", s.processedAt(req.LoggedAt, req.ConsumedAt))
	if err != nil {
		return MealResult{}, err
	}
	result.Estimate = est
	if entry.FastingViolation {
		s.logger.Info("imported meal inside fasting window",
			zap.String("user_id", userID),
			zap.Time("consumed_at", req.ConsumedAt),
		)
	}
	return result, nil
}

// AnalyzeMeal estimates a meal and reports every rule it would break without
// storing anything. The error is a *compliance.RejectionError when rules fail.
func (s *Service) AnalyzeMeal(ctx context.Context, req MealRequest) (storage.MealEntry, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return storage.MealEntry{}, err
	}
	req.UserID = userID
	if err := validateMeal(req); err != nil {
		return storage.MealEntry{}, err
	}
	profile, err := compliance.EnsureProfile(ctx, s.store, userID)
	if err != nil {
		return storage.MealEntry{}, err
	}
	entry, _, err := s.buildEntry(ctx, req)
	if err != nil {
		return storage.MealEntry{}, err
	}

	date := compliance.LocalDate(req.ConsumedAt, profile.Location())
	agg, ok, err := s.store.GetDailyAggregate(ctx, userID, date)
	if err != nil {
		return storage.MealEntry{}, fmt.Errorf("get daily aggregate: %w", err)
	}
	if !ok {
		agg = storage.DailyAggregate{UserID: userID, Date: date}
	}
	return entry, compliance.Precheck(profile, agg, entry.Macros, req.ConsumedAt)
}

func (s *Service) storeMeal(ctx context.Context, profile storage.MetabolicProfile, entry storage.MealEntry, reason string, at time.Time) (MealResult, error) {
	var result MealResult
	err := s.locks.Do(ctx, profile.UserID, func(ctx context.Context) error {
		date := compliance.LocalDate(entry.ConsumedAt, profile.Location())
		agg, meal, err := s.store.AddMeal(ctx, date, entry)
		if err != nil {
			return fmt.Errorf("add meal: %w", err)
		}
		status, rec, err := s.scorer.Rescore(ctx, profile.UserID, date, reason, at)
		if err != nil {
			return err
		}
		result = MealResult{Meal: meal, Aggregate: agg, Status: status, Score: rec}
		return nil
	})
	if err != nil {
		return MealResult{}, err
	}

	s.logger.Info("meal stored",
		zap.String("user_id", profile.UserID),
		zap.String("source", entry.Source),
		zap.Float64("carbs_g", entry.Macros.CarbsG),
		zap.Float64("score", result.Score.Score),
	)
	return result, nil
}

func (s *Service) buildEntry(ctx context.Context, req MealRequest) (storage.MealEntry, *ai.Estimate, error) {
	entry := storage.MealEntry{
		UserID:          req.UserID,
		ConsumedAt:      req.ConsumedAt,
		Name:            strings.TrimSpace(req.Name),
		FoodGroup:       strings.ToLower(strings.TrimSpace(req.FoodGroup)),
		HealthyFatScore: req.HealthyFatScore,
		StapleUnits:     req.StapleUnits,
		Source:          "manual",
		IsDinner:        req.IsDinner,
	}

	var est *ai.Estimate
	if req.Macros != nil {
		entry.Macros = *req.Macros
	} else {
		e, err := s.estimator.EstimateMacros(ctx, ai.EstimateRequest{
			UserID:    req.UserID,
			Text:      req.Text,
			Image:     req.Image,
			ImageMIME: req.ImageMIME,
		})
		if err != nil {
			return storage.MealEntry{}, nil, fmt.Errorf("estimate macros: %w", err)
		}
		est = &e
		entry.Macros = e.Totals
		entry.Source = e.Source
		if entry.FoodGroup == "" {
			entry.FoodGroup = e.FoodGroup
		}
		if entry.HealthyFatScore == 0 {
			entry.HealthyFatScore = e.HealthyFatScore
		}
		if entry.StapleUnits == 0 {
			entry.StapleUnits = e.StapleUnits
		}
		if len(req.Image) > 0 {
			conf := e.Confidence
			entry.PhotoConfidence = &conf
			if e.Source != ai.SourceFallback {
				entry.Source = ai.SourcePhoto
			}
		}
		if entry.Name == "" {
			entry.Name = strings.TrimSpace(req.Text)
		}
	}

	if entry.FoodGroup == "" {
		entry.FoodGroup = "other"
	}
	if entry.Name == "" {
		entry.Name = entry.FoodGroup
	}
	if req.IsDinner {
		entry.DinnerMode = dinnerMode(req.DinnerMode, entry.Macros)
	}
	return entry, est, nil
}

func validateMeal(req MealRequest) error {
	if req.ConsumedAt.IsZero() {
		return invalid("consumed_at is required")
	}
	if req.Macros == nil && strings.TrimSpace(req.Text) == "" && len(req.Image) == 0 {
		return invalid("meal needs macros, text or an image")
	}
	if req.Macros != nil && negativeMacros(*req.Macros) {
		return invalid("macros must be non-negative")
	}
	if g := strings.ToLower(strings.TrimSpace(req.FoodGroup)); g != "" && !foodGroups[g] {
		return invalid("unknown food_group %q", req.FoodGroup)
	}
	if req.HealthyFatScore < 0 || req.StapleUnits < 0 {
		return invalid("scores must be non-negative")
	}
	return nil
}
