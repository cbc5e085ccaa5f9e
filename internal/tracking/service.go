// Package tracking holds the logging entry points: meals, exercise, vitals,
// water, habits and step sync. Every write that changes a day's inputs
// rescores that day under the user's lock.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fdg312/metabolic-hub/internal/ai"
	"github.com/fdg312/metabolic-hub/internal/compliance"
	"github.com/fdg312/metabolic-hub/internal/exercise"
	"github.com/fdg312/metabolic-hub/internal/insulin"
	"github.com/fdg312/metabolic-hub/internal/movement"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/fdg312/metabolic-hub/internal/userlock"
	"go.uber.org/zap"
)

var ErrInvalidRequest = errors.New("invalid request")

type Store interface {
	compliance.Store
	storage.VitalsStorage
	storage.HabitsStorage
}

type Service struct {
	store     Store
	locks     *userlock.Locker
	scorer    *compliance.Service
	estimator ai.Estimator
	movement  *movement.Engine
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(store Store, locks *userlock.Locker, scorer *compliance.Service, estimator ai.Estimator, engine *movement.Engine, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		locks:     locks,
		scorer:    scorer,
		estimator: estimator,
		movement:  engine,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the wall clock used when a request carries no LoggedAt.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// processedAt is when a write happened: the caller's LoggedAt, otherwise the
// clock, never before the event itself.
func (s *Service) processedAt(loggedAt, event time.Time) time.Time {
	if !loggedAt.IsZero() {
		return loggedAt
	}
	if now := s.now(); now.After(event) {
		return now
	}
	return event
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func normalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", invalid("user_id is required")
	}
	return userID, nil
}

// rescoreLocked appends a snapshot for the day containing event, stamped at.
func (s *Service) rescoreLocked(ctx context.Context, profile storage.MetabolicProfile, event, at time.Time, reason string) (compliance.DailyStatus, storage.InsulinScoreRecord, error) {
	return s.scorer.Rescore(ctx, profile.UserID, compliance.LocalDate(event, profile.Location()), reason, at)
}

type ExerciseRequest struct {
	UserID          string
	PerformedAt     time.Time
	LoggedAt        time.Time // when the request arrived; zero means the service clock
	Category        string    // optional, classified from the text when empty
	ActivityType    string
	MovementType    string
	DurationMinutes int
	PostMealWalk    bool
	Reps            int
	Sets            int
	PullUps         int
	DeadHangSeconds int
	GripSeconds     int
	Source          string
}

// LogExercise stores the event and rescores its day so walk bonuses apply.
func (s *Service) LogExercise(ctx context.Context, req ExerciseRequest) (storage.ExerciseEvent, compliance.DailyStatus, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return storage.ExerciseEvent{}, compliance.DailyStatus{}, err
	}
	if req.PerformedAt.IsZero() {
		return storage.ExerciseEvent{}, compliance.DailyStatus{}, invalid("performed_at is required")
	}
	if req.DurationMinutes < 0 || req.DurationMinutes > 24*60 {
		return storage.ExerciseEvent{}, compliance.DailyStatus{}, invalid("duration_minutes out of range")
	}

	category := exercise.Classify(req.ActivityType, req.MovementType, req.Reps > 0 || req.Sets > 0)
	if req.Category != "" {
		c, ok := exercise.ParseCategory(req.Category)
		if !ok {
			return storage.ExerciseEvent{}, compliance.DailyStatus{}, invalid("unknown category %q", req.Category)
		}
		category = c
	}
	source := req.Source
	if source == "" {
		source = "manual"
	}

	var (
		saved  storage.ExerciseEvent
		status compliance.DailyStatus
	)
	err = s.locks.Do(ctx, userID, func(ctx context.Context) error {
		profile, err := compliance.EnsureProfile(ctx, s.store, userID)
		if err != nil {
			return err
		}
		saved, err = s.store.InsertExercise(ctx, storage.ExerciseEvent{
			UserID:          userID,
			PerformedAt:     req.PerformedAt,
			Category:        string(category),
			ActivityType:    req.ActivityType,
			MovementType:    req.MovementType,
			DurationMinutes: req.DurationMinutes,
			PostMealWalk:    req.PostMealWalk,
			Reps:            req.Reps,
			Sets:            req.Sets,
			PullUps:         req.PullUps,
			DeadHangSeconds: req.DeadHangSeconds,
			GripSeconds:     req.GripSeconds,
			Source:          source,
		})
		if err != nil {
			return fmt.Errorf("insert exercise: %w", err)
		}
		status, _, err = s.rescoreLocked(ctx, profile, req.PerformedAt, s.processedAt(req.LoggedAt, req.PerformedAt), "exercise_logged")
		return err
	})
	if err != nil {
		return storage.ExerciseEvent{}, compliance.DailyStatus{}, err
	}
	return saved, status, nil
}

func (s *Service) LogVitals(ctx context.Context, v storage.VitalsSnapshot) (storage.VitalsSnapshot, error) {
	userID, err := normalizeUserID(v.UserID)
	if err != nil {
		return storage.VitalsSnapshot{}, err
	}
	if v.RecordedAt.IsZero() {
		return storage.VitalsSnapshot{}, invalid("recorded_at is required")
	}
	for name, p := range map[string]*float64{
		"weight_kg": v.WeightKg, "waist_cm": v.WaistCm, "hdl": v.HDL,
		"resting_hr": v.RestingHR, "sleep_hours": v.SleepHours, "fasting_glucose": v.FastingGlucose,
	} {
		if p != nil && *p < 0 {
			return storage.VitalsSnapshot{}, invalid("%s must be non-negative", name)
		}
	}
	v.UserID = userID
	saved, err := s.store.InsertVitals(ctx, v)
	if err != nil {
		return storage.VitalsSnapshot{}, fmt.Errorf("insert vitals: %w", err)
	}
	return saved, nil
}

func (s *Service) LogWater(ctx context.Context, userID string, ml int, at time.Time) (storage.DailyAggregate, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return storage.DailyAggregate{}, err
	}
	if ml <= 0 || ml > 5000 {
		return storage.DailyAggregate{}, invalid("water ml must be 1..5000")
	}
	profile, err := compliance.EnsureProfile(ctx, s.store, userID)
	if err != nil {
		return storage.DailyAggregate{}, err
	}
	agg, err := s.store.AddWater(ctx, userID, compliance.LocalDate(at, profile.Location()), ml)
	if err != nil {
		return storage.DailyAggregate{}, fmt.Errorf("add water: %w", err)
	}
	return agg, nil
}

func (s *Service) LogHabit(ctx context.Context, c storage.HabitCheckin) error {
	userID, err := normalizeUserID(c.UserID)
	if err != nil {
		return err
	}
	c.UserID = userID
	c.Code = strings.ToLower(strings.TrimSpace(c.Code))
	if c.Code == "" {
		return invalid("habit code is required")
	}
	if _, err := time.Parse(storage.DateLayout, c.Date); err != nil {
		return invalid("date must be YYYY-MM-DD")
	}
	if err := s.store.UpsertHabitCheckin(ctx, c); err != nil {
		return fmt.Errorf("upsert habit checkin: %w", err)
	}
	return nil
}

// SyncSteps forwards a cumulative step reading to the movement engine.
func (s *Service) SyncSteps(ctx context.Context, userID string, steps int, at time.Time) (movement.StepResult, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return movement.StepResult{}, err
	}
	if steps < 0 {
		return movement.StepResult{}, invalid("steps must be non-negative")
	}
	return s.movement.ProcessStepSnapshot(ctx, userID, steps, at)
}

// CorrectDay subtracts delta from the day's totals and rescores it.
func (s *Service) CorrectDay(ctx context.Context, userID, date string, delta storage.MacroTotals, at time.Time) (storage.DailyAggregate, compliance.DailyStatus, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return storage.DailyAggregate{}, compliance.DailyStatus{}, err
	}
	if _, err := time.Parse(storage.DateLayout, date); err != nil {
		return storage.DailyAggregate{}, compliance.DailyStatus{}, invalid("date must be YYYY-MM-DD")
	}
	if negativeMacros(delta) {
		return storage.DailyAggregate{}, compliance.DailyStatus{}, invalid("correction amounts must be non-negative")
	}

	var (
		agg    storage.DailyAggregate
		status compliance.DailyStatus
	)
	err = s.locks.Do(ctx, userID, func(ctx context.Context) error {
		var err error
		agg, err = s.store.ApplyCorrection(ctx, userID, date, delta)
		if err != nil {
			return fmt.Errorf("apply correction: %w", err)
		}
		status, _, err = s.scorer.Rescore(ctx, userID, date, "correction", at)
		return err
	})
	if err != nil {
		return storage.DailyAggregate{}, compliance.DailyStatus{}, err
	}
	return agg, status, nil
}

func negativeMacros(m storage.MacroTotals) bool {
	return m.ProteinG < 0 || m.CarbsG < 0 || m.FatsG < 0 || m.SugarG < 0 || m.FiberG < 0 || m.HiddenOilTsp < 0
}

// dinnerMode marks protein-forward dinners so the dinner adjustment sees them.
func dinnerMode(requested string, m storage.MacroTotals) string {
	if requested != "" {
		return requested
	}
	if m.CarbsG <= 5 && m.ProteinG >= 20 {
		return insulin.DinnerModeProteinOnly
	}
	return ""
}
