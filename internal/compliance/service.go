package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the subset of storage the evaluator reads and writes.
type Store interface {
	storage.AggregatesStorage
	storage.ScoresStorage
	storage.ExerciseStorage
	storage.ProfilesStorage
}

type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// Rescore evaluates the day and appends a snapshot stamped at, the time the
// change was processed. Snapshots of one day are strictly increasing in
// CalculatedAt, so the newest one always matches the current totals even when
// at lies before an earlier snapshot. Callers hold the user's lock.
func (s *Service) Rescore(ctx context.Context, userID, date, reason string, at time.Time) (DailyStatus, storage.InsulinScoreRecord, error) {
	profile, err := EnsureProfile(ctx, s.store, userID)
	if err != nil {
		return DailyStatus{}, storage.InsulinScoreRecord{}, err
	}

	status, agg, err := s.Evaluate(ctx, profile, date)
	if err != nil {
		return DailyStatus{}, storage.InsulinScoreRecord{}, err
	}

	stamp, err := s.nextStamp(ctx, agg.ID, at.UTC())
	if err != nil {
		return DailyStatus{}, storage.InsulinScoreRecord{}, err
	}

	rec, err := s.store.AppendInsulinScore(ctx, storage.InsulinScoreRecord{
		AggregateID:  agg.ID,
		UserID:       userID,
		Date:         date,
		Score:        status.Score,
		RawScore:     status.RawScore,
		Reason:       reason,
		CalculatedAt: stamp,
	})
	if err != nil {
		return DailyStatus{}, storage.InsulinScoreRecord{}, fmt.Errorf("failed to append insulin score: %w", err)
	}

	s.logger.Debug("day rescored",
		zap.String("user_id", userID),
		zap.String("date", date),
		zap.Float64("score", status.Score),
		zap.String("band", string(status.Band)),
		zap.String("reason", reason),
	)
	return status, rec, nil
}

// nextStamp moves at past the day's latest snapshot when needed.
func (s *Service) nextStamp(ctx context.Context, aggregateID uuid.UUID, at time.Time) (time.Time, error) {
	latest, ok, err := s.store.LatestInsulinScore(ctx, aggregateID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load latest insulin score: %w", err)
	}
	if ok && !at.After(latest.CalculatedAt) {
		return latest.CalculatedAt.Add(time.Millisecond), nil
	}
	return at, nil
}

// Evaluate loads the day and computes its status without writing a snapshot.
func (s *Service) Evaluate(ctx context.Context, profile storage.MetabolicProfile, date string) (DailyStatus, storage.DailyAggregate, error) {
	agg, err := s.store.GetOrCreateDailyAggregate(ctx, profile.UserID, date)
	if err != nil {
		return DailyStatus{}, storage.DailyAggregate{}, fmt.Errorf("failed to load aggregate: %w", err)
	}

	from, to, err := DayBounds(date, profile.Location())
	if err != nil {
		return DailyStatus{}, storage.DailyAggregate{}, err
	}

	meals, err := s.store.ListMeals(ctx, profile.UserID, from, to)
	if err != nil {
		return DailyStatus{}, storage.DailyAggregate{}, fmt.Errorf("failed to list meals: %w", err)
	}
	events, err := s.store.ListExerciseEvents(ctx, profile.UserID, from, to)
	if err != nil {
		return DailyStatus{}, storage.DailyAggregate{}, fmt.Errorf("failed to list exercise events: %w", err)
	}

	return EvaluateDailyStatus(Day{Aggregate: agg, Meals: meals}, events, profile), agg, nil
}

// EnsureProfile returns the stored profile or creates the defaults.
func EnsureProfile(ctx context.Context, store storage.ProfilesStorage, userID string) (storage.MetabolicProfile, error) {
	profile, ok, err := store.GetProfile(ctx, userID)
	if err != nil {
		return storage.MetabolicProfile{}, fmt.Errorf("failed to load profile: %w", err)
	}
	if ok {
		return profile, nil
	}
	profile, err = store.UpsertProfile(ctx, storage.DefaultProfile(userID))
	if err != nil {
		return storage.MetabolicProfile{}, fmt.Errorf("failed to create default profile: %w", err)
	}
	return profile, nil
}

// DayBounds returns [midnight, next midnight) of date in loc.
func DayBounds(date string, loc *time.Location) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation(storage.DateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return day, day.AddDate(0, 0, 1), nil
}

// LocalDate formats t as a calendar day in loc.
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(storage.DateLayout)
}
