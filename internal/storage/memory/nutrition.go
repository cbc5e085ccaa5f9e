package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/google/uuid"
)

// NutritionMemoryStorage хранит агрегаты, приёмы пищи и снимки оценок.
// Один мьютекс: AddMeal меняет агрегат и список приёмов атомарно.
type NutritionMemoryStorage struct {
	mu         sync.RWMutex
	aggregates map[string]*storage.DailyAggregate // user|date -> aggregate
	meals      map[string][]storage.MealEntry     // user -> meals
	scores     map[uuid.UUID][]storage.InsulinScoreRecord
}

func NewNutritionMemoryStorage() *NutritionMemoryStorage {
	return &NutritionMemoryStorage{
		aggregates: make(map[string]*storage.DailyAggregate),
		meals:      make(map[string][]storage.MealEntry),
		scores:     make(map[uuid.UUID][]storage.InsulinScoreRecord),
	}
}

func aggregateKey(userID, date string) string {
	return userID + "|" + date
}

func (s *NutritionMemoryStorage) GetOrCreateDailyAggregate(ctx context.Context, userID, date string) (storage.DailyAggregate, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	return *s.getOrCreateLocked(normalizeUserID(userID), date), nil
}

func (s *NutritionMemoryStorage) getOrCreateLocked(userID, date string) *storage.DailyAggregate {
	key := aggregateKey(userID, date)
	if agg, ok := s.aggregates[key]; ok {
		return agg
	}
	now := time.Now().UTC()
	agg := &storage.DailyAggregate{
		ID:        uuid.New(),
		UserID:    userID,
		Date:      date,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.aggregates[key] = agg
	return agg
}

func (s *NutritionMemoryStorage) GetDailyAggregate(ctx context.Context, userID, date string) (storage.DailyAggregate, bool, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, ok := s.aggregates[aggregateKey(normalizeUserID(userID), date)]
	if !ok {
		return storage.DailyAggregate{}, false, nil
	}
	return copyAggregate(agg), true, nil
}

func (s *NutritionMemoryStorage) ListDailyAggregates(ctx context.Context, userID, from, to string) ([]storage.DailyAggregate, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	userID = normalizeUserID(userID)
	result := make([]storage.DailyAggregate, 0)
	for _, agg := range s.aggregates {
		if agg.UserID != userID || agg.Date < from || agg.Date > to {
			continue
		}
		result = append(result, copyAggregate(agg))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date < result[j].Date })
	return result, nil
}

func (s *NutritionMemoryStorage) AddMeal(ctx context.Context, date string, meal storage.MealEntry) (storage.DailyAggregate, storage.MealEntry, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	meal.UserID = normalizeUserID(meal.UserID)
	agg := s.getOrCreateLocked(meal.UserID, date)

	if meal.ID == uuid.Nil {
		meal.ID = uuid.New()
	}
	meal.AggregateID = agg.ID
	meal.CreatedAt = time.Now().UTC()

	agg.Totals = addTotals(agg.Totals, meal.Macros)
	if meal.IsDinner {
		if agg.Dinner == nil {
			agg.Dinner = &storage.DinnerRecord{}
		}
		agg.Dinner.CarbsG += meal.Macros.CarbsG
		agg.Dinner.ProteinG += meal.Macros.ProteinG
		agg.Dinner.LoggedAt = meal.ConsumedAt
		if meal.DinnerMode != "" {
			agg.Dinner.Mode = meal.DinnerMode
		}
	}
	agg.UpdatedAt = meal.CreatedAt

	s.meals[meal.UserID] = append(s.meals[meal.UserID], meal)
	return copyAggregate(agg), meal, nil
}

func (s *NutritionMemoryStorage) ListMeals(ctx context.Context, userID string, from, to time.Time) ([]storage.MealEntry, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]storage.MealEntry, 0)
	for _, m := range s.meals[normalizeUserID(userID)] {
		if m.ConsumedAt.Before(from) || !m.ConsumedAt.Before(to) {
			continue
		}
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ConsumedAt.Before(result[j].ConsumedAt) })
	return result, nil
}

func (s *NutritionMemoryStorage) AddWater(ctx context.Context, userID, date string, ml int) (storage.DailyAggregate, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	agg := s.getOrCreateLocked(normalizeUserID(userID), date)
	if ml > 0 {
		agg.WaterMl += ml
	}
	agg.UpdatedAt = time.Now().UTC()
	return copyAggregate(agg), nil
}

func (s *NutritionMemoryStorage) ApplyCorrection(ctx context.Context, userID, date string, delta storage.MacroTotals) (storage.DailyAggregate, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	agg := s.getOrCreateLocked(normalizeUserID(userID), date)
	agg.Totals = storage.MacroTotals{
		ProteinG:     math.Max(0, agg.Totals.ProteinG-delta.ProteinG),
		CarbsG:       math.Max(0, agg.Totals.CarbsG-delta.CarbsG),
		FatsG:        math.Max(0, agg.Totals.FatsG-delta.FatsG),
		SugarG:       math.Max(0, agg.Totals.SugarG-delta.SugarG),
		FiberG:       math.Max(0, agg.Totals.FiberG-delta.FiberG),
		HiddenOilTsp: math.Max(0, agg.Totals.HiddenOilTsp-delta.HiddenOilTsp),
	}
	agg.UpdatedAt = time.Now().UTC()
	return copyAggregate(agg), nil
}

func (s *NutritionMemoryStorage) AppendInsulinScore(ctx context.Context, rec storage.InsulinScoreRecord) (storage.InsulinScoreRecord, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.UserID = normalizeUserID(rec.UserID)
	if rec.CalculatedAt.IsZero() {
		rec.CalculatedAt = time.Now().UTC()
	}
	s.scores[rec.AggregateID] = append(s.scores[rec.AggregateID], rec)
	return rec, nil
}

func (s *NutritionMemoryStorage) LatestInsulinScore(ctx context.Context, aggregateID uuid.UUID) (storage.InsulinScoreRecord, bool, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.scores[aggregateID]
	if len(recs) == 0 {
		return storage.InsulinScoreRecord{}, false, nil
	}
	latest := recs[0]
	for _, r := range recs[1:] {
		// при равном времени побеждает более поздняя запись
		if !r.CalculatedAt.Before(latest.CalculatedAt) {
			latest = r
		}
	}
	return latest, true, nil
}

func (s *NutritionMemoryStorage) ListAggregateScores(ctx context.Context, aggregateID uuid.UUID) ([]storage.InsulinScoreRecord, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := append([]storage.InsulinScoreRecord(nil), s.scores[aggregateID]...)
	sort.SliceStable(result, func(i, j int) bool { return result[i].CalculatedAt.Before(result[j].CalculatedAt) })
	return result, nil
}

func (s *NutritionMemoryStorage) ListInsulinScores(ctx context.Context, userID, from, to string) ([]storage.InsulinScoreRecord, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	userID = normalizeUserID(userID)
	result := make([]storage.InsulinScoreRecord, 0)
	for _, recs := range s.scores {
		for _, r := range recs {
			if r.UserID != userID || r.Date < from || r.Date > to {
				continue
			}
			result = append(result, r)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CalculatedAt.Before(result[j].CalculatedAt) })
	return result, nil
}

func (s *NutritionMemoryStorage) userIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.meals))
	for _, agg := range s.aggregates {
		out = append(out, agg.UserID)
	}
	return out
}

func addTotals(a, b storage.MacroTotals) storage.MacroTotals {
	return storage.MacroTotals{
		ProteinG:     a.ProteinG + math.Max(0, b.ProteinG),
		CarbsG:       a.CarbsG + math.Max(0, b.CarbsG),
		FatsG:        a.FatsG + math.Max(0, b.FatsG),
		SugarG:       a.SugarG + math.Max(0, b.SugarG),
		FiberG:       a.FiberG + math.Max(0, b.FiberG),
		HiddenOilTsp: a.HiddenOilTsp + math.Max(0, b.HiddenOilTsp),
	}
}

func copyAggregate(agg *storage.DailyAggregate) storage.DailyAggregate {
	out := *agg
	if agg.Dinner != nil {
		d := *agg.Dinner
		out.Dinner = &d
	}
	return out
}
