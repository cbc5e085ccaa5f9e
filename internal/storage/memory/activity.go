package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/google/uuid"
)

// ActivityMemoryStorage хранит тренировки, шаги, замеры и привычки
type ActivityMemoryStorage struct {
	mu        sync.RWMutex
	exercises map[string][]storage.ExerciseEvent
	steps     map[string][]storage.StepSnapshot
	vitals    map[string][]storage.VitalsSnapshot
	habits    map[string]storage.HabitCheckin // user|date|code -> checkin
}

func NewActivityMemoryStorage() *ActivityMemoryStorage {
	return &ActivityMemoryStorage{
		exercises: make(map[string][]storage.ExerciseEvent),
		steps:     make(map[string][]storage.StepSnapshot),
		vitals:    make(map[string][]storage.VitalsSnapshot),
		habits:    make(map[string]storage.HabitCheckin),
	}
}

func (s *ActivityMemoryStorage) InsertExercise(ctx context.Context, ev storage.ExerciseEvent) (storage.ExerciseEvent, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	ev.UserID = normalizeUserID(ev.UserID)
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.CreatedAt = time.Now().UTC()
	s.exercises[ev.UserID] = append(s.exercises[ev.UserID], ev)
	return ev, nil
}

func (s *ActivityMemoryStorage) ListExerciseEvents(ctx context.Context, userID string, from, to time.Time) ([]storage.ExerciseEvent, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]storage.ExerciseEvent, 0)
	for _, ev := range s.exercises[normalizeUserID(userID)] {
		if ev.PerformedAt.Before(from) || !ev.PerformedAt.Before(to) {
			continue
		}
		result = append(result, ev)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].PerformedAt.Before(result[j].PerformedAt) })
	return result, nil
}

func (s *ActivityMemoryStorage) InsertStepSnapshot(ctx context.Context, snap storage.StepSnapshot) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	snap.UserID = normalizeUserID(snap.UserID)
	s.steps[snap.UserID] = append(s.steps[snap.UserID], snap)
	return nil
}

func (s *ActivityMemoryStorage) MinStepsBetween(ctx context.Context, userID string, from, to time.Time) (int, bool, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	found := false
	minSteps := 0
	for _, snap := range s.steps[normalizeUserID(userID)] {
		if snap.RecordedAt.Before(from) || !snap.RecordedAt.Before(to) {
			continue
		}
		if !found || snap.Steps < minSteps {
			minSteps = snap.Steps
			found = true
		}
	}
	return minSteps, found, nil
}

func (s *ActivityMemoryStorage) InsertVitals(ctx context.Context, v storage.VitalsSnapshot) (storage.VitalsSnapshot, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	v.UserID = normalizeUserID(v.UserID)
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.CreatedAt = time.Now().UTC()
	s.vitals[v.UserID] = append(s.vitals[v.UserID], v)
	return v, nil
}

func (s *ActivityMemoryStorage) ListVitals(ctx context.Context, userID string, from, to time.Time) ([]storage.VitalsSnapshot, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]storage.VitalsSnapshot, 0)
	for _, v := range s.vitals[normalizeUserID(userID)] {
		if v.RecordedAt.Before(from) || !v.RecordedAt.Before(to) {
			continue
		}
		result = append(result, v)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].RecordedAt.Before(result[j].RecordedAt) })
	return result, nil
}

func (s *ActivityMemoryStorage) UpsertHabitCheckin(ctx context.Context, c storage.HabitCheckin) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	c.UserID = normalizeUserID(c.UserID)
	s.habits[c.UserID+"|"+c.Date+"|"+c.Code] = c
	return nil
}

func (s *ActivityMemoryStorage) ListHabitCheckins(ctx context.Context, userID, from, to string) ([]storage.HabitCheckin, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	userID = normalizeUserID(userID)
	result := make([]storage.HabitCheckin, 0)
	for _, c := range s.habits {
		if c.UserID != userID || c.Date < from || c.Date > to {
			continue
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date == result[j].Date {
			return result[i].Code < result[j].Code
		}
		return result[i].Date < result[j].Date
	})
	return result, nil
}

func (s *ActivityMemoryStorage) userIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.exercises)+len(s.vitals))
	for id := range s.exercises {
		out = append(out, id)
	}
	for id := range s.vitals {
		out = append(out, id)
	}
	return out
}
