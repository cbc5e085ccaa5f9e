package postgres

import (
	"context"
	"time"

	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ActivityStorage: тренировки, шаги, замеры и привычки
type ActivityStorage struct {
	pool *pgxpool.Pool
}

const exerciseColumns = `
	id, user_id, performed_at, category, activity_type, movement_type, duration_minutes,
	post_meal_walk, reps, sets, pull_ups, dead_hang_seconds, grip_seconds, step_count, source, created_at`

func (s *ActivityStorage) InsertExercise(ctx context.Context, ev storage.ExerciseEvent) (storage.ExerciseEvent, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO exercise_events (`+exerciseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		ev.ID,
		ev.UserID,
		ev.PerformedAt,
		ev.Category,
		ev.ActivityType,
		ev.MovementType,
		ev.DurationMinutes,
		ev.PostMealWalk,
		ev.Reps,
		ev.Sets,
		ev.PullUps,
		ev.DeadHangSeconds,
		ev.GripSeconds,
		ev.StepCount,
		ev.Source,
		ev.CreatedAt,
	)
	if err != nil {
		return storage.ExerciseEvent{}, err
	}
	return ev, nil
}

func (s *ActivityStorage) ListExerciseEvents(ctx context.Context, userID string, from, to time.Time) ([]storage.ExerciseEvent, error) {
	query := `SELECT ` + exerciseColumns + `
		FROM exercise_events
		WHERE user_id = $1 AND performed_at >= $2 AND performed_at < $3
		ORDER BY performed_at ASC`

	rows, err := s.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []storage.ExerciseEvent{}
	for rows.Next() {
		var ev storage.ExerciseEvent
		err := rows.Scan(
			&ev.ID,
			&ev.UserID,
			&ev.PerformedAt,
			&ev.Category,
			&ev.ActivityType,
			&ev.MovementType,
			&ev.DurationMinutes,
			&ev.PostMealWalk,
			&ev.Reps,
			&ev.Sets,
			&ev.PullUps,
			&ev.DeadHangSeconds,
			&ev.GripSeconds,
			&ev.StepCount,
			&ev.Source,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (s *ActivityStorage) InsertStepSnapshot(ctx context.Context, snap storage.StepSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO step_snapshots (user_id, recorded_at, steps) VALUES ($1, $2, $3)`,
		snap.UserID, snap.RecordedAt, snap.Steps,
	)
	return err
}

func (s *ActivityStorage) MinStepsBetween(ctx context.Context, userID string, from, to time.Time) (int, bool, error) {
	var minSteps *int
	err := s.pool.QueryRow(ctx, `
		SELECT MIN(steps) FROM step_snapshots
		WHERE user_id = $1 AND recorded_at >= $2 AND recorded_at < $3
	`, userID, from, to).Scan(&minSteps)
	if err != nil {
		return 0, false, err
	}
	if minSteps == nil {
		return 0, false, nil
	}
	return *minSteps, true, nil
}

func (s *ActivityStorage) InsertVitals(ctx context.Context, v storage.VitalsSnapshot) (storage.VitalsSnapshot, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO vitals_snapshots (id, user_id, recorded_at, weight_kg, waist_cm, hdl, resting_hr, sleep_hours, fasting_glucose, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, v.ID, v.UserID, v.RecordedAt, v.WeightKg, v.WaistCm, v.HDL, v.RestingHR, v.SleepHours, v.FastingGlucose, v.CreatedAt)
	if err != nil {
		return storage.VitalsSnapshot{}, err
	}
	return v, nil
}

func (s *ActivityStorage) ListVitals(ctx context.Context, userID string, from, to time.Time) ([]storage.VitalsSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, recorded_at, weight_kg, waist_cm, hdl, resting_hr, sleep_hours, fasting_glucose, created_at
		FROM vitals_snapshots
		WHERE user_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at ASC
	`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []storage.VitalsSnapshot{}
	for rows.Next() {
		var v storage.VitalsSnapshot
		if err := rows.Scan(&v.ID, &v.UserID, &v.RecordedAt, &v.WeightKg, &v.WaistCm, &v.HDL, &v.RestingHR, &v.SleepHours, &v.FastingGlucose, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *ActivityStorage) UpsertHabitCheckin(ctx context.Context, c storage.HabitCheckin) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO habit_checkins (user_id, day, code, success)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (user_id, day, code) DO UPDATE SET success = EXCLUDED.success
	`, c.UserID, c.Date, c.Code, c.Success)
	return err
}

func (s *ActivityStorage) ListHabitCheckins(ctx context.Context, userID, from, to string) ([]storage.HabitCheckin, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, day::text, code, success
		FROM habit_checkins
		WHERE user_id = $1 AND day >= $2::date AND day <= $3::date
		ORDER BY day ASC, code ASC
	`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []storage.HabitCheckin{}
	for rows.Next() {
		var c storage.HabitCheckin
		if err := rows.Scan(&c.UserID, &c.Date, &c.Code, &c.Success); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
