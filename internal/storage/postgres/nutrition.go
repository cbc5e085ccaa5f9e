package postgres

import (
	"context"
	"math"
	"time"

	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NutritionStorage: дневные агрегаты, приёмы пищи и снимки оценок
type NutritionStorage struct {
	pool *pgxpool.Pool
}

const aggregateColumns = `
	id, user_id, day::text, protein_g, carbs_g, fats_g, sugar_g, fiber_g, hidden_oil_tsp,
	water_ml, dinner_mode, dinner_carbs_g, dinner_protein_g, dinner_logged_at, created_at, updated_at`

const mealColumns = `
	id, aggregate_id, user_id, consumed_at, name, food_group,
	protein_g, carbs_g, fats_g, sugar_g, fiber_g, hidden_oil_tsp,
	healthy_fat_score, staple_units, source, photo_confidence,
	is_dinner, dinner_mode, fasting_violation, created_at`

const scoreColumns = `id, aggregate_id, user_id, day::text, score, raw_score, reason, calculated_at`

func scanAggregate(row pgx.Row) (storage.DailyAggregate, error) {
	var (
		agg           storage.DailyAggregate
		dinnerMode    *string
		dinnerCarbs   *float64
		dinnerProtein *float64
		dinnerAt      *time.Time
	)
	err := row.Scan(
		&agg.ID,
		&agg.UserID,
		&agg.Date,
		&agg.Totals.ProteinG,
		&agg.Totals.CarbsG,
		&agg.Totals.FatsG,
		&agg.Totals.SugarG,
		&agg.Totals.FiberG,
		&agg.Totals.HiddenOilTsp,
		&agg.WaterMl,
		&dinnerMode,
		&dinnerCarbs,
		&dinnerProtein,
		&dinnerAt,
		&agg.CreatedAt,
		&agg.UpdatedAt,
	)
	if err != nil {
		return storage.DailyAggregate{}, err
	}
	if dinnerAt != nil {
		agg.Dinner = &storage.DinnerRecord{LoggedAt: *dinnerAt}
		if dinnerMode != nil {
			agg.Dinner.Mode = *dinnerMode
		}
		if dinnerCarbs != nil {
			agg.Dinner.CarbsG = *dinnerCarbs
		}
		if dinnerProtein != nil {
			agg.Dinner.ProteinG = *dinnerProtein
		}
	}
	return agg, nil
}

func scanMeal(row pgx.Row) (storage.MealEntry, error) {
	var m storage.MealEntry
	err := row.Scan(
		&m.ID,
		&m.AggregateID,
		&m.UserID,
		&m.ConsumedAt,
		&m.Name,
		&m.FoodGroup,
		&m.Macros.ProteinG,
		&m.Macros.CarbsG,
		&m.Macros.FatsG,
		&m.Macros.SugarG,
		&m.Macros.FiberG,
		&m.Macros.HiddenOilTsp,
		&m.HealthyFatScore,
		&m.StapleUnits,
		&m.Source,
		&m.PhotoConfidence,
		&m.IsDinner,
		&m.DinnerMode,
		&m.FastingViolation,
		&m.CreatedAt,
	)
	return m, err
}

func scanScore(row pgx.Row) (storage.InsulinScoreRecord, error) {
	var r storage.InsulinScoreRecord
	err := row.Scan(&r.ID, &r.AggregateID, &r.UserID, &r.Date, &r.Score, &r.RawScore, &r.Reason, &r.CalculatedAt)
	return r, err
}

// getOrCreateAggregate создаёт строку дня, если её нет; forUpdate блокирует её до конца транзакции
func getOrCreateAggregate(ctx context.Context, q querier, userID, date string, forUpdate bool) (storage.DailyAggregate, error) {
	now := time.Now().UTC()
	_, err := q.Exec(ctx, `
		INSERT INTO daily_aggregates (id, user_id, day, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, $4)
		ON CONFLICT (user_id, day) DO NOTHING
	`, uuid.New(), userID, date, now)
	if err != nil {
		return storage.DailyAggregate{}, err
	}

	query := `SELECT ` + aggregateColumns + ` FROM daily_aggregates WHERE user_id = $1 AND day = $2::date`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanAggregate(q.QueryRow(ctx, query, userID, date))
}

func (s *NutritionStorage) GetOrCreateDailyAggregate(ctx context.Context, userID, date string) (storage.DailyAggregate, error) {
	return getOrCreateAggregate(ctx, s.pool, userID, date, false)
}

func (s *NutritionStorage) GetDailyAggregate(ctx context.Context, userID, date string) (storage.DailyAggregate, bool, error) {
	query := `SELECT ` + aggregateColumns + ` FROM daily_aggregates WHERE user_id = $1 AND day = $2::date`

	agg, err := scanAggregate(s.pool.QueryRow(ctx, query, userID, date))
	if notFound(err) {
		return storage.DailyAggregate{}, false, nil
	}
	if err != nil {
		return storage.DailyAggregate{}, false, err
	}
	return agg, true, nil
}

func (s *NutritionStorage) ListDailyAggregates(ctx context.Context, userID, from, to string) ([]storage.DailyAggregate, error) {
	query := `SELECT ` + aggregateColumns + `
		FROM daily_aggregates
		WHERE user_id = $1 AND day >= $2::date AND day <= $3::date
		ORDER BY day ASC`

	rows, err := s.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []storage.DailyAggregate{}
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, agg)
	}
	return result, rows.Err()
}

// AddMeal пишет приём пищи и суммы агрегата в одной транзакции
func (s *NutritionStorage) AddMeal(ctx context.Context, date string, meal storage.MealEntry) (storage.DailyAggregate, storage.MealEntry, error) {
	var agg storage.DailyAggregate

	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := getOrCreateAggregate(ctx, tx, meal.UserID, date, true)
		if err != nil {
			return err
		}

		if meal.ID == uuid.Nil {
			meal.ID = uuid.New()
		}
		meal.AggregateID = current.ID
		meal.CreatedAt = time.Now().UTC()
		if meal.FoodGroup == "" {
			meal.FoodGroup = "other"
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO meal_entries (`+mealColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		`,
			meal.ID,
			meal.AggregateID,
			meal.UserID,
			meal.ConsumedAt,
			meal.Name,
			meal.FoodGroup,
			meal.Macros.ProteinG,
			meal.Macros.CarbsG,
			meal.Macros.FatsG,
			meal.Macros.SugarG,
			meal.Macros.FiberG,
			meal.Macros.HiddenOilTsp,
			meal.HealthyFatScore,
			meal.StapleUnits,
			meal.Source,
			meal.PhotoConfidence,
			meal.IsDinner,
			meal.DinnerMode,
			meal.FastingViolation,
			meal.CreatedAt,
		)
		if err != nil {
			return err
		}

		m := meal.Macros
		var dinnerMode *string
		if meal.DinnerMode != "" {
			dinnerMode = &meal.DinnerMode
		}
		agg, err = scanAggregate(tx.QueryRow(ctx, `
			UPDATE daily_aggregates SET
				protein_g = protein_g + $2,
				carbs_g = carbs_g + $3,
				fats_g = fats_g + $4,
				sugar_g = sugar_g + $5,
				fiber_g = fiber_g + $6,
				hidden_oil_tsp = hidden_oil_tsp + $7,
				dinner_carbs_g = CASE WHEN $8 THEN COALESCE(dinner_carbs_g, 0) + $3 ELSE dinner_carbs_g END,
				dinner_protein_g = CASE WHEN $8 THEN COALESCE(dinner_protein_g, 0) + $2 ELSE dinner_protein_g END,
				dinner_logged_at = CASE WHEN $8 THEN $9 ELSE dinner_logged_at END,
				dinner_mode = CASE WHEN $8 AND $10::text IS NOT NULL THEN $10 ELSE dinner_mode END,
				updated_at = $11
			WHERE id = $1
			RETURNING `+aggregateColumns,
			current.ID,
			nonNegative(m.ProteinG),
			nonNegative(m.CarbsG),
			nonNegative(m.FatsG),
			nonNegative(m.SugarG),
			nonNegative(m.FiberG),
			nonNegative(m.HiddenOilTsp),
			meal.IsDinner,
			meal.ConsumedAt,
			dinnerMode,
			meal.CreatedAt,
		))
		return err
	})
	if err != nil {
		return storage.DailyAggregate{}, storage.MealEntry{}, err
	}
	return agg, meal, nil
}

func (s *NutritionStorage) ListMeals(ctx context.Context, userID string, from, to time.Time) ([]storage.MealEntry, error) {
	query := `SELECT ` + mealColumns + `
		FROM meal_entries
		WHERE user_id = $1 AND consumed_at >= $2 AND consumed_at < $3
		ORDER BY consumed_at ASC`

	rows, err := s.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []storage.MealEntry{}
	for rows.Next() {
		m, err := scanMeal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *NutritionStorage) AddWater(ctx context.Context, userID, date string, ml int) (storage.DailyAggregate, error) {
	var agg storage.DailyAggregate
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := getOrCreateAggregate(ctx, tx, userID, date, true)
		if err != nil {
			return err
		}
		agg, err = scanAggregate(tx.QueryRow(ctx, `
			UPDATE daily_aggregates SET water_ml = water_ml + $2, updated_at = $3
			WHERE id = $1
			RETURNING `+aggregateColumns,
			current.ID, max(ml, 0), time.Now().UTC(),
		))
		return err
	})
	return agg, err
}

// ApplyCorrection: единственный путь уменьшения сумм, GREATEST держит их неотрицательными
func (s *NutritionStorage) ApplyCorrection(ctx context.Context, userID, date string, delta storage.MacroTotals) (storage.DailyAggregate, error) {
	var agg storage.DailyAggregate
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := getOrCreateAggregate(ctx, tx, userID, date, true)
		if err != nil {
			return err
		}
		agg, err = scanAggregate(tx.QueryRow(ctx, `
			UPDATE daily_aggregates SET
				protein_g = GREATEST(0, protein_g - $2),
				carbs_g = GREATEST(0, carbs_g - $3),
				fats_g = GREATEST(0, fats_g - $4),
				sugar_g = GREATEST(0, sugar_g - $5),
				fiber_g = GREATEST(0, fiber_g - $6),
				hidden_oil_tsp = GREATEST(0, hidden_oil_tsp - $7),
				updated_at = $8
			WHERE id = $1
			RETURNING `+aggregateColumns,
			current.ID,
			delta.ProteinG,
			delta.CarbsG,
			delta.FatsG,
			delta.SugarG,
			delta.FiberG,
			delta.HiddenOilTsp,
			time.Now().UTC(),
		))
		return err
	})
	return agg, err
}

func (s *NutritionStorage) AppendInsulinScore(ctx context.Context, rec storage.InsulinScoreRecord) (storage.InsulinScoreRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CalculatedAt.IsZero() {
		rec.CalculatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO insulin_scores (id, aggregate_id, user_id, day, score, raw_score, reason, calculated_at)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8)
	`, rec.ID, rec.AggregateID, rec.UserID, rec.Date, rec.Score, rec.RawScore, rec.Reason, rec.CalculatedAt)
	if err != nil {
		return storage.InsulinScoreRecord{}, err
	}
	return rec, nil
}

func (s *NutritionStorage) LatestInsulinScore(ctx context.Context, aggregateID uuid.UUID) (storage.InsulinScoreRecord, bool, error) {
	query := `SELECT ` + scoreColumns + `
		FROM insulin_scores
		WHERE aggregate_id = $1
		ORDER BY calculated_at DESC
		LIMIT 1`

	rec, err := scanScore(s.pool.QueryRow(ctx, query, aggregateID))
	if notFound(err) {
		return storage.InsulinScoreRecord{}, false, nil
	}
	if err != nil {
		return storage.InsulinScoreRecord{}, false, err
	}
	return rec, true, nil
}

func (s *NutritionStorage) ListAggregateScores(ctx context.Context, aggregateID uuid.UUID) ([]storage.InsulinScoreRecord, error) {
	query := `SELECT ` + scoreColumns + ` FROM insulin_scores WHERE aggregate_id = $1 ORDER BY calculated_at ASC`
	return s.listScores(ctx, query, aggregateID)
}

func (s *NutritionStorage) ListInsulinScores(ctx context.Context, userID, from, to string) ([]storage.InsulinScoreRecord, error) {
	query := `SELECT ` + scoreColumns + `
		FROM insulin_scores
		WHERE user_id = $1 AND day >= $2::date AND day <= $3::date
		ORDER BY calculated_at ASC`
	return s.listScores(ctx, query, userID, from, to)
}

func (s *NutritionStorage) listScores(ctx context.Context, query string, args ...any) ([]storage.InsulinScoreRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []storage.InsulinScoreRecord{}
	for rows.Next() {
		rec, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func nonNegative(v float64) float64 {
	return math.Max(0, v)
}
