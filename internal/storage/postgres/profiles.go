package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProfilesStorage struct {
	pool *pgxpool.Pool
}

const profileColumns = `
	user_id, protein_target_min, protein_target_max, carb_ceiling, oil_limit_tsp,
	fasting_start_minutes, fasting_end_minutes, green_threshold, yellow_threshold,
	max_staple_units, time_zone, created_at, updated_at`

// adjustableColumns: белый список колонок для ApplyProfileAdjustment
var adjustableColumns = map[string]string{
	storage.FieldCarbCeiling:      "carb_ceiling",
	storage.FieldProteinTargetMin: "protein_target_min",
	storage.FieldOilLimitTsp:      "oil_limit_tsp",
}

func scanProfile(row pgx.Row) (storage.MetabolicProfile, error) {
	var p storage.MetabolicProfile
	err := row.Scan(
		&p.UserID,
		&p.ProteinTargetMin,
		&p.ProteinTargetMax,
		&p.CarbCeiling,
		&p.OilLimitTsp,
		&p.FastingStartMinutes,
		&p.FastingEndMinutes,
		&p.GreenThreshold,
		&p.YellowThreshold,
		&p.MaxStapleUnits,
		&p.TimeZone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func (s *ProfilesStorage) GetProfile(ctx context.Context, userID string) (storage.MetabolicProfile, bool, error) {
	query := `SELECT ` + profileColumns + ` FROM metabolic_profiles WHERE user_id = $1`

	p, err := scanProfile(s.pool.QueryRow(ctx, query, userID))
	if notFound(err) {
		return storage.MetabolicProfile{}, false, nil
	}
	if err != nil {
		return storage.MetabolicProfile{}, false, err
	}
	return p, true, nil
}

func (s *ProfilesStorage) UpsertProfile(ctx context.Context, profile storage.MetabolicProfile) (storage.MetabolicProfile, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO metabolic_profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			protein_target_min = EXCLUDED.protein_target_min,
			protein_target_max = EXCLUDED.protein_target_max,
			carb_ceiling = EXCLUDED.carb_ceiling,
			oil_limit_tsp = EXCLUDED.oil_limit_tsp,
			fasting_start_minutes = EXCLUDED.fasting_start_minutes,
			fasting_end_minutes = EXCLUDED.fasting_end_minutes,
			green_threshold = EXCLUDED.green_threshold,
			yellow_threshold = EXCLUDED.yellow_threshold,
			max_staple_units = EXCLUDED.max_staple_units,
			time_zone = EXCLUDED.time_zone,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + profileColumns

	return scanProfile(s.pool.QueryRow(ctx, query,
		profile.UserID,
		profile.ProteinTargetMin,
		profile.ProteinTargetMax,
		profile.CarbCeiling,
		profile.OilLimitTsp,
		profile.FastingStartMinutes,
		profile.FastingEndMinutes,
		profile.GreenThreshold,
		profile.YellowThreshold,
		profile.MaxStapleUnits,
		profile.TimeZone,
		now,
	))
}

// ApplyProfileAdjustment: блокировка строки профиля, обновление поля и аудит в одной транзакции
func (s *ProfilesStorage) ApplyProfileAdjustment(ctx context.Context, adj storage.ProfileAdjustment) (storage.MetabolicProfile, error) {
	column, ok := adjustableColumns[adj.Field]
	if !ok {
		return storage.MetabolicProfile{}, fmt.Errorf("unsupported profile field %q", adj.Field)
	}
	if adj.ID == uuid.Nil {
		adj.ID = uuid.New()
	}
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now().UTC()
	}

	var profile storage.MetabolicProfile
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT `+column+` FROM metabolic_profiles WHERE user_id = $1 FOR UPDATE`,
			adj.UserID,
		).Scan(&adj.Before)
		if notFound(err) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}

		profile, err = scanProfile(tx.QueryRow(ctx,
			`UPDATE metabolic_profiles SET `+column+` = $2, updated_at = $3 WHERE user_id = $1 RETURNING `+profileColumns,
			adj.UserID, adj.After, adj.CreatedAt,
		))
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO profile_adjustments (id, user_id, field, before_value, after_value, reason, recommendation_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, adj.ID, adj.UserID, adj.Field, adj.Before, adj.After, adj.Reason, adj.RecommendationID, adj.CreatedAt)
		return err
	})
	if err != nil {
		return storage.MetabolicProfile{}, err
	}
	return profile, nil
}

func (s *ProfilesStorage) ListProfileAdjustments(ctx context.Context, userID string, limit int) ([]storage.ProfileAdjustment, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, user_id, field, before_value, after_value, reason, recommendation_id, created_at
		FROM profile_adjustments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []storage.ProfileAdjustment{}
	for rows.Next() {
		var a storage.ProfileAdjustment
		if err := rows.Scan(&a.ID, &a.UserID, &a.Field, &a.Before, &a.After, &a.Reason, &a.RecommendationID, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
