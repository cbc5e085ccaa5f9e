package postgres

import (
	"context"
	"strings"

	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogStorage: справочник продуктов, стартовые строки кладёт миграция
type CatalogStorage struct {
	pool *pgxpool.Pool
}

func (s *CatalogStorage) ListFoodItems(ctx context.Context) ([]storage.FoodItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, food_group, protein_g, carbs_g, fats_g, sugar_g, fiber_g, hidden_oil_tsp, healthy_fat_score, staple_units
		FROM food_items
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []storage.FoodItem{}
	for rows.Next() {
		var it storage.FoodItem
		err := rows.Scan(
			&it.Name,
			&it.FoodGroup,
			&it.Macros.ProteinG,
			&it.Macros.CarbsG,
			&it.Macros.FatsG,
			&it.Macros.SugarG,
			&it.Macros.FiberG,
			&it.Macros.HiddenOilTsp,
			&it.HealthyFatScore,
			&it.StapleUnits,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	return result, rows.Err()
}

func (s *CatalogStorage) UpsertFoodItem(ctx context.Context, item storage.FoodItem) error {
	item.Name = strings.ToLower(strings.TrimSpace(item.Name))
	_, err := s.pool.Exec(ctx, `
		INSERT INTO food_items (name, food_group, protein_g, carbs_g, fats_g, sugar_g, fiber_g, hidden_oil_tsp, healthy_fat_score, staple_units)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (name) DO UPDATE SET
			food_group = EXCLUDED.food_group,
			protein_g = EXCLUDED.protein_g,
			carbs_g = EXCLUDED.carbs_g,
			fats_g = EXCLUDED.fats_g,
			sugar_g = EXCLUDED.sugar_g,
			fiber_g = EXCLUDED.fiber_g,
			hidden_oil_tsp = EXCLUDED.hidden_oil_tsp,
			healthy_fat_score = EXCLUDED.healthy_fat_score,
			staple_units = EXCLUDED.staple_units
	`,
		item.Name,
		item.FoodGroup,
		item.Macros.ProteinG,
		item.Macros.CarbsG,
		item.Macros.FatsG,
		item.Macros.SugarG,
		item.Macros.FiberG,
		item.Macros.HiddenOilTsp,
		item.HealthyFatScore,
		item.StapleUnits,
	)
	return err
}
