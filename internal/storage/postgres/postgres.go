package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage: Postgres реализация storage.Store.
// Под-хранилища делят один пул соединений.
type PostgresStorage struct {
	*NutritionStorage
	*ProfilesStorage
	*ActivityStorage
	*AgentStorage
	*AlertsStorage
	*CatalogStorage

	pool *pgxpool.Pool
}

var _ storage.Store = (*PostgresStorage)(nil)

// querier: общее подмножество pgxpool.Pool и pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New открывает пул и проверяет соединение
func New(ctx context.Context, databaseURL string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStorage{
		NutritionStorage: &NutritionStorage{pool: pool},
		ProfilesStorage:  &ProfilesStorage{pool: pool},
		ActivityStorage:  &ActivityStorage{pool: pool},
		AgentStorage:     &AgentStorage{pool: pool},
		AlertsStorage:    &AlertsStorage{pool: pool},
		CatalogStorage:   &CatalogStorage{pool: pool},
		pool:             pool,
	}, nil
}

func (p *PostgresStorage) ListUserIDs(ctx context.Context) ([]string, error) {
	query := `
		SELECT user_id FROM daily_aggregates
		UNION SELECT user_id FROM metabolic_profiles
		UNION SELECT user_id FROM exercise_events
		UNION SELECT user_id FROM vitals_snapshots
		ORDER BY 1
	`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (p *PostgresStorage) Close() error {
	p.pool.Close()
	return nil
}

func inTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, pool, fn)
}

func notFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
