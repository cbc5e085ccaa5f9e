package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AgentStorage: AgentState и рекомендации агента
type AgentStorage struct {
	pool *pgxpool.Pool
}

const stateColumns = `
	user_id, last_daily_scan, last_weekly_scan, last_monthly_review, carb_ceiling, protein_target,
	fruit_allowance_current, fruit_allowance_weekly, notes, version, created_at, updated_at`

const recommendationColumns = `
	id, user_id, cadence, type, title, summary, confidence, data_used,
	threshold_triggered, historical_comparison, narrative, status, created_at, decided_at`

func scanState(row pgx.Row) (storage.AgentState, error) {
	var st storage.AgentState
	err := row.Scan(
		&st.UserID,
		&st.LastDailyScan,
		&st.LastWeeklyScan,
		&st.LastMonthlyReview,
		&st.CarbCeiling,
		&st.ProteinTarget,
		&st.FruitAllowanceCurrent,
		&st.FruitAllowanceWeekly,
		&st.Notes,
		&st.Version,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	return st, err
}

func scanRecommendation(row pgx.Row) (storage.PendingRecommendation, error) {
	var r storage.PendingRecommendation
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.Cadence,
		&r.Type,
		&r.Title,
		&r.Summary,
		&r.Confidence,
		&r.DataUsed,
		&r.ThresholdTriggered,
		&r.HistoricalComparison,
		&r.Narrative,
		&r.Status,
		&r.CreatedAt,
		&r.DecidedAt,
	)
	return r, err
}

func (s *AgentStorage) GetAgentState(ctx context.Context, userID string) (storage.AgentState, bool, error) {
	st, err := scanState(s.pool.QueryRow(ctx, `SELECT `+stateColumns+` FROM agent_states WHERE user_id = $1`, userID))
	if notFound(err) {
		return storage.AgentState{}, false, nil
	}
	if err != nil {
		return storage.AgentState{}, false, err
	}
	return st, true, nil
}

func (s *AgentStorage) CreateAgentState(ctx context.Context, state storage.AgentState) (storage.AgentState, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_states (`+stateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $10)
		ON CONFLICT (user_id) DO NOTHING
	`,
		state.UserID,
		state.LastDailyScan,
		state.LastWeeklyScan,
		state.LastMonthlyReview,
		state.CarbCeiling,
		state.ProteinTarget,
		state.FruitAllowanceCurrent,
		state.FruitAllowanceWeekly,
		state.Notes,
		now,
	)
	if err != nil {
		return storage.AgentState{}, err
	}
	return scanState(s.pool.QueryRow(ctx, `SELECT `+stateColumns+` FROM agent_states WHERE user_id = $1`, state.UserID))
}

// CommitScan: проверка версии под FOR UPDATE, вставка рекомендаций и новое состояние в одной транзакции
func (s *AgentStorage) CommitScan(ctx context.Context, commit storage.ScanCommit) (storage.AgentState, []storage.PendingRecommendation, error) {
	state := commit.State
	var (
		saved []storage.PendingRecommendation
		out   storage.AgentState
	)

	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		var current int64
		err := tx.QueryRow(ctx, `SELECT version FROM agent_states WHERE user_id = $1 FOR UPDATE`, state.UserID).Scan(&current)
		if notFound(err) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		if current != state.Version {
			return storage.ErrConflict
		}

		now := time.Now().UTC()
		saved = make([]storage.PendingRecommendation, 0, len(commit.Recommendations))
		batch := &pgx.Batch{}
		for _, rec := range commit.Recommendations {
			rec.UserID = state.UserID
			if rec.ID == uuid.Nil {
				rec.ID = uuid.New()
			}
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = now
			}
			rec.Status = storage.StatusPending
			rec.DecidedAt = nil

			batch.Queue(`
				INSERT INTO pending_recommendations (`+recommendationColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			`,
				rec.ID,
				rec.UserID,
				rec.Cadence,
				rec.Type,
				rec.Title,
				rec.Summary,
				rec.Confidence,
				jsonOrNil(rec.DataUsed),
				rec.ThresholdTriggered,
				rec.HistoricalComparison,
				rec.Narrative,
				rec.Status,
				rec.CreatedAt,
				rec.DecidedAt,
			)
			saved = append(saved, rec)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return err
			}
		}

		out, err = scanState(tx.QueryRow(ctx, `
			UPDATE agent_states SET
				last_daily_scan = $2,
				last_weekly_scan = $3,
				last_monthly_review = $4,
				carb_ceiling = $5,
				protein_target = $6,
				fruit_allowance_current = $7,
				fruit_allowance_weekly = $8,
				notes = $9,
				version = version + 1,
				updated_at = $10
			WHERE user_id = $1
			RETURNING `+stateColumns,
			state.UserID,
			state.LastDailyScan,
			state.LastWeeklyScan,
			state.LastMonthlyReview,
			state.CarbCeiling,
			state.ProteinTarget,
			state.FruitAllowanceCurrent,
			state.FruitAllowanceWeekly,
			state.Notes,
			now,
		))
		return err
	})
	if err != nil {
		return storage.AgentState{}, nil, err
	}
	return out, saved, nil
}

func (s *AgentStorage) GetRecommendation(ctx context.Context, userID string, id uuid.UUID) (storage.PendingRecommendation, bool, error) {
	rec, err := scanRecommendation(s.pool.QueryRow(ctx,
		`SELECT `+recommendationColumns+` FROM pending_recommendations WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if notFound(err) {
		return storage.PendingRecommendation{}, false, nil
	}
	if err != nil {
		return storage.PendingRecommendation{}, false, err
	}
	return rec, true, nil
}

func (s *AgentStorage) ListRecommendations(ctx context.Context, userID, status string, limit int) ([]storage.PendingRecommendation, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + recommendationColumns + `
		FROM pending_recommendations
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, userID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []storage.PendingRecommendation{}
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// DecideRecommendation: условный UPDATE: повторное решение получает ErrNotPending
func (s *AgentStorage) DecideRecommendation(ctx context.Context, userID string, id uuid.UUID, status string, decidedAt time.Time) (storage.PendingRecommendation, error) {
	rec, err := scanRecommendation(s.pool.QueryRow(ctx, `
		UPDATE pending_recommendations SET status = $3, decided_at = $4
		WHERE id = $1 AND user_id = $2 AND status = 'PENDING'
		RETURNING `+recommendationColumns,
		id, userID, status, decidedAt.UTC(),
	))
	if err == nil {
		return rec, nil
	}
	if !notFound(err) {
		return storage.PendingRecommendation{}, err
	}

	_, exists, err := s.GetRecommendation(ctx, userID, id)
	if err != nil {
		return storage.PendingRecommendation{}, err
	}
	if !exists {
		return storage.PendingRecommendation{}, storage.ErrNotFound
	}
	return storage.PendingRecommendation{}, storage.ErrNotPending
}

// jsonOrNil превращает пустой payload в NULL для jsonb
func jsonOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
