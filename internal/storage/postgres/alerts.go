package postgres

import (
	"context"
	"time"

	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AlertsStorage: настройки уведомлений и журнал отправок
type AlertsStorage struct {
	pool *pgxpool.Pool
}

const settingsColumns = `
	user_id, push_enabled, email_enabled, desktop_enabled, silent_mode,
	quiet_start_minutes, quiet_end_minutes,
	movement_alerts_enabled, insulin_alerts_enabled, inactivity_alerts_enabled, agent_alerts_enabled,
	movement_reminder_delay_minutes, movement_sensitivity, max_alerts_per_day, email,
	created_at, updated_at`

func (s *AlertsStorage) GetNotificationSettings(ctx context.Context, userID string) (storage.NotificationSettings, bool, error) {
	var st storage.NotificationSettings
	err := s.pool.QueryRow(ctx, `SELECT `+settingsColumns+` FROM notification_settings WHERE user_id = $1`, userID).Scan(
		&st.UserID,
		&st.PushEnabled,
		&st.EmailEnabled,
		&st.DesktopEnabled,
		&st.SilentMode,
		&st.QuietStartMinutes,
		&st.QuietEndMinutes,
		&st.MovementAlertsEnabled,
		&st.InsulinAlertsEnabled,
		&st.InactivityAlertsEnabled,
		&st.AgentAlertsEnabled,
		&st.MovementReminderDelayMinutes,
		&st.MovementSensitivity,
		&st.MaxAlertsPerDay,
		&st.Email,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if notFound(err) {
		return storage.NotificationSettings{}, false, nil
	}
	if err != nil {
		return storage.NotificationSettings{}, false, err
	}
	return st, true, nil
}

func (s *AlertsStorage) UpsertNotificationSettings(ctx context.Context, st storage.NotificationSettings) (storage.NotificationSettings, error) {
	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO notification_settings (`+settingsColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		ON CONFLICT (user_id) DO UPDATE SET
			push_enabled = EXCLUDED.push_enabled,
			email_enabled = EXCLUDED.email_enabled,
			desktop_enabled = EXCLUDED.desktop_enabled,
			silent_mode = EXCLUDED.silent_mode,
			quiet_start_minutes = EXCLUDED.quiet_start_minutes,
			quiet_end_minutes = EXCLUDED.quiet_end_minutes,
			movement_alerts_enabled = EXCLUDED.movement_alerts_enabled,
			insulin_alerts_enabled = EXCLUDED.insulin_alerts_enabled,
			inactivity_alerts_enabled = EXCLUDED.inactivity_alerts_enabled,
			agent_alerts_enabled = EXCLUDED.agent_alerts_enabled,
			movement_reminder_delay_minutes = EXCLUDED.movement_reminder_delay_minutes,
			movement_sensitivity = EXCLUDED.movement_sensitivity,
			max_alerts_per_day = EXCLUDED.max_alerts_per_day,
			email = EXCLUDED.email,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`,
		st.UserID,
		st.PushEnabled,
		st.EmailEnabled,
		st.DesktopEnabled,
		st.SilentMode,
		st.QuietStartMinutes,
		st.QuietEndMinutes,
		st.MovementAlertsEnabled,
		st.InsulinAlertsEnabled,
		st.InactivityAlertsEnabled,
		st.AgentAlertsEnabled,
		st.MovementReminderDelayMinutes,
		st.MovementSensitivity,
		st.MaxAlertsPerDay,
		st.Email,
		now,
	).Scan(&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return storage.NotificationSettings{}, err
	}
	return st, nil
}

func (s *AlertsStorage) AppendAlert(ctx context.Context, ev storage.AlertEvent) (storage.AlertEvent, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_events (id, user_id, alert_type, category, channel, dedupe_key, title, body, metadata, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, ev.ID, ev.UserID, ev.AlertType, ev.Category, ev.Channel, ev.DedupeKey, ev.Title, ev.Body, jsonOrNil(ev.Metadata), ev.SentAt)
	if err != nil {
		return storage.AlertEvent{}, err
	}
	return ev, nil
}

func (s *AlertsStorage) CountAlerts(ctx context.Context, userID string, from, to time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM alert_events
		WHERE user_id = $1 AND sent_at >= $2 AND sent_at < $3
	`, userID, from, to).Scan(&n)
	return n, err
}

func (s *AlertsStorage) ListAlerts(ctx context.Context, userID string, from, to time.Time) ([]storage.AlertEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, alert_type, category, channel, dedupe_key, title, body, metadata, sent_at
		FROM alert_events
		WHERE user_id = $1 AND sent_at >= $2 AND sent_at < $3
		ORDER BY sent_at ASC
	`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []storage.AlertEvent{}
	for rows.Next() {
		var ev storage.AlertEvent
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.AlertType, &ev.Category, &ev.Channel, &ev.DedupeKey, &ev.Title, &ev.Body, &ev.Metadata, &ev.SentAt); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (s *AlertsStorage) HasAlert(ctx context.Context, userID, dedupeKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM alert_events WHERE user_id = $1 AND dedupe_key = $2)`,
		userID, dedupeKey,
	).Scan(&exists)
	return exists, err
}
