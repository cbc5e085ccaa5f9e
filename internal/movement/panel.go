package movement

import (
	"context"
	"fmt"
	"time"

	"github.com/fdg312/metabolic-hub/internal/compliance"
	"github.com/fdg312/metabolic-hub/internal/notify"
	"github.com/fdg312/metabolic-hub/internal/storage"
)

const (
	maxStreakDays   = 60
	StreakBadgeDays = 5
	StreakBadge     = "Insulin Control Streak"
)

// WalkStreak counts consecutive local days, ending today, with at least one
// post-meal walk. Today without a walk ends the streak at zero.
func (e *Engine) WalkStreak(ctx context.Context, userID string, now time.Time) (int, error) {
	profile, err := compliance.EnsureProfile(ctx, e.store, userID)
	if err != nil {
		return 0, err
	}
	return e.walkStreak(ctx, userID, now, profile.Location())
}

func (e *Engine) walkStreak(ctx context.Context, userID string, now time.Time, loc *time.Location) (int, error) {
	today, tomorrow, err := compliance.DayBounds(compliance.LocalDate(now, loc), loc)
	if err != nil {
		return 0, err
	}
	from := today.AddDate(0, 0, -(maxStreakDays - 1))
	events, err := e.store.ListExerciseEvents(ctx, userID, from, tomorrow)
	if err != nil {
		return 0, fmt.Errorf("list exercise: %w", err)
	}

	walked := make(map[string]bool)
	for _, ev := range events {
		if ev.PostMealWalk {
			walked[compliance.LocalDate(ev.PerformedAt, loc)] = true
		}
	}

	streak := 0
	for day := today; streak < maxStreakDays; day = day.AddDate(0, 0, -1) {
		if !walked[day.Format(storage.DateLayout)] {
			break
		}
		streak++
	}
	return streak, nil
}

type Panel struct {
	WalkStreak         int      `json:"walk_streak"`
	Badge              string   `json:"badge,omitempty"`
	RecoveryPrompt     string   `json:"recovery_prompt"`
	PostMealWalkStatus string   `json:"post_meal_walk_status"` // done|pending
	AlertsSentToday    int      `json:"alerts_sent_today"`
	AlertsRemaining    int      `json:"alerts_remaining"`
	LatestScore        *float64 `json:"latest_score,omitempty"`
}

func (e *Engine) Panel(ctx context.Context, userID string, now time.Time) (Panel, error) {
	profile, err := compliance.EnsureProfile(ctx, e.store, userID)
	if err != nil {
		return Panel{}, err
	}
	loc := profile.Location()

	streak, err := e.walkStreak(ctx, userID, now, loc)
	if err != nil {
		return Panel{}, err
	}
	settings, err := notify.LoadSettings(ctx, e.store, e.dispatcher.Defaults(), userID)
	if err != nil {
		return Panel{}, err
	}
	sent, err := e.dispatcher.SentToday(ctx, userID, now, loc)
	if err != nil {
		return Panel{}, fmt.Errorf("count alerts: %w", err)
	}

	p := Panel{
		WalkStreak:         streak,
		RecoveryPrompt:     "Resume today.",
		PostMealWalkStatus: "pending",
		AlertsSentToday:    sent,
		AlertsRemaining:    max(0, settings.MaxAlertsPerDay-sent),
	}
	if streak > 0 {
		p.PostMealWalkStatus = "done"
	}
	if streak >= StreakBadgeDays {
		p.Badge = StreakBadge
		p.RecoveryPrompt = "Keep your streak alive."
	}

	latest, ok, err := e.latestScore(ctx, userID, compliance.LocalDate(now, loc))
	if err != nil {
		return Panel{}, err
	}
	if ok {
		score := latest.Score
		p.LatestScore = &score
	}
	return p, nil
}

// UpdateSettings validates and stores notification settings. Sensitivity is
// kept for clients; thresholds do not depend on it.
func (e *Engine) UpdateSettings(ctx context.Context, s storage.NotificationSettings) (storage.NotificationSettings, error) {
	if err := notify.ValidateSettings(&s); err != nil {
		return storage.NotificationSettings{}, err
	}
	saved, err := e.store.UpsertNotificationSettings(ctx, s)
	if err != nil {
		return storage.NotificationSettings{}, fmt.Errorf("save notification settings: %w", err)
	}
	return saved, nil
}
