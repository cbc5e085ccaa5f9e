package movement

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fdg312/metabolic-hub/internal/compliance"
	"github.com/fdg312/metabolic-hub/internal/daywindow"
	"github.com/fdg312/metabolic-hub/internal/exercise"
	"github.com/fdg312/metabolic-hub/internal/insulin"
	"github.com/fdg312/metabolic-hub/internal/notify"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/fdg312/metabolic-hub/internal/userlock"
	"go.uber.org/zap"
)

const (
	AlertPostMealWalk          = "post_meal_walk"
	AlertPostMealEscalation    = "post_meal_escalation"
	AlertHighInsulin           = "high_insulin"
	AlertHighInsulinEscalation = "high_insulin_escalation"
	AlertInactivityReset       = "inactivity_reset"

	HighInsulinThreshold = 70.0
	PenaltyCarbThreshold = 30.0
	MissedWalkPenalty    = 10.0
	StepSurgeThreshold   = 1500
	StepSurgeBonus       = 8.0

	escalationAfter  = time.Hour
	inactivityWindow = 3 * time.Hour

	penaltyReasonPrefix = "missed_walk_penalty:"
)

// awake hours for inactivity nudges, inclusive
var awakeWindow = daywindow.New(7*60, 22*60)

type Store interface {
	storage.AggregatesStorage
	storage.ScoresStorage
	storage.ExerciseStorage
	storage.StepsStorage
	storage.ProfilesStorage
	storage.NotificationSettingsStorage
	storage.AlertLedgerStorage
}

type Options struct {
	// MealLookback bounds which meals still get reminders.
	MealLookback time.Duration
}

type Engine struct {
	store      Store
	locks      *userlock.Locker
	dispatcher *notify.Dispatcher
	lookback   time.Duration
	logger     *zap.Logger
}

func NewEngine(store Store, locks *userlock.Locker, dispatcher *notify.Dispatcher, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MealLookback <= escalationAfter {
		opts.MealLookback = 2 * time.Hour
	}
	return &Engine{
		store:      store,
		locks:      locks,
		dispatcher: dispatcher,
		lookback:   opts.MealLookback,
		logger:     logger,
	}
}

type AlertOutcome struct {
	Type      string
	DedupeKey string
	Result    notify.DeliveryResult
}

type Evaluation struct {
	Alerts           []AlertOutcome
	PenaltiesApplied int
}

// Sent counts delivered alerts.
func (e Evaluation) Sent() int {
	n := 0
	for _, a := range e.Alerts {
		if a.Result.Sent() {
			n++
		}
	}
	return n
}

// EvaluateMovementAlerts decides which alerts are due and applies missed-walk
// penalties under the user's lock, then dispatches after releasing it.
func (e *Engine) EvaluateMovementAlerts(ctx context.Context, userID string, now time.Time) (Evaluation, error) {
	var (
		candidates []notify.Alert
		penalties  int
		loc        *time.Location
	)
	err := e.locks.Do(ctx, userID, func(ctx context.Context) error {
		var err error
		candidates, penalties, loc, err = e.collect(ctx, userID, now)
		return err
	})
	if err != nil {
		return Evaluation{}, err
	}

	eval := Evaluation{PenaltiesApplied: penalties}
	for _, c := range candidates {
		res, err := e.dispatcher.Dispatch(ctx, c, now, loc)
		if err != nil {
			e.logger.Warn("movement alert dispatch failed",
				zap.String("user_id", userID),
				zap.String("alert_type", c.Type),
				zap.Error(err),
			)
			if res.Status == "" {
				res = notify.DeliveryResult{Status: notify.StatusSkipped, Reason: "store_error"}
			}
		}
		eval.Alerts = append(eval.Alerts, AlertOutcome{Type: c.Type, DedupeKey: c.DedupeKey, Result: res})
	}
	return eval, nil
}

func (e *Engine) collect(ctx context.Context, userID string, now time.Time) ([]notify.Alert, int, *time.Location, error) {
	profile, err := compliance.EnsureProfile(ctx, e.store, userID)
	if err != nil {
		return nil, 0, nil, err
	}
	loc := profile.Location()
	settings, err := notify.LoadSettings(ctx, e.store, e.dispatcher.Defaults(), userID)
	if err != nil {
		return nil, 0, nil, err
	}
	delay := time.Duration(settings.MovementReminderDelayMinutes) * time.Minute

	until := now.Add(time.Nanosecond)
	meals, err := e.store.ListMeals(ctx, userID, now.Add(-e.lookback), until)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("list meals: %w", err)
	}
	events, err := e.store.ListExerciseEvents(ctx, userID, now.Add(-e.lookback-inactivityWindow), until)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("list exercise: %w", err)
	}

	var out []notify.Alert
	penalties := 0

	for _, meal := range meals {
		elapsed := now.Sub(meal.ConsumedAt)
		if elapsed < delay || exercise.WalkAfter(events, meal.ConsumedAt) {
			continue
		}
		mealID := meal.ID.String()
		meta := map[string]any{"meal_entry_id": mealID}

		if c, ok, err := e.due(ctx, userID, AlertPostMealWalk+":"+mealID, notify.Alert{
			Type:     AlertPostMealWalk,
			Category: notify.CategoryMovement,
			Title:    "Movement Reminder",
			Body:     "20 min walk now improves insulin control.",
			Metadata: meta,
		}); err != nil {
			return nil, 0, nil, err
		} else if ok {
			out = append(out, c)
		}

		if elapsed < escalationAfter {
			continue
		}
		if c, ok, err := e.due(ctx, userID, AlertPostMealEscalation+":"+mealID, notify.Alert{
			Type:     AlertPostMealEscalation,
			Category: notify.CategoryMovement,
			Title:    "Movement Follow-up",
			Body:     "Walking would have reduced impact.",
			Metadata: map[string]any{"meal_entry_id": mealID, "penalty": MissedWalkPenalty},
		}); err != nil {
			return nil, 0, nil, err
		} else if ok {
			out = append(out, c)
		}

		applied, err := e.applyMissedWalkPenalty(ctx, meal, now)
		if err != nil {
			return nil, 0, nil, err
		}
		if applied {
			penalties++
		}
	}

	today := compliance.LocalDate(now, loc)
	latest, anchor, ok, err := e.highInsulinSnapshot(ctx, userID, today)
	if err != nil {
		return nil, 0, nil, err
	}
	if ok {
		snapID := anchor.ID.String()
		if c, due, err := e.due(ctx, userID, AlertHighInsulin+":"+snapID, notify.Alert{
			Type:     AlertHighInsulin,
			Category: notify.CategoryInsulin,
			Title:    "Metabolic Alert",
			Body:     "High insulin load detected. Walk recommended within 30 minutes.",
			Metadata: map[string]any{"insulin_load_score": latest.Score, "snapshot_id": snapID},
		}); err != nil {
			return nil, 0, nil, err
		} else if due {
			out = append(out, c)
		}

		if now.Sub(anchor.CalculatedAt) >= escalationAfter {
			walked, err := e.walkedAfter(ctx, userID, anchor.CalculatedAt)
			if err != nil {
				return nil, 0, nil, err
			}
			if !walked {
				if c, due, err := e.due(ctx, userID, AlertHighInsulinEscalation+":"+snapID, notify.Alert{
					Type:     AlertHighInsulinEscalation,
					Category: notify.CategoryInsulin,
					Title:    "Gentle Reminder",
					Body:     "A short walk still helps. Try 5 to 20 minutes now.",
					Metadata: map[string]any{"insulin_load_score": latest.Score, "snapshot_id": snapID},
				}); err != nil {
					return nil, 0, nil, err
				} else if due {
					out = append(out, c)
				}
			}
		}
	}

	local := now.In(loc)
	if awakeWindow.Contains(local) && !movedSince(events, now.Add(-inactivityWindow), now) {
		key := AlertInactivityReset + ":" + today + ":" + strconv.Itoa(local.Hour()/3)
		if c, due, err := e.due(ctx, userID, key, notify.Alert{
			Type:     AlertInactivityReset,
			Category: notify.CategoryInactivity,
			Title:    "Movement Reset",
			Body:     "Movement reset: 5 minute walk.",
		}); err != nil {
			return nil, 0, nil, err
		} else if due {
			out = append(out, c)
		}
	}

	return out, penalties, loc, nil
}

// due returns the alert unless its key is already in the ledger.
func (e *Engine) due(ctx context.Context, userID, key string, alert notify.Alert) (notify.Alert, bool, error) {
	seen, err := e.store.HasAlert(ctx, userID, key)
	if err != nil {
		return notify.Alert{}, false, fmt.Errorf("check alert ledger: %w", err)
	}
	if seen {
		return notify.Alert{}, false, nil
	}
	alert.UserID = userID
	alert.DedupeKey = key
	return alert, true, nil
}

// applyMissedWalkPenalty appends latest+10 for a high-carb meal once.
func (e *Engine) applyMissedWalkPenalty(ctx context.Context, meal storage.MealEntry, now time.Time) (bool, error) {
	if meal.Macros.CarbsG < PenaltyCarbThreshold {
		return false, nil
	}
	reason := penaltyReasonPrefix + meal.ID.String()
	scores, err := e.store.ListAggregateScores(ctx, meal.AggregateID)
	if err != nil {
		return false, fmt.Errorf("list aggregate scores: %w", err)
	}
	if len(scores) == 0 {
		return false, nil
	}
	for _, s := range scores {
		if s.Reason == reason {
			return false, nil
		}
	}
	latest, _, err := e.store.LatestInsulinScore(ctx, meal.AggregateID)
	if err != nil {
		return false, fmt.Errorf("latest insulin score: %w", err)
	}

	if _, err := e.store.AppendInsulinScore(ctx, storage.InsulinScoreRecord{
		AggregateID:  meal.AggregateID,
		UserID:       meal.UserID,
		Date:         latest.Date,
		Score:        insulin.Clamp(latest.Score + MissedWalkPenalty),
		RawScore:     insulin.Round2(latest.RawScore + MissedWalkPenalty),
		Reason:       reason,
		CalculatedAt: snapshotStamp(latest, now),
	}); err != nil {
		return false, fmt.Errorf("append penalty snapshot: %w", err)
	}
	e.logger.Info("missed walk penalty applied",
		zap.String("user_id", meal.UserID),
		zap.String("meal_id", meal.ID.String()),
		zap.Float64("carbs_g", meal.Macros.CarbsG),
	)
	return true, nil
}

// highInsulinSnapshot returns the day's latest snapshot when it is above
// HighInsulinThreshold, plus the snapshot that times its escalation. A
// missed-walk penalty is derived from the snapshot it builds on, so the
// anchor skips back past penalties to the last real rescore.
func (e *Engine) highInsulinSnapshot(ctx context.Context, userID, date string) (storage.InsulinScoreRecord, storage.InsulinScoreRecord, bool, error) {
	var none storage.InsulinScoreRecord
	agg, ok, err := e.store.GetDailyAggregate(ctx, userID, date)
	if err != nil || !ok {
		return none, none, false, err
	}
	scores, err := e.store.ListAggregateScores(ctx, agg.ID)
	if err != nil {
		return none, none, false, fmt.Errorf("list aggregate scores: %w", err)
	}
	if len(scores) == 0 {
		return none, none, false, nil
	}
	latest := scores[len(scores)-1]
	if latest.Score <= HighInsulinThreshold {
		return none, none, false, nil
	}
	anchor := latest
	for i := len(scores) - 1; i >= 0; i-- {
		if !strings.HasPrefix(scores[i].Reason, penaltyReasonPrefix) {
			anchor = scores[i]
			break
		}
	}
	return latest, anchor, true, nil
}

// walkedAfter reports whether a walk started within PostMealWindow after at.
func (e *Engine) walkedAfter(ctx context.Context, userID string, at time.Time) (bool, error) {
	events, err := e.store.ListExerciseEvents(ctx, userID, at, at.Add(exercise.PostMealWindow+time.Nanosecond))
	if err != nil {
		return false, fmt.Errorf("list exercise: %w", err)
	}
	return exercise.WalkAfter(events, at), nil
}

// snapshotStamp keeps a derived snapshot newer than the one it builds on.
func snapshotStamp(base storage.InsulinScoreRecord, at time.Time) time.Time {
	at = at.UTC()
	if !at.After(base.CalculatedAt) {
		return base.CalculatedAt.Add(time.Millisecond)
	}
	return at
}

func (e *Engine) latestScore(ctx context.Context, userID, date string) (storage.InsulinScoreRecord, bool, error) {
	agg, ok, err := e.store.GetDailyAggregate(ctx, userID, date)
	if err != nil || !ok {
		return storage.InsulinScoreRecord{}, false, err
	}
	return e.store.LatestInsulinScore(ctx, agg.ID)
}

func movedSince(events []storage.ExerciseEvent, from, to time.Time) bool {
	for _, ev := range events {
		if !ev.PerformedAt.Before(from) && !ev.PerformedAt.After(to) {
			return true
		}
	}
	return false
}
