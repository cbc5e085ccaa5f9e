// Package scheduler turns wall-clock ticks into agent and movement jobs.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fdg312/metabolic-hub/internal/agent"
	"github.com/fdg312/metabolic-hub/internal/config"
	"github.com/fdg312/metabolic-hub/internal/movement"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const CadenceMovement = "movement"

type AgentRunner interface {
	RunAll(ctx context.Context, cadence string, now time.Time) (agent.BatchResult, error)
}

type MovementEvaluator interface {
	EvaluateMovementAlerts(ctx context.Context, userID string, now time.Time) (movement.Evaluation, error)
}

// Options mirrors the agent and movement sections of config.Config.
type Options struct {
	DailyHour        int
	WeeklyWeekday    time.Weekday
	MonthlyDay       int
	MovementInterval time.Duration
	Parallelism      int
	Location         *time.Location
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DailyHour:        cfg.Agent.DailyHour,
		WeeklyWeekday:    cfg.Agent.WeeklyWeekday,
		MonthlyDay:       cfg.Agent.MonthlyDay,
		MovementInterval: time.Duration(cfg.Movement.EvalIntervalMinutes) * time.Minute,
		Parallelism:      cfg.Agent.Parallelism,
		Location:         cfg.AgentLocation(),
	}
}

// TickResult reports what a single tick dispatched.
type TickResult struct {
	At       time.Time
	Batches  []agent.BatchResult
	Movement *MovementBatch
}

type MovementBatch struct {
	Users    int
	Sent     int
	Failures map[string]error
}

type Scheduler struct {
	agents   AgentRunner
	movement MovementEvaluator
	users    agent.UserLister
	opts     Options
	logger   *zap.Logger

	mu           sync.Mutex
	lastDaily    string
	lastWeekly   string
	lastMonthly  string
	lastMovement time.Time
}

func New(agents AgentRunner, mv MovementEvaluator, users agent.UserLister, opts Options, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.MonthlyDay <= 0 {
		opts.MonthlyDay = 1
	}
	return &Scheduler{agents: agents, movement: mv, users: users, opts: opts, logger: logger}
}

// Due returns the cadences that should fire at now, in dispatch order.
// It does not mark them as fired.
func (s *Scheduler) Due(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.due(now)
}

func (s *Scheduler) due(now time.Time) []string {
	local := now.In(s.opts.Location)
	var out []string

	if local.Hour() >= s.opts.DailyHour {
		if s.lastDaily != dayKey(local) {
			out = append(out, storage.CadenceDaily)
		}
		if local.Weekday() == s.opts.WeeklyWeekday && s.lastWeekly != weekKey(local) {
			out = append(out, storage.CadenceWeekly)
		}
		if local.Day() == monthlyDay(local, s.opts.MonthlyDay) && s.lastMonthly != monthKey(local) {
			out = append(out, storage.CadenceMonthly)
		}
	}
	if s.movement != nil && s.opts.MovementInterval > 0 {
		if s.lastMovement.IsZero() || now.Sub(s.lastMovement) >= s.opts.MovementInterval {
			out = append(out, CadenceMovement)
		}
	}
	return out
}

func (s *Scheduler) markFired(cadence string, now time.Time) {
	local := now.In(s.opts.Location)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cadence {
	case storage.CadenceDaily:
		s.lastDaily = dayKey(local)
	case storage.CadenceWeekly:
		s.lastWeekly = weekKey(local)
	case storage.CadenceMonthly:
		s.lastMonthly = monthKey(local)
	case CadenceMovement:
		s.lastMovement = now
	}
}

// Tick dispatches every due cadence. A cadence whose batch could not start
// (for example the user list failed) stays due for the next tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	res := TickResult{At: now}
	for _, cadence := range s.Due(now) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if cadence == CadenceMovement {
			mb, err := s.evaluateMovement(ctx, now)
			if err != nil {
				s.logger.Error("movement tick failed", zap.Error(err))
				continue
			}
			res.Movement = &mb
			s.markFired(cadence, now)
			continue
		}

		batch, err := s.agents.RunAll(ctx, cadence, now)
		if err != nil {
			s.logger.Error("agent tick failed", zap.String("cadence", cadence), zap.Error(err))
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			continue
		}
		res.Batches = append(res.Batches, batch)
		s.markFired(cadence, now)
	}
	return res, nil
}

func (s *Scheduler) evaluateMovement(ctx context.Context, now time.Time) (MovementBatch, error) {
	mb := MovementBatch{Failures: make(map[string]error)}
	ids, err := s.users.ListUserIDs(ctx)
	if err != nil {
		return mb, fmt.Errorf("list users: %w", err)
	}
	mb.Users = len(ids)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			ev, err := s.movement.EvaluateMovementAlerts(gctx, id, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				mb.Failures[id] = err
				s.logger.Warn("movement evaluation failed", zap.String("user_id", id), zap.Error(err))
				return nil
			}
			mb.Sent += ev.Sent()
			return nil
		})
	}
	_ = g.Wait()
	return mb, ctx.Err()
}

// Start ticks every interval until ctx is cancelled. The first tick runs
// immediately.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration, clock func() time.Time) error {
	if interval <= 0 {
		interval = time.Minute
	}
	if clock == nil {
		clock = time.Now
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", interval))
	for {
		if _, err := s.Tick(ctx, clock()); err != nil && ctx.Err() == nil {
			s.logger.Error("tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func dayKey(t time.Time) string {
	return t.Format(storage.DateLayout)
}

func weekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}

func monthKey(t time.Time) string {
	return t.Format("2006-01")
}

// monthlyDay clamps the configured day to the last day of t's month.
func monthlyDay(t time.Time, day int) int {
	last := time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if day > last {
		return last
	}
	return day
}
