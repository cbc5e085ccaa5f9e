package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fdg312/metabolic-hub/internal/ai"
	"github.com/fdg312/metabolic-hub/internal/compliance"
	"github.com/fdg312/metabolic-hub/internal/config"
	"github.com/fdg312/metabolic-hub/internal/notify"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/fdg312/metabolic-hub/internal/userlock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrUnknownCadence = errors.New("unknown agent cadence")

const initialNotes = "Initialized on first agent run."

type Store interface {
	storage.AggregatesStorage
	storage.ScoresStorage
	storage.ProfilesStorage
	storage.ExerciseStorage
	storage.VitalsStorage
	storage.HabitsStorage
	storage.AgentStateStorage
}

// Notifier delivers agent alerts. *notify.Dispatcher satisfies it.
type Notifier interface {
	Dispatch(ctx context.Context, alert notify.Alert, now time.Time, loc *time.Location) (notify.DeliveryResult, error)
}

// Approver accepts a pending recommendation on the user's behalf.
type Approver interface {
	Accept(ctx context.Context, userID string, id uuid.UUID, at time.Time) (storage.PendingRecommendation, error)
}

type Policy struct {
	AutoApplyWeekly  bool
	AutoApplyMonthly bool
	WaistTrendWeeks  int
}

func PolicyFromConfig(cfg config.AgentConfig) Policy {
	return Policy{
		AutoApplyWeekly:  cfg.AutoApplyWeekly,
		AutoApplyMonthly: cfg.AutoApplyMonthly,
		WaistTrendWeeks:  cfg.WaistTrendWeeks,
	}
}

type Job struct {
	UserID  string
	Cadence string
	Now     time.Time
	Force   bool
}

type Result struct {
	UserID          string
	Cadence         string
	Skipped         bool
	State           storage.AgentState
	Recommendations []storage.PendingRecommendation
	AutoApplied     []uuid.UUID

	loc *time.Location
}

type Service struct {
	store    Store
	locks    *userlock.Locker
	policy   Policy
	narrator ai.Narrator
	notifier Notifier
	approver Approver
	logger   *zap.Logger
}

func NewService(store Store, locks *userlock.Locker, policy Policy, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locks == nil {
		locks = userlock.New()
	}
	return &Service{store: store, locks: locks, policy: policy, logger: logger}
}

func (s *Service) WithNarrator(n ai.Narrator) *Service {
	s.narrator = n
	return s
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) WithApprover(a Approver) *Service {
	s.approver = a
	return s
}

func (s *Service) RunDailyScan(ctx context.Context, userID string, now time.Time) (Result, error) {
	return s.Run(ctx, Job{UserID: userID, Cadence: storage.CadenceDaily, Now: now})
}

func (s *Service) RunWeeklyScan(ctx context.Context, userID string, now time.Time) (Result, error) {
	return s.Run(ctx, Job{UserID: userID, Cadence: storage.CadenceWeekly, Now: now})
}

func (s *Service) RunMonthlyReview(ctx context.Context, userID string, now time.Time) (Result, error) {
	return s.Run(ctx, Job{UserID: userID, Cadence: storage.CadenceMonthly, Now: now})
}

// Run executes one cadence for one user. A commit that loses the version
// race is recomputed once from a fresh read.
func (s *Service) Run(ctx context.Context, job Job) (Result, error) {
	switch job.Cadence {
	case storage.CadenceDaily, storage.CadenceWeekly, storage.CadenceMonthly:
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownCadence, job.Cadence)
	}
	if job.Now.IsZero() {
		job.Now = time.Now()
	}

	var (
		res Result
		err error
	)
	for attempt := 1; attempt <= 2; attempt++ {
		res, err = s.runOnce(ctx, job)
		if !errors.Is(err, storage.ErrConflict) {
			break
		}
		s.logger.Warn("agent state changed during scan",
			zap.String("user_id", job.UserID),
			zap.String("cadence", job.Cadence),
			zap.Int("attempt", attempt),
		)
	}
	if err != nil {
		return res, fmt.Errorf("%s scan for %s: %w", job.Cadence, job.UserID, err)
	}
	if res.Skipped {
		return res, nil
	}

	s.logger.Info("agent scan committed",
		zap.String("user_id", job.UserID),
		zap.String("cadence", job.Cadence),
		zap.Int("recommendations", len(res.Recommendations)),
		zap.Int64("version", res.State.Version),
	)
	s.autoApply(ctx, job, &res)
	s.notify(ctx, job, res)
	return res, nil
}

type scanPlan struct {
	commit storage.ScanCommit
	loc    *time.Location
}

func (s *Service) runOnce(ctx context.Context, job Job) (Result, error) {
	res := Result{UserID: job.UserID, Cadence: job.Cadence}

	var plan *scanPlan
	err := s.locks.Do(ctx, job.UserID, func(ctx context.Context) error {
		var err error
		plan, err = s.plan(ctx, job)
		return err
	})
	if err != nil {
		return res, err
	}
	if plan == nil {
		res.Skipped = true
		return res, nil
	}

	s.narrate(ctx, plan.commit.Recommendations)

	state, saved, err := s.store.CommitScan(ctx, plan.commit)
	if err != nil {
		return res, err
	}
	res.State = state
	res.Recommendations = saved
	res.loc = plan.loc
	return res, nil
}

// plan reads everything a scan needs and returns nil when the cadence
// already ran in the current period.
func (s *Service) plan(ctx context.Context, job Job) (*scanPlan, error) {
	profile, err := compliance.EnsureProfile(ctx, s.store, job.UserID)
	if err != nil {
		return nil, err
	}
	state, err := s.ensureState(ctx, profile)
	if err != nil {
		return nil, err
	}
	loc := profile.Location()
	if !job.Force && ranInPeriod(state, job.Cadence, job.Now, loc) {
		s.logger.Debug("agent scan already ran this period",
			zap.String("user_id", job.UserID),
			zap.String("cadence", job.Cadence),
		)
		return nil, nil
	}

	today := localDay(job.Now, loc)
	h, err := loadHistory(ctx, s.store, profile, windowFor(job.Cadence, today))
	if err != nil {
		return nil, err
	}

	ranAt := job.Now.UTC()
	var drafts []draft
	next := state
	switch job.Cadence {
	case storage.CadenceDaily:
		drafts, next = dailyScan(h, state, today)
		next.LastDailyScan = &ranAt
	case storage.CadenceWeekly:
		drafts, next = weeklyScan(h, state, today, s.policy.WaistTrendWeeks)
		next.LastWeeklyScan = &ranAt
	case storage.CadenceMonthly:
		drafts, next, err = monthlyScan(h, state, today)
		if err != nil {
			return nil, err
		}
		next.LastMonthlyReview = &ranAt
	}

	recs := make([]storage.PendingRecommendation, 0, len(drafts))
	for _, d := range drafts {
		rec, err := d.pending(profile.UserID, job.Cadence)
		if err != nil {
			return nil, err
		}
		rec.CreatedAt = ranAt
		recs = append(recs, rec)
	}
	return &scanPlan{
		commit: storage.ScanCommit{State: next, Recommendations: recs},
		loc:    loc,
	}, nil
}

func (s *Service) ensureState(ctx context.Context, profile storage.MetabolicProfile) (storage.AgentState, error) {
	state, ok, err := s.store.GetAgentState(ctx, profile.UserID)
	if err != nil {
		return storage.AgentState{}, fmt.Errorf("get agent state: %w", err)
	}
	if ok {
		return state, nil
	}
	state, err = s.store.CreateAgentState(ctx, storage.AgentState{
		UserID:                profile.UserID,
		CarbCeiling:           profile.CarbCeiling,
		ProteinTarget:         profile.ProteinTargetMin,
		FruitAllowanceCurrent: 1,
		FruitAllowanceWeekly:  7,
		Notes:                 initialNotes,
	})
	if err != nil {
		return storage.AgentState{}, fmt.Errorf("create agent state: %w", err)
	}
	return state, nil
}

func windowFor(cadence string, today time.Time) span {
	switch cadence {
	case storage.CadenceWeekly:
		return span{From: weeklyWindowsFor(today).priorPrior.From, To: today.Format(storage.DateLayout)}
	case storage.CadenceMonthly:
		return monthlyWindow(today)
	default:
		return dailyWindow(today)
	}
}

// localDay is the user's calendar day at now, as a UTC midnight so that
// date arithmetic never crosses a DST boundary.
func localDay(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ranInPeriod(state storage.AgentState, cadence string, now time.Time, loc *time.Location) bool {
	var last *time.Time
	switch cadence {
	case storage.CadenceDaily:
		last = state.LastDailyScan
	case storage.CadenceWeekly:
		last = state.LastWeeklyScan
	case storage.CadenceMonthly:
		last = state.LastMonthlyReview
	}
	if last == nil {
		return false
	}
	a, b := last.In(loc), now.In(loc)
	switch cadence {
	case storage.CadenceWeekly:
		ay, aw := a.ISOWeek()
		by, bw := b.ISOWeek()
		return ay == by && aw == bw
	case storage.CadenceMonthly:
		return a.Year() == b.Year() && a.Month() == b.Month()
	default:
		return a.Format(storage.DateLayout) == b.Format(storage.DateLayout)
	}
}

func (s *Service) autoApply(ctx context.Context, job Job, res *Result) {
	if s.approver == nil {
		return
	}
	for _, rec := range res.Recommendations {
		apply := (rec.Type == TypeWeeklyCarbCeiling && s.policy.AutoApplyWeekly) ||
			(rec.Type == TypeMonthlyReport && s.policy.AutoApplyMonthly)
		if !apply {
			continue
		}
		if _, err := s.approver.Accept(ctx, job.UserID, rec.ID, job.Now); err != nil {
			s.logger.Error("auto-apply recommendation",
				zap.String("user_id", job.UserID),
				zap.String("recommendation_id", rec.ID.String()),
				zap.Error(err),
			)
			continue
		}
		res.AutoApplied = append(res.AutoApplied, rec.ID)
	}
}

func (s *Service) notify(ctx context.Context, job Job, res Result) {
	if s.notifier == nil {
		return
	}
	for _, rec := range res.Recommendations {
		body := rec.Summary
		if rec.Narrative != "" {
			body = rec.Narrative
		}
		alert := notify.Alert{
			UserID:    job.UserID,
			Type:      "agent_recommendation",
			Category:  notify.CategoryAgent,
			DedupeKey: "agent_recommendation:" + rec.ID.String(),
			Title:     rec.Title,
			Body:      body,
			Metadata: map[string]any{
				"recommendation_id": rec.ID.String(),
				"type":              rec.Type,
				"cadence":           rec.Cadence,
			},
		}
		result, err := s.notifier.Dispatch(ctx, alert, job.Now, res.loc)
		if err != nil {
			s.logger.Warn("agent notification failed",
				zap.String("user_id", job.UserID),
				zap.String("recommendation_id", rec.ID.String()),
				zap.Error(err),
			)
			continue
		}
		s.logger.Debug("agent notification",
			zap.String("user_id", job.UserID),
			zap.String("status", result.Status),
			zap.String("reason", result.Reason),
		)
	}
}
