package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type UserLister interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// BatchResult summarizes one cadence over all users.
type BatchResult struct {
	Cadence         string
	Users           int
	Ran             int
	Skipped         int
	Recommendations int
	Failures        map[string]error
}

func (b BatchResult) FailedUsers() []string {
	out := make([]string, 0, len(b.Failures))
	for id := range b.Failures {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type Runner struct {
	svc         *Service
	users       UserLister
	parallelism int
	logger      *zap.Logger
}

func NewRunner(svc *Service, users UserLister, parallelism int, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Runner{svc: svc, users: users, parallelism: parallelism, logger: logger}
}

// RunAll runs cadence for every known user. One user's failure is recorded
// and never stops the others.
func (r *Runner) RunAll(ctx context.Context, cadence string, now time.Time) (BatchResult, error) {
	batch := BatchResult{Cadence: cadence, Failures: make(map[string]error)}

	ids, err := r.users.ListUserIDs(ctx)
	if err != nil {
		return batch, fmt.Errorf("list users: %w", err)
	}
	batch.Users = len(ids)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			res, err := r.svc.Run(gctx, Job{UserID: id, Cadence: cadence, Now: now})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				batch.Failures[id] = err
				r.logger.Error("agent run failed",
					zap.String("user_id", id),
					zap.String("cadence", cadence),
					zap.Error(err),
				)
			case res.Skipped:
				batch.Skipped++
			default:
				batch.Ran++
				batch.Recommendations += len(res.Recommendations)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("agent batch finished",
		zap.String("cadence", cadence),
		zap.Int("users", batch.Users),
		zap.Int("ran", batch.Ran),
		zap.Int("skipped", batch.Skipped),
		zap.Int("failed", len(batch.Failures)),
	)
	return batch, ctx.Err()
}
