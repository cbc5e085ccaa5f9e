package ai

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// GuardedEstimator wraps a remote estimator with a cache, a per-user quota
// and the catalog fallback. It only fails on an empty request or a catalog
// read error.
type GuardedEstimator struct {
	primary  Estimator
	fallback *CatalogEstimator
	cache    *estimateCache
	quota    *quota
	logger   *zap.Logger
}

type GuardOptions struct {
	QuotaPerMinute int
	QuotaBurst     int
	CacheTTL       time.Duration
}

func NewGuardedEstimator(primary Estimator, fallback *CatalogEstimator, opts GuardOptions, logger *zap.Logger) *GuardedEstimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuardedEstimator{
		primary:  primary,
		fallback: fallback,
		cache:    newEstimateCache(opts.CacheTTL),
		quota:    newQuota(opts.QuotaPerMinute, opts.QuotaBurst),
		logger:   logger,
	}
}

func (g *GuardedEstimator) EstimateMacros(ctx context.Context, req EstimateRequest) (Estimate, error) {
	if req.isEmpty() {
		return Estimate{}, ErrEmptyRequest
	}

	key, cacheable := cacheKey(req)
	if cacheable {
		if est, ok := g.cache.get(key); ok {
			return est, nil
		}
	}

	if g.primary != nil {
		est, err := g.callPrimary(ctx, req)
		if err == nil {
			if cacheable {
				g.cache.put(key, est)
			}
			return est, nil
		}
		if ctx.Err() != nil {
			return Estimate{}, ctx.Err()
		}
		g.logger.Info("estimator fallback to catalog",
			zap.String("user_id", req.UserID),
			zap.NamedError("cause", err),
		)
	}

	if len(req.Image) > 0 && trimmed(req.Text) == "" {
		// nothing the catalog can match
		return Estimate{FoodGroup: "other", Source: SourceFallback}, nil
	}
	return g.fallback.EstimateMacros(ctx, req)
}

func (g *GuardedEstimator) callPrimary(ctx context.Context, req EstimateRequest) (Estimate, error) {
	if !g.quota.allow(req.UserID) {
		return Estimate{}, ErrQuotaExceeded
	}
	est, err := g.primary.EstimateMacros(ctx, req)
	if err != nil {
		return Estimate{}, err
	}
	if len(est.Items) == 0 {
		return Estimate{}, errNoItems
	}
	if est.Source == "" {
		est.Source = SourceEstimator
	}
	return est, nil
}

var errNoItems = errors.New("estimator returned no items")
