package ai

import (
	"strings"
	"time"

	"github.com/fdg312/metabolic-hub/internal/config"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"go.uber.org/zap"
)

const (
	ModeMock   = "mock"
	ModeOpenAI = "openai"
)

// Providers bundles what the engine needs from the AI layer.
type Providers struct {
	Estimator Estimator
	Narrator  Narrator
}

func NewProviders(cfg *config.Config, catalog storage.FoodCatalogStorage, logger *zap.Logger) Providers {
	fallback := NewCatalogEstimator(catalog)

	mode := strings.ToLower(strings.TrimSpace(cfg.AIMode))
	var primary interface {
		Estimator
		Narrator
	}
	switch mode {
	case ModeOpenAI:
		primary = NewOpenAIProvider(cfg)
	default:
		primary = NewMockProvider(fallback)
	}

	guarded := NewGuardedEstimator(primary, fallback, GuardOptions{
		QuotaPerMinute: cfg.AIQuotaPerMinute,
		QuotaBurst:     cfg.AIQuotaBurst,
		CacheTTL:       time.Duration(cfg.AICacheTTLSeconds) * time.Second,
	}, logger)

	return Providers{Estimator: guarded, Narrator: primary}
}
