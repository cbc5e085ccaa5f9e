package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fdg312/metabolic-hub/internal/agent"
	"github.com/fdg312/metabolic-hub/internal/ai"
	"github.com/fdg312/metabolic-hub/internal/blob"
	"github.com/fdg312/metabolic-hub/internal/compliance"
	"github.com/fdg312/metabolic-hub/internal/config"
	"github.com/fdg312/metabolic-hub/internal/copilot"
	"github.com/fdg312/metabolic-hub/internal/dbmigrate"
	"github.com/fdg312/metabolic-hub/internal/movement"
	"github.com/fdg312/metabolic-hub/internal/notify"
	"github.com/fdg312/metabolic-hub/internal/recommendations"
	"github.com/fdg312/metabolic-hub/internal/reports"
	"github.com/fdg312/metabolic-hub/internal/scheduler"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/fdg312/metabolic-hub/internal/storage/memory"
	"github.com/fdg312/metabolic-hub/internal/storage/postgres"
	"github.com/fdg312/metabolic-hub/internal/tracking"
	"github.com/fdg312/metabolic-hub/internal/userlock"
)

// app is the fully wired engine. One Locker is shared by every service.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store       storage.Store
	storageMode string
	blobMode    string

	locks      *userlock.Locker
	scorer     *compliance.Service
	dispatcher *notify.Dispatcher
	movement   *movement.Engine
	tracking   *tracking.Service
	copilot    *copilot.Executor
	agent      *agent.Service
	runner     *agent.Runner
	recs       *recommendations.Service
	exporter   *reports.Exporter
}

func (c *cli) open(ctx context.Context) (*app, error) {
	cfg, logger := c.cfg, c.logger

	store, mode, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	blobs, blobMode, err := blob.NewBlobStore(ctx, cfg.Blob, zap.NewStdLog(logger.Named("blob")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}

	a := &app{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		storageMode: mode,
		blobMode:    blobMode,
		locks:       userlock.New(),
	}

	providers := ai.NewProviders(cfg, store, logger.Named("ai"))

	a.scorer = compliance.NewService(store, logger.Named("compliance"))
	a.dispatcher = notify.NewDispatcherFromConfig(cfg, store, logger.Named("notify"))
	a.movement = movement.NewEngine(store, a.locks, a.dispatcher, movement.Options{
		MealLookback: time.Duration(cfg.Movement.MealLookbackMinutes) * time.Minute,
	}, logger.Named("movement"))
	a.tracking = tracking.NewService(store, a.locks, a.scorer, providers.Estimator, a.movement, logger.Named("tracking"))
	a.copilot = copilot.NewExecutor(a.tracking, logger.Named("copilot"))
	a.recs = recommendations.NewService(store, a.locks, logger.Named("recommendations"))
	a.agent = agent.NewService(store, a.locks, agent.PolicyFromConfig(cfg.Agent), logger.Named("agent")).
		WithNarrator(providers.Narrator).
		WithNotifier(a.dispatcher).
		WithApprover(a.recs)
	a.runner = agent.NewRunner(a.agent, store, cfg.Agent.Parallelism, logger.Named("runner"))
	a.exporter = reports.NewExporter(store, blobs, time.Duration(cfg.Blob.S3.PresignTTLSeconds)*time.Second, logger.Named("reports"))

	return a, nil
}

func (a *app) newScheduler() *scheduler.Scheduler {
	return scheduler.New(a.runner, a.movement, a.store, scheduler.OptionsFromConfig(a.cfg), a.logger.Named("scheduler"))
}

func (a *app) Close() error {
	return a.store.Close()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, string, error) {
	mode := cfg.StorageMode
	if mode == config.StorageModeAuto {
		mode = config.StorageModeMemory
		if cfg.DatabaseURL != "" {
			mode = config.StorageModePostgres
		}
	}

	if mode == config.StorageModeMemory {
		logger.Info("using in-memory storage")
		return memory.New(), mode, nil
	}

	if cfg.DatabaseURL == "" {
		return nil, "", fmt.Errorf("STORAGE_MODE=postgres but no DATABASE_URL is configured")
	}

	if cfg.RunMigrationsOnStartup {
		target, err := dbmigrate.SelectTarget(cfg, true)
		if err != nil {
			return nil, "", fmt.Errorf("startup migrations: %w", err)
		}
		logger.Info("startup migrations", zap.String("command", "up"), zap.String("using", target.Source))
		if err := dbmigrate.Run(ctx, "up", target.URL, "", logger); err != nil {
			return nil, "", fmt.Errorf("startup migrations failed: %w", err)
		}
	}

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("connect postgres: %w", err)
	}
	logger.Info("using postgres storage")
	return store, mode, nil
}
