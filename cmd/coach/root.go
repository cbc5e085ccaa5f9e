package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fdg312/metabolic-hub/internal/config"
)

// cli carries what every subcommand shares once PersistentPreRunE ran.
type cli struct {
	configFile string
	logLevel   string
	storage    string
	now        string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "coach",
		Short: "coach runs the metabolic coaching engine",
		Long: `coach scores daily nutrition against insulin-load thresholds, runs the
daily/weekly/monthly metabolic agent, evaluates movement alerts and exports
monthly reports.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&c.configFile, "config", "", "YAML overlay for agent/movement/notify sections (overrides COACH_CONFIG_FILE)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "debug|info|warn|error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&c.storage, "storage", "", "memory|postgres|auto (overrides STORAGE_MODE)")
	root.PersistentFlags().StringVar(&c.now, "now", "", "RFC3339 clock override for one-shot commands")

	root.AddCommand(
		newServeCmd(c),
		newScanCmd(c),
		newAlertsCmd(c),
		newReportCmd(c),
		newRecsCmd(c),
		newLogCmd(c),
		newMigrateCmd(c),
		newSmokeCmd(c),
	)
	return root
}

func (c *cli) init() error {
	cfg := config.Load()
	if c.configFile != "" {
		if err := cfg.ApplyFile(c.configFile); err != nil {
			return err
		}
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.storage != "" {
		mode := strings.ToLower(strings.TrimSpace(c.storage))
		switch mode {
		case config.StorageModeMemory, config.StorageModePostgres, config.StorageModeAuto:
			cfg.StorageMode = mode
		default:
			return fmt.Errorf("unknown --storage %q (allowed: memory, postgres, auto)", c.storage)
		}
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

// clock returns --now when given, otherwise the wall clock.
func (c *cli) clock() (time.Time, error) {
	if strings.TrimSpace(c.now) == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, c.now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --now %q (expected RFC3339)", c.now)
	}
	return t.UTC(), nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Env == "local" {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.LogLevel != "" {
		lvl, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("env", cfg.Env)), nil
}

func requireUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("--user is required")
	}
	return userID, nil
}
