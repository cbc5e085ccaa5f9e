package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(c *cli) *cobra.Command {
	var tick time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler loop (agent scans and movement alerts) until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := validateProductionConfig(c.cfg); err != nil {
				return err
			}

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			printStartupBanner(cmd.ErrOrStderr(), a)

			err = a.newScheduler().Start(ctx, tick, nil)
			if errors.Is(err, context.Canceled) {
				c.logger.Info("shutdown complete")
				return nil
			}
			if err != nil {
				c.logger.Error("scheduler exited", zap.Error(err))
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&tick, "tick", time.Minute, "how often the scheduler checks for due jobs")
	return cmd
}
