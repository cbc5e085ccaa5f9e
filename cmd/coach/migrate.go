package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fdg312/metabolic-hub/internal/dbmigrate"
)

func newMigrateCmd(c *cli) *cobra.Command {
	var (
		dir    string
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "migrate up|down|status|version|redo",
		Short: "Apply goose migrations to the postgres store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := args[0]
			if !dbmigrate.ValidCommand(command) {
				return fmt.Errorf("unsupported command %q (allowed: %s)", command, strings.Join(dbmigrate.Commands, ", "))
			}

			target, err := dbmigrate.SelectTarget(c.cfg, strict)
			if err != nil {
				return err
			}
			if target.Warning != "" {
				c.logger.Warn("migrate", zap.String("warning", target.Warning))
			}
			c.logger.Info("migrate", zap.String("command", command), zap.String("using", target.Source))

			if err := dbmigrate.Run(cmd.Context(), command, target.URL, dir, c.logger); err != nil {
				return err
			}
			c.logger.Info("migrate completed", zap.String("command", command))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "read migrations from this directory instead of the embedded set")
	cmd.Flags().BoolVar(&strict, "require-direct", false, "only accept DATABASE_URL_DIRECT")
	return cmd
}
