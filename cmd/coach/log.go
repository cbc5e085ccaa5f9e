package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newLogCmd(c *cli) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "log [action-json]",
		Short: "Execute one copilot action (log_meal, log_water, log_exercise, log_vitals, log_habit)",
		Long: `Reads one JSON action from the argument or stdin, for example:

  coach log --user u1 '{"action":"log_water","ml":500}'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := requireUser(userID)
			if err != nil {
				return err
			}
			now, err := c.clock()
			if err != nil {
				return err
			}

			var raw []byte
			if len(args) == 1 {
				raw = []byte(args[0])
			} else {
				raw, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read action: %w", err)
				}
			}
			if strings.TrimSpace(string(raw)) == "" {
				return fmt.Errorf("empty action")
			}

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.copilot.ExecuteRaw(cmd.Context(), userID, raw, now)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Confirmation)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID")
	return cmd
}
