package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAlertsCmd(c *cli) *cobra.Command {
	var (
		userID string
		steps  int
	)

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Evaluate movement and insulin alerts for a user and show the movement panel",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := requireUser(userID)
			if err != nil {
				return err
			}
			now, err := c.clock()
			if err != nil {
				return err
			}

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if steps >= 0 {
				res, err := a.tracking.SyncSteps(cmd.Context(), userID, steps, now)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "steps: delta=%d bonus=%t\n", res.Delta, res.BonusApplied)
			}

			ev, err := a.movement.EvaluateMovementAlerts(cmd.Context(), userID, now)
			if err != nil {
				return err
			}
			for _, al := range ev.Alerts {
				fmt.Fprintf(out, "%-22s %-8s %s\n", al.Type, al.Result.Status, al.Result.Reason)
			}
			fmt.Fprintf(out, "sent=%d penalties=%d\n", ev.Sent(), ev.PenaltiesApplied)

			panel, err := a.movement.Panel(cmd.Context(), userID, now)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "walk_streak=%d badge=%s post_meal_walk=%s alerts_today=%d remaining=%d\n",
				panel.WalkStreak, nonEmptyOrDash(panel.Badge), panel.PostMealWalkStatus, panel.AlertsSentToday, panel.AlertsRemaining)
			if panel.RecoveryPrompt != "" {
				fmt.Fprintln(out, panel.RecoveryPrompt)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID")
	cmd.Flags().IntVar(&steps, "steps", -1, "record a cumulative step reading before evaluating")
	return cmd
}
