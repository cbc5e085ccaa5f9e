package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fdg312/metabolic-hub/internal/agent"
	"github.com/fdg312/metabolic-hub/internal/storage"
)

func newScanCmd(c *cli) *cobra.Command {
	var (
		userID string
		force  bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:       "scan daily|weekly|monthly",
		Short:     "Run one agent cadence for a user, or for every user when --user is omitted",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{storage.CadenceDaily, storage.CadenceWeekly, storage.CadenceMonthly},
		RunE: func(cmd *cobra.Command, args []string) error {
			cadence := strings.ToLower(args[0])
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
			if strings.TrimSpace(userID) == "" {
				batch, err := a.runner.RunAll(cmd.Context(), cadence, now)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: users=%d ran=%d skipped=%d recommendations=%d failed=%d\n",
					batch.Cadence, batch.Users, batch.Ran, batch.Skipped, batch.Recommendations, len(batch.Failures))
				for _, id := range batch.FailedUsers() {
					fmt.Fprintf(out, "  failed %s: %v\n", id, batch.Failures[id])
				}
				return nil
			}

			res, err := a.agent.Run(cmd.Context(), agent.Job{UserID: userID, Cadence: cadence, Now: now, Force: force})
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res.Recommendations)
			}
			printScanResult(out, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID (default: all users)")
	cmd.Flags().BoolVar(&force, "force", false, "run even if the cadence already ran this period")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print recommendations as JSON")
	return cmd
}

func printScanResult(w io.Writer, res agent.Result) {
	if res.Skipped {
		fmt.Fprintf(w, "%s scan for %s already ran this period (use --force)\n", res.Cadence, res.UserID)
		return
	}
	fmt.Fprintf(w, "%s scan for %s: %d recommendation(s)\n", res.Cadence, res.UserID, len(res.Recommendations))
	for _, rec := range res.Recommendations {
		fmt.Fprintf(w, "  [%s] %s (confidence %.2f)\n", rec.ID, rec.Title, rec.Confidence)
		if rec.Summary != "" {
			fmt.Fprintf(w, "      %s\n", rec.Summary)
		}
	}
	if len(res.AutoApplied) > 0 {
		fmt.Fprintf(w, "  auto-applied: %d\n", len(res.AutoApplied))
	}
	fmt.Fprintf(w, "  carb_ceiling=%g fruit_allowance=%d/%d\n",
		res.State.CarbCeiling, res.State.FruitAllowanceCurrent, res.State.FruitAllowanceWeekly)
}
