package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fdg312/metabolic-hub/internal/agent"
	"github.com/fdg312/metabolic-hub/internal/compliance"
	"github.com/fdg312/metabolic-hub/internal/config"
	"github.com/fdg312/metabolic-hub/internal/reports"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/fdg312/metabolic-hub/internal/tracking"
)

var errSmokeFailed = errors.New("smoke test failed")

func newSmokeCmd(c *cli) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run an end-to-end pass over an in-memory store: log, score, scan, accept, export",
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := c.clock()
			if err != nil {
				return err
			}

			// keep the run hermetic whatever the environment says
			c.cfg.StorageMode = config.StorageModeMemory
			c.cfg.Blob.Mode = config.BlobModeLocal
			c.cfg.AIMode = config.AIModeMock
			c.cfg.Notify.DesktopEnabled = false
			c.cfg.Notify.PushWebhookURL = ""
			c.cfg.Notify.SMTP = config.SMTPConfig{}

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			return runSmoke(cmd.Context(), cmd, a, userID, now)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "smoke-user", "user ID to seed")
	return cmd
}

func runSmoke(ctx context.Context, cmd *cobra.Command, a *app, userID string, now time.Time) error {
	out := cmd.OutOrStdout()
	// seed yesterday so the meal never lies ahead of --now
	yesterday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	lunch := yesterday.Add(12*time.Hour + 30*time.Minute)
	var pendingID string

	steps := []struct {
		name string
		fn   func() error
	}{
		{"log water via copilot", func() error {
			res, err := a.copilot.ExecuteRaw(ctx, userID, []byte(`{"action":"log_water","ml":500}`), lunch)
			if err != nil {
				return err
			}
			if res.Confirmation == "" {
				return fmt.Errorf("empty confirmation")
			}
			return nil
		}},
		{"log lunch", func() error {
			res, err := a.tracking.LogMeal(ctx, tracking.MealRequest{
				UserID:     userID,
				ConsumedAt: lunch,
				LoggedAt:   lunch,
				Name:       "rice bowl",
				FoodGroup:  compliance.FoodGroupStaple,
				Macros:     &storage.MacroTotals{ProteinG: 30, CarbsG: 90, FatsG: 15},
			})
			if err != nil {
				return err
			}
			if res.Score.Score <= 0 {
				return fmt.Errorf("expected a positive insulin score, got %.1f", res.Score.Score)
			}
			return nil
		}},
		{"log post-meal walk", func() error {
			_, status, err := a.tracking.LogExercise(ctx, tracking.ExerciseRequest{
				UserID:          userID,
				PerformedAt:     lunch.Add(30 * time.Minute),
				LoggedAt:        lunch.Add(50 * time.Minute),
				ActivityType:    "walk",
				DurationMinutes: 20,
				PostMealWalk:    true,
			})
			if err != nil {
				return err
			}
			if status.WalkBonus <= 0 {
				return fmt.Errorf("walk bonus not applied")
			}
			return nil
		}},
		{"log vitals", func() error {
			weight, waist, hdl := 82.5, 94.0, 42.0
			_, err := a.tracking.LogVitals(ctx, storage.VitalsSnapshot{
				UserID:     userID,
				RecordedAt: lunch,
				WeightKg:   &weight,
				WaistCm:    &waist,
				HDL:        &hdl,
			})
			return err
		}},
		{"evaluate movement alerts", func() error {
			_, err := a.movement.EvaluateMovementAlerts(ctx, userID, lunch.Add(time.Hour))
			return err
		}},
		{"daily scan", func() error {
			_, err := a.agent.Run(ctx, agent.Job{UserID: userID, Cadence: storage.CadenceDaily, Now: now, Force: true})
			return err
		}},
		{"weekly scan", func() error {
			_, err := a.agent.Run(ctx, agent.Job{UserID: userID, Cadence: storage.CadenceWeekly, Now: now, Force: true})
			return err
		}},
		{"monthly scan", func() error {
			res, err := a.agent.Run(ctx, agent.Job{UserID: userID, Cadence: storage.CadenceMonthly, Now: now, Force: true})
			if err != nil {
				return err
			}
			if len(res.Recommendations) == 0 {
				return fmt.Errorf("monthly scan produced no report")
			}
			pendingID = res.Recommendations[0].ID.String()
			return nil
		}},
		{"accept monthly report", func() error {
			recs, err := a.recs.List(ctx, userID, storage.StatusPending, 50)
			if err != nil {
				return err
			}
			for _, r := range recs {
				if r.ID.String() != pendingID {
					continue
				}
				decided, err := a.recs.Accept(ctx, userID, r.ID, now)
				if err != nil {
					return err
				}
				if decided.Status != storage.StatusAccepted {
					return fmt.Errorf("status %s after accept", decided.Status)
				}
				return nil
			}
			return fmt.Errorf("recommendation %s not pending", pendingID)
		}},
		{"export monthly csv", func() error {
			exp, err := a.exporter.ExportMonthly(ctx, userID, reports.FormatCSV, now)
			if err != nil {
				return err
			}
			if exp.SizeBytes == 0 || exp.URL == "" {
				return fmt.Errorf("empty export")
			}
			return nil
		}},
	}

	failed := false
	for i, step := range steps {
		fmt.Fprintf(out, "[%d/%d] %s... ", i+1, len(steps), step.name)
		if err := step.fn(); err != nil {
			fmt.Fprintf(out, "FAILED\n  error: %v\n", err)
			failed = true
			break
		}
		fmt.Fprintln(out, "ok")
	}

	if failed {
		return errSmokeFailed
	}
	fmt.Fprintln(out, "all smoke steps passed")
	return nil
}
