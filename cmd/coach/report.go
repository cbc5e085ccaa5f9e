package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fdg312/metabolic-hub/internal/reports"
)

func newReportCmd(c *cli) *cobra.Command {
	var (
		userID string
		format string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export the latest monthly review as PDF or CSV and print a download link",
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

			exp, err := a.exporter.ExportMonthly(cmd.Context(), userID, strings.ToLower(format), now)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(exp)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID")
	cmd.Flags().StringVar(&format, "format", reports.FormatPDF, "pdf|csv")
	return cmd
}
