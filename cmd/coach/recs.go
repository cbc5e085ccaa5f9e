package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newRecsCmd(c *cli) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "recs",
		Short: "List, accept or reject agent recommendations",
	}
	cmd.PersistentFlags().StringVar(&userID, "user", "", "user ID")

	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recommendations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := requireUser(userID)
			if err != nil {
				return err
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.recs.List(cmd.Context(), userID, status, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "no recommendations")
			}
			for _, r := range recs {
				fmt.Fprintf(out, "%s  %-8s %-8s %-34s %s\n", r.ID, r.Cadence, r.Status, r.Type, r.Title)
			}
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "PENDING|ACCEPTED|REJECTED")
	list.Flags().IntVar(&limit, "limit", 20, "max rows (<= 200)")

	decide := func(use, short string, accept bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				userID, err := requireUser(userID)
				if err != nil {
					return err
				}
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid recommendation id %q", args[0])
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

				decideFn := a.recs.Reject
				if accept {
					decideFn = a.recs.Accept
				}
				rec, err := decideFn(cmd.Context(), userID, id, now)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", rec.ID, rec.Status)
				return nil
			},
		}
	}

	cmd.AddCommand(
		list,
		decide("accept", "Accept a pending recommendation and apply its threshold change", true),
		decide("reject", "Reject a pending recommendation", false),
	)
	return cmd
}
