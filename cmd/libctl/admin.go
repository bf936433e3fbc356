package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"campuslib/internal/audit"
)

func (c *cli) notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "notifications", Short: "Read your inbox"}

	var unread bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.authed()
			if err != nil {
				return err
			}
			list, err := client.Notifications(cmd.Context(), c.session.UserID, unread)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tSTATUS\tTITLE\tMESSAGE")
			for _, n := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.CreatedAt.Format(dateLayout), n.Status, n.Title, n.Message)
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&unread, "unread", false, "only unread notifications")

	readAll := &cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification as read",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.authed()
			if err != nil {
				return err
			}
			n, err := client.MarkAllRead(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d marked as read\n", n)
			return nil
		},
	}

	cmd.AddCommand(list, readAll)
	return cmd
}

func (c *cli) adminCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "admin", Short: "Librarian maintenance"}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale reservations and send loan reminders now",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.authed()
			if err != nil {
				return err
			}
			results, err := client.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Error != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%-20s failed: %s\n", r.Task, r.Error)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %d\n", r.Task, r.Count)
			}
			return nil
		},
	}

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Check the lending invariants",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.authed()
			if err != nil {
				return err
			}
			report, err := client.Audit(cmd.Context())
			if err != nil {
				return err
			}
			audit.Print(cmd.OutOrStdout(), report)
			if !report.Passed {
				return fmt.Errorf("%d invariants violated", len(report.Violations()))
			}
			return nil
		},
	}

	cmd.AddCommand(sweep, auditCmd)
	return cmd
}
