package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"campuslib/internal/circulation"
	"campuslib/internal/reservation"
)

const dateLayout = "2006-01-02"

func (c *cli) loansCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "loans", Short: "Borrow, renew and return items"}

	var forUser string
	borrow := &cobra.Command{
		Use:   "borrow <item-id>",
		Short: "Borrow an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := parseID(args[0])
			if err != nil {
				return err
			}
			userID := uuid.Nil
			if forUser != "" {
				if userID, err = parseID(forUser); err != nil {
					return err
				}
			}
			client, err := c.authed()
			if err != nil {
				return err
			}
			loan, err := client.BorrowFor(cmd.Context(), userID, itemID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loan %s due %s\n", loan.ID, loan.DueAt.Format(dateLayout))
			return nil
		},
	}
	borrow.Flags().StringVar(&forUser, "user", "", "borrow on behalf of this user (librarians)")

	var openOnly bool
	list := &cobra.Command{
		Use:   "list [user-id]",
		Short: "List loans of a user (default: yourself)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.authed()
			if err != nil {
				return err
			}
			userID := c.session.UserID
			if len(args) == 1 {
				if userID, err = parseID(args[0]); err != nil {
					return err
				}
			}
			loans, err := client.Loans(cmd.Context(), userID, openOnly)
			if err != nil {
				return err
			}
			printLoans(cmd.OutOrStdout(), loans)
			return nil
		},
	}
	list.Flags().BoolVar(&openOnly, "open", false, "only loans not yet returned")

	var days int
	renew := &cobra.Command{
		Use:   "renew <loan-id>",
		Short: "Renew a loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := c.authed()
			if err != nil {
				return err
			}
			loan, err := client.Renew(cmd.Context(), id, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renewed (%d/%d), now due %s\n",
				loan.RenewalCount, loan.MaxRenewals, loan.DueAt.Format(dateLayout))
			return nil
		},
	}
	renew.Flags().IntVar(&days, "days", 0, "days to extend (default: library setting)")

	var at, note string
	ret := &cobra.Command{
		Use:   "return <loan-id>",
		Short: "Return a loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var returnedAt time.Time
			if at != "" {
				if returnedAt, err = time.Parse(dateLayout, at); err != nil {
					return fmt.Errorf("invalid date %q, want YYYY-MM-DD", at)
				}
			}
			client, err := c.authed()
			if err != nil {
				return err
			}
			loan, err := client.Return(cmd.Context(), id, returnedAt, note)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Returned, fine %s\n", loan.Fine.StringFixed(2))
			return nil
		},
	}
	ret.Flags().StringVar(&at, "at", "", "return date YYYY-MM-DD (librarians)")
	ret.Flags().StringVar(&note, "note", "", "condition note")

	var reason string
	cancel := &cobra.Command{
		Use:   "cancel <loan-id>",
		Short: "Cancel a loan (librarians)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := c.authed()
			if err != nil {
				return err
			}
			if _, err := client.CancelLoan(cmd.Context(), id, reason); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Loan cancelled")
			return nil
		},
	}
	cancel.Flags().StringVar(&reason, "reason", "", "why the loan is cancelled")
	_ = cancel.MarkFlagRequired("reason")

	overdue := &cobra.Command{
		Use:   "overdue",
		Short: "List overdue loans (librarians)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.authed()
			if err != nil {
				return err
			}
			loans, err := client.Overdue(cmd.Context())
			if err != nil {
				return err
			}
			printLoans(cmd.OutOrStdout(), loans)
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Loan statistics (librarians)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.authed()
			if err != nil {
				return err
			}
			s, err := client.LoanStats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total %d, open %d, overdue %d, returned %d, cancelled %d, fines %s\n",
				s.Total, s.Open, s.Overdue, s.Returned, s.Cancelled, s.TotalFines.StringFixed(2))
			return nil
		},
	}

	cmd.AddCommand(borrow, list, renew, ret, cancel, overdue, stats)
	return cmd
}

func (c *cli) reservationsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reservations", Short: "Queue for unavailable items"}

	add := &cobra.Command{
		Use:   "add <item-id>",
		Short: "Reserve an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := c.authed()
			if err != nil {
				return err
			}
			res, err := client.Reserve(cmd.Context(), itemID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reservation %s placed\n", res.ID)
			return nil
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <reservation-id>",
		Short: "Cancel a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := c.authed()
			if err != nil {
				return err
			}
			if err := client.CancelReservation(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Reservation cancelled")
			return nil
		},
	}

	queue := &cobra.Command{
		Use:   "queue <item-id>",
		Short: "Show the reservation queue of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := c.authed()
			if err != nil {
				return err
			}
			q, err := client.Queue(cmd.Context(), itemID)
			if err != nil {
				return err
			}
			printReservations(cmd.OutOrStdout(), q.Entries)
			return nil
		},
	}

	var activeOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List your reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.authed()
			if err != nil {
				return err
			}
			list, err := client.Reservations(cmd.Context(), c.session.UserID, activeOnly)
			if err != nil {
				return err
			}
			printReservations(cmd.OutOrStdout(), list)
			return nil
		},
	}
	list.Flags().BoolVar(&activeOnly, "active", false, "only active reservations")

	cmd.AddCommand(add, cancel, queue, list)
	return cmd
}

func printLoans(w io.Writer, loans []*circulation.Loan) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tITEM\tSTATUS\tDUE\tRENEWALS\tFINE")
	for _, l := range loans {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			l.ID, l.ItemID, l.Status, l.DueAt.Format(dateLayout), l.RenewalCount, l.MaxRenewals, l.Fine.StringFixed(2))
	}
	tw.Flush()
}

func printReservations(w io.Writer, list []*reservation.Reservation) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tITEM\tUSER\tSTATUS\tRESERVED")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.ItemID, r.UserID, r.Status, r.ReservedAt.Format(time.DateTime))
	}
	tw.Flush()
}
