package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"campuslib/internal/catalog"
	"campuslib/internal/rating"
)

func (c *cli) itemsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "items", Short: "Browse and maintain the catalog"}

	search := &cobra.Command{
		Use:   "search [query]",
		Short: "Search items by title, author or ISBN",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.authed()
			if err != nil {
				return err
			}
			items, err := client.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			printItems(cmd.OutOrStdout(), items...)
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <item-id>",
		Short: "Show one item",
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
			item, err := client.GetItem(cmd.Context(), id)
			if err != nil {
				return err
			}
			printItems(cmd.OutOrStdout(), item)
			return nil
		},
	}

	var in catalog.NewItem
	add := &cobra.Command{
		Use:   "add",
		Short: "Add an item (librarians)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.authed()
			if err != nil {
				return err
			}
			item, err := client.AddItem(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %q as %s\n", item.Title, item.ID)
			return nil
		},
	}
	add.Flags().StringVar(&in.ISBN, "isbn", "", "ISBN")
	add.Flags().StringVar(&in.Title, "title", "", "title")
	add.Flags().StringVar(&in.Author, "author", "", "author")
	add.Flags().StringVar(&in.Genre, "genre", "", "genre")
	add.Flags().IntVar(&in.TotalCopies, "copies", 1, "number of copies")

	copies := &cobra.Command{
		Use:   "copies <item-id> <total>",
		Short: "Set the number of copies (librarians)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			total, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid total %q", args[1])
			}
			client, err := c.authed()
			if err != nil {
				return err
			}
			item, err := client.SetCopies(cmd.Context(), id, total)
			if err != nil {
				return err
			}
			printItems(cmd.OutOrStdout(), item)
			return nil
		},
	}

	cmd.AddCommand(search, get, add, copies)
	return cmd
}

func (c *cli) ratingsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ratings", Short: "Rate items"}

	var in rating.NewRating
	var loan string
	add := &cobra.Command{
		Use:   "add <item-id>",
		Short: "Rate an item from 1 to 5",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := parseID(args[0])
			if err != nil {
				return err
			}
			if loan != "" {
				loanID, err := parseID(loan)
				if err != nil {
					return err
				}
				in.LoanID = &loanID
			}
			client, err := c.authed()
			if err != nil {
				return err
			}
			r, err := client.Rate(cmd.Context(), itemID, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rated %d/5 (%s)\n", r.Score, r.ID)
			return nil
		},
	}
	add.Flags().IntVar(&in.Score, "score", 0, "score from 1 to 5")
	add.Flags().StringVar(&in.Comment, "comment", "", "optional comment")
	add.Flags().StringVar(&loan, "loan", "", "loan the rating refers to")
	_ = add.MarkFlagRequired("score")

	summary := &cobra.Command{
		Use:   "summary <item-id>",
		Short: "Show the average rating of an item",
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
			s, err := client.RatingSummary(cmd.Context(), itemID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.1f from %d ratings\n", s.Average, s.Count)
			return nil
		},
	}

	cmd.AddCommand(add, summary)
	return cmd
}

func printItems(w io.Writer, items ...*catalog.Item) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tAVAILABLE")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\n", it.ID, it.Title, it.Author, it.Available, it.TotalCopies)
	}
	tw.Flush()
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
