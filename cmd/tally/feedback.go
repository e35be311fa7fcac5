package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var feedbackRating int

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Collect customer feedback",
}

var feedbackAddCmd = &cobra.Command{
	Use:   "add MESSAGE",
	Short: "Store a feedback message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := openApp()
		defer app.Close()

		f, err := app.Ledger.AddFeedback(context.Background(), cfg.Market, args[0], feedbackRating)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), f.ID)
		return nil
	},
}

var feedbackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored feedback",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := openApp()
		defer app.Close()

		items, err := app.Ledger.ListFeedback(context.Background(), cfg.Market)
		if err != nil {
			return err
		}
		for _, f := range items {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  [%d] %s\n", f.CreatedAt.Format(time.DateOnly), f.Rating, f.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(feedbackCmd)
	feedbackCmd.AddCommand(feedbackAddCmd, feedbackListCmd)
	feedbackAddCmd.Flags().IntVar(&feedbackRating, "rating", 0, "Rating from 1 to 5")
}
