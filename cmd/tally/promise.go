package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var promiseBroken bool

var promiseCmd = &cobra.Command{
	Use:   "promise",
	Short: "Track promises to pay",
}

var promiseAddCmd = &cobra.Command{
	Use:   "add DEBTOR_ID AMOUNT DUE",
	Short: "Record a promise to pay AMOUNT by DUE (YYYY-MM-DD)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		due, err := time.Parse(time.DateOnly, args[2])
		if err != nil {
			return fmt.Errorf("due date: %w", err)
		}

		app := openApp()
		defer app.Close()

		p, err := app.Ledger.AddPromise(context.Background(), cfg.Market, args[0], amount, due)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p.ID)
		return nil
	},
}

var promiseResolveCmd = &cobra.Command{
	Use:   "resolve DEBTOR_ID PROMISE_ID",
	Short: "Mark a pending promise as kept (or --broken)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := openApp()
		defer app.Close()

		if err := app.Ledger.ResolvePromise(context.Background(), cfg.Market, args[0], args[1], !promiseBroken); err != nil {
			return err
		}
		status := "kept"
		if promiseBroken {
			status = "broken"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "promise %s %s\n", args[1], status)
		return nil
	},
}

var promiseExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Mark overdue pending promises as broken",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := openApp()
		defer app.Close()

		n, err := app.Ledger.ExpirePromises(context.Background(), cfg.Market)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d promises expired\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(promiseCmd)
	promiseCmd.AddCommand(promiseAddCmd, promiseResolveCmd, promiseExpireCmd)
	promiseResolveCmd.Flags().BoolVar(&promiseBroken, "broken", false, "Mark the promise as broken instead of kept")
}
