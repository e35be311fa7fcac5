package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally/pkg/core"
)

var (
	txNote string
	txFix  bool
)

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Record debts and payments",
}

func recordCmd(kind core.TxKind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(kind) + " DEBTOR_ID AMOUNT",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}

			app := openApp()
			defer app.Close()

			ctx := context.Background()
			record := app.Ledger.RecordDebt
			if kind == core.TxPayment {
				record = app.Ledger.RecordPayment
			}
			if _, err := record(ctx, cfg.Market, args[0], amount, txNote); err != nil {
				return err
			}

			d, err := app.Ledger.GetDebtor(ctx, cfg.Market, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s balance: %s\n", d.Name, formatAmount(d.Balance))
			return nil
		},
	}
}

var txVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every balance matches its transactions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := openApp()
		defer app.Close()

		ctx := context.Background()
		out := cmd.OutOrStdout()
		if txFix {
			n, err := app.Ledger.Recalculate(ctx, cfg.Market)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "fixed %d balances\n", n)
			return nil
		}

		mismatches, err := app.Ledger.Verify(ctx, cfg.Market)
		if err != nil {
			return err
		}
		for _, m := range mismatches {
			fmt.Fprintf(out, "%s: stored %s, computed %s\n", m.DebtorID, formatAmount(m.Stored), formatAmount(m.Computed))
		}
		if len(mismatches) > 0 {
			return fmt.Errorf("%d balances drifted, run with --fix", len(mismatches))
		}
		fmt.Fprintln(out, "all balances consistent")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(txCmd)
	debt := recordCmd(core.TxDebt, "Record goods taken on credit")
	payment := recordCmd(core.TxPayment, "Record a payment")
	for _, c := range []*cobra.Command{debt, payment} {
		c.Flags().StringVar(&txNote, "note", "", "Free text note")
	}
	txCmd.AddCommand(debt, payment, txVerifyCmd)
	txVerifyCmd.Flags().BoolVar(&txFix, "fix", false, "Recompute drifted balances from transactions")
}
