package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/scoring"
)

var scoreRate float64

var scoreCmd = &cobra.Command{
	Use:   "score [DEBTOR_ID]",
	Short: "Rank debtors by risk with credit score and accrued interest",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := openApp()
		defer app.Close()

		ctx := context.Background()
		var debtors []core.Debtor
		if len(args) == 1 {
			d, err := app.Ledger.GetDebtor(ctx, cfg.Market, args[0])
			if err != nil {
				return err
			}
			debtors = []core.Debtor{d}
		} else {
			var err error
			if debtors, err = app.Ledger.ListDebtors(ctx, cfg.Market); err != nil {
				return err
			}
		}

		now := time.Now()
		byID := make(map[string]core.Debtor, len(debtors))
		for _, d := range debtors {
			byID[d.ID] = d
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tBALANCE\tRISK\tLEVEL\tCREDIT\tINTEREST")
		for _, r := range scoring.RankByRisk(debtors, now) {
			d := byID[r.DebtorID]
			fmt.Fprintf(tw, "%s\t%s\t%.0f\t%s\t%d\t%s\n",
				d.Name, formatAmount(d.Balance), r.Score, r.Level,
				scoring.Credit(d, now), formatAmount(scoring.AccruedInterest(d, scoreRate, now)))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.Flags().Float64Var(&scoreRate, "rate", 0, "Annual interest rate in percent used for accrued interest")
}
