package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/report"
)

var (
	reportTop    int
	reportFormat string
	reportDays   int
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summaries and exports of a market",
}

var reportSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Totals, overdue promises and the largest balances",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		debtors, err := loadDebtors()
		if err != nil {
			return err
		}
		s := report.Summarize(cfg.Market, debtors, time.Now(), reportTop)

		out := cmd.OutOrStdout()
		switch reportFormat {
		case "yaml":
			return report.WriteYAML(out, s)
		case "json":
			return printJSON(out, s)
		case "text":
		default:
			return fmt.Errorf("unknown format %q", reportFormat)
		}

		fmt.Fprintf(out, "market:       %s\n", s.Market)
		fmt.Fprintf(out, "debtors:      %d (%d owing, %d high risk)\n", s.Debtors, s.WithBalance, s.HighRisk)
		fmt.Fprintf(out, "lent:         %s\n", formatAmount(s.TotalDebt))
		fmt.Fprintf(out, "paid back:    %s\n", formatAmount(s.TotalPaid))
		fmt.Fprintf(out, "outstanding:  %s\n", formatAmount(s.Outstanding))
		fmt.Fprintf(out, "promises:     %d pending, %d overdue\n", s.PendingPromises, s.OverduePromises)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, l := range s.Top {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", l.Name, formatAmount(l.Balance), l.Risk)
		}
		return tw.Flush()
	},
}

var reportHeatmapCmd = &cobra.Command{
	Use:   "heatmap",
	Short: "Per-day debt and payment totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportDays <= 0 {
			return fmt.Errorf("--days must be positive")
		}
		debtors, err := loadDebtors()
		if err != nil {
			return err
		}
		to := time.Now().UTC()
		days := report.Heatmap(debtors, to.AddDate(0, 0, -(reportDays-1)), to)

		out := cmd.OutOrStdout()
		switch reportFormat {
		case "yaml":
			return report.WriteYAML(out, days)
		case "json":
			return printJSON(out, days)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DATE\tDEBT\tPAID\tTX")
		for _, d := range days {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", d.Date, formatAmount(d.Debt), formatAmount(d.Paid), d.Count)
		}
		return tw.Flush()
	},
}

var reportCSVCmd = &cobra.Command{
	Use:   "csv",
	Short: "Export the debtors as CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		debtors, err := loadDebtors()
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if reportOutput != "" && reportOutput != "-" {
			f, err := os.Create(reportOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return report.WriteCSV(w, debtors, time.Now())
	},
}

// loadDebtors reads the raw snapshot; reports decide themselves what to do
// with tombstones.
func loadDebtors() ([]core.Debtor, error) {
	app := openApp()
	defer app.Close()
	return app.Ledger.Snapshot(context.Background(), cfg.Market)
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportSummaryCmd, reportHeatmapCmd, reportCSVCmd)
	reportCmd.PersistentFlags().StringVarP(&reportFormat, "format", "f", "text", "Output format: text, yaml or json")
	reportSummaryCmd.Flags().IntVar(&reportTop, "top", report.DefaultTop, "Number of largest balances to list")
	reportHeatmapCmd.Flags().IntVar(&reportDays, "days", 30, "Number of days ending today")
	reportCSVCmd.Flags().StringVarP(&reportOutput, "output", "o", "-", "File to write, - for stdout")
}
