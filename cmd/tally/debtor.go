package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally/pkg/ledger"
)

var (
	debtorJSON  bool
	debtorName  string
	debtorPhone string
	debtorNote  string
	debtorLimit string
)

var debtorCmd = &cobra.Command{
	Use:     "debtor",
	Aliases: []string{"debtors"},
	Short:   "Manage the debtors of a market",
}

var debtorAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a debtor with a zero balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := ledger.DebtorInput{Name: args[0], Phone: debtorPhone, Note: debtorNote}
		if debtorLimit != "" {
			limit, err := parseAmount(debtorLimit)
			if err != nil {
				return err
			}
			in.CreditLimit = limit
		}

		app := openApp()
		defer app.Close()

		d, err := app.Ledger.AddDebtor(context.Background(), cfg.Market, in)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), d.ID)
		return nil
	},
}

var debtorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the debtors of the market",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := openApp()
		defer app.Close()

		debtors, err := app.Ledger.ListDebtors(context.Background(), cfg.Market)
		if err != nil {
			return err
		}
		if debtorJSON {
			return printJSON(cmd.OutOrStdout(), debtors)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tPHONE\tBALANCE")
		for _, d := range debtors {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Phone, formatAmount(d.Balance))
		}
		return tw.Flush()
	},
}

var debtorShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a debtor with its transactions and promises",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := openApp()
		defer app.Close()

		d, err := app.Ledger.GetDebtor(context.Background(), cfg.Market, args[0])
		if err != nil {
			return err
		}
		if debtorJSON {
			return printJSON(cmd.OutOrStdout(), d)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%s)\nbalance: %s\n", d.Name, d.ID, formatAmount(d.Balance))
		if d.CreditLimit > 0 {
			fmt.Fprintf(out, "credit limit: %s\n", formatAmount(d.CreditLimit))
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, tx := range d.Transactions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", tx.CreatedAt.Format("2006-01-02 15:04"), tx.Kind, formatAmount(tx.Amount), tx.Note)
		}
		for _, p := range d.Promises {
			fmt.Fprintf(tw, "promise %s\t%s\t%s\tdue %s\n", p.ID, p.Status, formatAmount(p.Amount), p.DueDate.Format("2006-01-02"))
		}
		return tw.Flush()
	},
}

var debtorUpdateCmd = &cobra.Command{
	Use:   "update ID",
	Short: "Change the details of a debtor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch ledger.DebtorPatch
		flags := cmd.Flags()
		if flags.Changed("name") {
			patch.Name = &debtorName
		}
		if flags.Changed("phone") {
			patch.Phone = &debtorPhone
		}
		if flags.Changed("note") {
			patch.Note = &debtorNote
		}
		if flags.Changed("limit") {
			limit, err := parseAmount(debtorLimit)
			if err != nil {
				return err
			}
			patch.CreditLimit = &limit
		}

		app := openApp()
		defer app.Close()

		d, err := app.Ledger.UpdateDebtor(context.Background(), cfg.Market, args[0], patch)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", d.Name)
		return nil
	},
}

var debtorDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a debtor (kept as a tombstone until synced)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := openApp()
		defer app.Close()

		if err := app.Ledger.DeleteDebtor(context.Background(), cfg.Market, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(debtorCmd)
	debtorCmd.AddCommand(debtorAddCmd, debtorListCmd, debtorShowCmd, debtorUpdateCmd, debtorDeleteCmd)

	for _, c := range []*cobra.Command{debtorAddCmd, debtorUpdateCmd} {
		c.Flags().StringVar(&debtorPhone, "phone", "", "Phone number")
		c.Flags().StringVar(&debtorNote, "note", "", "Free text note")
		c.Flags().StringVar(&debtorLimit, "limit", "", "Credit limit, e.g. 500 or 499.90")
	}
	debtorUpdateCmd.Flags().StringVar(&debtorName, "name", "", "New name")
	debtorListCmd.Flags().BoolVar(&debtorJSON, "json", false, "Output in JSON format")
	debtorShowCmd.Flags().BoolVar(&debtorJSON, "json", false, "Output in JSON format")
}
