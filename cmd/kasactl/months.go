package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"kasa/internal/core"

	"github.com/spf13/cobra"
)

var flagJSON bool

var showMonthCmd = &cobra.Command{
	Use:   "show-month <username> <YYYY-MM>",
	Short: "Print the composite view of a month without storing it",
	Args:  cobra.ExactArgs(2),
	RunE:  withEnv(runShowMonth),
}

var historyCmd = &cobra.Command{
	Use:   "history <username>",
	Short: "Print per-month totals for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  withEnv(runHistory),
}

var backfillCmd = &cobra.Command{
	Use:   "backfill [username...]",
	Short: "Rebuild missing global lists from stored months",
	Long:  "Rebuild missing global lists from stored months. Without arguments every user is processed.",
	RunE:  withEnv(runBackfill),
}

func init() {
	showMonthCmd.Flags().BoolVar(&flagJSON, "json", false, "Print the snapshot as JSON")
	historyCmd.Flags().BoolVar(&flagJSON, "json", false, "Print totals as JSON")
	rootCmd.AddCommand(showMonthCmd, historyCmd, backfillCmd)
}

func runShowMonth(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
	username, month := args[0], args[1]
	if err := core.ValidateMonthKey(month); err != nil {
		return err
	}
	snap, err := e.ledger.ViewMonth(ctx, username, month)
	if err != nil {
		return err
	}
	if flagJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Month %s for %s\n\n", snap.MonthKey, username)
	fmt.Fprintln(tw, "KIND\tID\tNAME\tAMOUNT")
	for _, it := range snap.Incomes {
		fmt.Fprintf(tw, "income\t%s\t%s\t%s\n", it.ID, it.Name, it.Amount.StringFixed(2))
	}
	for _, it := range snap.Subscriptions {
		fmt.Fprintf(tw, "subscription\t%s\t%s\t%s\n", it.ID, it.Name, it.Amount.StringFixed(2))
	}
	for _, it := range snap.PeriodExpenses {
		fmt.Fprintf(tw, "expense\t%s\t%s\t%s\n", it.ID, it.Name, it.Amount.StringFixed(2))
	}
	for _, it := range snap.Installments {
		fmt.Fprintf(tw, "installment\t%s\t%s\t%s\n", it.ID, it.Name, core.MonthlyInstallmentAmount(it).StringFixed(2))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	t := core.SnapshotTotals(snap)
	fmt.Fprintf(out, "\nincome %s  expenses %s  leftover %s\n",
		t.TotalIncome.StringFixed(2), t.TotalExpenses.StringFixed(2), t.Leftover.StringFixed(2))
	return nil
}

func runHistory(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
	totals, err := e.ledger.History(ctx, args[0])
	if err != nil {
		return err
	}
	if flagJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(totals)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "MONTH\tINCOME\tSUBSCRIPTIONS\tEXPENSES\tINSTALLMENTS\tTOTAL\tLEFTOVER\t")
	for _, t := range totals {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			t.MonthKey,
			t.TotalIncome.StringFixed(2),
			t.Subscriptions.StringFixed(2),
			t.PeriodExpenses.StringFixed(2),
			t.Installments.StringFixed(2),
			t.TotalExpenses.StringFixed(2),
			t.Leftover.StringFixed(2))
	}
	return tw.Flush()
}

func runBackfill(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
	names := args
	if len(names) == 0 {
		var err error
		if names, err = e.store.Store.List(ctx); err != nil {
			return err
		}
	}

	changed := 0
	for _, name := range names {
		ok, err := e.ledger.Backfill(ctx, name)
		if err != nil {
			return fmt.Errorf("backfill %s: %w", name, err)
		}
		if ok {
			changed++
			fmt.Fprintf(cmd.OutOrStdout(), "backfilled %s\n", name)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d users updated\n", changed, len(names))
	return nil
}
