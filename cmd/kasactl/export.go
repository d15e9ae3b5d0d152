package main

import (
	"context"
	"errors"
	"fmt"

	gsheet "kasa/internal/sheets/google"
	"kasa/internal/worker"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every user's monthly summary to Google Sheets",
	Args:  cobra.NoArgs,
	RunE:  withEnv(runExport),
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(ctx context.Context, e *env, cmd *cobra.Command, _ []string) error {
	if e.cfg.GoogleSpreadsheetID == "" {
		return errors.New("GOOGLE_SPREADSHEET_ID is not set")
	}
	client, err := gsheet.New(ctx, gsheet.Options{
		SpreadsheetID:   e.cfg.GoogleSpreadsheetID,
		CredentialsJSON: e.cfg.GoogleServiceAccountJSON,
		CredentialsFile: e.cfg.GoogleServiceAccountFile,
		SheetPrefix:     e.cfg.SummarySheetPrefix,
	})
	if err != nil {
		return err
	}

	w := worker.NewLedgerWorker(e.ledger, e.store.Store, client, 4)
	exported, failed, err := w.StartupExport(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d users, %d failed\n", exported, failed)
	if failed > 0 {
		return fmt.Errorf("%d exports failed", failed)
	}
	return nil
}
