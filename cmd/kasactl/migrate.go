package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"kasa/internal/cli"
	"kasa/internal/config"
	"kasa/internal/storage"

	"github.com/spf13/cobra"
)

var flagOverwrite bool

var migrateLegacyCmd = &cobra.Command{
	Use:   "migrate-legacy <users.json>",
	Short: "Import a legacy single-file user map into the configured store",
	Args:  cobra.ExactArgs(1),
	RunE:  withEnv(runMigrateLegacy),
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the SQLite schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrateUp,
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE:  runMigrateVersion,
}

func init() {
	migrateLegacyCmd.Flags().BoolVar(&flagOverwrite, "overwrite", false, "Replace users that already exist")
	migrateCmd.AddCommand(migrateUpCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateLegacyCmd, migrateCmd)
}

func runMigrateLegacy(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := storage.ReadLegacy(f)
	if err != nil {
		return err
	}

	created, replaced, skipped := 0, 0, 0
	for _, rec := range records {
		err := e.store.Store.Create(ctx, rec)
		switch {
		case err == nil:
			created++
		case errors.Is(err, storage.ErrExists) && flagOverwrite:
			if err := e.store.Store.Save(ctx, rec); err != nil {
				return fmt.Errorf("save %s: %w", rec.Username, err)
			}
			e.ledger.InvalidateHistory(ctx, rec.Username)
			replaced++
		case errors.Is(err, storage.ErrExists):
			skipped++
			e.logger.Warn("User already exists, skipping", "username", rec.Username)
		default:
			return fmt.Errorf("create %s: %w", rec.Username, err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d users: %d created, %d replaced, %d skipped\n",
		len(records), created, replaced, skipped)
	return nil
}

// sqlitePath resolves the database path without opening a store.
func sqlitePath() (string, error) {
	if flagDBPath != "" {
		return flagDBPath, nil
	}
	cli.LoadEnvFile()
	return config.Load().SQLiteDBPath, nil
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	path, err := sqlitePath()
	if err != nil {
		return err
	}
	if err := storage.RunMigrations(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is up to date\n", path)
	return nil
}

func runMigrateVersion(cmd *cobra.Command, _ []string) error {
	path, err := sqlitePath()
	if err != nil {
		return err
	}
	version, dirty, err := storage.MigrationVersion(path)
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: version %d (%s)\n", path, version, state)
	return nil
}
