package main

import (
	"context"
	"fmt"
	"os"

	"kasa/internal/backend"
	"kasa/internal/cli"
	"kasa/internal/config"
	"kasa/internal/log"
	"kasa/internal/services"

	"github.com/spf13/cobra"
)

var (
	flagBackend string
	flagDataDir string
	flagDBPath  string
)

var rootCmd = &cobra.Command{
	Use:           "kasactl",
	Short:         "Administer kasa ledgers",
	Long:          "Inspect users and months, import legacy data and repair records in a kasa data store.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "Storage backend (file, sqlite); defaults to DATA_BACKEND")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Directory of the file backend; defaults to DATA_DIR")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "SQLite database path; defaults to SQLITE_DB_PATH")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env is what every subcommand needs to reach the store.
type env struct {
	cfg     *config.Config
	logger  *log.Logger
	store   *backend.BackendResult
	ledger  *services.LedgerService
	cleanup func()
}

func openEnv(ctx context.Context) (*env, error) {
	cli.LoadEnvFile()
	cfg, err := cli.LoadConfig()
	if err != nil {
		return nil, err
	}
	if flagBackend != "" {
		cfg.DataBackend = flagBackend
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagDBPath != "" {
		cfg.SQLiteDBPath = flagDBPath
	}
	if cfg.DataBackend == config.BackendMemory {
		return nil, fmt.Errorf("the memory backend holds no data between runs")
	}

	// Command output owns stdout.
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: "kasactl",
		Output:    os.Stderr,
	})
	log.SetDefault(logger)
	result, err := cli.OpenStore(ctx, logger, cfg)
	if err != nil {
		return nil, err
	}
	historyCache, stopCache := cli.NewHistoryCache(ctx, logger, cfg)

	e := &env{
		cfg:    cfg,
		logger: logger,
		store:  result,
		ledger: services.NewLedgerService(result.Store,
			services.WithHistoryCache(historyCache),
			services.WithPersistOnView(false)),
	}
	e.cleanup = func() {
		stopCache()
		if err := result.Cleanup(); err != nil {
			logger.Warn("Failed to close storage", log.FieldError, err)
		}
	}
	return e, nil
}

// withEnv adapts a function needing a store into a cobra RunE.
func withEnv(fn func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.cleanup()
		return fn(ctx, e, cmd, args)
	}
}
