// Package cli provides the command-line interface for pmchat.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/pmchat/internal/client"
	"github.com/raphaelgruber/pmchat/internal/config"
	"github.com/raphaelgruber/pmchat/internal/conversation"
	"github.com/raphaelgruber/pmchat/internal/db"
	"github.com/raphaelgruber/pmchat/internal/ledger"
	"github.com/raphaelgruber/pmchat/internal/metrics"
	"github.com/raphaelgruber/pmchat/internal/presenter"
	"github.com/raphaelgruber/pmchat/internal/service"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Set up in PersistentPreRunE
	cfg        config.Config
	logger     *slog.Logger
	logCleanup func() error
	apiClient  *client.Client
	collector  *metrics.Collector

	// Only set when the surreal ledger backend is opened
	dbClient *db.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pmchat",
	Short: "Chat with the project assistant",
	Long: `pmchat keeps AI conversations in sync with the project platform and executes
the project and task actions the assistant proposes, exactly once.

Configuration is read from PMCHAT_* and SURREALDB_* environment variables.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		// The chat view owns the terminal; log to the file only.
		logger, logCleanup = config.SetupLogger(cfg.LogFile, cfg.LogLevel, cmd.Name() == "chat")
		slog.SetDefault(logger)

		apiClient = client.New(client.Options{
			Endpoint: cfg.APIURL,
			Token:    cfg.APIToken,
			Timeout:  cfg.ClientTimeout,
			Logger:   logger,
		})
		collector = metrics.NewCollector()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if logCleanup != nil {
			_ = logCleanup()
		}
	},
}

// openLedger opens the configured idempotency ledger backend.
func openLedger(ctx context.Context) (*ledger.Ledger, error) {
	var store ledger.Store

	switch cfg.Ledger {
	case config.LedgerMemory:
		store = ledger.NewMemoryStore()

	case config.LedgerSurreal:
		var err error
		dbClient, err = db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := dbClient.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		store = dbClient

	default:
		fs, err := ledger.OpenFileStore(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		store = fs
	}

	logger.Debug("ledger opened", "backend", cfg.Ledger)
	return ledger.New(store, logger), nil
}

// newSession wires a session from the global config. The caller runs and closes it.
func newSession(ctx context.Context, model string) (*service.Session, error) {
	l, err := openLedger(ctx)
	if err != nil {
		return nil, err
	}

	opts := service.SessionOptions{
		Model:        model,
		PollInterval: cfg.PollInterval,
		Merge: conversation.Options{
			UserWindow:      cfg.UserDedupWindow,
			AssistantWindow: cfg.AssistantDedupWindow,
		},
		Presenter: presenter.Options{
			Interval:      cfg.RevealInterval,
			RecencyWindow: cfg.RecencyWindow,
		},
	}
	if cfg.PushUpdates {
		opts.Subscriber = apiClient
	}

	dispatcher := service.NewDispatcher(l, apiClient, collector, logger)
	return service.NewSession(apiClient, dispatcher, collector, opts, logger), nil
}

// Execute adds all child commands to the root command and runs it. Cancelling
// ctx aborts the running command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(ledgerCmd)
}
