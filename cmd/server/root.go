package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Priya8975/token-settlement-orchestrator/internal/config"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DatabaseURL string
	LogLevel    string

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCommand creates the root command for the orchestrator binary.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "Settlement orchestrator for stablecoin to tokenized ETF workflows",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(opts.LogLevel)); err != nil {
				return fmt.Errorf("invalid log level %q: %w", opts.LogLevel, err)
			}
			opts.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

			opts.cfg = config.FromEnv()
			if opts.DatabaseURL != "" {
				opts.cfg.DatabaseURL = opts.DatabaseURL
			}
			if opts.cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL or --database-url is required")
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", "", "database url, overrides DATABASE_URL (postgres:// or sqlite:)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewOrdersCommand(opts))

	return cmd
}
