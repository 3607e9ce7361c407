// Package main implements ragctl, an operator CLI for the retrieval pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mickgian/pratikoai-retrieval/internal/bootstrap"
	"github.com/mickgian/pratikoai-retrieval/internal/config"
	"github.com/mickgian/pratikoai-retrieval/internal/observability/logging"
)

var (
	logLevel string
	version  = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Operate the retrieval pipeline from the command line",
	Long: `ragctl runs retrieval passes in-process, answers questions with the premium
model, checks premium providers,
prints the model tier registry and loads corpus documents into the search indexes.

Configuration is read from the same environment variables as the worker.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(prewarmCmd)
	rootCmd.AddCommand(tiersCmd)
	rootCmd.AddCommand(indexCmd)
}

func newLogger() *slog.Logger {
	logger := logging.New(os.Stderr, "ragctl", logLevel, "text")
	slog.SetDefault(logger)
	return logger
}

// openApp builds the full pipeline the way the worker does.
func openApp(ctx context.Context) (*bootstrap.App, error) {
	cfg := config.Load()
	app, err := bootstrap.New(ctx, cfg, newLogger())
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return app, nil
}
