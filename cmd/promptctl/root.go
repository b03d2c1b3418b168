package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/promptvault/internal/config"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "promptctl",
	Short: "Operator tooling for the prompt versioning service",
	Long: `promptctl runs maintenance tasks against a promptvault deployment.

Configuration is read from the same environment variables (and .env file)
as the API server and worker.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}

	rootCmd.AddCommand(migrateCmd, tokenCmd, purgeCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load()
}
