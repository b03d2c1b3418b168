package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/promptvault/internal/audit"
	"github.com/nikhilbhutani/promptvault/internal/database"
	"github.com/nikhilbhutani/promptvault/internal/prompt"
	"github.com/nikhilbhutani/promptvault/internal/queue"
)

var (
	purgeOlderThan time.Duration
	purgeEnqueue   bool
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Permanently remove versions that have been in the trash too long",
	Long: `Permanently delete soft-deleted prompt versions older than the retention.

By default the purge runs in this process. With --enqueue it is handed to the
worker through the task queue instead.

Examples:
  promptctl purge                       # use VERSION_PURGE_RETENTION
  promptctl purge --older-than 168h     # anything trashed over a week ago
  promptctl purge --enqueue             # let the worker do it`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		retention := cfg.Versioning.PurgeRetention
		if cmd.Flags().Changed("older-than") {
			retention = purgeOlderThan
		}
		if retention < 0 {
			return errors.New("--older-than must not be negative")
		}

		if purgeEnqueue {
			client := queue.NewClient(cfg.Redis)
			defer client.Close()
			// Without --older-than the worker applies its own retention.
			var payload queue.VersionPurgePayload
			if cmd.Flags().Changed("older-than") {
				payload = queue.PurgeOlderThan(retention)
			}
			if err := client.EnqueueVersionPurge(payload); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "purge enqueued")
			return nil
		}

		if cfg.Database.URL == "" {
			return errors.New("DATABASE_URL is required")
		}
		pool, err := database.NewPool(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		svc := prompt.NewService(prompt.NewPostgresStore(pool),
			prompt.WithLogger(slog.Default()),
			prompt.WithAuditor(audit.NewService(pool)),
		)
		n, err := svc.PurgeDeletedVersions(cmd.Context(), retention)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d version(s)\n", n)
		return nil
	},
}

func init() {
	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 0, "retention override (default: VERSION_PURGE_RETENTION)")
	purgeCmd.Flags().BoolVar(&purgeEnqueue, "enqueue", false, "enqueue the purge for the worker instead of running it here")
}
