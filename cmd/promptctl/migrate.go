package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/promptvault/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return errors.New("DATABASE_URL is required")
		}

		pool, err := database.NewPool(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		return database.RunMigrations(cmd.Context(), pool)
	},
}
