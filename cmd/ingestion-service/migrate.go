package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"jobmate/ingestion-service/internal/db"
	"jobmate/ingestion-service/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending Postgres migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Driver != store.DriverPostgres {
			return errors.New("migrate requires database.driver=postgres; sqlite creates its schema on open")
		}
		if err := db.Migrate(cfg.Database.Migrations, cfg.Database.URL); err != nil {
			return err
		}
		logger.Info("migrations applied", slog.String("source", cfg.Database.Migrations))
		return nil
	},
}
