package main

import (
	"fmt"

	"github.com/mikepea/nookmark/pkg/nookmark/database"
	"github.com/mikepea/nookmark/pkg/nookmark/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, db, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer database.Close(db)

		if err := models.AutoMigrate(db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("database migrations completed", zap.String("path", cfg.Database.Path))
		return nil
	},
}
