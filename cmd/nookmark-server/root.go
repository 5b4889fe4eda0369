package main

import (
	"fmt"
	"os"

	"github.com/mikepea/nookmark/pkg/nookmark/config"
	"github.com/mikepea/nookmark/pkg/nookmark/database"
	"github.com/mikepea/nookmark/pkg/nookmark/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	v          = viper.New()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:           "nookmark-server",
	Short:         "Personal bookmark manager",
	Long:          "Nookmark stores, tags and searches your bookmarks behind a JSON API.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default: ./nookmark.yaml, ~/.nookmark/nookmark.yaml, /etc/nookmark/nookmark.yaml)")
	flags.String("db", "", "SQLite database path")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (json, console)")

	_ = v.BindPFlag("database.path", flags.Lookup("db"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))

	rootCmd.AddCommand(serveCmd, migrateCmd, versionCmd)
}

// setup loads configuration, builds the logger and opens the database
func setup() (*config.Config, *zap.Logger, *gorm.DB, error) {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cfg.Server.Environment)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := database.Open(cfg.Database.Path, logging.GormLogger(logger))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return cfg, logger, db, nil
}
