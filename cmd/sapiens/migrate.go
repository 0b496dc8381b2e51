package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sapienshq/sapiens/internal/config"
	"github.com/sapienshq/sapiens/internal/db"
)

func newMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long: `Applies the schema for rooms, messages, milestones, and artifacts
to the configured database. Safe to run multiple times (idempotent);
'sapiens serve' also migrates on startup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runMigrate(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Sapiens config file")
	return cmd
}

func runMigrate(out io.Writer, cfg *config.Config) error {
	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	target := cfg.DB.Path
	if cfg.DB.Driver == "mysql" {
		target = fmt.Sprintf("%s:%d/%s", cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
	}
	fmt.Fprintf(out, "Migrated %d tables on %s (%s)\n", len(db.AllModels()), target, cfg.DB.Driver)
	return nil
}
