package main

import (
	"github.com/spf13/cobra"

	"github.com/em1l4k/docflow/internal/repository"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			pool, err := connectDatabase(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.NewPostgres(pool).EnsureSchema(ctx); err != nil {
				return err
			}
			logger.Info("schema ready", "database", cfg.DB.Name)
			return nil
		},
	}
}
