package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"creator-payments/internal/migrations"
	"creator-payments/pkg/utils"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ledger schema",
		Long: `Apply or inspect the embedded schema migrations.

Examples:
  ledgerctl migrate up
  ledgerctl migrate status
  ledgerctl migrate down`,
	}

	cmd.AddCommand(migrateStep("up", "Apply all pending migrations", migrations.Up))
	cmd.AddCommand(migrateStep("down", "Roll back the most recent migration", migrations.Down))
	cmd.AddCommand(migrateStep("status", "Show applied and pending migrations", migrations.Status))
	return cmd
}

type migrateFunc func(ctx context.Context, db *sql.DB, l *slog.Logger) error

func migrateStep(use, short string, run migrateFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer db.Close()
			return run(ctx, db, log)
		},
	}
}
