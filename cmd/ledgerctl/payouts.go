package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"creator-payments/internal/audit"
	"creator-payments/internal/gateway"
	"creator-payments/internal/payout"
	"creator-payments/internal/wallet"
	"creator-payments/pkg/logger"
	"creator-payments/pkg/utils"

	"github.com/spf13/cobra"
)

func payoutsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payouts",
		Short: "Inspect and repair payout state",
	}

	var (
		olderThan time.Duration
		limit     int
	)
	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Settle stale pending payouts from the gateway's record",
		Long: `Verify each payout pending longer than --older-than with the gateway and
apply the result. Transfers the gateway has no record of are failed and
their reservation released. Transfers still in flight are left alone.

Examples:
  ledgerctl payouts reconcile
  ledgerctl payouts reconcile --older-than 2h --limit 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = logger.With(ctx, log)

			db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 4, MaxIdleConns: 2})
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer db.Close()

			wallets := wallet.NewService(wallet.NewPostgresRepo(db), wallet.Options{
				FeeRate:     cfg.Ledger.FeeRate,
				Currency:    cfg.Ledger.Currency,
				CreditSales: cfg.Ledger.CreditSales,
			})
			auditor := audit.NewService(audit.NewPostgresRepo(db))
			sweeper := payout.NewSweeper(wallets, gateway.NewPaystack(cfg.Paystack), payout.NewReconciler(wallets, auditor))
			return reconcilePayouts(ctx, cmd.OutOrStdout(), sweeper, olderThan, limit)
		},
	}
	reconcile.Flags().DurationVar(&olderThan, "older-than", 30*time.Minute, "only payouts pending at least this long")
	reconcile.Flags().IntVar(&limit, "limit", 100, "maximum payouts to check in one run")

	cmd.AddCommand(reconcile)
	return cmd
}

type sweepRunner interface {
	Run(ctx context.Context, olderThan time.Duration, limit int) (payout.SweepReport, error)
}

func reconcilePayouts(ctx context.Context, w io.Writer, s sweepRunner, olderThan time.Duration, limit int) error {
	if olderThan < time.Minute {
		return fmt.Errorf("--older-than must be at least 1m, got %s", olderThan)
	}
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}
	rep, err := s.Run(ctx, olderThan, limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, rep.String())
	if rep.Errors > 0 {
		return fmt.Errorf("%d payouts could not be verified", rep.Errors)
	}
	return nil
}
