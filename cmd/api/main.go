package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creator-payments/internal/audit"
	"creator-payments/internal/auth"
	"creator-payments/internal/config"
	"creator-payments/internal/gateway"
	"creator-payments/internal/httpapi"
	"creator-payments/internal/migrations"
	"creator-payments/internal/money"
	"creator-payments/internal/notify"
	"creator-payments/internal/payout"
	"creator-payments/internal/reporting"
	"creator-payments/internal/wallet"
	"creator-payments/internal/webhook"
	"creator-payments/pkg/logger"
	"creator-payments/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: cfg.DB.MaxOpenConns})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.App.MigrateOnStart {
		if err := migrations.Up(rootCtx, db, log); err != nil {
			log.Error("migrations failed", "err", err)
			os.Exit(1)
		}
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Ledger and payouts
	wallets := wallet.NewService(wallet.NewPostgresRepo(db), wallet.Options{
		FeeRate:     cfg.Ledger.FeeRate,
		Currency:    cfg.Ledger.Currency,
		CreditSales: cfg.Ledger.CreditSales,
	})
	auditor := audit.NewService(audit.NewPostgresRepo(db))
	paystack := gateway.NewPaystack(cfg.Paystack)
	payouts := payout.NewService(wallets, paystack, auditor, payout.Options{
		MinAmount:     money.FromMajor(cfg.Payout.MinAmount),
		RecipientType: cfg.Payout.RecipientType,
		Currency:      cfg.Ledger.Currency,
	})

	// Post-sale side effects
	sinks := []notify.Sink{notify.NewPostgresSink(db)}
	var kafkaCloser func() error
	if len(cfg.Kafka.Brokers) > 0 {
		kw := notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		kafkaCloser = kw.Close
		sinks = append(sinks, notify.NewKafkaSink(kw))
		log.Info("kafka notifications enabled", "topic", cfg.Kafka.Topic)
	}
	dispatcher := notify.NewDispatcher(10*time.Second, sinks...)

	hook := webhook.Handler{
		Secret:    cfg.Paystack.WebhookSecret,
		Sales:     wallets,
		Transfers: payout.NewReconciler(wallets, auditor),
		Notifier:  dispatcher,
		Marker:    webhook.NewRedisMarker(rdb, cfg.Redis.WebhookMarkerTTL),
	}

	handlers := httpapi.Handlers{
		Wallet:  wallets,
		Payouts: payouts,
		Reports: reporting.NewService(reporting.NewPostgresRepo(db)),
		Audit:   auditor,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerPublicRoutes(r, hook, map[string]readinessCheck{
		"postgres": func(ctx context.Context) error { return utils.HealthCheck(ctx, db, 2*time.Second) },
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	registerProtectedRoutes(r, auth.RequireAccessToken(authManager), handlers)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// In-flight notifications still hold db and kafka handles.
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		log.Warn("notifications still in flight at shutdown", "err", err)
	}
	if kafkaCloser != nil {
		if err := kafkaCloser(); err != nil {
			log.Error("kafka writer close failed", "err", err)
		}
	}
}
