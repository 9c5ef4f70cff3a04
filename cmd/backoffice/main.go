// Package main is the entry point for the operator console. It runs next to
// the API server against the same Postgres database and exposes admin-only
// endpoints protected by an IP allowlist and operator roles.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/omnicirculus/dealengine/internal/backoffice"
	"github.com/omnicirculus/dealengine/internal/config"
	"github.com/omnicirculus/dealengine/internal/lock"
	"github.com/omnicirculus/dealengine/internal/negotiation"
	"github.com/omnicirculus/dealengine/internal/notify"
	"github.com/omnicirculus/dealengine/internal/repository"
	"github.com/omnicirculus/dealengine/internal/service"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting operator console",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	if cfg.DB.Driver != config.StoragePostgres {
		logger.Error("operator console requires STORAGE_DRIVER=postgres", "driver", cfg.DB.Driver)
		os.Exit(1)
	}
	if cfg.JWT.AccessSecret == "" {
		logger.Error("operator console requires JWT_ACCESS_SECRET")
		os.Exit(1)
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────────────
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.PingContext(ctx); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── Repositories ──────────────────────────────────────────────────────────
	dealRepo := repository.NewDealRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)

	// ── Locks ─────────────────────────────────────────────────────────────────
	// Per-deal locks are shared with the API server only through Redis.
	var locker service.Locker = lock.NewLocal()
	if cfg.Lock.RedisAddr != "" {
		rl := lock.NewRedis(cfg.Lock.RedisAddr, cfg.Lock.RedisPassword, cfg.Lock.RedisDB, cfg.Lock.TTL)
		if err = rl.Ping(ctx); err != nil {
			logger.Error("redis ping failed", "addr", cfg.Lock.RedisAddr, "err", err)
			os.Exit(1)
		}
		defer rl.Close()
		locker = rl
	} else {
		logger.Warn("REDIS_ADDR not set: console writes rely on optimistic versioning only")
	}

	// ── Services ──────────────────────────────────────────────────────────────
	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.SMTP.Host != "" {
		notifier = notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Timeout:  cfg.SMTP.Timeout,
		})
	}

	fleet, err := config.LoadFleet(cfg.Settlement.FleetFile)
	if err != nil {
		logger.Error("fleet load failed", "file", cfg.Settlement.FleetFile, "err", err)
		os.Exit(1)
	}

	// Manual advances from the console use the rule-based strategy only.
	controller := negotiation.NewController(
		negotiation.NewNegotiator(nil, 0, logger),
		negotiation.NewRandomEstimator(cfg.Negotiation.MinKm, cfg.Negotiation.MaxKm, cfg.Negotiation.RatePerKm),
		cfg.Negotiation.MaxDistanceKm,
	)
	dealSvc := service.NewDealService(dealRepo, catalogRepo, locker, controller, service.DealConfig{
		MaxTurns:   cfg.Negotiation.MaxTurns,
		FloorRatio: cfg.Negotiation.FloorRatio,
	}, logger)
	approvalSvc := service.NewApprovalService(dealRepo, dealRepo, locker, notifier, cfg.Server.PublicBaseURL, logger)
	settlementSvc := service.NewSettlementService(dealRepo, catalogRepo, locker, fleet, cfg.Settlement.ETA, logger)

	// ── Router ────────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		DealSvc:       dealSvc,
		ApprovalSvc:   approvalSvc,
		SettlementSvc: settlementSvc,
		Items:         catalogRepo,
		Hub:           nil, // backoffice does not directly serve WS
		Cfg:           cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── Start ─────────────────────────────────────────────────────────────────
	go func() {
		logger.Info("backoffice http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("backoffice server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("backoffice shutdown error", "err", err)
	}

	db.Close()
	logger.Info("backoffice server stopped cleanly")
}
