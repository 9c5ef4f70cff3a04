// Package main is the entry point for the deal negotiation and settlement API
// server. It wires together all services and starts the HTTP server alongside
// the WebSocket hub and the autopilot scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/shopspring/decimal"

	"github.com/omnicirculus/dealengine/internal/api"
	"github.com/omnicirculus/dealengine/internal/api/middleware"
	"github.com/omnicirculus/dealengine/internal/config"
	"github.com/omnicirculus/dealengine/internal/domain"
	"github.com/omnicirculus/dealengine/internal/llm"
	"github.com/omnicirculus/dealengine/internal/lock"
	"github.com/omnicirculus/dealengine/internal/negotiation"
	"github.com/omnicirculus/dealengine/internal/notify"
	"github.com/omnicirculus/dealengine/internal/repository"
	"github.com/omnicirculus/dealengine/internal/scheduler"
	"github.com/omnicirculus/dealengine/internal/service"
	"github.com/omnicirculus/dealengine/internal/telemetry"
	"github.com/omnicirculus/dealengine/internal/ws"
)

// stores groups the persistence ports for whichever driver is configured.
type stores struct {
	deals   service.DealStore
	tokens  service.TokenStore
	catalog service.Catalog
	close   func() error
}

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting deal engine", "env", cfg.Server.Env, "port", cfg.Server.Port, "storage", cfg.DB.Driver)

	// ── 2. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Telemetry ──────────────────────────────────────────────────────────
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  "dealengine",
		Environment:  cfg.Server.Env,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		Interval:     cfg.Telemetry.Interval,
	}, logger)
	if err != nil {
		logger.Error("telemetry setup failed", "err", err)
		os.Exit(1)
	}

	// ── 4. Storage ────────────────────────────────────────────────────────────
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage setup failed", "err", err)
		os.Exit(1)
	}

	// ── 5. Collaborators ──────────────────────────────────────────────────────
	var locker service.Locker = lock.NewLocal()
	if cfg.Lock.RedisAddr != "" {
		rl := lock.NewRedis(cfg.Lock.RedisAddr, cfg.Lock.RedisPassword, cfg.Lock.RedisDB, cfg.Lock.TTL)
		if err := rl.Ping(ctx); err != nil {
			logger.Error("redis ping failed", "addr", cfg.Lock.RedisAddr, "err", err)
			os.Exit(1)
		}
		defer rl.Close()
		locker = rl
		logger.Info("using redis deal locks", "addr", cfg.Lock.RedisAddr)
	}

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
		logger.Info("using smtp notifier", "host", cfg.SMTP.Host)
	}

	var primary negotiation.Strategy
	if cfg.Model.GeminiAPIKey != "" {
		gemini, err := llm.NewGeminiStrategy(ctx, cfg.Model.GeminiAPIKey, cfg.Model.GeminiModel)
		if err != nil {
			// The fallback strategy covers every turn on its own.
			logger.Warn("gemini unavailable, using fallback strategy only", "err", err)
		} else {
			defer gemini.Close()
			primary = gemini
			logger.Info("gemini strategy enabled", "model", cfg.Model.GeminiModel)
		}
	}

	fleet, err := config.LoadFleet(cfg.Settlement.FleetFile)
	if err != nil {
		logger.Error("fleet load failed", "file", cfg.Settlement.FleetFile, "err", err)
		os.Exit(1)
	}

	// ── 6. Services ───────────────────────────────────────────────────────────
	controller := negotiation.NewController(
		negotiation.NewNegotiator(primary, cfg.Model.Timeout, logger),
		negotiation.NewRandomEstimator(cfg.Negotiation.MinKm, cfg.Negotiation.MaxKm, cfg.Negotiation.RatePerKm),
		cfg.Negotiation.MaxDistanceKm,
	)
	dealSvc := service.NewDealService(st.deals, st.catalog, locker, controller, service.DealConfig{
		MaxTurns:   cfg.Negotiation.MaxTurns,
		FloorRatio: cfg.Negotiation.FloorRatio,
	}, logger)
	approvalSvc := service.NewApprovalService(st.deals, st.tokens, locker, notifier, cfg.Server.PublicBaseURL, logger)
	settlementSvc := service.NewSettlementService(st.deals, st.catalog, locker, fleet, cfg.Settlement.ETA, logger)

	// ── 7. WebSocket Hub ──────────────────────────────────────────────────────
	hub := ws.NewHub([]byte(cfg.JWT.AccessSecret), cfg.Server.AllowedOrigins, logger)

	// Wire WS broadcaster into every mutating service
	dealSvc.SetBroadcaster(hub)
	approvalSvc.SetBroadcaster(hub)
	settlementSvc.SetBroadcaster(hub)

	go hub.Run(ctx)
	logger.Info("websocket hub started")

	// ── 8. Autopilot ──────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Autopilot.Enabled {
		sched = scheduler.NewScheduler(dealSvc, approvalSvc, scheduler.Config{
			Interval:   cfg.Autopilot.Interval,
			FirstDelay: cfg.Autopilot.FirstDelay,
			TurnDelay:  cfg.Autopilot.TurnDelay,
			Batch:      cfg.Autopilot.Batch,
		}, logger)
		sched.Start(ctx)
	}

	// ── 9. HTTP Router ────────────────────────────────────────────────────────
	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
		go limiter.Cleanup(ctx)
	}

	router := api.SetupRouter(api.RouterDeps{
		DealSvc:       dealSvc,
		ApprovalSvc:   approvalSvc,
		SettlementSvc: settlementSvc,
		Hub:           hub,
		Limiter:       limiter,
		Cfg:           cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 10. Start server ──────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 11. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}
	if sched != nil {
		sched.Wait()
	}
	if err = shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown error", "err", err)
	}
	if err = st.close(); err != nil {
		logger.Error("storage close error", "err", err)
	}
	logger.Info("server stopped cleanly")
}

// openStores connects the configured storage driver. Memory mode seeds one
// demo listing so the API can be exercised without a catalog service.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (stores, error) {
	if cfg.DB.Driver == config.StorageMemory {
		mem := repository.NewMemoryStore()
		item := &domain.CatalogItem{
			ID:           uuid.New(),
			Title:        "Steel Rods (2 tons)",
			Price:        decimal.NewFromInt(1000),
			OwnerContact: "seller@demo.local",
			Location:     "Mumbai",
			Available:    true,
			CreatedAt:    time.Now().UTC(),
		}
		if err := mem.CreateItem(ctx, item); err != nil {
			return stores{}, err
		}
		logger.Info("memory storage ready", "demo_item_id", item.ID, "demo_price", item.Price.String())
		return stores{deals: mem, tokens: mem, catalog: mem, close: func() error { return nil }}, nil
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DB.DSN)
	if err != nil {
		return stores{}, fmt.Errorf("database connection failed: %w", err)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return stores{}, fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("database connected")

	if err = runMigrations(db, cfg.DB.MigrationsDir); err != nil {
		db.Close()
		return stores{}, err
	}
	logger.Info("migrations applied")

	deals := repository.NewDealRepository(db)
	return stores{
		deals:   deals,
		tokens:  deals,
		catalog: repository.NewCatalogRepository(db),
		close:   db.Close,
	}, nil
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
