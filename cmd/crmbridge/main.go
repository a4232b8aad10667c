package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	crmhttp "github.com/0ndata/crmbridge/internal/adapter/http"
	crmnats "github.com/0ndata/crmbridge/internal/adapter/nats"
	crmotel "github.com/0ndata/crmbridge/internal/adapter/otel"
	"github.com/0ndata/crmbridge/internal/adapter/postgres"
	"github.com/0ndata/crmbridge/internal/adapter/ristretto"
	"github.com/0ndata/crmbridge/internal/adapter/ws"
	"github.com/0ndata/crmbridge/internal/bridge"
	"github.com/0ndata/crmbridge/internal/config"
	"github.com/0ndata/crmbridge/internal/logger"
	"github.com/0ndata/crmbridge/internal/middleware"
	"github.com/0ndata/crmbridge/internal/models"
	"github.com/0ndata/crmbridge/internal/oauth"
	"github.com/0ndata/crmbridge/internal/port/events"
	"github.com/0ndata/crmbridge/internal/port/usagestore"
	"github.com/0ndata/crmbridge/internal/ratelimit"
	"github.com/0ndata/crmbridge/internal/schema"
	"github.com/0ndata/crmbridge/internal/service"
	"github.com/0ndata/crmbridge/internal/tokenstore"
	"github.com/0ndata/crmbridge/internal/usage"
)

func main() {
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"crm_base_url", cfg.CRM.BaseURL,
		"usage_tracking", cfg.Usage.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer := crmotel.InitTracer(cfg.Logging.Service)
	defer func() { _ = shutdownTracer(ctx) }()

	// --- Outbound CRM stack ---

	tokenPath := cfg.CRM.TokenFile
	if tokenPath == "" {
		tokenPath = tokenstore.DefaultPath()
	}
	store := tokenstore.NewFileStore(tokenPath, log)
	oauthMgr := oauth.NewManager(cfg.CRM, store, log)

	limiter := ratelimit.New(ratelimit.Config{
		Capacity:        cfg.Rate.Capacity,
		RefillPerSecond: cfg.Rate.RefillPerSecond,
		DailyCap:        cfg.Rate.DailyCap,
		InitialBackoff:  cfg.Rate.InitialBackoff,
		MaxBackoff:      cfg.Rate.MaxBackoff,
	})
	tracker := usage.NewTracker(cfg.Usage.Enabled, log)

	metrics, err := bridge.NewMetrics()
	if err != nil {
		slog.Warn("metric instruments unavailable", "error", err)
		metrics = nil
	}
	client := bridge.New(cfg.CRM, limiter, oauthMgr, tracker, metrics, log)

	// --- Schema catalog ---

	registry := schema.NewRegistry()
	models.RegisterAll(registry)
	installer := schema.NewInstaller(client, registry, log)

	// --- Optional usage rollup store (PostgreSQL) ---

	var rollups usagestore.Store
	if cfg.Postgres.DSN != "" {
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		rollups = postgres.NewUsageStore(pool)
		tracker.StartFlush(ctx, cfg.Usage.FlushInterval, rollups)
		slog.Info("usage rollups enabled", "flush_interval", cfg.Usage.FlushInterval)
	}

	// --- Events: WebSocket hub always, NATS when configured ---

	hub := ws.NewHub(cfg.Server.CORSOrigin, log)
	pubs := events.MultiPublisher{hub}
	if cfg.NATS.URL != "" {
		bus, err := crmnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = bus.Close() }()
		pubs = append(pubs, bus)
	}
	var publisher events.Publisher = pubs

	// --- Services ---

	contactCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer contactCache.Close()

	users := service.NewUserService(client, contactCache, &cfg.Auth, cfg.CRM.LocationID, cfg.Cache.ContactTTL, log)
	sessions := service.NewSessionService(&cfg.Auth)
	cycle := service.NewCycleService(client, cfg.Cron.PredictionAPI, nil, publisher, log)

	// --- HTTP ---

	handlers := crmhttp.NewHandlers(cfg, client, registry, installer, oauthMgr,
		users, sessions, cycle, tracker, limiter, rollups, publisher, hub, log)

	inbound := middleware.NewInboundLimiter(cfg.Inbound.RequestsPerSecond, cfg.Inbound.Burst)
	stopCleanup := inbound.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(crmotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(crmhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(crmhttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(crmhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(inbound.Handler)

	crmhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}
