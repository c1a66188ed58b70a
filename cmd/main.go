package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mirror-labs/mirror_service/internal/api/routes"
	"github.com/mirror-labs/mirror_service/internal/domain/services/ledger"
	"github.com/mirror-labs/mirror_service/internal/domain/services/orders"
	"github.com/mirror-labs/mirror_service/internal/domain/services/riskgate"
	"github.com/mirror-labs/mirror_service/internal/domain/services/session"
	"github.com/mirror-labs/mirror_service/internal/domain/services/updates"
	"github.com/mirror-labs/mirror_service/internal/infrastructure/cache"
	"github.com/mirror-labs/mirror_service/internal/infrastructure/config"
	"github.com/mirror-labs/mirror_service/internal/infrastructure/database"
	"github.com/mirror-labs/mirror_service/internal/infrastructure/repositories"
	"github.com/mirror-labs/mirror_service/internal/infrastructure/venue"
	"github.com/mirror-labs/mirror_service/internal/workers/health_worker"
	"github.com/mirror-labs/mirror_service/pkg/graceful"
	"github.com/mirror-labs/mirror_service/pkg/logger"
	"github.com/mirror-labs/mirror_service/pkg/ratelimit"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	// Initialize database with enhanced configuration
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}

	// Run migrations
	if err := database.RunMigrations(cfg.Database.URL); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	// Initialize Redis
	redisClient, err := cache.NewRedisClient(&cfg.Redis, log.Zap())
	if err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}
	defer redisClient.Close()

	// Repositories
	sessionRepo := repositories.NewSessionRepository(db, log.Zap())
	orderRepo := repositories.NewOrderRepository(db, log.Zap())
	positionRepo := repositories.NewPositionRepository(db, log.Zap())

	// Position ledger, seeded from persisted state
	led := ledger.New(positionRepo, log.Zap())
	positions, err := positionRepo.ListPositions(context.Background())
	if err != nil {
		log.Fatal("Failed to load positions", "error", err)
	}
	led.Restore(positions)

	// Venue API client: execution, balances, trader discovery
	venueClient := venue.NewClient(venue.Config{
		BaseURL:     cfg.Venue.BaseURL,
		APIKey:      cfg.Venue.APIKey,
		APISecret:   cfg.Venue.APISecret,
		Environment: cfg.Venue.Environment,
		Timeout:     time.Duration(cfg.Venue.Timeout) * time.Second,
	}, log.Zap())

	minOrderUSDC, err := decimal.NewFromString(cfg.Engine.MinOrderUSDC)
	if err != nil {
		log.Fatal("Invalid engine min_order_usdc", "error", err)
	}
	simSlippageBps, err := decimal.NewFromString(cfg.Engine.SimSlippageBps)
	if err != nil {
		log.Fatal("Invalid engine sim_slippage_bps", "error", err)
	}

	// Update fan-out to subscribers
	broadcaster := updates.NewBroadcaster(256, log.Zap())

	// Order lifecycle manager
	orderManager := orders.NewManager(venueClient, led, orderRepo, broadcaster, simSlippageBps, log.Zap())

	// Engine collaborators
	deduper := cache.NewTradeDeduper(redisClient, time.Duration(cfg.Engine.DedupWindowSecs)*time.Second)
	orderLimiter := ratelimit.NewOrderLimiter(
		redisClient.Client(),
		int64(cfg.Engine.MaxOrdersPerMinute),
		time.Minute,
		log.Zap(),
	)

	engine := session.NewEngine(
		riskgate.New(minOrderUSDC),
		orderManager,
		led,
		deduper,
		orderLimiter,
		sessionRepo,
		broadcaster,
		venueClient,
		venueClient,
		session.Settings{
			MinOrderUSDC:           minOrderUSDC,
			DedupWindow:            time.Duration(cfg.Engine.DedupWindowSecs) * time.Second,
			CooldownDuration:       time.Duration(cfg.Engine.CooldownSecs) * time.Second,
			MaxConsecutiveFailures: cfg.Engine.MaxConsecutiveFailures,
			GTCTimeout:             time.Duration(cfg.Engine.GTCTimeoutSecs) * time.Second,
		},
		log.Zap(),
	)

	// Reload non-stopped sessions from the database
	if err := engine.Restore(context.Background()); err != nil {
		log.Fatal("Failed to restore sessions", "error", err)
	}

	// Periodic health checks
	healthWorker := health_worker.NewWorker(engine, db, cfg.Engine.HealthIntervalSecs, log.Zap())
	if err := healthWorker.Start(); err != nil {
		log.Fatal("Failed to start health worker", "error", err)
	}

	// HTTP server
	router := routes.SetupRoutes(routes.Deps{
		Config: cfg,
		DB:     db,
		Engine: engine,
		Orders: orderRepo,
		Logger: log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", "error", err)
		}
	}()

	shutdown := graceful.NewShutdownManager(server, db, log)
	shutdown.Register(shutdownFunc(func(timeout time.Duration) error {
		healthWorker.Stop()
		return nil
	}))
	shutdown.WaitForShutdown()
}

type shutdownFunc func(timeout time.Duration) error

func (f shutdownFunc) Shutdown(timeout time.Duration) error {
	return f(timeout)
}
