package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/subvaulthq/subvault-backend/api/controllers"
	"github.com/subvaulthq/subvault-backend/api/routes"
	"github.com/subvaulthq/subvault-backend/internal/allocation"
	"github.com/subvaulthq/subvault-backend/internal/ledger"
	"github.com/subvaulthq/subvault-backend/internal/notifications"
	"github.com/subvaulthq/subvault-backend/internal/pool"
	"github.com/subvaulthq/subvault-backend/internal/renewals"
	"github.com/subvaulthq/subvault-backend/internal/subscriptions"
	"github.com/subvaulthq/subvault-backend/pkg/config"
	"github.com/subvaulthq/subvault-backend/pkg/db"
	"github.com/subvaulthq/subvault-backend/pkg/logger"
	"github.com/subvaulthq/subvault-backend/pkg/metrics"
	"github.com/subvaulthq/subvault-backend/pkg/migrate"
	"github.com/subvaulthq/subvault-backend/pkg/outbox"
	"github.com/subvaulthq/subvault-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	engineMetrics := metrics.NewEngineMetrics(registry)

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	subsRepo := subscriptions.NewRepository(dbClient.DB())

	poolSvc, err := pool.NewService(pool.NewRepository(dbClient.DB()), cfg.Pool, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create pool service", err)
		os.Exit(1)
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	subsSvc, err := subscriptions.NewService(subsRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	renewalsSvc, err := renewals.NewService(dbClient, subsRepo, renewals.NewRepository(dbClient.DB()), outboxSvc, cfg.Renewal, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create renewals service", err)
		os.Exit(1)
	}

	notificationsSvc, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	allocationSvc, err := allocation.NewService(dbClient, poolSvc, ledgerSvc, subsRepo, outboxSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create allocation service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:        cfg,
			Logger:        logg,
			Redis:         redisClient,
			Registry:      registry,
			EngineMetrics: engineMetrics,
			Dependencies: map[string]controllers.Pinger{
				"database": dbClient,
				"redis":    redisClient,
			},
			Allocation:    allocationSvc,
			Subscriptions: subsSvc,
			Renewals:      renewalsSvc,
			Pool:          poolSvc,
			Notifications: notificationsSvc,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
