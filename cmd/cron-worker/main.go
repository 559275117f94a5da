package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/subvaulthq/subvault-backend/internal/cron"
	"github.com/subvaulthq/subvault-backend/internal/notifications"
	"github.com/subvaulthq/subvault-backend/internal/pool"
	"github.com/subvaulthq/subvault-backend/internal/subscriptions"
	"github.com/subvaulthq/subvault-backend/pkg/config"
	"github.com/subvaulthq/subvault-backend/pkg/db"
	"github.com/subvaulthq/subvault-backend/pkg/logger"
	"github.com/subvaulthq/subvault-backend/pkg/metrics"
	"github.com/subvaulthq/subvault-backend/pkg/migrate"
	"github.com/subvaulthq/subvault-backend/pkg/outbox"
	"github.com/subvaulthq/subvault-backend/pkg/redis"
)

const lockKeyFormat = "sv:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	engineMetrics := metrics.NewEngineMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	poolRepo := pool.NewRepository(dbClient.DB())

	poolSvc, err := pool.NewService(poolRepo, cfg.Pool, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create pool service", err)
		os.Exit(1)
	}

	purgeJob, err := cron.NewPoolPurgeJob(cron.PoolPurgeJobParams{
		Logger:  logg,
		DB:      dbClient,
		Pool:    poolSvc,
		Depth:   poolRepo,
		Outbox:  outboxSvc,
		Metrics: engineMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pool purge job", err)
		os.Exit(1)
	}

	reminderJob, err := cron.NewRenewalReminderJob(cron.RenewalReminderJobParams{
		Logger:   logg,
		DB:       dbClient,
		Subs:     subscriptions.NewRepository(dbClient.DB()),
		Outbox:   outboxSvc,
		LeadDays: cfg.Renewal.ReminderLeadDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create renewal reminder job", err)
		os.Exit(1)
	}

	cleanupJob, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: notifications.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification cleanup job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(purgeJob, reminderJob, cleanupJob),
		Lock:     lock,
		Metrics:  cronMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
