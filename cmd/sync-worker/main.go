package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/learnlyhq/learnly-backend/internal/affiliates"
	"github.com/learnlyhq/learnly-backend/internal/coupons"
	"github.com/learnlyhq/learnly-backend/internal/courses"
	"github.com/learnlyhq/learnly-backend/internal/cron"
	"github.com/learnlyhq/learnly-backend/internal/enrollments"
	"github.com/learnlyhq/learnly-backend/internal/syncqueue"
	"github.com/learnlyhq/learnly-backend/pkg/config"
	"github.com/learnlyhq/learnly-backend/pkg/db"
	"github.com/learnlyhq/learnly-backend/pkg/instance"
	"github.com/learnlyhq/learnly-backend/pkg/lms"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/metrics"
	"github.com/learnlyhq/learnly-backend/pkg/migrate"
	"github.com/learnlyhq/learnly-backend/pkg/outbox"
	"github.com/learnlyhq/learnly-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "sync-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), "no .env file, reading process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "config load failed", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "sync-worker"

	logg = logger.New(logger.Options{
		ServiceName: "sync-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "postgres connect failed", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "postgres close failed", err)
		}
	}()

	if err := migrate.DevAutoMigrate(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "dev auto-migrate failed", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "redis connect failed", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "redis close failed", err)
		}
	}()

	lmsClient, err := lms.NewClient(cfg.LMS)
	if err != nil {
		logg.Error(context.Background(), "lms client init failed", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	syncService, err := syncqueue.NewService(syncqueue.ServiceParams{
		Repo:        syncqueue.NewRepository(dbClient.DB()),
		Enrollments: enrollments.NewRepository(dbClient.DB()),
		Courses:     courses.NewRepository(dbClient.DB()),
		Affiliates:  affiliates.NewRepository(dbClient.DB()),
		LMS:         lmsClient,
		TxRunner:    dbClient,
		Outbox:      outboxService,
		Logger:      logg,
		WorkerID:    instance.GetID("sync-worker"),
		Config:      cfg.Sync,
	})
	if err != nil {
		logg.Error(context.Background(), "sync queue init failed", err)
		os.Exit(1)
	}

	couponService, err := coupons.NewService(coupons.ServiceParams{
		Repo:           coupons.NewRepository(dbClient.DB()),
		ReservationTTL: cfg.Coupons.ReservationTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "coupon service init failed", err)
		os.Exit(1)
	}

	drainJob, err := cron.NewSyncDrainJob(cron.SyncDrainJobParams{
		Logger:    logg,
		Queue:     syncService,
		BatchSize: cfg.Sync.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "drain job init failed", err)
		os.Exit(1)
	}

	janitorJob, err := cron.NewReservationJanitorJob(cron.ReservationJanitorJobParams{
		Logger:       logg,
		Reservations: couponService,
	})
	if err != nil {
		logg.Error(context.Background(), "janitor job init failed", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		logg.Error(context.Background(), "retention job init failed", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(redisClient, cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "cycle lock init failed", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(drainJob, janitorJob, retentionJob),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Sync.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "cron scheduler init failed", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "sync worker running")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sync worker exited with error", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sync worker stopped")
}

func lockKey(client *redis.Client, env string) string {
	if env == "" {
		env = "local"
	}
	return client.LockKey("sync-worker:" + env)
}
