package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/learnlyhq/learnly-backend/internal/analytics"
	"github.com/learnlyhq/learnly-backend/pkg/bigquery"
	"github.com/learnlyhq/learnly-backend/pkg/config"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/outbox/idempotency"
	"github.com/learnlyhq/learnly-backend/pkg/pubsub"
	"github.com/learnlyhq/learnly-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "analytics-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	mustBoot(ctx, logg, "config", err)
	cfg.Service.Kind = "analytics-worker"

	logg = logger.New(logger.Options{
		ServiceName: "analytics-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	mustBoot(ctx, logg, "redis", err)
	defer closeQuietly(ctx, logg, "redis client", redisClient)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	mustBoot(ctx, logg, "pubsub", err)
	defer closeQuietly(ctx, logg, "pubsub client", pubsubClient)

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	mustBoot(ctx, logg, "bigquery client", err)
	defer closeQuietly(ctx, logg, "bigquery client", bqClient)

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		mustBoot(ctx, logg, "analytics subscription", errors.New("subscription not configured"))
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	mustBoot(ctx, logg, "idempotency manager", err)

	factWriter, err := analytics.NewWriter(bqClient, analytics.WriterConfig{
		Table: cfg.BigQuery.EnrollmentFactsTable,
	})
	mustBoot(ctx, logg, "fact writer", err)

	router, err := analytics.NewRouter(factWriter, logg)
	mustBoot(ctx, logg, "analytics router", err)

	service, err := analytics.NewService(subscription, router, manager, logg)
	mustBoot(ctx, logg, "analytics worker service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "analytics worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "analytics worker failed", err)
		os.Exit(1)
	}
}

func closeQuietly(ctx context.Context, logg *logger.Logger, name string, closer interface{ Close() error }) {
	if err := closer.Close(); err != nil {
		logg.Error(ctx, "close "+name+" failed", err)
	}
}

func mustBoot(ctx context.Context, logg *logger.Logger, what string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "boot failed: "+what, err)
	os.Exit(1)
}
