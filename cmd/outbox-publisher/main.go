package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/learnlyhq/learnly-backend/pkg/config"
	"github.com/learnlyhq/learnly-backend/pkg/db"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/migrate"
	"github.com/learnlyhq/learnly-backend/pkg/outbox"
	"github.com/learnlyhq/learnly-backend/pkg/outbox/registry"
	"github.com/learnlyhq/learnly-backend/pkg/pubsub"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "outbox-publisher"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	mustBoot(ctx, logg, "config", err)
	cfg.Service.Kind = "outbox-publisher"

	logg = logger.New(logger.Options{
		ServiceName: "outbox-publisher",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	mustBoot(ctx, logg, "database", err)
	defer closeQuietly(ctx, logg, "database", dbClient)

	err = migrate.DevAutoMigrate(ctx, cfg, logg, dbClient)
	mustBoot(ctx, logg, "dev migrations", err)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	mustBoot(ctx, logg, "pubsub", err)
	defer closeQuietly(ctx, logg, "pubsub client", pubsubClient)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	mustBoot(ctx, logg, "event registry", err)

	publisher, err := NewPublisher(PublisherParams{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		PubSub:   pubsubClient,
		Store:    outbox.NewRepository(dbClient.DB()),
		Registry: eventRegistry,
		DLQ:      outbox.NewDLQRepository(dbClient.DB()),
	})
	mustBoot(ctx, logg, "outbox publisher", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "outbox publisher ready")

	if err := publisher.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "outbox publisher failed", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "outbox publisher drained and stopped")
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
