package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/learnlyhq/learnly-backend/api/routes"
	"github.com/learnlyhq/learnly-backend/internal/affiliates"
	"github.com/learnlyhq/learnly-backend/internal/checkout"
	"github.com/learnlyhq/learnly-backend/internal/commissions"
	"github.com/learnlyhq/learnly-backend/internal/coupons"
	"github.com/learnlyhq/learnly-backend/internal/courses"
	"github.com/learnlyhq/learnly-backend/internal/enrollments"
	"github.com/learnlyhq/learnly-backend/internal/notify"
	"github.com/learnlyhq/learnly-backend/internal/syncqueue"
	stripewebhook "github.com/learnlyhq/learnly-backend/internal/webhooks/stripe"
	"github.com/learnlyhq/learnly-backend/pkg/config"
	"github.com/learnlyhq/learnly-backend/pkg/db"
	"github.com/learnlyhq/learnly-backend/pkg/instance"
	"github.com/learnlyhq/learnly-backend/pkg/lms"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/metrics"
	"github.com/learnlyhq/learnly-backend/pkg/migrate"
	"github.com/learnlyhq/learnly-backend/pkg/outbox"
	"github.com/learnlyhq/learnly-backend/pkg/redis"
	"github.com/learnlyhq/learnly-backend/pkg/sendgrid"
	pkgstripe "github.com/learnlyhq/learnly-backend/pkg/stripe"
)

const (
	stripeEventScope = "stripe:checkout"
	shutdownTimeout  = 10 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), "no .env file, reading process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "config load failed", err)
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

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "stripe client init failed", err)
		os.Exit(1)
	}

	lmsClient, err := lms.NewClient(cfg.LMS)
	if err != nil {
		logg.Error(context.Background(), "lms client init failed", err)
		os.Exit(1)
	}

	coursesRepo := courses.NewRepository(dbClient.DB())
	affiliatesRepo := affiliates.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	couponService, err := coupons.NewService(coupons.ServiceParams{
		Repo:           coupons.NewRepository(dbClient.DB()),
		ReservationTTL: cfg.Coupons.ReservationTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "coupon service init failed", err)
		os.Exit(1)
	}

	commissionService, err := commissions.NewService(commissions.ServiceParams{
		DB:         dbClient.DB(),
		Affiliates: affiliatesRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "commission service init failed", err)
		os.Exit(1)
	}

	enrollmentService, err := enrollments.NewService(enrollments.ServiceParams{
		Repo:        enrollments.NewRepository(dbClient.DB()),
		TxRunner:    dbClient,
		Coupons:     couponService,
		Commissions: commissionService,
		Events:      outboxService,
	})
	if err != nil {
		logg.Error(context.Background(), "enrollment service init failed", err)
		os.Exit(1)
	}

	notifier := notify.NewService(nil, logg)
	if strings.TrimSpace(cfg.Sendgrid.APIKey) != "" {
		mailClient, err := sendgrid.NewClient(cfg.Sendgrid)
		if err != nil {
			logg.Error(context.Background(), "sendgrid client init failed", err)
			os.Exit(1)
		}
		notifier = notify.NewService(mailClient, logg)
	}

	syncService, err := syncqueue.NewService(syncqueue.ServiceParams{
		Repo:        syncqueue.NewRepository(dbClient.DB()),
		Enrollments: enrollments.NewRepository(dbClient.DB()),
		Courses:     coursesRepo,
		Affiliates:  affiliatesRepo,
		LMS:         lmsClient,
		TxRunner:    dbClient,
		Outbox:      outboxService,
		Logger:      logg,
		WorkerID:    instance.GetID("api"),
		Config:      cfg.Sync,
	})
	if err != nil {
		logg.Error(context.Background(), "sync queue init failed", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Courses:     coursesRepo,
		Affiliates:  affiliatesRepo,
		Coupons:     couponService,
		Enrollments: enrollmentService,
		Commissions: commissionService,
		Notifier:    notifier,
		Sync:        syncService,
		Stripe:      checkout.NewStripeClient(stripeClient),
		Logger:      logg,
		Config:      cfg.Checkout,
	})
	if err != nil {
		logg.Error(context.Background(), "checkout service init failed", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Enrollments: enrollmentService,
		Courses:     coursesRepo,
		Commissions: commissionService,
		Notifier:    notifier,
		Sync:        syncService,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "webhook service init failed", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.OutboxIdempotencyTTL, stripeEventScope)
	if err != nil {
		logg.Error(context.Background(), "webhook guard init failed", err)
		os.Exit(1)
	}

	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "api server listening")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			checkoutService,
			syncService,
			stripeClient,
			webhookService,
			webhookGuard,
			webhookMetrics,
		),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server exited with error", err)
		os.Exit(1)
	}

	logg.Info(ctx, "api server stopped")
}
