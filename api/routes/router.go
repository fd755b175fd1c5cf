package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/learnlyhq/learnly-backend/api/controllers"
	webhookcontrollers "github.com/learnlyhq/learnly-backend/api/controllers/webhooks"
	"github.com/learnlyhq/learnly-backend/api/middleware"
	checkoutsvc "github.com/learnlyhq/learnly-backend/internal/checkout"
	"github.com/learnlyhq/learnly-backend/internal/syncqueue"
	stripewebhook "github.com/learnlyhq/learnly-backend/internal/webhooks/stripe"
	"github.com/learnlyhq/learnly-backend/pkg/config"
	"github.com/learnlyhq/learnly-backend/pkg/db"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/metrics"
	"github.com/learnlyhq/learnly-backend/pkg/redis"
	"github.com/learnlyhq/learnly-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	checkoutService checkoutsvc.Service,
	syncService syncqueue.Service,
	stripeClient *stripe.Client,
	webhookService webhookcontrollers.StripeWebhookService,
	webhookGuard *stripewebhook.IdempotencyGuard,
	webhookMetrics *metrics.WebhookMetrics,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.CORS(),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Recoverer(logg),
	)

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.RateLimit.CheckoutWindow,
		cfg.RateLimit.CheckoutIPLimit,
		cfg.RateLimit.CheckoutEmailLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, dbP, redisClient, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(webhookService, stripeClient, webhookGuard, webhookMetrics, logg))
	})

	// Checkout registers through an inline group; a mounted subrouter would
	// hide the full route pattern from the idempotency matcher.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireCaller(cfg.JWT, logg))
		r.Use(middleware.RateLimit(checkoutPolicy, redisClient, logg))
		r.Use(middleware.Idempotency(redisClient, logg))
		r.Post("/api/v1/checkout", controllers.Checkout(checkoutService, logg))
		r.Post("/api/v1/checkout/{enrollmentID}/cancel", controllers.CancelCheckout(checkoutService, logg))
	})

	r.Route("/api/v1/ops", func(r chi.Router) {
		r.Use(middleware.RequireOpsToken(cfg.Ops, logg))
		r.Route("/sync-jobs", func(r chi.Router) {
			r.Get("/", controllers.ListSyncJobs(syncService, logg))
			r.Post("/drain", controllers.DrainSyncJobs(syncService, cfg.Sync, logg))
		})
		r.Post("/enrollments/{enrollmentID}/resync", controllers.ResyncEnrollment(syncService, logg))
	})

	return r
}
