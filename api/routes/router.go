package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/subvaulthq/subvault-backend/api/controllers"
	"github.com/subvaulthq/subvault-backend/api/middleware"
	"github.com/subvaulthq/subvault-backend/internal/allocation"
	"github.com/subvaulthq/subvault-backend/internal/notifications"
	"github.com/subvaulthq/subvault-backend/internal/pool"
	"github.com/subvaulthq/subvault-backend/internal/renewals"
	subscriptionsvc "github.com/subvaulthq/subvault-backend/internal/subscriptions"
	"github.com/subvaulthq/subvault-backend/pkg/config"
	"github.com/subvaulthq/subvault-backend/pkg/logger"
	"github.com/subvaulthq/subvault-backend/pkg/metrics"
	"github.com/subvaulthq/subvault-backend/pkg/redis"
)

type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	Redis         *redis.Client
	Registry      *prometheus.Registry
	EngineMetrics *metrics.EngineMetrics

	// Readiness dependencies keyed by name.
	Dependencies map[string]controllers.Pinger

	Allocation    allocation.Service
	Subscriptions subscriptionsvc.Service
	Renewals      renewals.Service
	Pool          pool.Service
	Notifications notifications.Service
}

func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, p.Logger, p.Dependencies))
	})

	if p.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if p.Redis != nil {
			r.Use(middleware.Idempotency(p.Redis, p.Logger))
		}

		r.Post("/allocations", controllers.CreateAllocation(p.Allocation, p.EngineMetrics, p.Logger))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", controllers.ListSubscriptions(p.Subscriptions, p.Logger))
			r.Post("/issue", controllers.IssueSubscription(p.Subscriptions, p.Logger))
			r.Get("/by-order/{orderID}", controllers.SubscriptionByOrder(p.Subscriptions, p.Logger))
			r.Route("/{subscriptionID}", func(r chi.Router) {
				r.Get("/", controllers.SubscriptionDetail(p.Subscriptions, p.Logger))
				r.Post("/renew", controllers.RenewSubscription(p.Renewals, p.EngineMetrics, p.Logger))
				r.Get("/renewals", controllers.RenewalHistory(p.Renewals, p.Logger))
			})
		})

		r.Route("/pool", func(r chi.Router) {
			r.Post("/entries", controllers.ProvisionPoolEntries(p.Pool, p.EngineMetrics, p.Logger))
			r.Get("/availability", controllers.PoolAvailability(p.Pool, p.Logger))
			r.Post("/purge", controllers.PurgePoolEntries(p.Pool, p.Logger))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(p.Notifications, p.Logger))
			r.Post("/{notificationID}/sent", controllers.MarkNotificationSent(p.Notifications, p.Logger))
		})
	})

	return r
}
