package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/clinicore/webhook-dispatch/delivery"
	"github.com/clinicore/webhook-dispatch/dispatch"
	"github.com/clinicore/webhook-dispatch/event"
	"github.com/clinicore/webhook-dispatch/ratelimit"
	"github.com/clinicore/webhook-dispatch/subscription"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
)

// Deps bundles the collaborators the HTTP surface is a thin mapping over.
type Deps struct {
	Subscriptions subscription.UseCase
	Dispatcher    *dispatch.Dispatcher
	Deliveries    *delivery.Store
	Limiter       *ratelimit.Limiter
	Catalog       *event.Catalog

	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
}

// Handlers sets up the webhook engine API routes
func Handlers(ctx context.Context, deps Deps) *chi.Mux {
	logger := httplog.NewLogger("webhook-dispatch", httplog.Options{
		JSON: true,
	})

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/subscriptions", postSubscription(deps.Subscriptions).ServeHTTP)
		r.Get("/subscriptions", getSubscriptions(deps.Subscriptions).ServeHTTP)
		r.Get("/subscriptions/{id}", getSubscription(deps.Subscriptions).ServeHTTP)
		r.Patch("/subscriptions/{id}", patchSubscription(deps.Subscriptions).ServeHTTP)
		r.Delete("/subscriptions/{id}", deleteSubscription(deps.Subscriptions).ServeHTTP)

		r.Get("/subscriptions/{id}/deliveries", getSubscriptionDeliveries(deps.Subscriptions, deps.Deliveries).ServeHTTP)
		r.Get("/subscriptions/{id}/stats", getSubscriptionStats(deps.Subscriptions, deps.Deliveries, deps.Limiter).ServeHTTP)

		r.Post("/trigger", postTrigger(deps.Dispatcher).ServeHTTP)
		r.Get("/deliveries/{id}", getDelivery(deps.Deliveries).ServeHTTP)

		r.Post("/generate-secret", postGenerateSecret().ServeHTTP)
		r.Get("/events", getEvents(deps.Catalog).ServeHTTP)
		r.Post("/test", postTest(deps.Dispatcher).ServeHTTP)
	})

	return r
}
