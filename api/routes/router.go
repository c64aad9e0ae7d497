package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/homabaysouq/souq-backend/api/controllers"
	ordercontrollers "github.com/homabaysouq/souq-backend/api/controllers/orders"
	webhookcontrollers "github.com/homabaysouq/souq-backend/api/controllers/webhooks"
	"github.com/homabaysouq/souq-backend/api/middleware"
	"github.com/homabaysouq/souq-backend/internal/cart"
	checkoutsvc "github.com/homabaysouq/souq-backend/internal/checkout"
	"github.com/homabaysouq/souq-backend/internal/notifications"
	"github.com/homabaysouq/souq-backend/pkg/config"
	"github.com/homabaysouq/souq-backend/pkg/enums"
	"github.com/homabaysouq/souq-backend/pkg/logger"
)

// Services bundles everything the HTTP surface calls into.
type Services struct {
	DB            controllers.Pinger
	Redis         controllers.Pinger
	Idempotency   middleware.ResponseStore
	Metrics       http.Handler
	Cart          cart.Service
	Checkout      checkoutsvc.Service
	Orders        ordercontrollers.OrderService
	Payments      ordercontrollers.PaymentService
	Disputes      ordercontrollers.DisputeService
	Notifications notifications.Service
	Callbacks     webhookcontrollers.CallbackProcessor
}

func NewRouter(cfg *config.Config, logg *logger.Logger, svc Services) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": svc.DB,
			"redis":    svc.Redis,
		}))
	})

	metricsHandler := svc.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	if svc.Callbacks != nil {
		r.Post("/payments/callback", webhookcontrollers.MpesaCallback(svc.Callbacks, logg))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Get("/orders/{orderId}/payment-status", ordercontrollers.PaymentStatus(svc.Payments, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		if svc.Idempotency != nil {
			r.Use(middleware.Idempotency(svc.Idempotency, logg))
		}

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartFetch(svc.Cart, logg))
			r.Delete("/", controllers.CartClear(svc.Cart, logg))
			r.Post("/items", controllers.CartAddItem(svc.Cart, logg))
			r.Patch("/items/{itemId}", controllers.CartUpdateItem(svc.Cart, logg))
			r.Delete("/items/{itemId}", controllers.CartRemoveItem(svc.Cart, logg))
		})

		r.Post("/checkout", controllers.Checkout(svc.Checkout, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(svc.Orders, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", ordercontrollers.Detail(svc.Orders, logg))
				r.Post("/payment", ordercontrollers.InitiatePayment(svc.Payments, logg))
				r.Get("/payment-status", ordercontrollers.PaymentStatus(svc.Payments, logg))
				r.Post("/ship", ordercontrollers.Ship(svc.Orders, logg))
				r.Post("/confirm-delivery", ordercontrollers.ConfirmDelivery(svc.Orders, logg))
				r.Post("/cancel", ordercontrollers.Cancel(svc.Orders, logg))
				r.Post("/dispute", ordercontrollers.OpenDispute(svc.Disputes, logg))
			})
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(svc.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(svc.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(svc.Notifications, logg))
			r.Get("/preferences", controllers.NotificationPreferences(svc.Notifications, logg))
			r.Put("/preferences", controllers.UpdateNotificationPreferences(svc.Notifications, logg))
		})

		r.Route("/staff/orders/{orderId}", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.UserRoleStaff, logg))
			r.Post("/status", ordercontrollers.UpdateStatus(svc.Orders, logg))
			r.Post("/dispute/resolve", ordercontrollers.ResolveDispute(svc.Disputes, logg))
			r.Post("/dispute/mediate", ordercontrollers.MediateDispute(svc.Disputes, logg))
		})
	})

	return otelhttp.NewHandler(r, "souq-api")
}
