package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/homabaysouq/souq-backend/internal/cart"
	"github.com/homabaysouq/souq-backend/internal/checkout"
	"github.com/homabaysouq/souq-backend/internal/disputes"
	"github.com/homabaysouq/souq-backend/internal/escrow"
	"github.com/homabaysouq/souq-backend/internal/ledger"
	"github.com/homabaysouq/souq-backend/internal/notifications"
	"github.com/homabaysouq/souq-backend/internal/orders"
	"github.com/homabaysouq/souq-backend/internal/payments"
	mpesawebhook "github.com/homabaysouq/souq-backend/internal/webhooks/mpesa"
	"github.com/homabaysouq/souq-backend/pkg/config"
	"github.com/homabaysouq/souq-backend/pkg/db"
	"github.com/homabaysouq/souq-backend/pkg/logger"
	"github.com/homabaysouq/souq-backend/pkg/metrics"
	"github.com/homabaysouq/souq-backend/pkg/mpesa"
	"github.com/homabaysouq/souq-backend/pkg/outbox"
	"github.com/homabaysouq/souq-backend/pkg/redis"
)

const callbackIdempotencyScope = "mpesa-callback"

// Services is the wired domain layer shared by the api and cron binaries.
type Services struct {
	Outbox        *outbox.Service
	OutboxRepo    *outbox.Repository
	Ledger        ledger.Service
	Notifications notifications.Service
	NotifyRepo    notifications.Repository
	Escrow        *escrow.Service
	Orders        *orders.Service
	Payments      *payments.Service
	Disputes      *disputes.Service
	Cart          cart.Service
	Checkout      checkout.Service
	Callbacks     *mpesawebhook.Processor
}

// Params carries the infrastructure clients. Redis may be nil, which disables
// initiation throttling and callback dedupe.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Redis    *redis.Client
	Registry prometheus.Registerer
}

func Build(p Params) (*Services, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if p.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	conn := p.DB.DB()

	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	notifyRepo := notifications.NewRepository(conn)
	notifySvc, err := notifications.NewService(notifyRepo, nil, logg)
	if err != nil {
		return nil, fmt.Errorf("notifications service: %w", err)
	}

	escrowSvc, err := escrow.NewService(p.DB, escrow.NewRepository(conn), ledgerSvc, emitter, logg, escrow.WithNotifier(notifySvc))
	if err != nil {
		return nil, fmt.Errorf("escrow service: %w", err)
	}

	ordersSvc, err := orders.NewService(orders.NewRepository(conn), p.DB, escrowSvc, emitter, notifySvc, p.Config.Orders, logg)
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	disputesSvc, err := disputes.NewService(p.DB, ordersSvc, escrowSvc, ledgerSvc, emitter, notifySvc, logg)
	if err != nil {
		return nil, fmt.Errorf("disputes service: %w", err)
	}

	gatewayMetrics := metrics.NewGatewayMetrics(p.Registry)
	gateway := mpesa.New(p.Config.Mpesa, mpesa.WithMetrics(gatewayMetrics), mpesa.WithLogger(logg))

	paymentParams := payments.ServiceParams{
		Repo:     payments.NewRepository(conn),
		Tx:       p.DB,
		Gateway:  gateway,
		Orders:   ordersSvc,
		Outbox:   emitter,
		Notifier: notifySvc,
		Metrics:  gatewayMetrics,
		Logger:   logg,
	}
	if p.Redis != nil {
		paymentParams.Limiter = p.Redis
	}
	paymentsSvc, err := payments.NewService(paymentParams)
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	var guard *mpesawebhook.IdempotencyGuard
	if p.Redis != nil {
		guard, err = mpesawebhook.NewIdempotencyGuard(p.Redis, p.Config.Webhooks.IdempotencyTTL, callbackIdempotencyScope)
		if err != nil {
			return nil, fmt.Errorf("callback guard: %w", err)
		}
	}
	var processor *mpesawebhook.Processor
	if guard != nil {
		processor, err = mpesawebhook.NewProcessor(paymentsSvc, guard, logg)
	} else {
		processor, err = mpesawebhook.NewProcessor(paymentsSvc, nil, logg)
	}
	if err != nil {
		return nil, fmt.Errorf("callback processor: %w", err)
	}

	cartSvc, err := cart.NewService(cart.NewRepository(conn), p.DB)
	if err != nil {
		return nil, fmt.Errorf("cart service: %w", err)
	}

	checkoutSvc, err := checkout.NewService(p.DB, checkout.NewRepository(conn), emitter, notifySvc, logg)
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	return &Services{
		Outbox:        emitter,
		OutboxRepo:    outboxRepo,
		Ledger:        ledgerSvc,
		Notifications: notifySvc,
		NotifyRepo:    notifyRepo,
		Escrow:        escrowSvc,
		Orders:        ordersSvc,
		Payments:      paymentsSvc,
		Disputes:      disputesSvc,
		Cart:          cartSvc,
		Checkout:      checkoutSvc,
		Callbacks:     processor,
	}, nil
}
