// Package mpesawebhook turns gateway callback deliveries into payment results
// and the acknowledgement body the gateway expects.
package mpesawebhook

import (
	"context"
	"errors"
	"strconv"

	"github.com/homabaysouq/souq-backend/internal/payments"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/logger"
	"github.com/homabaysouq/souq-backend/pkg/mpesa"
)

// Ack is the body returned to the gateway. It is always sent with HTTP 200.
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var (
	ackAccepted  = Ack{ResultCode: 0, ResultDesc: "Accepted"}
	ackDuplicate = Ack{ResultCode: 0, ResultDesc: "Already processed"}
	ackMalformed = Ack{ResultCode: 1, ResultDesc: "Invalid callback payload"}
	ackUnknown   = Ack{ResultCode: 1, ResultDesc: "Unknown checkout request"}
	ackFailed    = Ack{ResultCode: 1, ResultDesc: "Internal error"}
)

type callbackHandler interface {
	HandleCallback(ctx context.Context, raw []byte) (*models.Payment, error)
}

type deliveryGuard interface {
	CheckAndMark(ctx context.Context, deliveryID string) (bool, error)
	Delete(ctx context.Context, deliveryID string) error
}

// Processor dedupes deliveries in Redis before handing them to the payments
// service. The payments path is idempotent on its own; the guard only spares
// the database from provider retries.
type Processor struct {
	payments callbackHandler
	guard    deliveryGuard
	logg     *logger.Logger
}

// NewProcessor builds a Processor. guard may be nil.
func NewProcessor(svc callbackHandler, guard deliveryGuard, logg *logger.Logger) (*Processor, error) {
	if svc == nil {
		return nil, errors.New("payments service required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Processor{payments: svc, guard: guard, logg: logg}, nil
}

// Process handles one raw delivery. Errors are logged and folded into the ack.
func (p *Processor) Process(ctx context.Context, raw []byte) Ack {
	result, err := mpesa.ParseCallback(raw)
	if err != nil {
		p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "rejected malformed mpesa callback")
		return ackMalformed
	}
	ctx = p.logg.WithField(ctx, "checkout_request_id", result.CheckoutRequestID)
	deliveryID := DeliveryID(result)

	if p.guard != nil {
		seen, err := p.guard.CheckAndMark(ctx, deliveryID)
		switch {
		case err != nil:
			p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "callback idempotency check failed; processing anyway")
		case seen:
			p.logg.Info(ctx, "duplicate mpesa callback ignored")
			return ackDuplicate
		}
	}

	payment, err := p.payments.HandleCallback(ctx, raw)
	if err != nil {
		if errors.Is(err, payments.ErrUnknownCheckout) {
			p.logg.Warn(ctx, "mpesa callback for unknown checkout request")
			return ackUnknown
		}
		if p.guard != nil {
			if delErr := p.guard.Delete(ctx, deliveryID); delErr != nil {
				p.logg.Warn(p.logg.WithField(ctx, "error", delErr.Error()), "failed to clear callback idempotency key")
			}
		}
		p.logg.Error(ctx, "mpesa callback processing failed", err)
		return ackFailed
	}

	if payment != nil {
		ctx = p.logg.WithFields(ctx, map[string]any{
			"order_id":       payment.OrderID.String(),
			"payment_status": string(payment.Status),
		})
	}
	p.logg.Info(ctx, "mpesa callback processed")
	return ackAccepted
}

// DeliveryID keys a delivery by checkout request and result code, so a
// pending notice followed by the final result are both processed.
func DeliveryID(result *mpesa.CallbackResult) string {
	code := "pending"
	if result.ResultCode != nil {
		code = strconv.Itoa(*result.ResultCode)
	}
	return result.CheckoutRequestID + ":" + code
}
