package orders

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/homabaysouq/souq-backend/api/responses"
	"github.com/homabaysouq/souq-backend/api/validators"
	internalorders "github.com/homabaysouq/souq-backend/internal/orders"
	"github.com/homabaysouq/souq-backend/internal/payments"
	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
	"github.com/homabaysouq/souq-backend/pkg/logger"
)

type PaymentService interface {
	Initiate(ctx context.Context, input payments.InitiateInput) (*payments.InitiateResult, error)
	Status(ctx context.Context, orderID uuid.UUID, actor internalorders.Actor) (*payments.StatusView, error)
	PollStatus(ctx context.Context, orderID uuid.UUID, actor internalorders.Actor) (*payments.StatusView, error)
}

type initiatePaymentRequest struct {
	Phone string `json:"phone" validate:"required,max=20"`
}

type initiatePaymentResponse struct {
	PaymentID         uuid.UUID `json:"payment_id"`
	Status            string    `json:"status"`
	CheckoutRequestID string    `json:"checkout_request_id,omitempty"`
	Message           string    `json:"message"`
	Simulated         bool      `json:"simulated"`
}

// InitiatePayment sends the M-Pesa PIN prompt for a pending order.
func InitiatePayment(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req initiatePaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Initiate(r.Context(), payments.InitiateInput{
			OrderID: orderID,
			BuyerID: actor.UserID,
			Phone:   validators.SanitizeString(req.Phone, 20),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := initiatePaymentResponse{
			PaymentID: result.Payment.ID,
			Status:    string(result.Payment.Status),
			Message:   result.Message,
			Simulated: result.Simulated,
		}
		if result.Payment.CheckoutRequestID != nil {
			resp.CheckoutRequestID = *result.Payment.CheckoutRequestID
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, resp)
	}
}

// PaymentStatus is polled by the checkout page while the buyer enters their PIN.
// refresh=false skips the gateway query and reports the stored state.
func PaymentStatus(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refresh, err := parseBoolQuery(r, "refresh", true)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var view *payments.StatusView
		if refresh {
			view, err = svc.PollStatus(r.Context(), orderID, actor)
		} else {
			view, err = svc.Status(r.Context(), orderID, actor)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
