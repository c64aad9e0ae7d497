package controllers

import (
	"net/http"

	"github.com/homabaysouq/souq-backend/api/responses"
	"github.com/homabaysouq/souq-backend/api/validators"
	"github.com/homabaysouq/souq-backend/internal/checkout"
	"github.com/homabaysouq/souq-backend/pkg/enums"
	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
	"github.com/homabaysouq/souq-backend/pkg/logger"
)

// Presence of the other fields is checked by the checkout service so the
// missing list comes back in one response.
type checkoutRequest struct {
	Name          string `json:"name" validate:"max=120"`
	Email         string `json:"email" validate:"required,email,max=254"`
	Phone         string `json:"phone" validate:"max=20"`
	Address       string `json:"address" validate:"max=500"`
	City          string `json:"city" validate:"max=100"`
	PostalCode    string `json:"postal_code" validate:"max=20"`
	PaymentMethod string `json:"payment_method"`
}

// Checkout converts the caller's cart into an order awaiting payment.
func Checkout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		buyerID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Checkout(r.Context(), checkout.Input{
			BuyerID: buyerID,
			Shipping: checkout.Shipping{
				Name:       validators.SanitizeString(req.Name, 120),
				Email:      validators.SanitizeString(req.Email, 254),
				Phone:      validators.SanitizeString(req.Phone, 20),
				Address:    validators.SanitizeString(req.Address, 500),
				City:       validators.SanitizeString(req.City, 100),
				PostalCode: validators.SanitizeString(req.PostalCode, 20),
			},
			Method: enums.PaymentMethod(validators.SanitizeString(req.PaymentMethod, 32)),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}
