package orders

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/homabaysouq/souq-backend/api/responses"
	"github.com/homabaysouq/souq-backend/api/validators"
	"github.com/homabaysouq/souq-backend/internal/disputes"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
	"github.com/homabaysouq/souq-backend/pkg/logger"
)

type DisputeService interface {
	Create(ctx context.Context, input disputes.CreateInput) (*models.Order, error)
	Resolve(ctx context.Context, input disputes.ResolveInput) (*models.Order, error)
	Mediate(ctx context.Context, input disputes.MediateInput) error
}

type createDisputeRequest struct {
	Reason      string `json:"reason" validate:"required"`
	Description string `json:"description" validate:"required,max=2000"`
}

type resolveDisputeRequest struct {
	Resolution    string              `json:"resolution" validate:"required,max=2000"`
	RefundAmount  decimal.NullDecimal `json:"refund_amount"`
	SellerPenalty decimal.NullDecimal `json:"seller_penalty"`
}

type mediateDisputeRequest struct {
	Notes            string `json:"notes" validate:"max=2000"`
	ProposedSolution string `json:"proposed_solution" validate:"required,max=2000"`
}

// OpenDispute lets the buyer dispute a shipped or delivered order.
func OpenDispute(svc DisputeService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createDisputeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Create(r.Context(), disputes.CreateInput{
			OrderID:     orderID,
			BuyerID:     actor.UserID,
			Reason:      req.Reason,
			Description: validators.SanitizeString(req.Description, 2000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

func ResolveDispute(svc DisputeService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req resolveDisputeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Resolve(r.Context(), disputes.ResolveInput{
			OrderID:       orderID,
			Actor:         actor,
			Resolution:    validators.SanitizeString(req.Resolution, 2000),
			RefundAmount:  req.RefundAmount,
			SellerPenalty: req.SellerPenalty,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func MediateDispute(svc DisputeService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req mediateDisputeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Mediate(r.Context(), disputes.MediateInput{
			OrderID:          orderID,
			Actor:            actor,
			Notes:            validators.SanitizeString(req.Notes, 2000),
			ProposedSolution: validators.SanitizeString(req.ProposedSolution, 2000),
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"mediated": true})
	}
}
