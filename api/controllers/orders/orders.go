package orders

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/homabaysouq/souq-backend/api/middleware"
	"github.com/homabaysouq/souq-backend/api/responses"
	"github.com/homabaysouq/souq-backend/api/validators"
	internalorders "github.com/homabaysouq/souq-backend/internal/orders"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
	"github.com/homabaysouq/souq-backend/pkg/logger"
	"github.com/homabaysouq/souq-backend/pkg/pagination"
)

// OrderService is the slice of the order aggregate the HTTP layer drives.
type OrderService interface {
	List(ctx context.Context, params internalorders.ListParams) (*internalorders.ListResult, error)
	Get(ctx context.Context, orderID uuid.UUID, actor internalorders.Actor) (*models.Order, error)
	MarkItemsShipped(ctx context.Context, input internalorders.ShipInput) (*internalorders.ShipResult, error)
	ConfirmDelivery(ctx context.Context, orderID, buyerID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, input internalorders.CancelInput) (*models.Order, error)
	UpdateStatus(ctx context.Context, input internalorders.UpdateStatusInput) (*models.Order, error)
}

type shipRequest struct {
	TrackingNumber string `json:"tracking_number" validate:"max=100"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
	Notes  string `json:"notes" validate:"max=1000"`
}

// List returns buyer- or seller-perspective order pages depending on the role query.
func List(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := currentActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := internalorders.ListParams{
			Actor:  actor,
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		switch role := strings.TrimSpace(r.URL.Query().Get("role")); role {
		case "", "buyer":
		case "seller":
			params.AsSeller = true
		default:
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "role must be buyer or seller"))
			return
		}

		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseOrderStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			params.Status = &status
		}

		list, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Detail returns the order when the caller is its buyer, one of its sellers or staff.
func Detail(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// Ship marks the calling seller's unshipped items on the order as shipped.
func Ship(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req shipRequest
		if err := decodeOptionalBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.MarkItemsShipped(r.Context(), internalorders.ShipInput{
			OrderID:        orderID,
			SellerID:       actor.UserID,
			TrackingNumber: validators.SanitizeString(req.TrackingNumber, 100),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func ConfirmDelivery(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.ConfirmDelivery(r.Context(), orderID, actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func Cancel(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req cancelRequest
		if err := decodeOptionalBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Cancel(r.Context(), internalorders.CancelInput{
			OrderID: orderID,
			Actor:   actor,
			Reason:  validators.SanitizeString(req.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// UpdateStatus is the staff override for order status.
func UpdateStatus(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req statusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseOrderStatus(strings.TrimSpace(req.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		order, err := svc.UpdateStatus(r.Context(), internalorders.UpdateStatusInput{
			OrderID: orderID,
			Status:  status,
			Actor:   actor,
			Notes:   validators.SanitizeString(req.Notes, 1000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func currentActor(r *http.Request) (internalorders.Actor, error) {
	userID, staff, ok := middleware.CurrentUser(r.Context())
	if !ok {
		return internalorders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return internalorders.Actor{UserID: userID, Staff: staff}, nil
}

func actorAndOrder(r *http.Request) (internalorders.Actor, uuid.UUID, error) {
	actor, err := currentActor(r)
	if err != nil {
		return internalorders.Actor{}, uuid.Nil, err
	}
	orderID, err := parseOrderID(r)
	if err != nil {
		return internalorders.Actor{}, uuid.Nil, err
	}
	return actor, orderID, nil
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return orderID, nil
}

// decodeOptionalBody accepts an empty body for endpoints whose fields are all optional.
func decodeOptionalBody(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return validators.DecodeJSONBody(r, dest)
}

func parseBoolQuery(r *http.Request, key string, def bool) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+key+" value")
	}
	return value, nil
}
