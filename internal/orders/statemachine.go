package orders

import (
	"errors"
	"fmt"

	"github.com/homabaysouq/souq-backend/pkg/enums"
	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
)

var (
	ErrInvalidTransition = errors.New("invalid order transition")
	ErrNothingToShip     = errors.New("no unshipped items for seller")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrPaymentIncomplete = errors.New("payment not completed")
	ErrNotFound          = errors.New("order not found")
)

var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:          {enums.OrderStatusPaid, enums.OrderStatusCancelled},
	enums.OrderStatusPaid:             {enums.OrderStatusShipped, enums.OrderStatusPartiallyShipped, enums.OrderStatusCancelled, enums.OrderStatusDisputed},
	enums.OrderStatusPartiallyShipped: {enums.OrderStatusShipped, enums.OrderStatusDisputed},
	enums.OrderStatusShipped:          {enums.OrderStatusDelivered, enums.OrderStatusDisputed},
	enums.OrderStatusDelivered:        {enums.OrderStatusDisputed},
	enums.OrderStatusDisputed:         {enums.OrderStatusResolved},
	enums.OrderStatusCancelled:        {},
	enums.OrderStatusResolved:         {},
}

// AllowedTargets lists the statuses reachable in one step from status.
func AllowedTargets(status enums.OrderStatus) []enums.OrderStatus {
	out := make([]enums.OrderStatus, len(transitions[status]))
	copy(out, transitions[status])
	return out
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status enums.OrderStatus) bool {
	return len(transitions[status]) == 0
}

func invalidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.Kind(pkgerrors.CodeStateConflict, ErrInvalidTransition,
		fmt.Sprintf("Invalid status transition from %s to %s", from, to)).
		WithDetails(map[string]any{"from": from, "to": to})
}
