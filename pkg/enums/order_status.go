package enums

import "fmt"

// OrderStatus maps to the order_status column.
type OrderStatus string

const (
	OrderStatusPending          OrderStatus = "pending"
	OrderStatusPaid             OrderStatus = "paid"
	OrderStatusPartiallyShipped OrderStatus = "partially_shipped"
	OrderStatusShipped          OrderStatus = "shipped"
	OrderStatusDelivered        OrderStatus = "delivered"
	OrderStatusCancelled        OrderStatus = "cancelled"
	OrderStatusDisputed         OrderStatus = "disputed"
	OrderStatusResolved         OrderStatus = "resolved"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusPartiallyShipped,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusDisputed,
	OrderStatusResolved,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
