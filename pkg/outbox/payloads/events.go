package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/homabaysouq/souq-backend/pkg/enums"
)

// OrderCreatedEvent is emitted when checkout creates an order.
type OrderCreatedEvent struct {
	OrderID    uuid.UUID       `json:"order_id"`
	BuyerID    uuid.UUID       `json:"buyer_id"`
	TotalPrice decimal.Decimal `json:"total_price"`
	SellerIDs  []uuid.UUID     `json:"seller_ids"`
}

// OrderPaidEvent is emitted once payment is confirmed and stock decremented.
type OrderPaidEvent struct {
	OrderID       uuid.UUID       `json:"order_id"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	ReceiptNumber string          `json:"receipt_number,omitempty"`
	PaidAt        time.Time       `json:"paid_at"`
}

// OrderStatusChangedEvent is emitted for every accepted transition.
type OrderStatusChangedEvent struct {
	OrderID uuid.UUID         `json:"order_id"`
	From    enums.OrderStatus `json:"from"`
	To      enums.OrderStatus `json:"to"`
	ActorID uuid.UUID         `json:"actor_id"`
}

// OrderShippedEvent is emitted when a seller marks their items shipped.
type OrderShippedEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	SellerID       uuid.UUID         `json:"seller_id"`
	ItemIDs        []uuid.UUID       `json:"item_ids"`
	TrackingNumber string            `json:"tracking_number,omitempty"`
	OrderStatus    enums.OrderStatus `json:"order_status"`
}

// PaymentStatusEvent is emitted when a payment reaches a settled state.
type PaymentStatusEvent struct {
	PaymentID     uuid.UUID           `json:"payment_id"`
	OrderID       uuid.UUID           `json:"order_id"`
	Status        enums.PaymentStatus `json:"status"`
	ResultCode    int                 `json:"result_code"`
	ResultDesc    string              `json:"result_desc,omitempty"`
	ReceiptNumber string              `json:"receipt_number,omitempty"`
}

// EscrowSettledEvent is emitted when escrow is released or refunded.
type EscrowSettledEvent struct {
	EscrowID     uuid.UUID           `json:"escrow_id"`
	OrderID      uuid.UUID           `json:"order_id"`
	Status       enums.EscrowStatus  `json:"status"`
	Amount       decimal.Decimal     `json:"amount"`
	RefundAmount decimal.NullDecimal `json:"refund_amount"`
	Automatic    bool                `json:"automatic"`
}

// DisputeOpenedEvent is emitted when a buyer raises a dispute.
type DisputeOpenedEvent struct {
	OrderID     uuid.UUID           `json:"order_id"`
	BuyerID     uuid.UUID           `json:"buyer_id"`
	Reason      enums.DisputeReason `json:"reason"`
	Description string              `json:"description"`
}

// DisputeResolvedEvent is emitted when staff closes a dispute.
type DisputeResolvedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	Resolution    string              `json:"resolution"`
	EscrowStatus  enums.EscrowStatus  `json:"escrow_status"`
	RefundAmount  decimal.NullDecimal `json:"refund_amount"`
	SellerPenalty decimal.NullDecimal `json:"seller_penalty"`
	ResolvedBy    uuid.UUID           `json:"resolved_by"`
}
