package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregatePayment OutboxAggregateType = "payment"
	AggregateEscrow  OutboxAggregateType = "escrow"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
	AggregateEscrow,
}

// IsValid reports whether the value matches a known aggregate.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a domain event.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order.created"
	EventOrderPaid          OutboxEventType = "order.paid"
	EventOrderStatusChanged OutboxEventType = "order.status_changed"
	EventOrderShipped       OutboxEventType = "order.shipped"
	EventPaymentCompleted   OutboxEventType = "payment.completed"
	EventPaymentFailed      OutboxEventType = "payment.failed"
	EventEscrowReleased     OutboxEventType = "escrow.released"
	EventEscrowRefunded     OutboxEventType = "escrow.refunded"
	EventDisputeOpened      OutboxEventType = "dispute.opened"
	EventDisputeResolved    OutboxEventType = "dispute.resolved"
)

var validEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderStatusChanged,
	EventOrderShipped,
	EventPaymentCompleted,
	EventPaymentFailed,
	EventEscrowReleased,
	EventEscrowRefunded,
	EventDisputeOpened,
	EventDisputeResolved,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
