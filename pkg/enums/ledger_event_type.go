package enums

import "fmt"

// LedgerEventType classifies money-entitlement records handed to payouts.
type LedgerEventType string

const (
	LedgerEventTypeEscrowReleased LedgerEventType = "escrow_released"
	LedgerEventTypeEscrowRefunded LedgerEventType = "escrow_refunded"
	LedgerEventTypeDisputeRefund  LedgerEventType = "dispute_refund"
	LedgerEventTypeSellerPenalty  LedgerEventType = "seller_penalty"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventTypeEscrowReleased,
	LedgerEventTypeEscrowRefunded,
	LedgerEventTypeDisputeRefund,
	LedgerEventTypeSellerPenalty,
}

// IsValid reports whether the value matches the canonical ledger event enum.
func (t LedgerEventType) IsValid() bool {
	for _, candidate := range validLedgerEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerEventType converts raw input into LedgerEventType.
func ParseLedgerEventType(value string) (LedgerEventType, error) {
	for _, candidate := range validLedgerEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger event type %q", value)
}
