package enums

import "fmt"

// EscrowStatus gates who is entitled to the held funds.
type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
	EscrowStatusDisputed EscrowStatus = "disputed"
)

var validEscrowStatuses = []EscrowStatus{
	EscrowStatusHeld,
	EscrowStatusReleased,
	EscrowStatusRefunded,
	EscrowStatusDisputed,
}

// String implements fmt.Stringer.
func (e EscrowStatus) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EscrowStatus.
func (e EscrowStatus) IsValid() bool {
	for _, candidate := range validEscrowStatuses {
		if candidate == e {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (e EscrowStatus) IsTerminal() bool {
	return e == EscrowStatusReleased || e == EscrowStatusRefunded
}

// ParseEscrowStatus converts raw input into an EscrowStatus.
func ParseEscrowStatus(value string) (EscrowStatus, error) {
	for _, candidate := range validEscrowStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow status %q", value)
}
