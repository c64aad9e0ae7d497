package enums

import "fmt"

// DisputeReason is the closed set of reasons a buyer may dispute an order for.
type DisputeReason string

const (
	DisputeReasonItemNotReceived    DisputeReason = "item_not_received"
	DisputeReasonItemNotAsDescribed DisputeReason = "item_not_as_described"
	DisputeReasonWrongItem          DisputeReason = "wrong_item"
	DisputeReasonDamagedItem        DisputeReason = "damaged_item"
	DisputeReasonOther              DisputeReason = "other"
)

var validDisputeReasons = []DisputeReason{
	DisputeReasonItemNotReceived,
	DisputeReasonItemNotAsDescribed,
	DisputeReasonWrongItem,
	DisputeReasonDamagedItem,
	DisputeReasonOther,
}

// String implements fmt.Stringer.
func (d DisputeReason) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DisputeReason.
func (d DisputeReason) IsValid() bool {
	for _, candidate := range validDisputeReasons {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDisputeReason converts raw input into a DisputeReason.
func ParseDisputeReason(value string) (DisputeReason, error) {
	for _, candidate := range validDisputeReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute reason %q", value)
}
