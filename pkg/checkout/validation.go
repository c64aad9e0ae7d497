package checkout

import (
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
)

// StockValidationInput describes one cart line checked against its listing.
type StockValidationInput struct {
	ListingID uuid.UUID
	Title     string
	Available int
	Sold      bool
	Quantity  int
}

// StockViolationDetail is returned to callers when a line cannot be filled.
type StockViolationDetail struct {
	ListingID    uuid.UUID `json:"listing_id"`
	Title        string    `json:"title,omitempty"`
	Available    int       `json:"available"`
	RequestedQty int       `json:"requested_qty"`
}

// ValidateStock ensures every line asks for a positive quantity the listing can still fill.
func ValidateStock(items []StockValidationInput) error {
	var violations []StockViolationDetail
	for _, item := range items {
		available := item.Available
		if item.Sold {
			available = 0
		}
		if item.Quantity > 0 && item.Quantity <= available {
			continue
		}
		violations = append(violations, StockViolationDetail{
			ListingID:    item.ListingID,
			Title:        item.Title,
			Available:    available,
			RequestedQty: item.Quantity,
		})
	}
	if len(violations) == 0 {
		return nil
	}
	msg := fmt.Sprintf("%d item(s) in your cart are no longer available in the requested quantity", len(violations))
	if len(violations) == 1 {
		v := violations[0]
		msg = fmt.Sprintf("Only %d units of '%s' are available.", v.Available, v.Title)
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, msg).WithDetails(map[string]any{
		"violations": violations,
	})
}
