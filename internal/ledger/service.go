package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
)

// Service records money-entitlement events for the external payout step.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error)
}

type service struct {
	repo Repository
}

// RecordLedgerEventInput captures the immutable data a ledger event requires.
// SellerID is nil for buyer-side events.
type RecordLedgerEventInput struct {
	OrderID     uuid.UUID             `json:"order_id"`
	SellerID    *uuid.UUID            `json:"seller_id,omitempty"`
	ActorUserID uuid.UUID             `json:"actor_user_id"`
	Type        enums.LedgerEventType `json:"type"`
	Amount      decimal.Decimal       `json:"amount"`
	Metadata    json.RawMessage       `json:"metadata"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// Record writes the event through tx so it commits with the state change it describes.
func (s *service) Record(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if input.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger event type %q", input.Type)
	}
	if input.Amount.IsNegative() {
		return nil, fmt.Errorf("ledger amount must not be negative")
	}
	if input.Type == enums.LedgerEventTypeSellerPenalty && input.SellerID == nil {
		return nil, fmt.Errorf("seller id is required for %s", input.Type)
	}

	event := &models.LedgerEvent{
		OrderID:     input.OrderID,
		SellerID:    input.SellerID,
		ActorUserID: input.ActorUserID,
		Type:        input.Type,
		Amount:      input.Amount.Round(2),
		Metadata:    input.Metadata,
	}

	if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	return s.repo.ListByOrderID(ctx, orderID)
}
