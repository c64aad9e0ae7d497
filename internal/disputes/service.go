// Package disputes opens, mediates and resolves buyer disputes, keeping the
// order, its escrow and the payout ledger consistent in one transaction.
package disputes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/internal/activity"
	"github.com/homabaysouq/souq-backend/internal/escrow"
	"github.com/homabaysouq/souq-backend/internal/ledger"
	"github.com/homabaysouq/souq-backend/internal/notifications"
	"github.com/homabaysouq/souq-backend/internal/orders"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
	"github.com/homabaysouq/souq-backend/pkg/logger"
	"github.com/homabaysouq/souq-backend/pkg/outbox"
	"github.com/homabaysouq/souq-backend/pkg/outbox/payloads"
)

const maxTextLength = 2000

var (
	// ErrInvalidReason is returned for reasons outside the closed set.
	ErrInvalidReason = errors.New("invalid dispute reason")
	// ErrInvalidState is returned when the order cannot be disputed, mediated
	// or resolved in its current status.
	ErrInvalidState = errors.New("order is not in a disputable state")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// OrderMachine is the slice of the order service disputes drive.
type OrderMachine interface {
	LockOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	Transition(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, actorID uuid.UUID, note string) error
}

// EscrowLedger is the slice of the escrow service disputes drive.
type EscrowLedger interface {
	Lock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Escrow, error)
	MarkDisputed(ctx context.Context, tx *gorm.DB, orderID, actorID uuid.UUID) (*models.Escrow, error)
	Release(ctx context.Context, tx *gorm.DB, st escrow.Settlement) (*models.Escrow, error)
	Refund(ctx context.Context, tx *gorm.DB, st escrow.Settlement) (*models.Escrow, error)
	CloseReleasedDispute(ctx context.Context, tx *gorm.DB, st escrow.Settlement) (*models.Escrow, error)
}

type Service struct {
	tx       txRunner
	orders   OrderMachine
	escrow   EscrowLedger
	ledger   ledger.Service
	outbox   outbox.Emitter
	notifier notifications.Notifier
	logg     *logger.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for dispute stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(tx txRunner, orderMachine OrderMachine, escrowLedger EscrowLedger, ledgerSvc ledger.Service, emitter outbox.Emitter, notifier notifications.Notifier, logg *logger.Logger, opts ...Option) (*Service, error) {
	switch {
	case tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case orderMachine == nil:
		return nil, fmt.Errorf("order service required")
	case escrowLedger == nil:
		return nil, fmt.Errorf("escrow service required")
	case ledgerSvc == nil:
		return nil, fmt.Errorf("ledger service required")
	case emitter == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case notifier == nil:
		return nil, fmt.Errorf("notifier required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	s := &Service{
		tx:       tx,
		orders:   orderMachine,
		escrow:   escrowLedger,
		ledger:   ledgerSvc,
		outbox:   emitter,
		notifier: notifier,
		logg:     logg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

type CreateInput struct {
	OrderID     uuid.UUID
	BuyerID     uuid.UUID
	Reason      string
	Description string
}

// Create opens a dispute on a shipped or delivered order. Input is validated
// before any row is touched.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	reason, err := enums.ParseDisputeReason(strings.TrimSpace(input.Reason))
	if err != nil {
		return nil, pkgerrors.Kind(pkgerrors.CodeValidation, ErrInvalidReason, err.Error())
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute description is required")
	}
	if len(description) > maxTextLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute description is too long")
	}
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())

	var (
		order   *models.Order
		notices []notifications.Notice
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.orders.LockOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if order.BuyerID != input.BuyerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can dispute this order")
		}
		if order.Status != enums.OrderStatusShipped && order.Status != enums.OrderStatusDelivered {
			return invalidState(order.Status, "disputed")
		}

		row, err := s.escrow.Lock(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		now := s.clock()
		if err := tx.WithContext(ctx).Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]any{
			"dispute_reason":      reason,
			"dispute_description": description,
			"dispute_opened_at":   now,
		}).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record dispute")
		}
		order.DisputeReason = &reason
		order.DisputeDescription = &description
		order.DisputeOpenedAt = &now

		if err := s.orders.Transition(ctx, tx, order, enums.OrderStatusDisputed, input.BuyerID, string(reason)); err != nil {
			return err
		}
		switch row.Status {
		case enums.EscrowStatusHeld:
			if _, err := s.escrow.MarkDisputed(ctx, tx, order.ID, input.BuyerID); err != nil {
				return err
			}
		case enums.EscrowStatusReleased:
			s.logg.Warn(ctx, "dispute opened after escrow release; funds stay released until resolution")
		default:
			return pkgerrors.Kind(pkgerrors.CodeStateConflict, ErrInvalidState, fmt.Sprintf("escrow is %s", row.Status))
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeOpened,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.BuyerID, Role: "buyer"},
			OccurredAt:    now,
			Data: payloads.DisputeOpenedEvent{
				OrderID:     order.ID,
				BuyerID:     order.BuyerID,
				Reason:      reason,
				Description: description,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit dispute opened")
		}

		for _, sellerID := range order.SellerIDs() {
			notices = append(notices, notifications.Notice{
				RecipientID: sellerID,
				Type:        enums.NotificationTypeOrderDisputed,
				Title:       "Order Disputed",
				Message:     fmt.Sprintf("Order #%s has been disputed. Reason: %s", order.ID, reasonLabel(reason)),
				OrderID:     &order.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, notices...)
	s.logg.Info(s.logg.WithField(ctx, "reason", string(reason)), "dispute opened")
	return order, nil
}

type ResolveInput struct {
	OrderID       uuid.UUID
	Actor         orders.Actor
	Resolution    string
	RefundAmount  decimal.NullDecimal
	SellerPenalty decimal.NullDecimal
}

// Resolve closes a dispute. A refund amount refunds the escrow, otherwise the
// funds go to the sellers. A penalty is recorded once per seller on the order.
func (s *Service) Resolve(ctx context.Context, input ResolveInput) (*models.Order, error) {
	if !input.Actor.Staff {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff only")
	}
	resolution := strings.TrimSpace(input.Resolution)
	if resolution == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resolution is required")
	}
	if len(resolution) > maxTextLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resolution is too long")
	}
	if input.RefundAmount.Valid && !input.RefundAmount.Decimal.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if input.SellerPenalty.Valid && !input.SellerPenalty.Decimal.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller penalty must be positive")
	}
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())

	var (
		order   *models.Order
		notices []notifications.Notice
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.orders.LockOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusDisputed {
			return invalidState(order.Status, "resolved")
		}

		row, err := s.escrow.Lock(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		st := escrow.Settlement{
			Order:           order,
			ActorID:         input.Actor.UserID,
			DisputeResolved: true,
			RefundAmount:    input.RefundAmount,
		}
		switch {
		case row.Status == enums.EscrowStatusReleased:
			row, err = s.escrow.CloseReleasedDispute(ctx, tx, st)
		case input.RefundAmount.Valid:
			row, err = s.escrow.Refund(ctx, tx, st)
		default:
			row, err = s.escrow.Release(ctx, tx, st)
		}
		if err != nil {
			return err
		}

		if input.SellerPenalty.Valid {
			metadata, _ := json.Marshal(map[string]any{"resolution": resolution})
			for _, sellerID := range order.SellerIDs() {
				sellerID := sellerID
				if _, err := s.ledger.Record(ctx, tx, ledger.RecordLedgerEventInput{
					OrderID:     order.ID,
					SellerID:    &sellerID,
					ActorUserID: input.Actor.UserID,
					Type:        enums.LedgerEventTypeSellerPenalty,
					Amount:      input.SellerPenalty.Decimal,
					Metadata:    metadata,
				}); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record seller penalty")
				}
			}
		}

		if err := tx.WithContext(ctx).Model(&models.Order{}).Where("id = ?", order.ID).
			Update("resolution", resolution).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record resolution")
		}
		order.Resolution = &resolution
		if err := s.orders.Transition(ctx, tx, order, enums.OrderStatusResolved, input.Actor.UserID, ""); err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeResolved,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.Actor.UserID, Role: "staff"},
			OccurredAt:    s.clock(),
			Data: payloads.DisputeResolvedEvent{
				OrderID:       order.ID,
				Resolution:    resolution,
				EscrowStatus:  row.Status,
				RefundAmount:  input.RefundAmount,
				SellerPenalty: input.SellerPenalty,
				ResolvedBy:    input.Actor.UserID,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit dispute resolved")
		}

		notices = append(notices, notifications.Notice{
			RecipientID: order.BuyerID,
			Type:        enums.NotificationTypeDisputeResolved,
			Title:       "Dispute Resolved",
			Message:     fmt.Sprintf("Your dispute for Order #%s has been resolved.", order.ID),
			OrderID:     &order.ID,
		})
		for _, sellerID := range order.SellerIDs() {
			notices = append(notices, notifications.Notice{
				RecipientID: sellerID,
				Type:        enums.NotificationTypeDisputeResolved,
				Title:       "Dispute Resolved",
				Message:     fmt.Sprintf("The dispute for Order #%s has been resolved.", order.ID),
				OrderID:     &order.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, notices...)
	s.logg.Info(ctx, "dispute resolved")
	return order, nil
}

type MediateInput struct {
	OrderID          uuid.UUID
	Actor            orders.Actor
	Notes            string
	ProposedSolution string
}

// Mediate records a mediator's proposal and tells both sides. The order stays
// disputed.
func (s *Service) Mediate(ctx context.Context, input MediateInput) error {
	if !input.Actor.Staff {
		return pkgerrors.New(pkgerrors.CodeForbidden, "staff only")
	}
	proposal := strings.TrimSpace(input.ProposedSolution)
	if proposal == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "proposed solution is required")
	}
	if len(proposal) > maxTextLength || len(input.Notes) > maxTextLength {
		return pkgerrors.New(pkgerrors.CodeValidation, "mediation text is too long")
	}
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())

	var notices []notifications.Notice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.LockOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusDisputed {
			return invalidState(order.Status, "mediated")
		}
		action := fmt.Sprintf("Dispute mediation for Order #%s: %s", order.ID, proposal)
		if notes := strings.TrimSpace(input.Notes); notes != "" {
			action += " (notes: " + notes + ")"
		}
		if err := activity.Record(ctx, tx, input.Actor.UserID, &order.ID, action); err != nil {
			return err
		}

		parties := append([]uuid.UUID{order.BuyerID}, order.SellerIDs()...)
		for _, party := range parties {
			notices = append(notices, notifications.Notice{
				RecipientID: party,
				Type:        enums.NotificationTypeDisputeMediation,
				Title:       "Dispute Mediation Update",
				Message:     fmt.Sprintf("New mediation update for Order #%s. Proposed solution: %s", order.ID, proposal),
				OrderID:     &order.ID,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notifier.Notify(ctx, notices...)
	s.logg.Info(ctx, "dispute mediation recorded")
	return nil
}

func invalidState(status enums.OrderStatus, action string) error {
	return pkgerrors.Kind(pkgerrors.CodeStateConflict, ErrInvalidState,
		fmt.Sprintf("an order that is %s cannot be %s", status, action)).
		WithDetails(map[string]any{"status": status})
}

func reasonLabel(reason enums.DisputeReason) string {
	return strings.ReplaceAll(string(reason), "_", " ")
}
