// Package orders drives the order aggregate through its status transitions,
// per-seller shipment tracking and the escrow side effects they trigger.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/internal/activity"
	"github.com/homabaysouq/souq-backend/internal/escrow"
	"github.com/homabaysouq/souq-backend/internal/notifications"
	"github.com/homabaysouq/souq-backend/pkg/config"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
	"github.com/homabaysouq/souq-backend/pkg/logger"
	"github.com/homabaysouq/souq-backend/pkg/outbox"
	"github.com/homabaysouq/souq-backend/pkg/outbox/payloads"
	"github.com/homabaysouq/souq-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithTxRetry(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// EscrowLedger is the slice of the escrow service the state machine drives.
type EscrowLedger interface {
	Release(ctx context.Context, tx *gorm.DB, st escrow.Settlement) (*models.Escrow, error)
	Refund(ctx context.Context, tx *gorm.DB, st escrow.Settlement) (*models.Escrow, error)
	ScheduleAutoRelease(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, days int) (time.Time, error)
}

// Actor is the authenticated caller of an order operation.
type Actor struct {
	UserID uuid.UUID
	Staff  bool
}

type Service struct {
	repo     Repository
	tx       txRunner
	escrow   EscrowLedger
	outbox   outbox.Emitter
	notifier notifications.Notifier
	cfg      config.OrdersConfig
	logg     *logger.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds the order service with the required dependencies.
func NewService(repo Repository, tx txRunner, escrowLedger EscrowLedger, emitter outbox.Emitter, notifier notifications.Notifier, cfg config.OrdersConfig, logg *logger.Logger, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if escrowLedger == nil {
		return nil, fmt.Errorf("escrow ledger required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	s := &Service{
		repo:     repo,
		tx:       tx,
		escrow:   escrowLedger,
		outbox:   emitter,
		notifier: notifier,
		cfg:      cfg,
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

// LockOrder reads the order and its items while holding the order row lock in tx.
func (s *Service) LockOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.WithTx(tx).LockByID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "lock order")
	}
	return order, nil
}

// Transition validates and applies one status change inside tx. It writes the
// activity row and the status_changed event; notifications are left to the
// caller so they can be sent after commit.
func (s *Service) Transition(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, actorID uuid.UUID, note string) error {
	from := order.Status
	if !CanTransition(from, to) {
		return invalidTransition(from, to)
	}

	now := s.clock()
	updates := map[string]any{"status": to, "updated_at": now}
	switch to {
	case enums.OrderStatusPaid:
		updates["paid_at"] = now
		order.PaidAt = &now
	case enums.OrderStatusShipped:
		updates["shipped_at"] = now
		order.ShippedAt = &now
	case enums.OrderStatusDelivered:
		updates["delivered_at"] = now
		order.DeliveredAt = &now
	case enums.OrderStatusCancelled:
		updates["cancelled_at"] = now
		order.CancelledAt = &now
	}

	ok, err := s.repo.WithTx(tx).UpdateFrom(ctx, order.ID, from, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !ok {
		return pkgerrors.Kind(pkgerrors.CodeConflict, ErrInvalidTransition, "order changed concurrently")
	}
	order.Status = to

	action := fmt.Sprintf("Order #%s status changed from %s to %s", order.ID, from, to)
	if note = strings.TrimSpace(note); note != "" {
		action += ": " + note
	}
	if err := activity.Record(ctx, tx, actorID, &order.ID, action); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record order activity")
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: actorID},
		Data: payloads.OrderStatusChangedEvent{
			OrderID: order.ID,
			From:    from,
			To:      to,
			ActorID: actorID,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order status event")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id": order.ID.String(),
		"actor_id": actorID.String(),
		"from":     string(from),
		"status":   string(to),
	})
	s.logg.Info(logCtx, "order status changed")
	return nil
}

// MarkAsPaid moves a pending order to paid once its payment completed and
// decrements listing stock under row locks. It is a no-op for an order that was
// already paid. Notices are returned for the caller to send after commit.
func (s *Service) MarkAsPaid(ctx context.Context, tx *gorm.DB, orderID, actorID uuid.UUID) ([]notifications.Notice, error) {
	repo := s.repo.WithTx(tx)
	order, err := s.LockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaidAt != nil {
		return nil, nil
	}

	payment, err := repo.FindPayment(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Kind(pkgerrors.CodeStateConflict, ErrPaymentIncomplete, "order has no payment")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Status != enums.PaymentStatusCompleted {
		return nil, pkgerrors.Kind(pkgerrors.CodeStateConflict, ErrPaymentIncomplete, "")
	}

	if err := s.Transition(ctx, tx, order, enums.OrderStatusPaid, actorID, ""); err != nil {
		return nil, err
	}

	listingIDs := make([]uuid.UUID, 0, len(order.Items))
	for _, item := range order.Items {
		listingIDs = append(listingIDs, item.ListingID)
	}
	listings, err := repo.LockListings(ctx, listingIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock listings")
	}

	var soldOut []models.OrderItem
	for _, item := range order.Items {
		listing := listings[item.ListingID]
		remaining := listing.Stock - item.Quantity
		if remaining < 0 {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id":   order.ID.String(),
				"listing_id": listing.ID.String(),
				"stock":      listing.Stock,
				"quantity":   item.Quantity,
				"error":      ErrInsufficientStock.Error(),
			})
			s.logg.Warn(logCtx, "stock below ordered quantity at payment; clamping to zero")
			remaining = 0
		}
		updates := map[string]any{"stock": remaining}
		if remaining == 0 {
			updates["is_sold"] = true
			soldOut = append(soldOut, item)
		}
		if err := repo.UpdateListing(ctx, listing.ID, updates); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement listing stock")
		}
		listing.Stock = remaining
	}

	receipt := ""
	if payment.ReceiptNumber != nil {
		receipt = *payment.ReceiptNumber
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: actorID},
		Data: payloads.OrderPaidEvent{
			OrderID:       order.ID,
			PaymentID:     payment.ID,
			Amount:        payment.Amount,
			ReceiptNumber: receipt,
			PaidAt:        *order.PaidAt,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order paid event")
	}

	notices := s.statusNotices(order, enums.OrderStatusPaid, "")
	for _, item := range soldOut {
		notices = append(notices, notifications.Notice{
			RecipientID: item.SellerID,
			Type:        enums.NotificationTypeListingSold,
			Title:       "Listing Sold Out",
			Message:     fmt.Sprintf("%s is now sold out.", item.Title),
			OrderID:     &order.ID,
		})
	}
	return notices, nil
}

// ShipInput names the seller whose unshipped items on an order are being shipped.
type ShipInput struct {
	OrderID        uuid.UUID
	SellerID       uuid.UUID
	TrackingNumber string
}

// ShipResult reports the aggregate after a shipment mark.
type ShipResult struct {
	Order            *models.Order `json:"order"`
	ShippedItemIDs   []uuid.UUID   `json:"shipped_item_ids"`
	RemainingSellers []uuid.UUID   `json:"-"`
}

// MarkItemsShipped marks every unshipped item of the seller on the order as
// shipped and recomputes the order status from item state in the same
// transaction. Concurrent calls from different sellers serialize on the order
// row lock and both succeed.
func (s *Service) MarkItemsShipped(ctx context.Context, input ShipInput) (*ShipResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	var tracking *string
	if trimmed := strings.TrimSpace(input.TrackingNumber); trimmed != "" {
		tracking = &trimmed
	}

	var (
		result   *ShipResult
		previous enums.OrderStatus
	)
	err := s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		result = nil
		repo := s.repo.WithTx(tx)
		order, err := s.LockOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		previous = order.Status
		if order.Status != enums.OrderStatusPaid && order.Status != enums.OrderStatusPartiallyShipped {
			return pkgerrors.Kind(pkgerrors.CodeStateConflict, ErrInvalidTransition, "Can only mark items shipped for paid orders")
		}
		owns, err := repo.SellerHasItems(ctx, order.ID, input.SellerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check seller items")
		}
		if !owns {
			return pkgerrors.New(pkgerrors.CodeForbidden, "You don't have permission to modify this order")
		}

		items, err := repo.LockUnshippedItems(ctx, order.ID, input.SellerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unshipped items")
		}
		if len(items) == 0 {
			return pkgerrors.Kind(pkgerrors.CodeConflict, ErrNothingToShip, "No unshipped items found for this seller")
		}
		ids := make([]uuid.UUID, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
		}
		if err := repo.MarkItemsShipped(ctx, ids, s.clock(), tracking); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark items shipped")
		}

		remaining, err := repo.UnshippedSellerIDs(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unshipped items")
		}
		target := enums.OrderStatusPartiallyShipped
		if len(remaining) == 0 {
			target = enums.OrderStatusShipped
		}
		if order.Status != target {
			note := ""
			if tracking != nil {
				note = "tracking " + *tracking
			}
			if err := s.Transition(ctx, tx, order, target, input.SellerID, note); err != nil {
				return err
			}
		}
		if target == enums.OrderStatusShipped && s.cfg.AutoReleaseDays > 0 {
			if _, err := s.escrow.ScheduleAutoRelease(ctx, tx, order.ID, s.cfg.AutoReleaseDays); err != nil {
				return err
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderShipped,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.SellerID},
			Data: payloads.OrderShippedEvent{
				OrderID:        order.ID,
				SellerID:       input.SellerID,
				ItemIDs:        ids,
				TrackingNumber: input.TrackingNumber,
				OrderStatus:    order.Status,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order shipped event")
		}

		refreshed, err := repo.FindItems(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload items")
		}
		order.Items = refreshed
		result = &ShipResult{Order: order, ShippedItemIDs: ids, RemainingSellers: remaining}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order := result.Order
	var notices []notifications.Notice
	if order.Status != previous {
		notices = append(notices, s.statusNotices(order, order.Status, input.TrackingNumber)...)
	}
	if n := len(result.RemainingSellers); n > 0 && n <= s.reminderThreshold() {
		for _, sellerID := range result.RemainingSellers {
			notices = append(notices, notifications.Notice{
				RecipientID: sellerID,
				Type:        enums.NotificationTypeShipmentReminder,
				Title:       "Shipment Reminder",
				Message:     fmt.Sprintf("Other sellers on Order #%s have shipped. Please ship your items.", order.ID),
				OrderID:     &order.ID,
			})
		}
	}
	s.notifier.Notify(ctx, notices...)
	return result, nil
}

func (s *Service) reminderThreshold() int {
	if s.cfg.SellerReminderThreshold <= 0 {
		return 2
	}
	return s.cfg.SellerReminderThreshold
}

// ConfirmDelivery lets the buyer accept a shipped order, which releases escrow
// to the sellers in the same transaction.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID, buyerID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.BuyerID != buyerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "Only the buyer can confirm delivery")
		}
		if order.Status != enums.OrderStatusShipped {
			return pkgerrors.Kind(pkgerrors.CodeStateConflict, ErrInvalidTransition, "Can only confirm delivery for shipped orders")
		}
		if err := s.Transition(ctx, tx, order, enums.OrderStatusDelivered, buyerID, ""); err != nil {
			return err
		}
		_, err = s.escrow.Release(ctx, tx, escrow.Settlement{Order: order, ActorID: buyerID})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, s.statusNotices(order, enums.OrderStatusDelivered, "")...)
	return order, nil
}

// CancelInput carries a cancellation request.
type CancelInput struct {
	OrderID uuid.UUID
	Actor   Actor
	Reason  string
}

// Cancel closes a pending or paid order and refunds its escrow. Stock already
// decremented at payment is not restored.
func (s *Service) Cancel(ctx context.Context, input CancelInput) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.LockOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if !input.Actor.Staff && order.BuyerID != input.Actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer or staff can cancel an order")
		}
		return s.cancelLocked(ctx, tx, order, input.Actor.UserID, input.Reason)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, s.statusNotices(order, enums.OrderStatusCancelled, input.Reason)...)
	return order, nil
}

func (s *Service) cancelLocked(ctx context.Context, tx *gorm.DB, order *models.Order, actorID uuid.UUID, reason string) error {
	if err := s.Transition(ctx, tx, order, enums.OrderStatusCancelled, actorID, reason); err != nil {
		return err
	}
	_, err := s.escrow.Refund(ctx, tx, escrow.Settlement{Order: order, ActorID: actorID})
	return err
}

// UpdateStatusInput carries a staff status override.
type UpdateStatusInput struct {
	OrderID uuid.UUID
	Status  enums.OrderStatus
	Actor   Actor
	Notes   string
}

// UpdateStatus is the staff transition endpoint. Statuses owned by a dedicated
// flow are refused: partial shipment is derived from items and disputes carry
// a reason and resolution.
func (s *Service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error) {
	if !input.Actor.Staff {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff only")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status")
	}
	switch input.Status {
	case enums.OrderStatusPartiallyShipped:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "partially_shipped is derived from item shipments")
	case enums.OrderStatusDisputed, enums.OrderStatusResolved:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "use the dispute endpoints for this status")
	}

	var (
		order   *models.Order
		notices []notifications.Notice
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		notices = nil
		if input.Status == enums.OrderStatusPaid {
			var err error
			if notices, err = s.MarkAsPaid(ctx, tx, input.OrderID, input.Actor.UserID); err != nil {
				return err
			}
			order, err = s.LockOrder(ctx, tx, input.OrderID)
			if err != nil {
				return err
			}
			if notices == nil && order.Status != enums.OrderStatusPaid {
				return invalidTransition(order.Status, enums.OrderStatusPaid)
			}
			return nil
		}

		var err error
		order, err = s.LockOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if !CanTransition(order.Status, input.Status) {
			return invalidTransition(order.Status, input.Status)
		}
		switch input.Status {
		case enums.OrderStatusShipped:
			var ids []uuid.UUID
			for _, item := range order.Items {
				if !item.Shipped {
					ids = append(ids, item.ID)
				}
			}
			if len(ids) > 0 {
				if err := s.repo.WithTx(tx).MarkItemsShipped(ctx, ids, s.clock(), nil); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark items shipped")
				}
			}
			if err := s.Transition(ctx, tx, order, enums.OrderStatusShipped, input.Actor.UserID, input.Notes); err != nil {
				return err
			}
			if s.cfg.AutoReleaseDays > 0 {
				if _, err := s.escrow.ScheduleAutoRelease(ctx, tx, order.ID, s.cfg.AutoReleaseDays); err != nil {
					return err
				}
			}
		case enums.OrderStatusDelivered:
			if err := s.Transition(ctx, tx, order, enums.OrderStatusDelivered, input.Actor.UserID, input.Notes); err != nil {
				return err
			}
			if _, err := s.escrow.Release(ctx, tx, escrow.Settlement{Order: order, ActorID: input.Actor.UserID}); err != nil {
				return err
			}
		case enums.OrderStatusCancelled:
			if err := s.cancelLocked(ctx, tx, order, input.Actor.UserID, input.Notes); err != nil {
				return err
			}
		}
		notices = s.statusNotices(order, input.Status, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, notices...)
	return order, nil
}

// Get returns an order visible to the actor: its buyer, a seller with items on
// it, or staff.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "load order")
	}
	if actor.Staff || order.BuyerID == actor.UserID {
		return order, nil
	}
	for _, item := range order.Items {
		if item.SellerID == actor.UserID {
			return order, nil
		}
	}
	return nil, pkgerrors.Kind(pkgerrors.CodeNotFound, ErrNotFound, "order not found")
}

// ListParams configures order pagination. AsSeller lists orders containing the
// actor's listings instead of orders the actor bought.
type ListParams struct {
	Actor    Actor
	AsSeller bool
	Status   *enums.OrderStatus
	Limit    int
	Cursor   string
}

// ListResult wraps returned orders and the cursor for the next page.
type ListResult struct {
	Items  []models.Order `json:"items"`
	Cursor string         `json:"cursor"`
}

func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	query := listOrdersParams{Status: params.Status, Limit: params.Limit}
	if params.AsSeller {
		query.SellerID = params.Actor.UserID
	} else {
		query.BuyerID = params.Actor.UserID
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}
	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

// statusNotices builds the notifications that follow a transition into status.
func (s *Service) statusNotices(order *models.Order, status enums.OrderStatus, note string) []notifications.Notice {
	orderID := order.ID
	buyer := func(typ enums.NotificationType, title, msg string) notifications.Notice {
		return notifications.Notice{RecipientID: order.BuyerID, Type: typ, Title: title, Message: msg, OrderID: &orderID}
	}
	sellers := func(typ enums.NotificationType, title, msg string) []notifications.Notice {
		out := []notifications.Notice{}
		for _, sellerID := range order.SellerIDs() {
			out = append(out, notifications.Notice{RecipientID: sellerID, Type: typ, Title: title, Message: msg, OrderID: &orderID})
		}
		return out
	}

	switch status {
	case enums.OrderStatusPaid:
		out := []notifications.Notice{buyer(enums.NotificationTypePaymentReceived, "Payment Received",
			fmt.Sprintf("Payment for Order #%s was received.", orderID))}
		return append(out, sellers(enums.NotificationTypeOrderPlaced, "New Order",
			fmt.Sprintf("Order #%s has been paid. Please prepare your items for shipment.", orderID))...)
	case enums.OrderStatusPartiallyShipped:
		return []notifications.Notice{buyer(enums.NotificationTypeOrderShipped, "Part of Your Order Shipped",
			withTracking(fmt.Sprintf("Some items in Order #%s have been shipped.", orderID), note))}
	case enums.OrderStatusShipped:
		return []notifications.Notice{buyer(enums.NotificationTypeOrderShipped, "Order Shipped",
			withTracking(fmt.Sprintf("Your Order #%s has been shipped.", orderID), note))}
	case enums.OrderStatusDelivered:
		return sellers(enums.NotificationTypeOrderDelivered, "Delivery Confirmed",
			fmt.Sprintf("The buyer confirmed delivery of Order #%s. Funds have been released.", orderID))
	case enums.OrderStatusCancelled:
		msg := fmt.Sprintf("Order #%s has been cancelled.", orderID)
		if note = strings.TrimSpace(note); note != "" {
			msg += " Reason: " + note
		}
		out := []notifications.Notice{buyer(enums.NotificationTypeOrderCancelled, "Order Cancelled", msg)}
		return append(out, sellers(enums.NotificationTypeOrderCancelled, "Order Cancelled", msg)...)
	}
	return nil
}

func withTracking(msg, tracking string) string {
	if tracking = strings.TrimSpace(tracking); tracking != "" {
		return msg + " Tracking number: " + tracking
	}
	return msg
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Kind(pkgerrors.CodeNotFound, ErrNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
