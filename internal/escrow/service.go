// Package escrow owns the ledger state that gates whether sellers are entitled
// to an order's funds or the buyer is entitled to a refund. No money moves here.
package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/internal/activity"
	"github.com/homabaysouq/souq-backend/internal/ledger"
	"github.com/homabaysouq/souq-backend/internal/notifications"
	"github.com/homabaysouq/souq-backend/pkg/db"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
	"github.com/homabaysouq/souq-backend/pkg/logger"
	"github.com/homabaysouq/souq-backend/pkg/outbox"
	"github.com/homabaysouq/souq-backend/pkg/outbox/payloads"
)

var (
	ErrInvalidTransition = errors.New("invalid escrow transition")
	ErrNotFound          = errors.New("escrow not found")
)

var transitions = map[enums.EscrowStatus][]enums.EscrowStatus{
	enums.EscrowStatusHeld:     {enums.EscrowStatusReleased, enums.EscrowStatusRefunded, enums.EscrowStatusDisputed},
	enums.EscrowStatusDisputed: {enums.EscrowStatusReleased, enums.EscrowStatusRefunded},
}

// CanTransition reports whether from -> to is an edge of the escrow DAG.
func CanTransition(from, to enums.EscrowStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Settlement describes a release or refund of one order's escrow. Order must
// have its Items loaded.
type Settlement struct {
	Order           *models.Order
	ActorID         uuid.UUID
	Automatic       bool
	DisputeResolved bool
	// RefundAmount is advisory. It is logged and recorded but not checked
	// against the held amount.
	RefundAmount decimal.NullDecimal
}

type Service struct {
	db       *db.Client
	repo     Repository
	ledger   ledger.Service
	emitter  outbox.Emitter
	notifier notifications.Notifier
	logg     *logger.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for stamps and deadlines.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithNotifier enables seller notifications for automatic releases.
func WithNotifier(n notifications.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func NewService(client *db.Client, repo Repository, ledgerSvc ledger.Service, emitter outbox.Emitter, logg *logger.Logger, opts ...Option) (*Service, error) {
	switch {
	case client == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "db client required")
	case repo == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "escrow repository required")
	case ledgerSvc == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ledger service required")
	case emitter == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	s := &Service{
		db:      client,
		repo:    repo,
		ledger:  ledgerSvc,
		emitter: emitter,
		logg:    logg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Get returns the escrow for an order.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (*models.Escrow, error) {
	row, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "load escrow")
	}
	return row, nil
}

// Lock reads the order's escrow under a row lock held by tx.
func (s *Service) Lock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Escrow, error) {
	row, err := s.repo.WithTx(tx).LockByOrderID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "lock escrow")
	}
	return row, nil
}

// MarkDisputed moves held funds into dispute.
func (s *Service) MarkDisputed(ctx context.Context, tx *gorm.DB, orderID, actorID uuid.UUID) (*models.Escrow, error) {
	row, err := s.transition(ctx, tx, orderID, enums.EscrowStatusDisputed, map[string]any{})
	if err != nil {
		return nil, err
	}
	if err := activity.Recordf(ctx, tx, actorID, &orderID, "Escrow disputed for Order #%s", orderID); err != nil {
		return nil, err
	}
	return row, nil
}

// ScheduleAutoRelease sets the deadline after which held funds go to the sellers.
func (s *Service) ScheduleAutoRelease(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, days int) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "auto release days must be positive")
	}
	deadline := s.clock().AddDate(0, 0, days)
	result := tx.WithContext(ctx).
		Model(&models.Escrow{}).
		Where("order_id = ? AND status = ?", orderID, enums.EscrowStatusHeld).
		Updates(map[string]any{"auto_release_date": deadline, "updated_at": s.clock()})
	if result.Error != nil {
		return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "schedule auto release")
	}
	if result.RowsAffected == 0 {
		return time.Time{}, pkgerrors.Kind(pkgerrors.CodeStateConflict, ErrInvalidTransition, "only held escrow can be scheduled for release")
	}
	return deadline, nil
}

// Release hands the funds to the sellers.
func (s *Service) Release(ctx context.Context, tx *gorm.DB, st Settlement) (*models.Escrow, error) {
	if st.Order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	now := s.clock()
	updates := map[string]any{"released_at": now}
	if st.DisputeResolved {
		updates["dispute_resolved_at"] = now
	}
	row, err := s.transition(ctx, tx, st.Order.ID, enums.EscrowStatusReleased, updates)
	if err != nil {
		return nil, err
	}
	if err := s.afterSettle(ctx, tx, row, st); err != nil {
		return nil, err
	}
	return row, nil
}

// Refund returns the funds to the buyer.
func (s *Service) Refund(ctx context.Context, tx *gorm.DB, st Settlement) (*models.Escrow, error) {
	if st.Order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if st.RefundAmount.Valid && !st.RefundAmount.Decimal.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	now := s.clock()
	updates := map[string]any{"refunded_at": now}
	if st.RefundAmount.Valid {
		updates["refund_amount"] = st.RefundAmount.Decimal.Round(2)
	}
	if st.DisputeResolved {
		updates["dispute_resolved_at"] = now
	}
	row, err := s.transition(ctx, tx, st.Order.ID, enums.EscrowStatusRefunded, updates)
	if err != nil {
		return nil, err
	}
	if st.RefundAmount.Valid && st.RefundAmount.Decimal.GreaterThan(row.Amount) {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":      st.Order.ID.String(),
			"refund_amount": st.RefundAmount.Decimal.String(),
			"held_amount":   row.Amount.String(),
		})
		s.logg.Warn(logCtx, "refund amount exceeds held escrow")
	}
	if err := s.afterSettle(ctx, tx, row, st); err != nil {
		return nil, err
	}
	return row, nil
}

// CloseReleasedDispute settles a dispute raised after the funds were already
// released. The escrow row stays released; an advisory refund becomes a
// dispute_refund claim against the sellers' payouts.
func (s *Service) CloseReleasedDispute(ctx context.Context, tx *gorm.DB, st Settlement) (*models.Escrow, error) {
	if st.Order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if st.RefundAmount.Valid && !st.RefundAmount.Decimal.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	repo := s.repo.WithTx(tx)
	row, err := repo.LockByOrderID(ctx, st.Order.ID)
	if err != nil {
		return nil, notFoundOr(err, "lock escrow")
	}
	if row.Status != enums.EscrowStatusReleased {
		return nil, pkgerrors.Kind(pkgerrors.CodeStateConflict, ErrInvalidTransition,
			fmt.Sprintf("escrow is %s, not released", row.Status))
	}
	now := s.clock()
	updates := map[string]any{"dispute_resolved_at": now, "updated_at": now}
	if st.RefundAmount.Valid {
		updates["refund_amount"] = st.RefundAmount.Decimal.Round(2)
	}
	if _, err := repo.UpdateFrom(ctx, row.ID, row.Status, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update escrow")
	}
	if st.RefundAmount.Valid {
		metadata, _ := json.Marshal(map[string]any{"escrow_id": row.ID, "after_release": true})
		if _, err := s.ledger.Record(ctx, tx, ledger.RecordLedgerEventInput{
			OrderID:     st.Order.ID,
			ActorUserID: st.ActorID,
			Type:        enums.LedgerEventTypeDisputeRefund,
			Amount:      st.RefundAmount.Decimal,
			Metadata:    metadata,
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record dispute refund")
		}
	}
	if err := activity.Recordf(ctx, tx, st.ActorID, &st.Order.ID, "Dispute closed on released escrow for Order #%s", st.Order.ID); err != nil {
		return nil, err
	}
	return repo.FindByOrderID(ctx, st.Order.ID)
}

func (s *Service) transition(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, to enums.EscrowStatus, updates map[string]any) (*models.Escrow, error) {
	repo := s.repo.WithTx(tx)
	row, err := repo.LockByOrderID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "lock escrow")
	}
	if !CanTransition(row.Status, to) {
		return nil, pkgerrors.Kind(pkgerrors.CodeStateConflict, ErrInvalidTransition,
			fmt.Sprintf("escrow cannot move from %s to %s", row.Status, to)).
			WithDetails(map[string]any{"from": row.Status, "to": to})
	}
	updates["status"] = to
	updates["updated_at"] = s.clock()
	ok, err := repo.UpdateFrom(ctx, row.ID, row.Status, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update escrow")
	}
	if !ok {
		return nil, pkgerrors.Kind(pkgerrors.CodeConflict, ErrInvalidTransition, "escrow changed concurrently")
	}
	return repo.FindByOrderID(ctx, orderID)
}

// afterSettle writes the audit row, ledger entries and domain event for a
// release or refund.
func (s *Service) afterSettle(ctx context.Context, tx *gorm.DB, row *models.Escrow, st Settlement) error {
	order := st.Order
	verb := "released"
	eventType := enums.EventEscrowReleased
	if row.Status == enums.EscrowStatusRefunded {
		verb = "refunded"
		eventType = enums.EventEscrowRefunded
	}
	if err := activity.Recordf(ctx, tx, st.ActorID, &order.ID, "Escrow %s for Order #%s", verb, order.ID); err != nil {
		return err
	}

	metadata, _ := json.Marshal(map[string]any{"escrow_id": row.ID, "automatic": st.Automatic})
	if row.Status == enums.EscrowStatusReleased {
		for _, share := range sellerShares(order) {
			sellerID := share.sellerID
			if _, err := s.ledger.Record(ctx, tx, ledger.RecordLedgerEventInput{
				OrderID:     order.ID,
				SellerID:    &sellerID,
				ActorUserID: st.ActorID,
				Type:        enums.LedgerEventTypeEscrowReleased,
				Amount:      share.amount,
				Metadata:    metadata,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record escrow release")
			}
		}
	} else {
		input := ledger.RecordLedgerEventInput{
			OrderID:     order.ID,
			ActorUserID: st.ActorID,
			Type:        enums.LedgerEventTypeEscrowRefunded,
			Amount:      row.Amount,
			Metadata:    metadata,
		}
		if st.RefundAmount.Valid {
			input.Type = enums.LedgerEventTypeDisputeRefund
			input.Amount = st.RefundAmount.Decimal
		}
		if _, err := s.ledger.Record(ctx, tx, input); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record escrow refund")
		}
	}

	if err := s.emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateEscrow,
		AggregateID:   row.ID,
		Actor:         &outbox.ActorRef{UserID: st.ActorID},
		Data: payloads.EscrowSettledEvent{
			EscrowID:     row.ID,
			OrderID:      order.ID,
			Status:       row.Status,
			Amount:       row.Amount,
			RefundAmount: st.RefundAmount,
			Automatic:    st.Automatic,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit escrow event")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":  order.ID.String(),
		"escrow_id": row.ID.String(),
		"actor_id":  st.ActorID.String(),
		"status":    string(row.Status),
	})
	s.logg.Info(logCtx, "escrow settled")
	return nil
}

// CheckAutoRelease releases the escrow when it is still held and its deadline
// has passed. It is safe to call redundantly and concurrently: only the caller
// whose conditional update wins reports true.
func (s *Service) CheckAutoRelease(ctx context.Context, escrowID uuid.UUID) (bool, error) {
	now := s.clock()
	var (
		released bool
		order    models.Order
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		released = false
		ok, err := s.repo.WithTx(tx).ReleaseIfDue(ctx, escrowID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "auto release escrow")
		}
		if !ok {
			return nil
		}

		var row models.Escrow
		if err := tx.WithContext(ctx).Where("id = ?", escrowID).First(&row).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload escrow")
		}
		if err := tx.WithContext(ctx).Preload("Items").Where("id = ?", row.OrderID).First(&order).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for auto release")
		}
		if err := s.afterSettle(ctx, tx, &row, Settlement{
			Order:     &order,
			ActorID:   activity.SystemActor,
			Automatic: true,
		}); err != nil {
			return err
		}
		released = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if released && s.notifier != nil {
		notices := make([]notifications.Notice, 0, len(order.Items))
		for _, sellerID := range order.SellerIDs() {
			notices = append(notices, notifications.Notice{
				RecipientID: sellerID,
				Type:        enums.NotificationTypePaymentReceived,
				Title:       "Funds Released",
				Message:     fmt.Sprintf("Escrow for Order #%s was released automatically.", order.ID),
				OrderID:     &order.ID,
			})
		}
		s.notifier.Notify(ctx, notices...)
	}
	return released, nil
}

// ReleaseDue runs CheckAutoRelease for every overdue held escrow and reports
// how many were released. Per-row failures are returned together.
func (s *Service) ReleaseDue(ctx context.Context, limit int) (int, []error) {
	rows, err := s.repo.ListDue(ctx, s.clock(), limit)
	if err != nil {
		return 0, []error{pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due escrows")}
	}
	released := 0
	var errs []error
	for _, row := range rows {
		ok, err := s.CheckAutoRelease(ctx, row.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("escrow %s: %w", row.ID, err))
			continue
		}
		if ok {
			released++
		}
	}
	return released, errs
}

// ListOpen returns held and disputed escrows for reporting.
func (s *Service) ListOpen(ctx context.Context, limit int) ([]models.Escrow, error) {
	rows, err := s.repo.ListOpen(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list open escrows")
	}
	return rows, nil
}

type sellerShare struct {
	sellerID uuid.UUID
	amount   decimal.Decimal
}

// sellerShares sums line totals per seller in first-seen order.
func sellerShares(order *models.Order) []sellerShare {
	index := map[uuid.UUID]int{}
	var shares []sellerShare
	for _, item := range order.Items {
		i, ok := index[item.SellerID]
		if !ok {
			index[item.SellerID] = len(shares)
			shares = append(shares, sellerShare{sellerID: item.SellerID, amount: item.LineTotal()})
			continue
		}
		shares[i].amount = shares[i].amount.Add(item.LineTotal())
	}
	return shares
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Kind(pkgerrors.CodeNotFound, ErrNotFound, "escrow not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
