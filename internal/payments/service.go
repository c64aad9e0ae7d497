// Package payments runs the mobile-money payment cycle for an order: push
// prompt initiation, callback and poll result processing, and the hand-off to
// the order state machine once money is confirmed.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/internal/activity"
	"github.com/homabaysouq/souq-backend/internal/notifications"
	"github.com/homabaysouq/souq-backend/internal/orders"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
	"github.com/homabaysouq/souq-backend/pkg/logger"
	"github.com/homabaysouq/souq-backend/pkg/metrics"
	"github.com/homabaysouq/souq-backend/pkg/mpesa"
	"github.com/homabaysouq/souq-backend/pkg/outbox"
	"github.com/homabaysouq/souq-backend/pkg/outbox/payloads"
)

const (
	defaultInitiateLimit  = 5
	defaultInitiateWindow = 10 * time.Minute
	defaultClaimTTL       = 2 * time.Minute
	rateLimitScope        = "stk_push"
)

var (
	// ErrUnknownCheckout is returned when a result references no stored payment.
	ErrUnknownCheckout = errors.New("unknown checkout request id")
	// ErrAlreadyPaid is returned when initiation targets a settled payment.
	ErrAlreadyPaid = errors.New("payment already completed")
	// ErrInProgress is returned while a pushed prompt is still awaiting its result.
	ErrInProgress = errors.New("payment already in progress")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// OrderPayer is the slice of the order service payment settlement drives.
type OrderPayer interface {
	LockOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	MarkAsPaid(ctx context.Context, tx *gorm.DB, orderID, actorID uuid.UUID) ([]notifications.Notice, error)
}

// RateLimiter throttles prompt initiation per buyer.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type receiptIssuer interface {
	ReceiptNumber() string
}

type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Gateway  mpesa.Gateway
	Orders   OrderPayer
	Outbox   outbox.Emitter
	Notifier notifications.Notifier
	Limiter  RateLimiter
	Metrics  *metrics.GatewayMetrics
	Logger   *logger.Logger
	Clock    func() time.Time

	InitiateLimit  int64
	InitiateWindow time.Duration
	// ClaimTTL bounds how long an attempt with no correlation id blocks new
	// prompts. It must exceed the gateway request timeout.
	ClaimTTL time.Duration
}

type Service struct {
	repo     Repository
	tx       txRunner
	gateway  mpesa.Gateway
	orders   OrderPayer
	outbox   outbox.Emitter
	notifier notifications.Notifier
	limiter  RateLimiter
	metrics  *metrics.GatewayMetrics
	logg     *logger.Logger
	now      func() time.Time

	initiateLimit  int64
	initiateWindow time.Duration
	claimTTL       time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments repo required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order service required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notifier required")
	}
	s := &Service{
		repo:           params.Repo,
		tx:             params.Tx,
		gateway:        params.Gateway,
		orders:         params.Orders,
		outbox:         params.Outbox,
		notifier:       params.Notifier,
		limiter:        params.Limiter,
		metrics:        params.Metrics,
		logg:           params.Logger,
		now:            params.Clock,
		initiateLimit:  params.InitiateLimit,
		initiateWindow: params.InitiateWindow,
		claimTTL:       params.ClaimTTL,
	}
	if s.logg == nil {
		s.logg = logger.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.initiateLimit <= 0 {
		s.initiateLimit = defaultInitiateLimit
	}
	if s.initiateWindow <= 0 {
		s.initiateWindow = defaultInitiateWindow
	}
	if s.claimTTL <= 0 {
		s.claimTTL = defaultClaimTTL
	}
	return s, nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Simulated reports whether the configured gateway is the offline simulator.
func (s *Service) Simulated() bool {
	return s.gateway.Simulated()
}

type InitiateInput struct {
	OrderID uuid.UUID
	BuyerID uuid.UUID
	Phone   string
}

type InitiateResult struct {
	Payment   *models.Payment
	Message   string
	Simulated bool
}

// Initiate pushes a PIN prompt for the order's payment. The gateway call runs
// between two short transactions so no row lock is held while it is in flight.
// The first transaction claims the attempt by moving the payment to initiated;
// the second stores the correlation id only if that claim is still current, so
// concurrent callers for one order push at most one prompt.
func (s *Service) Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error) {
	phone, err := mpesa.NormalizePhone(input.Phone)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())
	if err := s.throttle(ctx, input.BuyerID); err != nil {
		return nil, err
	}

	var (
		amount decimal.Decimal
		claim  int
		prior  enums.PaymentStatus
	)
	claimedAt := s.clock()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.LockOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if order.BuyerID != input.BuyerID {
			return pkgerrors.Kind(pkgerrors.CodeNotFound, orders.ErrNotFound, "order not found")
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.Kind(pkgerrors.CodeStateConflict, ErrAlreadyPaid, fmt.Sprintf("order is %s", order.Status))
		}
		repo := s.repo.WithTx(tx)
		payment, err := repo.LockByOrderID(ctx, input.OrderID)
		if err != nil {
			return notFoundOr(err, "lock payment")
		}
		switch payment.Status {
		case enums.PaymentStatusPending, enums.PaymentStatusFailed:
		case enums.PaymentStatusInitiated:
			if !s.claimExpired(payment, claimedAt) {
				return pkgerrors.Kind(pkgerrors.CodeConflict, ErrInProgress, "a payment prompt is already awaiting confirmation")
			}
			s.logg.Warn(ctx, "reclaiming payment attempt abandoned before the gateway answered")
		default:
			return pkgerrors.Kind(pkgerrors.CodeStateConflict, ErrAlreadyPaid, fmt.Sprintf("payment is %s", payment.Status))
		}
		amount = payment.Amount
		prior = payment.Status
		if prior == enums.PaymentStatusInitiated {
			prior = enums.PaymentStatusPending
		}
		claim = payment.Attempts + 1
		// The attempt counter doubles as the claim token checked after the
		// gateway call.
		return repo.Update(ctx, payment.ID, map[string]any{
			"status":              enums.PaymentStatusInitiated,
			"checkout_request_id": nil,
			"merchant_request_id": nil,
			"attempts":            claim,
			"initiated_at":        claimedAt,
			"updated_at":          claimedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway.InitiatePayment(ctx, mpesa.PaymentRequest{
		Phone:            phone,
		Amount:           amount,
		AccountReference: accountReference(input.OrderID),
		Description:      "Payment for order " + accountReference(input.OrderID),
	})
	if err != nil {
		s.logg.Error(ctx, "stk push failed", err)
		s.releaseClaim(ctx, input.OrderID, claim, prior)
		return nil, err
	}

	now := s.clock()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.LockByOrderID(ctx, input.OrderID)
		if err != nil {
			return notFoundOr(err, "lock payment")
		}
		if !holdsClaim(payment, claim) {
			if payment.Status == enums.PaymentStatusCompleted {
				return pkgerrors.Kind(pkgerrors.CodeStateConflict, ErrAlreadyPaid, "payment completed while the prompt was being sent")
			}
			return pkgerrors.Kind(pkgerrors.CodeConflict, ErrInProgress, "another payment prompt superseded this one")
		}
		return repo.Update(ctx, payment.ID, map[string]any{
			"phone_number":        resp.Phone,
			"checkout_request_id": resp.CheckoutRequestID,
			"merchant_request_id": resp.MerchantRequestID,
			"initiated_at":        now,
			"result_code":         nil,
			"result_desc":         nil,
			"receipt_number":      nil,
			"completed_at":        nil,
			"updated_at":          now,
		})
	})
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "checkout_request_id", resp.CheckoutRequestID), "pushed prompt could not be recorded", err)
		return nil, err
	}

	logCtx := s.logg.WithField(ctx, "checkout_request_id", resp.CheckoutRequestID)
	s.logg.Info(logCtx, "stk push initiated")

	result := &InitiateResult{Message: resp.ResponseDescription, Simulated: s.gateway.Simulated()}
	if result.Simulated {
		code := mpesa.ResultSuccess
		simulated := &mpesa.CallbackResult{
			CheckoutRequestID: resp.CheckoutRequestID,
			MerchantRequestID: resp.MerchantRequestID,
			ResultCode:        &code,
			ResultDesc:        "The service request is processed successfully. [SIMULATION]",
			PhoneNumber:       resp.Phone,
		}
		if issuer, ok := s.gateway.(receiptIssuer); ok {
			simulated.ReceiptNumber = issuer.ReceiptNumber()
		}
		if _, err := s.apply(ctx, simulated, nil); err != nil {
			return nil, err
		}
	}

	payment, err := s.repo.FindByOrderID(ctx, input.OrderID)
	if err != nil {
		return nil, notFoundOr(err, "load payment")
	}
	result.Payment = payment
	return result, nil
}

// holdsClaim reports whether payment is still the attempt claimed as claim
// and no correlation id has been stored for it yet.
func holdsClaim(payment *models.Payment, claim int) bool {
	return payment.Status == enums.PaymentStatusInitiated &&
		payment.Attempts == claim &&
		payment.CheckoutRequestID == nil
}

// claimExpired reports whether an initiated payment without a correlation id
// was claimed by a caller that never came back from the gateway.
func (s *Service) claimExpired(payment *models.Payment, now time.Time) bool {
	if payment.CheckoutRequestID != nil || payment.InitiatedAt == nil {
		return false
	}
	return now.Sub(*payment.InitiatedAt) >= s.claimTTL
}

// releaseClaim hands the payment back to its previous status after the
// gateway refused the prompt, unless a newer attempt already took over.
func (s *Service) releaseClaim(ctx context.Context, orderID uuid.UUID, claim int, prior enums.PaymentStatus) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.LockByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if !holdsClaim(payment, claim) {
			return nil
		}
		return repo.Update(ctx, payment.ID, map[string]any{
			"status":       prior,
			"initiated_at": nil,
			"updated_at":   s.clock(),
		})
	})
	if err != nil {
		s.logg.Error(ctx, "failed to release payment claim", err)
	}
}

func (s *Service) throttle(ctx context.Context, buyerID uuid.UUID) error {
	if s.limiter == nil {
		return nil
	}
	allowed, _, err := s.limiter.FixedWindowAllow(ctx, rateLimitScope+":"+buyerID.String(), s.initiateLimit, s.initiateWindow)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "payment rate limiter unavailable")
		return nil
	}
	if !allowed {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "too many payment attempts, please wait before retrying")
	}
	return nil
}

// HandleCallback applies a raw gateway callback. Replays for a payment that
// is already completed or failed change nothing.
func (s *Service) HandleCallback(ctx context.Context, raw []byte) (*models.Payment, error) {
	result, err := mpesa.ParseCallback(raw)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncCallback("malformed")
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncCallback(result.Outcome().Label())
	}
	return s.apply(ctx, result, json.RawMessage(raw))
}

// apply is the single result-processing path shared by callbacks, polling and
// simulated settlement.
func (s *Service) apply(ctx context.Context, result *mpesa.CallbackResult, raw json.RawMessage) (*models.Payment, error) {
	ctx = s.logg.WithField(ctx, "checkout_request_id", result.CheckoutRequestID)
	existing, err := s.repo.FindByCheckoutRequestID(ctx, result.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Kind(pkgerrors.CodeNotFound, ErrUnknownCheckout, "no payment for checkout request "+result.CheckoutRequestID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	ctx = s.logg.WithOrderID(ctx, existing.OrderID.String())
	outcome := result.Outcome()

	var (
		payment *models.Payment
		notices []notifications.Notice
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		notices = nil
		order, err := s.orders.LockOrder(ctx, tx, existing.OrderID)
		if err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		payment, err = repo.LockByOrderID(ctx, existing.OrderID)
		if err != nil {
			return notFoundOr(err, "lock payment")
		}
		if payment.CheckoutRequestID == nil || *payment.CheckoutRequestID != result.CheckoutRequestID {
			s.logg.Warn(ctx, "result for a superseded checkout request ignored")
			return nil
		}
		if payment.Status.IsSettled() {
			s.logg.Info(s.logg.WithField(ctx, "payment_status", payment.Status), "duplicate payment result ignored")
			return nil
		}

		now := s.clock()
		updates := map[string]any{"updated_at": now}
		if raw != nil {
			updates["callback_payload"] = raw
		}
		if result.ResultDesc != "" {
			updates["result_desc"] = result.ResultDesc
		}
		if outcome.Pending {
			return repo.Update(ctx, payment.ID, updates)
		}

		updates["status"] = outcome.Status
		updates["result_code"] = *result.ResultCode
		if outcome.Status == enums.PaymentStatusCompleted {
			updates["completed_at"] = now
			if result.ReceiptNumber != "" {
				updates["receipt_number"] = result.ReceiptNumber
			}
			if result.Amount.Valid && !result.Amount.Decimal.Equal(payment.Amount) {
				s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
					"expected": payment.Amount.StringFixed(2),
					"received": result.Amount.Decimal.StringFixed(2),
				}), "gateway amount differs from payment amount")
			}
		} else {
			updates["result_desc"] = outcome.Reason
		}
		if err := repo.Update(ctx, payment.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment")
		}
		payment.Status = outcome.Status

		if err := s.emitResult(ctx, tx, payment, *result.ResultCode, result); err != nil {
			return err
		}

		if outcome.Status != enums.PaymentStatusCompleted {
			if err := activity.Recordf(ctx, tx, activity.SystemActor, &order.ID, "Payment failed for Order #%s: %s", order.ID, outcome.Reason); err != nil {
				return err
			}
			notices = append(notices, notifications.Notice{
				RecipientID: order.BuyerID,
				Type:        enums.NotificationTypePaymentFailed,
				Title:       "Payment Failed",
				Message:     fmt.Sprintf("Payment for order #%s failed. %s", accountReference(order.ID), outcome.Reason),
				OrderID:     &order.ID,
			})
			return nil
		}

		if order.Status == enums.OrderStatusCancelled {
			s.logg.Error(ctx, "payment completed for a cancelled order", orders.ErrInvalidTransition)
			return nil
		}
		paidNotices, err := s.orders.MarkAsPaid(ctx, tx, order.ID, activity.SystemActor)
		if err != nil {
			return err
		}
		notices = append(notices, paidNotices...)
		return nil
	})
	if err != nil {
		s.logg.Error(ctx, "payment result processing failed", err)
		return nil, err
	}
	s.notifier.Notify(ctx, notices...)

	if payment != nil && !outcome.Pending {
		s.logg.Info(s.logg.WithField(ctx, "payment_status", outcome.Label()), "payment result processed")
	}
	return s.repo.FindByOrderID(ctx, existing.OrderID)
}

func (s *Service) emitResult(ctx context.Context, tx *gorm.DB, payment *models.Payment, code int, result *mpesa.CallbackResult) error {
	eventType := enums.EventPaymentFailed
	if payment.Status == enums.PaymentStatusCompleted {
		eventType = enums.EventPaymentCompleted
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		OccurredAt:    s.clock(),
		Data: payloads.PaymentStatusEvent{
			PaymentID:     payment.ID,
			OrderID:       payment.OrderID,
			Status:        payment.Status,
			ResultCode:    code,
			ResultDesc:    result.ResultDesc,
			ReceiptNumber: result.ReceiptNumber,
		},
	})
}

// StatusView is the poll endpoint payload.
type StatusView struct {
	PaymentStatus string `json:"payment_status"`
	Message       string `json:"message"`
	RedirectURL   string `json:"redirect_url,omitempty"`
}

// Status reports the stored payment state without contacting the gateway.
func (s *Service) Status(ctx context.Context, orderID uuid.UUID, actor orders.Actor) (*StatusView, error) {
	payment, err := s.visiblePayment(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	return statusView(payment), nil
}

// PollStatus asks the gateway about an initiated payment, applies any final
// answer and returns the resulting view. Gateway failures leave the payment
// initiated for the next poll.
func (s *Service) PollStatus(ctx context.Context, orderID uuid.UUID, actor orders.Actor) (*StatusView, error) {
	payment, err := s.visiblePayment(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	if payment.Status == enums.PaymentStatusInitiated && payment.CheckoutRequestID != nil {
		if updated, err := s.query(ctx, payment); err != nil {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"checkout_request_id": *payment.CheckoutRequestID,
				"error":               err.Error(),
			}), "payment status query failed")
		} else if updated != nil {
			payment = updated
		}
	}
	return statusView(payment), nil
}

// PollInitiated settles payments whose prompt has been outstanding for at
// least olderThan. It returns how many reached a final state.
func (s *Service) PollInitiated(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	pending, err := s.repo.ListInitiatedBefore(ctx, s.clock().Add(-olderThan), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list initiated payments")
	}
	settled := 0
	var errs error
	for i := range pending {
		updated, err := s.query(ctx, &pending[i])
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", pending[i].ID, err))
			continue
		}
		if updated != nil && updated.Status.IsSettled() {
			settled++
		}
	}
	return settled, errs
}

func (s *Service) query(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	status, err := s.gateway.QueryStatus(ctx, *payment.CheckoutRequestID)
	if err != nil {
		return nil, err
	}
	if status.ResultCode == nil {
		return nil, nil
	}
	result := &mpesa.CallbackResult{
		CheckoutRequestID: status.CheckoutRequestID,
		ResultCode:        status.ResultCode,
		ResultDesc:        status.ResultDesc,
	}
	if result.CheckoutRequestID == "" {
		result.CheckoutRequestID = *payment.CheckoutRequestID
	}
	if *status.ResultCode == mpesa.ResultSuccess {
		if issuer, ok := s.gateway.(receiptIssuer); ok {
			result.ReceiptNumber = issuer.ReceiptNumber()
		}
	}
	return s.apply(ctx, result, nil)
}

func (s *Service) visiblePayment(ctx context.Context, orderID uuid.UUID, actor orders.Actor) (*models.Payment, error) {
	payment, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "load payment")
	}
	if actor.Staff {
		return payment, nil
	}
	buyerID, err := s.repo.FindOrderBuyerID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "load order")
	}
	if buyerID != actor.UserID {
		return nil, pkgerrors.Kind(pkgerrors.CodeNotFound, orders.ErrNotFound, "order not found")
	}
	return payment, nil
}

func statusView(payment *models.Payment) *StatusView {
	switch payment.Status {
	case enums.PaymentStatusCompleted:
		return &StatusView{
			PaymentStatus: "completed",
			Message:       "Payment completed successfully",
			RedirectURL:   fmt.Sprintf("/orders/%s", payment.OrderID),
		}
	case enums.PaymentStatusFailed:
		msg := "Payment failed"
		if payment.ResultDesc != nil && strings.TrimSpace(*payment.ResultDesc) != "" {
			msg = *payment.ResultDesc
		}
		return &StatusView{PaymentStatus: "failed", Message: msg}
	default:
		return &StatusView{PaymentStatus: "processing", Message: "Waiting for M-Pesa confirmation"}
	}
}

func accountReference(orderID uuid.UUID) string {
	return strings.ToUpper(strings.ReplaceAll(orderID.String(), "-", "")[:12])
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
