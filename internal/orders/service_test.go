package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/internal/escrow"
	"github.com/homabaysouq/souq-backend/internal/ledger"
	"github.com/homabaysouq/souq-backend/internal/notifications"
	"github.com/homabaysouq/souq-backend/pkg/config"
	"github.com/homabaysouq/souq-backend/pkg/db"
	"github.com/homabaysouq/souq-backend/pkg/db/dbtest"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
	"github.com/homabaysouq/souq-backend/pkg/logger"
	"github.com/homabaysouq/souq-backend/pkg/outbox"
)

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notifications.Notice
}

func (r *recordingNotifier) Notify(_ context.Context, notices ...notifications.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notices...)
}

func (r *recordingNotifier) ofType(typ enums.NotificationType) []notifications.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notifications.Notice
	for _, n := range r.notices {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

type harness struct {
	client   *db.Client
	svc      *Service
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.New(t)
	clock := func() time.Time { return fixedNow }
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop())
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()))
	require.NoError(t, err)
	escrowSvc, err := escrow.NewService(client, escrow.NewRepository(client.DB()), ledgerSvc, emitter, logger.Nop(), escrow.WithClock(clock))
	require.NoError(t, err)
	notifier := &recordingNotifier{}
	svc, err := NewService(NewRepository(client.DB()), client, escrowSvc, emitter, notifier,
		config.OrdersConfig{SellerReminderThreshold: 2, AutoReleaseDays: 7}, logger.Nop(), WithClock(clock))
	require.NoError(t, err)
	return &harness{client: client, svc: svc, notifier: notifier}
}

func (h *harness) completePayment(t *testing.T, orderID uuid.UUID) {
	t.Helper()
	require.NoError(t, h.client.DB().Model(&models.Payment{}).
		Where("order_id = ?", orderID).
		Updates(map[string]any{"status": enums.PaymentStatusCompleted, "receipt_number": "QKH4Y7Z1"}).Error)
}

func (h *harness) markPaid(t *testing.T, orderID uuid.UUID) []notifications.Notice {
	t.Helper()
	var notices []notifications.Notice
	require.NoError(t, h.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		notices, err = h.svc.MarkAsPaid(context.Background(), tx, orderID, uuid.New())
		return err
	}))
	return notices
}

func (h *harness) reload(t *testing.T, orderID uuid.UUID) *models.Order {
	t.Helper()
	order, err := NewRepository(h.client.DB()).FindByID(context.Background(), orderID)
	require.NoError(t, err)
	return order
}

func (h *harness) listing(t *testing.T, id uuid.UUID) models.Listing {
	t.Helper()
	var listing models.Listing
	require.NoError(t, h.client.DB().First(&listing, "id = ?", id).Error)
	return listing
}

func itemFor(order *models.Order, sellerID uuid.UUID) models.OrderItem {
	for _, item := range order.Items {
		if item.SellerID == sellerID {
			return item
		}
	}
	return models.OrderItem{}
}

func TestTransitionTable(t *testing.T) {
	cases := map[enums.OrderStatus][]enums.OrderStatus{
		enums.OrderStatusPending:          {enums.OrderStatusPaid, enums.OrderStatusCancelled},
		enums.OrderStatusPaid:             {enums.OrderStatusShipped, enums.OrderStatusPartiallyShipped, enums.OrderStatusCancelled, enums.OrderStatusDisputed},
		enums.OrderStatusPartiallyShipped: {enums.OrderStatusShipped, enums.OrderStatusDisputed},
		enums.OrderStatusShipped:          {enums.OrderStatusDelivered, enums.OrderStatusDisputed},
		enums.OrderStatusDelivered:        {enums.OrderStatusDisputed},
		enums.OrderStatusDisputed:         {enums.OrderStatusResolved},
		enums.OrderStatusCancelled:        nil,
		enums.OrderStatusResolved:         nil,
	}
	all := []enums.OrderStatus{
		enums.OrderStatusPending, enums.OrderStatusPaid, enums.OrderStatusPartiallyShipped, enums.OrderStatusShipped,
		enums.OrderStatusDelivered, enums.OrderStatusCancelled, enums.OrderStatusDisputed, enums.OrderStatusResolved,
	}
	for from, allowed := range cases {
		assert.ElementsMatch(t, allowed, AllowedTargets(from), "targets of %s", from)
		for _, to := range all {
			assert.Equal(t, contains(allowed, to), CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.True(t, IsTerminal(enums.OrderStatusCancelled))
	assert.True(t, IsTerminal(enums.OrderStatusResolved))
	assert.False(t, IsTerminal(enums.OrderStatusDelivered))
}

func contains(list []enums.OrderStatus, s enums.OrderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestMultiSellerLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sellerA, sellerB := uuid.New(), uuid.New()
	buyer := uuid.New()
	seeded := dbtest.SeedOrder(t, h.client, buyer, enums.OrderStatusPending,
		dbtest.Line{SellerID: sellerA, Price: "100.00", Stock: 5},
		dbtest.Line{SellerID: sellerB, Price: "150.00", Stock: 5},
	)
	orderID := seeded.Order.ID

	h.completePayment(t, orderID)
	notices := h.markPaid(t, orderID)
	assert.NotEmpty(t, notices)

	order := h.reload(t, orderID)
	assert.Equal(t, enums.OrderStatusPaid, order.Status)
	require.NotNil(t, order.PaidAt)
	assert.Equal(t, 4, h.listing(t, seeded.Listings[0].ID).Stock)
	assert.Equal(t, 4, h.listing(t, seeded.Listings[1].ID).Stock)

	result, err := h.svc.MarkItemsShipped(ctx, ShipInput{OrderID: orderID, SellerID: sellerA, TrackingNumber: "TRK-A"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPartiallyShipped, result.Order.Status)
	order = h.reload(t, orderID)
	assert.True(t, itemFor(order, sellerA).Shipped)
	require.NotNil(t, itemFor(order, sellerA).TrackingNumber)
	assert.Equal(t, "TRK-A", *itemFor(order, sellerA).TrackingNumber)
	assert.False(t, itemFor(order, sellerB).Shipped)

	result, err = h.svc.MarkItemsShipped(ctx, ShipInput{OrderID: orderID, SellerID: sellerB})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, result.Order.Status)
	order = h.reload(t, orderID)
	assert.True(t, itemFor(order, sellerB).Shipped)
	require.NotNil(t, order.ShippedAt)
	require.NotNil(t, order.Escrow.AutoReleaseDate)
	assert.True(t, order.Escrow.AutoReleaseDate.Equal(fixedNow.AddDate(0, 0, 7)))

	_, err = h.svc.ConfirmDelivery(ctx, orderID, buyer)
	require.NoError(t, err)
	order = h.reload(t, orderID)
	assert.Equal(t, enums.OrderStatusDelivered, order.Status)
	require.NotNil(t, order.DeliveredAt)
	assert.Equal(t, enums.EscrowStatusReleased, order.Escrow.Status)

	assert.Len(t, h.notifier.ofType(enums.NotificationTypeOrderDelivered), 2)

	var activities int64
	require.NoError(t, h.client.DB().Model(&models.Activity{}).Where("order_id = ?", orderID).Count(&activities).Error)
	// paid, partially_shipped, shipped, delivered, escrow released
	assert.EqualValues(t, 5, activities)
}

func TestPartialShipmentIsCommutative(t *testing.T) {
	for _, reverse := range []bool{false, true} {
		h := newHarness(t)
		sellerA, sellerB := uuid.New(), uuid.New()
		seeded := dbtest.SeedOrder(t, h.client, uuid.New(), enums.OrderStatusPaid,
			dbtest.Line{SellerID: sellerA, Price: "100.00", Stock: 1},
			dbtest.Line{SellerID: sellerB, Price: "150.00", Stock: 1},
		)
		sellers := []uuid.UUID{sellerA, sellerB}
		if reverse {
			sellers = []uuid.UUID{sellerB, sellerA}
		}
		for _, seller := range sellers {
			_, err := h.svc.MarkItemsShipped(context.Background(), ShipInput{OrderID: seeded.Order.ID, SellerID: seller})
			require.NoError(t, err)
		}
		order := h.reload(t, seeded.Order.ID)
		assert.Equal(t, enums.OrderStatusShipped, order.Status, "reverse=%v", reverse)
		for _, item := range order.Items {
			assert.True(t, item.Shipped)
		}
	}
}

func TestConcurrentShipmentsFromDifferentSellers(t *testing.T) {
	h := newHarness(t)
	sellerA, sellerB := uuid.New(), uuid.New()
	seeded := dbtest.SeedOrder(t, h.client, uuid.New(), enums.OrderStatusPaid,
		dbtest.Line{SellerID: sellerA, Price: "100.00", Stock: 1},
		dbtest.Line{SellerID: sellerB, Price: "150.00", Stock: 1},
	)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, seller := range []uuid.UUID{sellerA, sellerB} {
		wg.Add(1)
		go func(i int, seller uuid.UUID) {
			defer wg.Done()
			_, errs[i] = h.svc.MarkItemsShipped(context.Background(), ShipInput{OrderID: seeded.Order.ID, SellerID: seller})
		}(i, seller)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	order := h.reload(t, seeded.Order.ID)
	assert.Equal(t, enums.OrderStatusShipped, order.Status)
	for _, item := range order.Items {
		assert.True(t, item.Shipped)
	}
}

func TestMarkItemsShippedGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seller := uuid.New()

	pending := dbtest.SeedOrder(t, h.client, uuid.New(), enums.OrderStatusPending,
		dbtest.Line{SellerID: seller, Price: "10.00", Stock: 1})
	_, err := h.svc.MarkItemsShipped(ctx, ShipInput{OrderID: pending.Order.ID, SellerID: seller})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, enums.OrderStatusPending, h.reload(t, pending.Order.ID).Status)

	paid := dbtest.SeedOrder(t, h.client, uuid.New(), enums.OrderStatusPaid,
		dbtest.Line{SellerID: seller, Price: "10.00", Stock: 1},
		dbtest.Line{SellerID: uuid.New(), Price: "10.00", Stock: 1})
	_, err = h.svc.MarkItemsShipped(ctx, ShipInput{OrderID: paid.Order.ID, SellerID: uuid.New()})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.MarkItemsShipped(ctx, ShipInput{OrderID: paid.Order.ID, SellerID: seller})
	require.NoError(t, err)
	_, err = h.svc.MarkItemsShipped(ctx, ShipInput{OrderID: paid.Order.ID, SellerID: seller})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNothingToShip))
}

func TestShipmentReminderBelowThreshold(t *testing.T) {
	h := newHarness(t)
	sellerA, sellerB, sellerC := uuid.New(), uuid.New(), uuid.New()
	seeded := dbtest.SeedOrder(t, h.client, uuid.New(), enums.OrderStatusPaid,
		dbtest.Line{SellerID: sellerA, Price: "10.00", Stock: 1},
		dbtest.Line{SellerID: sellerB, Price: "10.00", Stock: 1},
		dbtest.Line{SellerID: sellerC, Price: "10.00", Stock: 1},
	)
	_, err := h.svc.MarkItemsShipped(context.Background(), ShipInput{OrderID: seeded.Order.ID, SellerID: sellerA})
	require.NoError(t, err)

	reminders := h.notifier.ofType(enums.NotificationTypeShipmentReminder)
	require.Len(t, reminders, 2)
	recipients := []uuid.UUID{reminders[0].RecipientID, reminders[1].RecipientID}
	assert.ElementsMatch(t, []uuid.UUID{sellerB, sellerC}, recipients)
	assert.Len(t, h.notifier.ofType(enums.NotificationTypeOrderShipped), 1)
}

func TestMarkAsPaidIsIdempotent(t *testing.T) {
	h := newHarness(t)
	seeded := dbtest.SeedOrder(t, h.client, uuid.New(), enums.OrderStatusPending,
		dbtest.Line{SellerID: uuid.New(), Price: "10.00", Quantity: 2, Stock: 5})
	h.completePayment(t, seeded.Order.ID)

	h.markPaid(t, seeded.Order.ID)
	notices := h.markPaid(t, seeded.Order.ID)
	assert.Empty(t, notices)
	assert.Equal(t, 3, h.listing(t, seeded.Listings[0].ID).Stock)
}

func TestMarkAsPaidRequiresCompletedPayment(t *testing.T) {
	h := newHarness(t)
	seeded := dbtest.SeedOrder(t, h.client, uuid.New(), enums.OrderStatusPending,
		dbtest.Line{SellerID: uuid.New(), Price: "10.00", Stock: 5})

	err := h.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := h.svc.MarkAsPaid(context.Background(), tx, seeded.Order.ID, uuid.New())
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPaymentIncomplete))
	assert.Equal(t, enums.OrderStatusPending, h.reload(t, seeded.Order.ID).Status)
	assert.Equal(t, 5, h.listing(t, seeded.Listings[0].ID).Stock)
}

func TestMarkAsPaidClampsStockAndMarksSold(t *testing.T) {
	h := newHarness(t)
	seeded := dbtest.SeedOrder(t, h.client, uuid.New(), enums.OrderStatusPending,
		dbtest.Line{SellerID: uuid.New(), Price: "10.00", Quantity: 3, Stock: 1})
	h.completePayment(t, seeded.Order.ID)

	notices := h.markPaid(t, seeded.Order.ID)

	assert.Equal(t, enums.OrderStatusPaid, h.reload(t, seeded.Order.ID).Status)
	listing := h.listing(t, seeded.Listings[0].ID)
	assert.Equal(t, 0, listing.Stock)
	assert.True(t, listing.IsSold)

	sold := 0
	for _, n := range notices {
		if n.Type == enums.NotificationTypeListingSold {
			sold++
		}
	}
	assert.Equal(t, 1, sold)
}

func TestCancelRefundsEscrow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := uuid.New()
	seeded := dbtest.SeedOrder(t, h.client, buyer, enums.OrderStatusPending,
		dbtest.Line{SellerID: uuid.New(), Price: "10.00", Stock: 1})

	_, err := h.svc.Cancel(ctx, CancelInput{OrderID: seeded.Order.ID, Actor: Actor{UserID: uuid.New()}})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	order, err := h.svc.Cancel(ctx, CancelInput{OrderID: seeded.Order.ID, Actor: Actor{UserID: buyer}, Reason: "changed my mind"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, order.Status)

	reloaded := h.reload(t, seeded.Order.ID)
	assert.NotNil(t, reloaded.CancelledAt)
	assert.Equal(t, enums.EscrowStatusRefunded, reloaded.Escrow.Status)

	_, err = h.svc.Cancel(ctx, CancelInput{OrderID: seeded.Order.ID, Actor: Actor{UserID: buyer}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestUpdateStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	staff := Actor{UserID: uuid.New(), Staff: true}
	seeded := dbtest.SeedOrder(t, h.client, uuid.New(), enums.OrderStatusPending,
		dbtest.Line{SellerID: uuid.New(), Price: "10.00", Stock: 2})
	orderID := seeded.Order.ID

	_, err := h.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: orderID, Status: enums.OrderStatusShipped, Actor: Actor{UserID: uuid.New()}})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: orderID, Status: enums.OrderStatusShipped, Actor: staff})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition), "pending cannot jump to shipped")
	assert.Equal(t, enums.OrderStatusPending, h.reload(t, orderID).Status)

	_, err = h.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: orderID, Status: enums.OrderStatusPaid, Actor: staff})
	assert.True(t, errors.Is(err, ErrPaymentIncomplete))

	_, err = h.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: orderID, Status: enums.OrderStatusDisputed, Actor: staff})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	h.completePayment(t, orderID)
	order, err := h.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: orderID, Status: enums.OrderStatusPaid, Actor: staff})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, order.Status)

	order, err = h.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: orderID, Status: enums.OrderStatusShipped, Actor: staff, Notes: "courier pickup"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, order.Status)
	for _, item := range h.reload(t, orderID).Items {
		assert.True(t, item.Shipped)
	}

	_, err = h.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: orderID, Status: enums.OrderStatusDelivered, Actor: staff})
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowStatusReleased, h.reload(t, orderID).Escrow.Status)
}

func TestConfirmDeliveryGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := uuid.New()
	seeded := dbtest.SeedOrder(t, h.client, buyer, enums.OrderStatusPaid,
		dbtest.Line{SellerID: uuid.New(), Price: "10.00", Stock: 1})

	_, err := h.svc.ConfirmDelivery(ctx, seeded.Order.ID, uuid.New())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.ConfirmDelivery(ctx, seeded.Order.ID, buyer)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, enums.EscrowStatusHeld, h.reload(t, seeded.Order.ID).Escrow.Status)
}

func TestGetAndListVisibility(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer, seller := uuid.New(), uuid.New()
	seeded := dbtest.SeedOrder(t, h.client, buyer, enums.OrderStatusPaid,
		dbtest.Line{SellerID: seller, Price: "10.00", Stock: 1})
	dbtest.SeedOrder(t, h.client, uuid.New(), enums.OrderStatusPaid,
		dbtest.Line{SellerID: uuid.New(), Price: "10.00", Stock: 1})

	_, err := h.svc.Get(ctx, seeded.Order.ID, Actor{UserID: buyer})
	require.NoError(t, err)
	_, err = h.svc.Get(ctx, seeded.Order.ID, Actor{UserID: seller})
	require.NoError(t, err)
	_, err = h.svc.Get(ctx, seeded.Order.ID, Actor{UserID: uuid.New(), Staff: true})
	require.NoError(t, err)
	_, err = h.svc.Get(ctx, seeded.Order.ID, Actor{UserID: uuid.New()})
	assert.True(t, errors.Is(err, ErrNotFound))

	bought, err := h.svc.List(ctx, ListParams{Actor: Actor{UserID: buyer}})
	require.NoError(t, err)
	require.Len(t, bought.Items, 1)
	assert.Equal(t, seeded.Order.ID, bought.Items[0].ID)

	sold, err := h.svc.List(ctx, ListParams{Actor: Actor{UserID: seller}, AsSeller: true})
	require.NoError(t, err)
	require.Len(t, sold.Items, 1)
	assert.Empty(t, sold.Cursor)
}
