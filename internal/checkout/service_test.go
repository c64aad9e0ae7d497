package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/internal/notifications"
	"github.com/homabaysouq/souq-backend/pkg/db"
	"github.com/homabaysouq/souq-backend/pkg/db/dbtest"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
	"github.com/homabaysouq/souq-backend/pkg/logger"
	"github.com/homabaysouq/souq-backend/pkg/outbox"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notifications.Notice
}

func (r *recordingNotifier) Notify(_ context.Context, notices ...notifications.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notices...)
}

type failingEscrowRepo struct {
	Repository
}

func (f failingEscrowRepo) WithTx(tx *gorm.DB) Repository {
	return failingEscrowRepo{Repository: f.Repository.WithTx(tx)}
}

func (failingEscrowRepo) CreateEscrow(context.Context, *models.Escrow) error {
	return errors.New("disk full")
}

var shipping = Shipping{
	Name:       "Amina Otieno",
	Email:      "amina@example.com",
	Phone:      "0712345678",
	Address:    "Kisumu Road 4",
	City:       "Homa Bay",
	PostalCode: "40300",
}

type harness struct {
	client   *db.Client
	svc      Service
	notifier *recordingNotifier
}

func newHarness(t *testing.T, wrap func(Repository) Repository) *harness {
	t.Helper()
	client := dbtest.New(t)
	repo := NewRepository(client.DB())
	if wrap != nil {
		repo = wrap(repo)
	}
	notifier := &recordingNotifier{}
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop())
	svc, err := NewService(client, repo, emitter, notifier, logger.Nop())
	require.NoError(t, err)
	return &harness{client: client, svc: svc, notifier: notifier}
}

func (h *harness) fillCart(t *testing.T, buyerID uuid.UUID, lines ...models.CartItem) {
	t.Helper()
	cart := models.Cart{BuyerID: buyerID}
	dbtest.MustCreate(t, h.client, &cart)
	for i := range lines {
		lines[i].CartID = cart.ID
		dbtest.MustCreate(t, h.client, &lines[i])
	}
}

func (h *harness) listing(t *testing.T, sellerID uuid.UUID, title, price string, stock int) models.Listing {
	t.Helper()
	listing := models.Listing{SellerID: sellerID, Title: title, Price: decimal.RequireFromString(price), Stock: stock}
	dbtest.MustCreate(t, h.client, &listing)
	return listing
}

func (h *harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.client.DB().Model(model).Count(&n).Error)
	return n
}

func TestCheckoutCreatesOrderPaymentAndEscrow(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	buyer, sellerA, sellerB := uuid.New(), uuid.New(), uuid.New()
	basket := h.listing(t, sellerA, "Sisal basket", "450.00", 5)
	kikoi := h.listing(t, sellerB, "Kikoi", "120.50", 3)
	h.fillCart(t, buyer,
		models.CartItem{ListingID: basket.ID, Quantity: 2},
		models.CartItem{ListingID: kikoi.ID, Quantity: 3},
	)

	order, err := h.svc.Checkout(ctx, Input{BuyerID: buyer, Shipping: shipping})
	require.NoError(t, err)

	want := decimal.RequireFromString("1261.50")
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.True(t, order.TotalPrice.Equal(want), "total %s", order.TotalPrice)
	assert.Equal(t, "Homa Bay", order.ShippingCity)
	assert.Equal(t, "40300", order.ShippingPostalCode)
	require.Len(t, order.Items, 2)

	sum := decimal.Zero
	for _, item := range order.Items {
		sum = sum.Add(item.LineTotal())
		switch item.ListingID {
		case basket.ID:
			assert.Equal(t, sellerA, item.SellerID)
			assert.Equal(t, "Sisal basket", item.Title)
		case kikoi.ID:
			assert.Equal(t, sellerB, item.SellerID)
		default:
			t.Fatalf("unexpected item listing %s", item.ListingID)
		}
	}
	assert.True(t, sum.Equal(order.TotalPrice))

	require.NotNil(t, order.Payment)
	assert.Equal(t, enums.PaymentStatusPending, order.Payment.Status)
	assert.Equal(t, enums.PaymentMethodMpesa, order.Payment.Method)
	assert.True(t, order.Payment.Amount.Equal(want))

	require.NotNil(t, order.Escrow)
	assert.Equal(t, enums.EscrowStatusHeld, order.Escrow.Status)
	assert.True(t, order.Escrow.Amount.Equal(want))
	assert.Nil(t, order.Escrow.AutoReleaseDate)

	assert.Zero(t, h.count(t, &models.CartItem{}))

	var reloaded models.Listing
	require.NoError(t, h.client.DB().First(&reloaded, "id = ?", basket.ID).Error)
	assert.Equal(t, 5, reloaded.Stock, "stock is only decremented on payment")

	var events []models.OutboxEvent
	require.NoError(t, h.client.DB().Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderCreated, events[0].EventType)
	assert.Equal(t, order.ID, events[0].AggregateID)

	assert.Equal(t, int64(1), h.count(t, &models.Activity{}))
	require.Len(t, h.notifier.notices, 2)
	for _, n := range h.notifier.notices {
		assert.Equal(t, enums.NotificationTypeOrderPlaced, n.Type)
	}
}

func TestCheckoutFreezesPrices(t *testing.T) {
	h := newHarness(t, nil)
	buyer := uuid.New()
	lamp := h.listing(t, uuid.New(), "Lamp", "80.00", 2)
	h.fillCart(t, buyer, models.CartItem{ListingID: lamp.ID, Quantity: 1})

	order, err := h.svc.Checkout(context.Background(), Input{BuyerID: buyer, Shipping: shipping})
	require.NoError(t, err)

	require.NoError(t, h.client.DB().Model(&models.Listing{}).Where("id = ?", lamp.ID).Update("price", decimal.RequireFromString("95.00")).Error)

	var item models.OrderItem
	require.NoError(t, h.client.DB().First(&item, "order_id = ?", order.ID).Error)
	assert.True(t, item.Price.Equal(decimal.RequireFromString("80.00")))
}

func TestCheckoutRejectsEmptyCart(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.Checkout(context.Background(), Input{BuyerID: uuid.New(), Shipping: shipping})
	require.ErrorIs(t, err, ErrEmptyCart)

	buyer := uuid.New()
	h.fillCart(t, buyer)
	_, err = h.svc.Checkout(context.Background(), Input{BuyerID: buyer, Shipping: shipping})
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Zero(t, h.count(t, &models.Order{}))
}

func TestCheckoutRejectsStaleStock(t *testing.T) {
	h := newHarness(t, nil)
	buyer := uuid.New()
	lamp := h.listing(t, uuid.New(), "Lamp", "80.00", 3)
	h.fillCart(t, buyer, models.CartItem{ListingID: lamp.ID, Quantity: 3})
	require.NoError(t, h.client.DB().Model(&models.Listing{}).Where("id = ?", lamp.ID).Update("stock", 1).Error)

	_, err := h.svc.Checkout(context.Background(), Input{BuyerID: buyer, Shipping: shipping})
	require.ErrorIs(t, err, ErrOutOfStock)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, "Only 1 units of 'Lamp' are available.", pkgerrors.As(err).Message())

	assert.Zero(t, h.count(t, &models.Order{}))
	assert.Equal(t, int64(1), h.count(t, &models.CartItem{}), "cart survives a failed checkout")
}

func TestCheckoutIsAllOrNothing(t *testing.T) {
	h := newHarness(t, func(r Repository) Repository { return failingEscrowRepo{Repository: r} })
	buyer := uuid.New()
	lamp := h.listing(t, uuid.New(), "Lamp", "80.00", 3)
	h.fillCart(t, buyer, models.CartItem{ListingID: lamp.ID, Quantity: 1})

	_, err := h.svc.Checkout(context.Background(), Input{BuyerID: buyer, Shipping: shipping})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))

	assert.Zero(t, h.count(t, &models.Order{}))
	assert.Zero(t, h.count(t, &models.OrderItem{}))
	assert.Zero(t, h.count(t, &models.Payment{}))
	assert.Zero(t, h.count(t, &models.Escrow{}))
	assert.Zero(t, h.count(t, &models.OutboxEvent{}))
	assert.Equal(t, int64(1), h.count(t, &models.CartItem{}))
	assert.Empty(t, h.notifier.notices)
}

func TestCheckoutValidatesInput(t *testing.T) {
	h := newHarness(t, nil)
	buyer := uuid.New()

	incomplete := shipping
	incomplete.City = " "
	_, err := h.svc.Checkout(context.Background(), Input{BuyerID: buyer, Shipping: incomplete})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, map[string]any{"missing": []string{"city"}}, pkgerrors.As(err).Details())

	badEmail := shipping
	badEmail.Email = "not-an-email"
	_, err = h.svc.Checkout(context.Background(), Input{BuyerID: buyer, Shipping: badEmail})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.Checkout(context.Background(), Input{BuyerID: buyer, Shipping: shipping, Method: "cheque"})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.Checkout(context.Background(), Input{Shipping: shipping})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))
}
