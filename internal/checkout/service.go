// Package checkout converts a buyer's cart into an order with its payment and
// escrow in one transaction.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/internal/activity"
	"github.com/homabaysouq/souq-backend/internal/notifications"
	pkgcheckout "github.com/homabaysouq/souq-backend/pkg/checkout"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
	"github.com/homabaysouq/souq-backend/pkg/logger"
	"github.com/homabaysouq/souq-backend/pkg/outbox"
	"github.com/homabaysouq/souq-backend/pkg/outbox/payloads"
)

var shippingRules = validator.New()

var (
	ErrEmptyCart  = errors.New("cart is empty")
	ErrOutOfStock = errors.New("cart item out of stock")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service executes checkout orchestration.
type Service interface {
	Checkout(ctx context.Context, input Input) (*models.Order, error)
}

// Shipping is the contact snapshot frozen onto the order.
type Shipping struct {
	Name       string
	Email      string
	Phone      string
	Address    string
	City       string
	PostalCode string
}

// Input captures the buyer and the data collected by the checkout form.
type Input struct {
	BuyerID  uuid.UUID
	Shipping Shipping
	Method   enums.PaymentMethod
}

type service struct {
	tx       txRunner
	repo     Repository
	outbox   outbox.Emitter
	notifier notifications.Notifier
	logg     *logger.Logger
}

// NewService builds the checkout service.
func NewService(tx txRunner, repo Repository, publisher outbox.Emitter, notifier notifications.Notifier, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{tx: tx, repo: repo, outbox: publisher, notifier: notifier, logg: logg}, nil
}

// Checkout validates the cart against locked listings and creates the order,
// its items, a pending payment and a held escrow together. Stock is not
// decremented here; that happens when the payment completes.
func (s *service) Checkout(ctx context.Context, input Input) (*models.Order, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer required")
	}
	shipping, err := normalizeShipping(input.Shipping)
	if err != nil {
		return nil, err
	}
	method := input.Method
	if method == "" {
		method = enums.PaymentMethodMpesa
	}
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported payment method %q", method))
	}

	var (
		orderID uuid.UUID
		notices []notifications.Notice
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		cart, err := repo.LoadCart(ctx, input.BuyerID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		if cart == nil || len(cart.Items) == 0 {
			return pkgerrors.Kind(pkgerrors.CodeValidation, ErrEmptyCart, "your cart is empty")
		}

		listingIDs := make([]uuid.UUID, 0, len(cart.Items))
		for _, item := range cart.Items {
			listingIDs = append(listingIDs, item.ListingID)
		}
		listings, err := repo.LockListings(ctx, listingIDs)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Kind(pkgerrors.CodeStateConflict, ErrOutOfStock, "a listing in your cart no longer exists")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock listings")
		}

		checks := make([]pkgcheckout.StockValidationInput, 0, len(cart.Items))
		for _, item := range cart.Items {
			listing := listings[item.ListingID]
			checks = append(checks, pkgcheckout.StockValidationInput{
				ListingID: listing.ID,
				Title:     listing.Title,
				Available: listing.Stock,
				Sold:      listing.IsSold,
				Quantity:  item.Quantity,
			})
		}
		if err := pkgcheckout.ValidateStock(checks); err != nil {
			if typed := pkgerrors.As(err); typed != nil {
				return pkgerrors.Kind(typed.Code(), ErrOutOfStock, typed.Message()).WithDetails(typed.Details())
			}
			return err
		}

		total := decimal.Zero
		items := make([]models.OrderItem, 0, len(cart.Items))
		for _, item := range cart.Items {
			listing := listings[item.ListingID]
			line := models.OrderItem{
				ListingID: listing.ID,
				SellerID:  listing.SellerID,
				Title:     listing.Title,
				Quantity:  item.Quantity,
				Price:     listing.Price,
			}
			total = total.Add(line.LineTotal())
			items = append(items, line)
		}

		order := &models.Order{
			BuyerID:            input.BuyerID,
			TotalPrice:         total,
			Status:             enums.OrderStatusPending,
			ShippingName:       shipping.Name,
			ShippingEmail:      shipping.Email,
			ShippingPhone:      shipping.Phone,
			ShippingAddress:    shipping.Address,
			ShippingCity:       shipping.City,
			ShippingPostalCode: shipping.PostalCode,
			Items:              items,
		}
		if err := repo.CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if err := repo.CreatePayment(ctx, &models.Payment{
			OrderID: order.ID,
			Amount:  total,
			Method:  method,
			Status:  enums.PaymentStatusPending,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		if err := repo.CreateEscrow(ctx, &models.Escrow{
			OrderID: order.ID,
			Amount:  total,
			Status:  enums.EscrowStatusHeld,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create escrow")
		}
		if err := repo.ClearCart(ctx, cart.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
		}

		sellerIDs := order.SellerIDs()
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.BuyerID, Role: "buyer"},
			Data: payloads.OrderCreatedEvent{
				OrderID:    order.ID,
				BuyerID:    input.BuyerID,
				TotalPrice: total,
				SellerIDs:  sellerIDs,
			},
		}); err != nil {
			return err
		}
		if err := activity.Recordf(ctx, tx, input.BuyerID, &order.ID, "Order #%s placed for %s", order.ID, total.StringFixed(2)); err != nil {
			return err
		}

		orderID = order.ID
		for _, sellerID := range sellerIDs {
			notices = append(notices, notifications.Notice{
				RecipientID: sellerID,
				Type:        enums.NotificationTypeOrderPlaced,
				Title:       "New order received",
				Message:     fmt.Sprintf("Order #%s includes your items. It will be ready to ship once payment is confirmed.", order.ID),
				OrderID:     &order.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithOrderID(ctx, orderID.String())
	logCtx = s.logg.WithUserID(logCtx, input.BuyerID.String())
	s.logg.Info(logCtx, "checkout completed")
	s.notifier.Notify(ctx, notices...)

	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func normalizeShipping(in Shipping) (Shipping, error) {
	out := Shipping{
		Name:       strings.TrimSpace(in.Name),
		Email:      strings.TrimSpace(in.Email),
		Phone:      strings.TrimSpace(in.Phone),
		Address:    strings.TrimSpace(in.Address),
		City:       strings.TrimSpace(in.City),
		PostalCode: strings.TrimSpace(in.PostalCode),
	}
	missing := []string{}
	for field, value := range map[string]string{
		"name":    out.Name,
		"email":   out.Email,
		"phone":   out.Phone,
		"address": out.Address,
		"city":    out.City,
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return out, pkgerrors.New(pkgerrors.CodeValidation, "shipping details incomplete").
			WithDetails(map[string]any{"missing": missing})
	}
	if err := shippingRules.Var(out.Email, "email,max=254"); err != nil {
		return out, pkgerrors.New(pkgerrors.CodeValidation, "shipping email is invalid")
	}
	return out, nil
}
