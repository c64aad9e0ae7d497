// Package cart manages each buyer's single open cart of listings.
package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/pkg/db/models"
	pkgerrors "github.com/homabaysouq/souq-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes cart operations for the authenticated buyer.
type Service interface {
	AddItem(ctx context.Context, buyerID uuid.UUID, input AddItemInput) (*CartView, error)
	UpdateQuantity(ctx context.Context, buyerID, itemID uuid.UUID, quantity int) (*CartView, error)
	RemoveItem(ctx context.Context, buyerID, itemID uuid.UUID) (*CartView, error)
	Clear(ctx context.Context, buyerID uuid.UUID) error
	Get(ctx context.Context, buyerID uuid.UUID) (*CartView, error)
}

type service struct {
	repo CartRepository
	tx   txRunner
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo CartRepository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

type AddItemInput struct {
	ListingID uuid.UUID
	Quantity  int
}

// CartLine is one cart row priced at the listing's current price.
type CartLine struct {
	ItemID    uuid.UUID       `json:"id"`
	ListingID uuid.UUID       `json:"listing_id"`
	SellerID  uuid.UUID       `json:"seller_id"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
	Available int             `json:"available"`
	InStock   bool            `json:"in_stock"`
}

// CartView is the priced cart returned to clients.
type CartView struct {
	CartID    uuid.UUID       `json:"cart_id"`
	Items     []CartLine      `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	ItemCount int             `json:"item_count"`
}

// AddItem puts a listing in the cart or raises the quantity of its existing line.
func (s *service) AddItem(ctx context.Context, buyerID uuid.UUID, input AddItemInput) (*CartView, error) {
	if input.ListingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing id is required")
	}
	qty := input.Quantity
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		listing, err := repo.FindListing(ctx, input.ListingID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listing")
		}
		if listing.SellerID == buyerID {
			return pkgerrors.New(pkgerrors.CodeValidation, "you cannot add your own listing to cart")
		}
		if listing.IsSold || listing.Stock <= 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "this item is out of stock")
		}

		cart, err := repo.FindOrCreateCart(ctx, buyerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		existing, err := repo.FindItemByListing(ctx, cart.ID, listing.ID)
		switch {
		case err == nil:
			if existing.Quantity+qty > listing.Stock {
				return stockError(listing)
			}
			if err := repo.UpdateItemQuantity(ctx, existing.ID, existing.Quantity+qty); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
			}
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			if qty > listing.Stock {
				return stockError(listing)
			}
			if err := repo.CreateItem(ctx, &models.CartItem{CartID: cart.ID, ListingID: listing.ID, Quantity: qty}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart item")
			}
			return nil
		default:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart item")
		}
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, buyerID)
}

// UpdateQuantity sets a line's quantity. Zero or less removes the line.
func (s *service) UpdateQuantity(ctx context.Context, buyerID, itemID uuid.UUID, quantity int) (*CartView, error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		item, err := s.ownedItem(ctx, repo, buyerID, itemID)
		if err != nil {
			return err
		}
		if quantity <= 0 {
			return wrapDependency(repo.DeleteItem(ctx, item.ID), "delete cart item")
		}
		if item.Listing != nil && quantity > item.Listing.Stock {
			return stockError(item.Listing)
		}
		return wrapDependency(repo.UpdateItemQuantity(ctx, item.ID, quantity), "update cart item")
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, buyerID)
}

func (s *service) RemoveItem(ctx context.Context, buyerID, itemID uuid.UUID) (*CartView, error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		item, err := s.ownedItem(ctx, repo, buyerID, itemID)
		if err != nil {
			return err
		}
		return wrapDependency(repo.DeleteItem(ctx, item.ID), "delete cart item")
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, buyerID)
}

func (s *service) Clear(ctx context.Context, buyerID uuid.UUID) error {
	cart, err := s.repo.FindCart(ctx, buyerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return wrapDependency(s.repo.Clear(ctx, cart.ID), "clear cart")
}

// Get returns the priced cart. A buyer without a cart gets an empty view.
func (s *service) Get(ctx context.Context, buyerID uuid.UUID) (*CartView, error) {
	cart, err := s.repo.FindCart(ctx, buyerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &CartView{Items: []CartLine{}, Subtotal: decimal.Zero}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return View(cart), nil
}

// View prices a loaded cart. Items must have their Listing preloaded.
func View(cart *models.Cart) *CartView {
	view := &CartView{CartID: cart.ID, Items: make([]CartLine, 0, len(cart.Items)), Subtotal: decimal.Zero}
	for _, item := range cart.Items {
		if item.Listing == nil {
			continue
		}
		total := item.Listing.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		view.Items = append(view.Items, CartLine{
			ItemID:    item.ID,
			ListingID: item.ListingID,
			SellerID:  item.Listing.SellerID,
			Title:     item.Listing.Title,
			UnitPrice: item.Listing.Price,
			Quantity:  item.Quantity,
			LineTotal: total,
			Available: item.Listing.Stock,
			InStock:   !item.Listing.IsSold && item.Quantity <= item.Listing.Stock,
		})
		view.Subtotal = view.Subtotal.Add(total)
		view.ItemCount += item.Quantity
	}
	return view
}

func (s *service) ownedItem(ctx context.Context, repo CartRepository, buyerID, itemID uuid.UUID) (*models.CartItem, error) {
	cart, err := repo.FindOrCreateCart(ctx, buyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	item, err := repo.FindItem(ctx, cart.ID, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart item")
	}
	return item, nil
}

func stockError(listing *models.Listing) error {
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("Only %d units of '%s' are available.", listing.Stock, listing.Title)).
		WithDetails(map[string]any{"listing_id": listing.ID, "available": listing.Stock})
}

func wrapDependency(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
