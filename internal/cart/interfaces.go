package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/pkg/db/models"
)

// CartRepository defines the persistence surface required by the cart service.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	FindOrCreateCart(ctx context.Context, buyerID uuid.UUID) (*models.Cart, error)
	FindCart(ctx context.Context, buyerID uuid.UUID) (*models.Cart, error)
	FindListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error)
	FindItem(ctx context.Context, cartID, itemID uuid.UUID) (*models.CartItem, error)
	FindItemByListing(ctx context.Context, cartID, listingID uuid.UUID) (*models.CartItem, error)
	CreateItem(ctx context.Context, item *models.CartItem) error
	UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error
	DeleteItem(ctx context.Context, itemID uuid.UUID) error
	Clear(ctx context.Context, cartID uuid.UUID) error
}
