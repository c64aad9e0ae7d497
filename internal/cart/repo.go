package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/pkg/db/models"
)

// Repository exposes persistence operations for buyer carts.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindOrCreateCart returns the buyer's cart, creating an empty one on first use.
func (r *Repository) FindOrCreateCart(ctx context.Context, buyerID uuid.UUID) (*models.Cart, error) {
	cart := models.Cart{BuyerID: buyerID}
	if err := r.db.WithContext(ctx).Where("buyer_id = ?", buyerID).FirstOrCreate(&cart).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// FindCart loads the buyer's cart with items and their listings, oldest line first.
func (r *Repository) FindCart(ctx context.Context, buyerID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("added_at ASC, id ASC") }).
		Preload("Items.Listing").
		Where("buyer_id = ?", buyerID).
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *Repository) FindListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := r.db.WithContext(ctx).Where("id = ?", listingID).First(&listing).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *Repository) FindItem(ctx context.Context, cartID, itemID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	if err := r.db.WithContext(ctx).
		Preload("Listing").
		Where("id = ? AND cart_id = ?", itemID, cartID).
		First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) FindItemByListing(ctx context.Context, cartID, listingID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	if err := r.db.WithContext(ctx).
		Where("cart_id = ? AND listing_id = ?", cartID, listingID).
		First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) CreateItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Omit("Listing").Create(item).Error
}

func (r *Repository) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Update("quantity", quantity).Error
}

func (r *Repository) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", itemID).Delete(&models.CartItem{}).Error
}

// Clear removes every line from the cart but keeps the cart row.
func (r *Repository) Clear(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error
}
