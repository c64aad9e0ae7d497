package checkout

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/homabaysouq/souq-backend/pkg/db"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
)

// Repository provides the persistence needed to turn a cart into an order.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LoadCart(ctx context.Context, buyerID uuid.UUID) (*models.Cart, error)
	LockListings(ctx context.Context, listingIDs []uuid.UUID) (map[uuid.UUID]*models.Listing, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	CreatePayment(ctx context.Context, payment *models.Payment) error
	CreateEscrow(ctx context.Context, escrow *models.Escrow) error
	ClearCart(ctx context.Context, cartID uuid.UUID) error
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a checkout repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LoadCart(ctx context.Context, buyerID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("added_at ASC, id ASC") }).
		Where("buyer_id = ?", buyerID).
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// LockListings locks listings in id order, the same order payment completion
// uses, so checkout and stock decrement cannot deadlock each other.
func (r *repository) LockListings(ctx context.Context, listingIDs []uuid.UUID) (map[uuid.UUID]*models.Listing, error) {
	ids := append([]uuid.UUID(nil), listingIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	out := make(map[uuid.UUID]*models.Listing, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		var listing models.Listing
		if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&listing).Error; err != nil {
			return nil, err
		}
		out[id] = &listing
	}
	return out, nil
}

// CreateOrder inserts the order and its items. Payment and escrow are written separately.
func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit("Payment", "Escrow").Create(order).Error
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(payment).Error
}

func (r *repository) CreateEscrow(ctx context.Context, escrow *models.Escrow) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(escrow).Error
}

func (r *repository) ClearCart(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Payment").
		Preload("Escrow").
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}
