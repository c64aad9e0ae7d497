package orders

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/pkg/db"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
	"github.com/homabaysouq/souq-backend/pkg/pagination"
)

// Repository defines persistence operations for orders, their items and the
// listing stock they consume.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	LockByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	UpdateFrom(ctx context.Context, orderID uuid.UUID, from enums.OrderStatus, updates map[string]any) (bool, error)
	LockUnshippedItems(ctx context.Context, orderID, sellerID uuid.UUID) ([]models.OrderItem, error)
	MarkItemsShipped(ctx context.Context, itemIDs []uuid.UUID, now time.Time, trackingNumber *string) error
	UnshippedSellerIDs(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error)
	SellerHasItems(ctx context.Context, orderID, sellerID uuid.UUID) (bool, error)
	LockListings(ctx context.Context, listingIDs []uuid.UUID) (map[uuid.UUID]*models.Listing, error)
	UpdateListing(ctx context.Context, listingID uuid.UUID, updates map[string]any) error
	FindPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	List(ctx context.Context, params listOrdersParams) ([]models.Order, *pagination.Cursor, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an orders repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

type listOrdersParams struct {
	BuyerID  uuid.UUID
	SellerID uuid.UUID
	Status   *enums.OrderStatus
	Limit    int
	Cursor   *pagination.Cursor
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("Payment").
		Preload("Escrow").
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// LockByID reads the order under a row lock and loads its items without
// locking them.
func (r *repository) LockByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	items, err := r.FindItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

func (r *repository) FindItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateFrom applies updates only while the order is still in status from.
func (r *repository) UpdateFrom(ctx context.Context, orderID uuid.UUID, from enums.OrderStatus, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) LockUnshippedItems(ctx context.Context, orderID, sellerID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("order_id = ? AND seller_id = ? AND shipped = ?", orderID, sellerID, false).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) MarkItemsShipped(ctx context.Context, itemIDs []uuid.UUID, now time.Time, trackingNumber *string) error {
	updates := map[string]any{
		"shipped":    true,
		"shipped_at": now,
	}
	if trackingNumber != nil {
		updates["tracking_number"] = *trackingNumber
	}
	return r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id IN ? AND shipped = ?", itemIDs, false).
		Updates(updates).Error
}

func (r *repository) UnshippedSellerIDs(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("order_id = ? AND shipped = ?", orderID, false).
		Distinct().
		Order("seller_id ASC").
		Pluck("seller_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) SellerHasItems(ctx context.Context, orderID, sellerID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("order_id = ? AND seller_id = ?", orderID, sellerID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// LockListings locks the listings in id order so concurrent payment
// completions touching the same listings cannot deadlock.
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

func (r *repository) UpdateListing(ctx context.Context, listingID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ?", listingID).
		Updates(updates).Error
}

func (r *repository) FindPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) List(ctx context.Context, params listOrdersParams) ([]models.Order, *pagination.Cursor, error) {
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if params.BuyerID != uuid.Nil {
		query = query.Where("buyer_id = ?", params.BuyerID)
	}
	if params.SellerID != uuid.Nil {
		query = query.Where("id IN (?)", r.db.Model(&models.OrderItem{}).Select("order_id").Where("seller_id = ?", params.SellerID))
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("((created_at < ?) OR (created_at = ? AND id < ?))",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var orders []models.Order
	if err := query.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Order("created_at DESC, id DESC").
		Limit(normalized + 1).
		Find(&orders).Error; err != nil {
		return nil, nil, err
	}
	if len(orders) > normalized {
		next := orders[normalized]
		orders = orders[:normalized]
		return orders, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return orders, nil, nil
}
