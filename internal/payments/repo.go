package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/pkg/db"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
)

// Repository persists payment attempts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.Payment, error)
	LockByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	Update(ctx context.Context, paymentID uuid.UUID, updates map[string]any) error
	ListInitiatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error)
	FindOrderBuyerID(ctx context.Context, orderID uuid.UUID) (uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payments repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("checkout_request_id = ?", checkoutRequestID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) LockByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("order_id = ?", orderID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) Update(ctx context.Context, paymentID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Updates(updates).Error
}

// ListInitiatedBefore returns payments still waiting on the gateway whose
// prompt went out at or before cutoff, oldest first.
func (r *repository) ListInitiatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	q := r.db.WithContext(ctx).
		Where("status = ? AND checkout_request_id IS NOT NULL AND initiated_at <= ?", enums.PaymentStatusInitiated, cutoff).
		Order("initiated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repository) FindOrderBuyerID(ctx context.Context, orderID uuid.UUID) (uuid.UUID, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Select("id", "buyer_id").Where("id = ?", orderID).First(&order).Error; err != nil {
		return uuid.Nil, err
	}
	return order.BuyerID, nil
}
