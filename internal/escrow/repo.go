package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/pkg/db"
	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
)

// Repository manages escrow rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, escrow *models.Escrow) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Escrow, error)
	LockByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Escrow, error)
	UpdateFrom(ctx context.Context, id uuid.UUID, from enums.EscrowStatus, updates map[string]any) (bool, error)
	ReleaseIfDue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error)
	ListOpen(ctx context.Context, limit int) ([]models.Escrow, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an escrow repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, escrow *models.Escrow) error {
	return r.db.WithContext(ctx).Create(escrow).Error
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Escrow, error) {
	var row models.Escrow
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) LockByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Escrow, error) {
	var row models.Escrow
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("order_id = ?", orderID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// UpdateFrom applies updates only while the row is still in status from.
func (r *repository) UpdateFrom(ctx context.Context, id uuid.UUID, from enums.EscrowStatus, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Escrow{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) ReleaseIfDue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Escrow{}).
		Where("id = ? AND status = ? AND auto_release_date IS NOT NULL AND auto_release_date <= ?", id, enums.EscrowStatusHeld, now).
		Updates(map[string]any{
			"status":      enums.EscrowStatusReleased,
			"released_at": now,
			"updated_at":  now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error) {
	var rows []models.Escrow
	query := r.db.WithContext(ctx).
		Where("status = ? AND auto_release_date IS NOT NULL AND auto_release_date <= ?", enums.EscrowStatusHeld, now).
		Order("auto_release_date ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListOpen returns escrows still holding funds, oldest first.
func (r *repository) ListOpen(ctx context.Context, limit int) ([]models.Escrow, error) {
	var rows []models.Escrow
	query := r.db.WithContext(ctx).
		Where("status IN ?", []enums.EscrowStatus{enums.EscrowStatusHeld, enums.EscrowStatusDisputed}).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
