package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/homabaysouq/souq-backend/pkg/db/models"
)

const maxErrorLen = 1024

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&event).Error
}

// FetchUnpublished returns the oldest unpublished rows that have not been
// parked as failed.
func (r *Repository) FetchUnpublished(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := pendingRows(r.db.WithContext(ctx), limit).Find(&rows).Error
	return rows, err
}

// FetchForPublish claims a batch inside tx. Concurrent publishers skip rows
// another transaction already holds.
func (r *Repository) FetchForPublish(tx *gorm.DB, limit int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var rows []models.OutboxEvent
	err := pendingRows(tx, limit).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
		Find(&rows).Error
	return rows, err
}

func pendingRows(q *gorm.DB, limit int) *gorm.DB {
	return q.Where("published_at IS NULL AND failed_at IS NULL").
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit)
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	return r.MarkPublishedTx(r.db.WithContext(ctx), id)
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at": time.Now().UTC(),
		}).Error
}

// MarkFailed records a publish error. When terminal is true the row is parked
// and no longer fetched.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, err error, terminal bool) error {
	return r.MarkFailedTx(r.db.WithContext(ctx), id, err, terminal)
}

func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error, terminal bool) error {
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	updates := map[string]any{
		"last_error":    msg,
		"attempt_count": gorm.Expr("attempt_count + 1"),
	}
	if terminal {
		updates["failed_at"] = time.Now().UTC()
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// DeletePublishedBefore prunes published rows older than cutoff.
func (r *Repository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("published_at IS NOT NULL AND published_at < ?", cutoff).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}
