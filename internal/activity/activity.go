// Package activity appends audit rows for state-changing operations.
package activity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/pkg/db/models"
)

// SystemActor attributes rows written by scheduled jobs and gateway callbacks.
var SystemActor = uuid.Nil

// Record inserts one audit row through tx. Rows are never updated or deleted.
func Record(ctx context.Context, tx *gorm.DB, actorID uuid.UUID, orderID *uuid.UUID, action string) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return fmt.Errorf("activity action required")
	}
	row := &models.Activity{
		ActorID: actorID,
		OrderID: orderID,
		Action:  action,
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// Recordf is Record with a formatted action.
func Recordf(ctx context.Context, tx *gorm.DB, actorID uuid.UUID, orderID *uuid.UUID, format string, args ...any) error {
	return Record(ctx, tx, actorID, orderID, fmt.Sprintf(format, args...))
}

// ListForOrder returns an order's audit trail oldest first.
func ListForOrder(ctx context.Context, db *gorm.DB, orderID uuid.UUID) ([]models.Activity, error) {
	var rows []models.Activity
	if err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
