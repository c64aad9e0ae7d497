package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Activity is an append-only audit row.
type Activity struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	ActorID   uuid.UUID  `gorm:"column:actor_id;type:uuid;not null;index"`
	OrderID   *uuid.UUID `gorm:"column:order_id;type:uuid;index"`
	Action    string     `gorm:"column:action;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (a *Activity) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}
