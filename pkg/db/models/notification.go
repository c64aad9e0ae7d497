package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/pkg/enums"
)

// Notification stores an in-app notification for a user.
type Notification struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	RecipientID    uuid.UUID              `gorm:"column:recipient_id;type:uuid;not null;index"`
	Type           enums.NotificationType `gorm:"column:type;type:varchar(32);not null"`
	Title          string                 `gorm:"column:title;not null"`
	Message        string                 `gorm:"column:message;not null"`
	RelatedOrderID *uuid.UUID             `gorm:"column:related_order_id;type:uuid"`
	ReadAt         *time.Time             `gorm:"column:read_at"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	ensureID(&n.ID)
	return nil
}

// NotificationPreference holds per-user channel switches. A missing row means
// every channel is enabled.
type NotificationPreference struct {
	UserID           uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	PushMessages     bool      `gorm:"column:push_messages;not null"`
	PushOrders       bool      `gorm:"column:push_orders;not null"`
	PushReviews      bool      `gorm:"column:push_reviews;not null"`
	PushSystem       bool      `gorm:"column:push_system;not null"`
	EmailMessages    bool      `gorm:"column:email_messages;not null"`
	EmailOrders      bool      `gorm:"column:email_orders;not null"`
	EmailReviews     bool      `gorm:"column:email_reviews;not null"`
	EmailPromotional bool      `gorm:"column:email_promotional;not null;default:false"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
