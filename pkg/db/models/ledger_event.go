package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/pkg/enums"
)

// LedgerEvent records an immutable entitlement event for the payout step.
// SellerID is nil for buyer-side events such as refunds.
type LedgerEvent struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	SellerID    *uuid.UUID            `gorm:"column:seller_id;type:uuid"`
	ActorUserID uuid.UUID             `gorm:"column:actor_user_id;type:uuid;not null"`
	Type        enums.LedgerEventType `gorm:"column:type;type:varchar(32);not null"`
	Amount      decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Metadata    json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (l *LedgerEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
