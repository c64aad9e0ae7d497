package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/pkg/enums"
)

// Escrow records who is entitled to an order's funds. It never moves money.
type Escrow struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	Amount            decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Status            enums.EscrowStatus  `gorm:"column:status;type:varchar(32);not null;default:'held';index"`
	RefundAmount      decimal.NullDecimal `gorm:"column:refund_amount;type:numeric(12,2)"`
	AutoReleaseDate   *time.Time          `gorm:"column:auto_release_date;index"`
	ReleasedAt        *time.Time          `gorm:"column:released_at"`
	RefundedAt        *time.Time          `gorm:"column:refunded_at"`
	DisputeResolvedAt *time.Time          `gorm:"column:dispute_resolved_at"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (e *Escrow) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
