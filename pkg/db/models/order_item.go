package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderItem is one (order, listing) line at a frozen unit price. SellerID is
// copied from the listing at checkout so shipment queries stay on one table.
type OrderItem struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	ListingID      uuid.UUID       `gorm:"column:listing_id;type:uuid;not null"`
	SellerID       uuid.UUID       `gorm:"column:seller_id;type:uuid;not null;index"`
	Title          string          `gorm:"column:title;not null"`
	Quantity       int             `gorm:"column:quantity;not null"`
	Price          decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Shipped        bool            `gorm:"column:shipped;not null;default:false"`
	ShippedAt      *time.Time      `gorm:"column:shipped_at"`
	TrackingNumber *string         `gorm:"column:tracking_number"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// LineTotal is quantity times the frozen unit price.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
