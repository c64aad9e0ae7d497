package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Listing is the catalog row this service reads for price and stock. Catalog
// CRUD lives elsewhere; only stock and is_sold are written here.
type Listing struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SellerID  uuid.UUID       `gorm:"column:seller_id;type:uuid;not null;index"`
	Title     string          `gorm:"column:title;not null"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Stock     int             `gorm:"column:stock;not null;default:0"`
	IsSold    bool            `gorm:"column:is_sold;not null;default:false"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *Listing) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
