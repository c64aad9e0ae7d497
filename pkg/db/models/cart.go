package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Cart is a buyer's single open cart.
type Cart struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID   uuid.UUID  `gorm:"column:buyer_id;type:uuid;not null;uniqueIndex"`
	Items     []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Cart) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// CartItem is one listing line in a cart.
type CartItem struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CartID    uuid.UUID `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:ux_cart_items_cart_listing"`
	ListingID uuid.UUID `gorm:"column:listing_id;type:uuid;not null;uniqueIndex:ux_cart_items_cart_listing"`
	Quantity  int       `gorm:"column:quantity;not null;default:1"`
	Listing   *Listing  `gorm:"foreignKey:ListingID"`
	AddedAt   time.Time `gorm:"column:added_at;autoCreateTime"`
}

func (c *CartItem) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
