package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/pkg/enums"
)

// Order is the aggregate root created at checkout. Shipping fields are a
// snapshot taken at checkout and never rewritten.
type Order struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID    uuid.UUID         `gorm:"column:buyer_id;type:uuid;not null;index"`
	TotalPrice decimal.Decimal   `gorm:"column:total_price;type:numeric(12,2);not null"`
	Status     enums.OrderStatus `gorm:"column:status;type:varchar(32);not null;default:'pending';index"`

	ShippingName       string `gorm:"column:shipping_name;not null"`
	ShippingEmail      string `gorm:"column:shipping_email;not null"`
	ShippingPhone      string `gorm:"column:shipping_phone;not null"`
	ShippingAddress    string `gorm:"column:shipping_address;not null"`
	ShippingCity       string `gorm:"column:shipping_city;not null"`
	ShippingPostalCode string `gorm:"column:shipping_postal_code"`

	DisputeReason      *enums.DisputeReason `gorm:"column:dispute_reason;type:varchar(32)"`
	DisputeDescription *string              `gorm:"column:dispute_description"`
	DisputeOpenedAt    *time.Time           `gorm:"column:dispute_opened_at"`
	Resolution         *string              `gorm:"column:resolution"`

	PaidAt      *time.Time `gorm:"column:paid_at"`
	ShippedAt   *time.Time `gorm:"column:shipped_at"`
	DeliveredAt *time.Time `gorm:"column:delivered_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`

	Items   []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payment *Payment    `gorm:"foreignKey:OrderID"`
	Escrow  *Escrow     `gorm:"foreignKey:OrderID"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// SellerIDs returns the distinct sellers of the loaded items in first-seen order.
func (o *Order) SellerIDs() []uuid.UUID {
	seen := map[uuid.UUID]struct{}{}
	out := []uuid.UUID{}
	for _, item := range o.Items {
		if _, ok := seen[item.SellerID]; ok {
			continue
		}
		seen[item.SellerID] = struct{}{}
		out = append(out, item.SellerID)
	}
	return out
}
