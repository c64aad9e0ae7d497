package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/homabaysouq/souq-backend/pkg/enums"
)

// Payment tracks the single payment attempt cycle for an order.
type Payment struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	Amount            decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Method            enums.PaymentMethod `gorm:"column:method;type:varchar(32);not null;default:'mpesa'"`
	Status            enums.PaymentStatus `gorm:"column:status;type:varchar(32);not null;default:'pending';index"`
	PhoneNumber       *string             `gorm:"column:phone_number"`
	CheckoutRequestID *string             `gorm:"column:checkout_request_id;uniqueIndex"`
	MerchantRequestID *string             `gorm:"column:merchant_request_id"`
	ReceiptNumber     *string             `gorm:"column:receipt_number"`
	ResultCode        *int                `gorm:"column:result_code"`
	ResultDesc        *string             `gorm:"column:result_desc"`
	CallbackPayload   json.RawMessage     `gorm:"column:callback_payload;type:jsonb"`
	Attempts          int                 `gorm:"column:attempts;not null;default:0"`
	InitiatedAt       *time.Time          `gorm:"column:initiated_at"`
	CompletedAt       *time.Time          `gorm:"column:completed_at"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
