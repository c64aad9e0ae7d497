package notifications

import (
	"github.com/google/uuid"

	"github.com/homabaysouq/souq-backend/pkg/db/models"
	"github.com/homabaysouq/souq-backend/pkg/enums"
)

// category groups notification types behind one pair of preference switches.
type category int

const (
	categoryMessages category = iota
	categoryOrders
	categoryReviews
	categorySystem
	categoryPromotional
)

var categoryByType = map[enums.NotificationType]category{
	enums.NotificationTypeMessage:          categoryMessages,
	enums.NotificationTypeOrderPlaced:      categoryOrders,
	enums.NotificationTypeOrderShipped:     categoryOrders,
	enums.NotificationTypeOrderDelivered:   categoryOrders,
	enums.NotificationTypeOrderDisputed:    categoryOrders,
	enums.NotificationTypeOrderCancelled:   categoryOrders,
	enums.NotificationTypeDisputeResolved:  categoryOrders,
	enums.NotificationTypeDisputeMediation: categoryOrders,
	enums.NotificationTypePaymentReceived:  categoryOrders,
	enums.NotificationTypePaymentFailed:    categoryOrders,
	enums.NotificationTypeShipmentReminder: categoryOrders,
	enums.NotificationTypeListingSold:      categoryOrders,
	enums.NotificationTypeReviewReceived:   categoryReviews,
	enums.NotificationTypeFavorite:         categoryReviews,
	enums.NotificationTypeSystem:           categorySystem,
	enums.NotificationTypePromotional:      categoryPromotional,
}

// push reports whether in-app delivery is enabled for the category.
func (c category) push(p models.NotificationPreference) bool {
	switch c {
	case categoryMessages:
		return p.PushMessages
	case categoryOrders:
		return p.PushOrders
	case categoryReviews:
		return p.PushReviews
	case categorySystem, categoryPromotional:
		return p.PushSystem
	}
	return false
}

// email reports whether external delivery is enabled for the category.
func (c category) email(p models.NotificationPreference) bool {
	switch c {
	case categoryMessages:
		return p.EmailMessages
	case categoryOrders:
		return p.EmailOrders
	case categoryReviews:
		return p.EmailReviews
	case categorySystem:
		return true
	case categoryPromotional:
		return p.EmailPromotional
	}
	return false
}

// DefaultPreferences enables every channel except promotional email.
func DefaultPreferences(userID uuid.UUID) models.NotificationPreference {
	return models.NotificationPreference{
		UserID:        userID,
		PushMessages:  true,
		PushOrders:    true,
		PushReviews:   true,
		PushSystem:    true,
		EmailMessages: true,
		EmailOrders:   true,
		EmailReviews:  true,
	}
}

// PreferencesInput carries a partial preference update; nil fields are left unchanged.
type PreferencesInput struct {
	PushMessages     *bool `json:"push_messages"`
	PushOrders       *bool `json:"push_orders"`
	PushReviews      *bool `json:"push_reviews"`
	PushSystem       *bool `json:"push_system"`
	EmailMessages    *bool `json:"email_messages"`
	EmailOrders      *bool `json:"email_orders"`
	EmailReviews     *bool `json:"email_reviews"`
	EmailPromotional *bool `json:"email_promotional"`
}

func (in PreferencesInput) apply(p *models.NotificationPreference) {
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.PushMessages, in.PushMessages)
	set(&p.PushOrders, in.PushOrders)
	set(&p.PushReviews, in.PushReviews)
	set(&p.PushSystem, in.PushSystem)
	set(&p.EmailMessages, in.EmailMessages)
	set(&p.EmailOrders, in.EmailOrders)
	set(&p.EmailReviews, in.EmailReviews)
	set(&p.EmailPromotional, in.EmailPromotional)
}
