package enums

import "fmt"

// NotificationType tags in-app notifications.
type NotificationType string

const (
	NotificationTypeMessage          NotificationType = "message"
	NotificationTypeOrderPlaced      NotificationType = "order_placed"
	NotificationTypeOrderShipped     NotificationType = "order_shipped"
	NotificationTypeOrderDelivered   NotificationType = "order_delivered"
	NotificationTypeOrderDisputed    NotificationType = "order_disputed"
	NotificationTypeOrderCancelled   NotificationType = "order_cancelled"
	NotificationTypeDisputeResolved  NotificationType = "dispute_resolved"
	NotificationTypeDisputeMediation NotificationType = "dispute_mediation"
	NotificationTypePaymentReceived  NotificationType = "payment_received"
	NotificationTypePaymentFailed    NotificationType = "payment_failed"
	NotificationTypeShipmentReminder NotificationType = "shipment_reminder"
	NotificationTypeReviewReceived   NotificationType = "review_received"
	NotificationTypeListingSold      NotificationType = "listing_sold"
	NotificationTypeFavorite         NotificationType = "favorite"
	NotificationTypeSystem           NotificationType = "system"
	NotificationTypePromotional      NotificationType = "promotional"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeMessage,
	NotificationTypeOrderPlaced,
	NotificationTypeOrderShipped,
	NotificationTypeOrderDelivered,
	NotificationTypeOrderDisputed,
	NotificationTypeOrderCancelled,
	NotificationTypeDisputeResolved,
	NotificationTypeDisputeMediation,
	NotificationTypePaymentReceived,
	NotificationTypePaymentFailed,
	NotificationTypeShipmentReminder,
	NotificationTypeReviewReceived,
	NotificationTypeListingSold,
	NotificationTypeFavorite,
	NotificationTypeSystem,
	NotificationTypePromotional,
}

// NotificationTypes returns every known type in declaration order.
func NotificationTypes() []NotificationType {
	out := make([]NotificationType, len(validNotificationTypes))
	copy(out, validNotificationTypes)
	return out
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
