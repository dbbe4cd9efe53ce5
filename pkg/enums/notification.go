package enums

import "fmt"

// NotificationType groups in-app notifications by topic.
type NotificationType string

const (
	NotificationTypeOrderAlert     NotificationType = "order_alert"
	NotificationTypeDeliveryUpdate NotificationType = "delivery_update"
	NotificationTypePaymentUpdate  NotificationType = "payment_update"
	NotificationTypeDisputeUpdate  NotificationType = "dispute_update"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrderAlert,
	NotificationTypeDeliveryUpdate,
	NotificationTypePaymentUpdate,
	NotificationTypeDisputeUpdate,
}

// IsValid reports whether the value is a known NotificationType.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
