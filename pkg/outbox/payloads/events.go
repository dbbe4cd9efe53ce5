package payloads

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/dropday-backend/pkg/enums"
)

// OrderCreatedEvent signals a checkout split into one order per shop.
type OrderCreatedEvent struct {
	CheckoutGroupID uuid.UUID   `json:"checkout_group_id"`
	BuyerID         uuid.UUID   `json:"buyer_id"`
	OrderIDs        []uuid.UUID `json:"order_ids"`
	ShopIDs         []uuid.UUID `json:"shop_ids"`
}

// OrderStatusEvent reports an order status change.
type OrderStatusEvent struct {
	OrderID uuid.UUID         `json:"order_id"`
	BuyerID uuid.UUID         `json:"buyer_id"`
	ShopID  uuid.UUID         `json:"shop_id"`
	From    enums.OrderStatus `json:"from"`
	To      enums.OrderStatus `json:"to"`
	Reason  string            `json:"reason,omitempty"`
}

// DeliveryEvent reports rider assignment and delivery progress.
type DeliveryEvent struct {
	DeliveryID uuid.UUID            `json:"delivery_id"`
	OrderID    uuid.UUID            `json:"order_id"`
	RiderID    *uuid.UUID           `json:"rider_id,omitempty"`
	From       enums.DeliveryStatus `json:"from"`
	To         enums.DeliveryStatus `json:"to"`
	Reason     string               `json:"reason,omitempty"`
}

// EscrowEvent reports money moving in or out of escrow.
type EscrowEvent struct {
	OrderID      uuid.UUID          `json:"order_id"`
	PaymentID    uuid.UUID          `json:"payment_id"`
	From         enums.EscrowStatus `json:"from"`
	To           enums.EscrowStatus `json:"to"`
	Amount       string             `json:"amount"`
	Reason       enums.EscrowReason `json:"reason"`
	RefundAmount *string            `json:"refund_amount,omitempty"`
}

// DisputeEvent reports dispute lifecycle changes.
type DisputeEvent struct {
	DisputeID  uuid.UUID                `json:"dispute_id"`
	OrderID    uuid.UUID                `json:"order_id"`
	BuyerID    uuid.UUID                `json:"buyer_id"`
	SellerID   uuid.UUID                `json:"seller_id"`
	Status     enums.DisputeStatus      `json:"status"`
	Resolution *enums.DisputeResolution `json:"resolution,omitempty"`
}

// NotificationRequestedEvent asks the notification worker to alert one user.
// NotificationID doubles as the stored row id so redeliveries stay idempotent.
type NotificationRequestedEvent struct {
	NotificationID uuid.UUID              `json:"notification_id"`
	RecipientID    uuid.UUID              `json:"recipient_id"`
	OrderID        *uuid.UUID             `json:"order_id,omitempty"`
	Type           enums.NotificationType `json:"type"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	Link           *string                `json:"link,omitempty"`
}
