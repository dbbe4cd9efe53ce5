package live

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a live update pushed to connected clients.
type EventType string

const (
	EventOrderCreated     EventType = "order.created"
	EventOrderStatus      EventType = "order.status"
	EventDeliveryStatus   EventType = "delivery.status"
	EventDeliveryLocation EventType = "delivery.location"
	EventEscrowStatus     EventType = "escrow.status"
	EventDisputeStatus    EventType = "dispute.status"
)

// Event is a single live update. Only the fields relevant to Type are set.
type Event struct {
	Type       EventType  `json:"type"`
	OrderID    *uuid.UUID `json:"orderId,omitempty"`
	DeliveryID *uuid.UUID `json:"deliveryId,omitempty"`
	DisputeID  *uuid.UUID `json:"disputeId,omitempty"`
	Status     string     `json:"status,omitempty"`
	Rider      *uuid.UUID `json:"rider,omitempty"`
	Lat        *float64   `json:"lat,omitempty"`
	Lon        *float64   `json:"lon,omitempty"`
	At         time.Time  `json:"at"`
}

// OrderEvent builds an order-scoped event.
func OrderEvent(t EventType, orderID uuid.UUID, status string) Event {
	id := orderID
	return Event{Type: t, OrderID: &id, Status: status, At: time.Now().UTC()}
}

// DeliveryEvent builds a delivery-scoped event that also carries its order.
func DeliveryEvent(t EventType, orderID, deliveryID uuid.UUID, status string) Event {
	oid, did := orderID, deliveryID
	return Event{Type: t, OrderID: &oid, DeliveryID: &did, Status: status, At: time.Now().UTC()}
}

// Filter narrows a subscription. Empty filters receive everything.
type Filter struct {
	OrderID    *uuid.UUID
	DeliveryID *uuid.UUID
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e Event) bool {
	if f.OrderID != nil && (e.OrderID == nil || *e.OrderID != *f.OrderID) {
		return false
	}
	if f.DeliveryID != nil && (e.DeliveryID == nil || *e.DeliveryID != *f.DeliveryID) {
		return false
	}
	return true
}
