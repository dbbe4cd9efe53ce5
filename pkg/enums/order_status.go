package enums

import "fmt"

// OrderStatus tracks the commercial lifecycle of a single-shop order.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusPreparing      OrderStatus = "PREPARING"
	OrderStatusReadyForPickup OrderStatus = "READY_FOR_PICKUP"
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusDisputed       OrderStatus = "DISPUTED"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusPreparing,
	OrderStatusReadyForPickup,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusDisputed,
}

// String implements fmt.Stringer.
func (o OrderStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderStatus.
func (o OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into a OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:        0,
	OrderStatusPaid:           1,
	OrderStatusPreparing:      2,
	OrderStatusReadyForPickup: 3,
	OrderStatusOutForDelivery: 4,
	OrderStatusDelivered:      5,
}

// IsTerminal reports whether no fulfilment transition may leave the status.
func (o OrderStatus) IsTerminal() bool {
	return o == OrderStatusDelivered || o == OrderStatusCancelled
}

// Dispatchable reports whether a rider may claim the order's delivery.
func (o OrderStatus) Dispatchable() bool {
	switch o {
	case OrderStatusPaid, OrderStatusPreparing, OrderStatusReadyForPickup:
		return true
	}
	return false
}

// CanAdvanceTo reports whether next is a forward move along the fulfilment
// path. CANCELLED and DISPUTED are branch states reachable outside this check.
func (o OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	from, ok := orderStatusRank[o]
	if !ok {
		return false
	}
	to, ok := orderStatusRank[next]
	if !ok {
		return false
	}
	return to > from
}
