package enums

import "fmt"

// DeliveryStatus tracks the physical hand-off of an order.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "PENDING"
	DeliveryStatusAssigned  DeliveryStatus = "ASSIGNED"
	DeliveryStatusPickedUp  DeliveryStatus = "PICKED_UP"
	DeliveryStatusInTransit DeliveryStatus = "IN_TRANSIT"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
)

var validDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusPending,
	DeliveryStatusAssigned,
	DeliveryStatusPickedUp,
	DeliveryStatusInTransit,
	DeliveryStatusDelivered,
	DeliveryStatusFailed,
}

// String implements fmt.Stringer.
func (d DeliveryStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DeliveryStatus.
func (d DeliveryStatus) IsValid() bool {
	for _, candidate := range validDeliveryStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDeliveryStatus converts raw input into a DeliveryStatus.
func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	for _, candidate := range validDeliveryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery status %q", value)
}

// IsTerminal reports whether the delivery can no longer change.
func (d DeliveryStatus) IsTerminal() bool {
	return d == DeliveryStatusDelivered || d == DeliveryStatusFailed
}

// HeldByRider reports whether a rider currently carries the delivery.
func (d DeliveryStatus) HeldByRider() bool {
	switch d {
	case DeliveryStatusAssigned, DeliveryStatusPickedUp, DeliveryStatusInTransit:
		return true
	}
	return false
}

// CanAdvanceTo reports whether a rider may move the delivery from d to next.
// Any non-terminal delivery may fail.
func (d DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	if d.IsTerminal() {
		return false
	}
	switch next {
	case DeliveryStatusPickedUp:
		return d == DeliveryStatusAssigned
	case DeliveryStatusInTransit:
		return d == DeliveryStatusPickedUp
	case DeliveryStatusDelivered:
		return d == DeliveryStatusInTransit
	case DeliveryStatusFailed:
		return true
	}
	return false
}
