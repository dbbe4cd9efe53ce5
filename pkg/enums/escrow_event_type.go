package enums

import "fmt"

// EscrowEventType labels a movement recorded in the escrow audit trail.
type EscrowEventType string

const (
	EscrowEventPaymentCompleted EscrowEventType = "payment_completed"
	EscrowEventReleased         EscrowEventType = "escrow_released"
	EscrowEventRefunded         EscrowEventType = "escrow_refunded"
	EscrowEventDisputed         EscrowEventType = "escrow_disputed"
)

var validEscrowEventTypes = []EscrowEventType{
	EscrowEventPaymentCompleted,
	EscrowEventReleased,
	EscrowEventRefunded,
	EscrowEventDisputed,
}

// IsValid reports whether the value is a known EscrowEventType.
func (e EscrowEventType) IsValid() bool {
	for _, candidate := range validEscrowEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEscrowEventType converts raw input into a EscrowEventType.
func ParseEscrowEventType(value string) (EscrowEventType, error) {
	for _, candidate := range validEscrowEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow event type %q", value)
}
