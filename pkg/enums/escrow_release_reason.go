package enums

import "fmt"

// EscrowReason explains why funds moved.
type EscrowReason string

const (
	EscrowReasonDeliveryCompleted EscrowReason = "delivery_completed"
	EscrowReasonAdminManual       EscrowReason = "admin_manual"
	EscrowReasonAutoSweep         EscrowReason = "auto_sweep"
	EscrowReasonDisputeResolution EscrowReason = "dispute_resolution"
	EscrowReasonDisputeClosed     EscrowReason = "dispute_closed"
	EscrowReasonOrderCancelled    EscrowReason = "order_cancelled"
	EscrowReasonDisputeOpened     EscrowReason = "dispute_opened"
	EscrowReasonPaymentConfirmed  EscrowReason = "payment_confirmed"
)

var validEscrowReasons = []EscrowReason{
	EscrowReasonDeliveryCompleted,
	EscrowReasonAdminManual,
	EscrowReasonAutoSweep,
	EscrowReasonDisputeResolution,
	EscrowReasonDisputeClosed,
	EscrowReasonOrderCancelled,
	EscrowReasonDisputeOpened,
	EscrowReasonPaymentConfirmed,
}

// IsValid reports whether the value is a known EscrowReason.
func (e EscrowReason) IsValid() bool {
	for _, candidate := range validEscrowReasons {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEscrowReason converts raw input into a EscrowReason.
func ParseEscrowReason(value string) (EscrowReason, error) {
	for _, candidate := range validEscrowReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow reason %q", value)
}
