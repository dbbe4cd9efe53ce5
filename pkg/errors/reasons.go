package errors

// Reason narrows a Code to the domain condition that produced it. Reasons are
// surfaced to clients under details.reason so they can refresh and retry.
type Reason string

const (
	ReasonInsufficientStock Reason = "insufficient_stock"
	ReasonUnitNotFound      Reason = "unit_not_found"
	ReasonInvalidProduct    Reason = "invalid_product"
	ReasonShopClosed        Reason = "shop_closed"
	ReasonAlreadyAssigned   Reason = "already_assigned"
	ReasonDisputeExists     Reason = "dispute_exists"
	ReasonAlreadyResolved   Reason = "already_resolved"
	ReasonInvalidTransition Reason = "invalid_transition"
	ReasonEscrowDisputed    Reason = "escrow_disputed"
	ReasonPaymentIncomplete Reason = "payment_incomplete"
	ReasonNotDelivered      Reason = "not_delivered"
	ReasonNotAssignedRider  Reason = "not_assigned_rider"
	ReasonConcurrentUpdate  Reason = "concurrent_update"
	ReasonAlreadyReplayed   Reason = "already_replayed"
	ReasonRequestInFlight   Reason = "request_in_flight"
)

// NewReason builds an error whose details carry the reason plus any extra fields.
func NewReason(code Code, reason Reason, message string, fields ...map[string]any) *Error {
	details := map[string]any{"reason": string(reason)}
	for _, f := range fields {
		for k, v := range f {
			details[k] = v
		}
	}
	e := New(code, message).WithDetails(details)
	e.reason = reason
	return e
}

// ReasonOf extracts the reason recorded by NewReason, if any.
func ReasonOf(err error) Reason {
	return As(err).Reason()
}

// HasReason reports whether err carries the given code and reason.
func HasReason(err error, code Code, reason Reason) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code && ReasonOf(err) == reason
}

// IsCode reports whether err is a typed error with the given code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
