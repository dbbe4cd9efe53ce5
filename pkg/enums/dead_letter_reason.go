package enums

import "fmt"

// DeadLetterReason says why the publisher gave up on an outbox row.
type DeadLetterReason string

const (
	// DeadLetterMaxAttempts: the broker kept rejecting the message.
	DeadLetterMaxAttempts DeadLetterReason = "max_attempts"
	// DeadLetterNonRetryable: the stored row can never be decoded or routed.
	DeadLetterNonRetryable DeadLetterReason = "non_retryable"
	// DeadLetterUnroutable: no publisher exists for the routed topic.
	DeadLetterUnroutable DeadLetterReason = "unroutable"
)

var validDeadLetterReasons = []DeadLetterReason{
	DeadLetterMaxAttempts,
	DeadLetterNonRetryable,
	DeadLetterUnroutable,
}

func (r DeadLetterReason) IsValid() bool {
	for _, candidate := range validDeadLetterReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseDeadLetterReason converts raw input into a DeadLetterReason.
func ParseDeadLetterReason(value string) (DeadLetterReason, error) {
	for _, candidate := range validDeadLetterReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dead letter reason %q", value)
}
