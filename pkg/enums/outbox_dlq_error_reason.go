package enums

// OutboxDLQErrorReason explains why an outbox event was parked in the DLQ.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts marks events that exhausted their publish retries.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable marks events that can never publish successfully,
	// such as malformed envelopes or unregistered event types.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable:
		return true
	default:
		return false
	}
}
