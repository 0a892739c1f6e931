package checkout

import "context"

// Outcome is the final state of a payment attempt.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// PaymentRequest describes a charge.
type PaymentRequest struct {
	// IdempotencyKey is the order ID; retries with the same key never charge
	// twice.
	IdempotencyKey string
	SourceID       string
	Amount         int64 // minor units
	Currency       string
	ReferenceID    string
	Note           string
}

// PaymentResult is the gateway's answer.
type PaymentResult struct {
	Outcome   Outcome
	PaymentID string
	Status    string
}

// Gateway charges the shopper.
type Gateway interface {
	Pay(ctx context.Context, req PaymentRequest) (PaymentResult, error)
}
