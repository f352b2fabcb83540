// Package payments talks to the card processor that authorizes client
// charges, refunds them and transfers host payouts.
package payments

import (
	"context"
	"fmt"
)

// AuthorizeRequest asks the processor for a payment intent.
type AuthorizeRequest struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"-"`
}

// Intent is an authorized charge the client completes with ClientSecret.
// Fee is the processor's own cut of Amount.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Fee          int64  `json:"fee"`
}

// Processor is the payment capability the engine depends on. Every call
// carries an idempotency key so retries never double charge.
type Processor interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*Intent, error)
	Refund(ctx context.Context, intentID string, amount int64, idempotencyKey string) error
	Transfer(ctx context.Context, accountID string, amount int64, currency, idempotencyKey string) (transferID string, err error)
}

// ProcessorError is a non-2xx answer from the processor.
type ProcessorError struct {
	Op      string
	Status  int
	Message string
}

func (e *ProcessorError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("processor %s: http %d", e.Op, e.Status)
	}
	return fmt.Sprintf("processor %s: http %d: %s", e.Op, e.Status, e.Message)
}
