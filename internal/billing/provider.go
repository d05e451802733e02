package billing

import (
	"context"
	"fmt"

	"keyserve.app/cloud/internal/models"
)

// EventStatus is the normalized lifecycle state reported by the payment
// provider for an external subscription.
type EventStatus string

const (
	StatusAuthorized EventStatus = "authorized"
	StatusPaused     EventStatus = "paused"
	StatusCancelled  EventStatus = "cancelled"
	StatusIgnored    EventStatus = "ignored"
)

// Event is a normalized subscription lifecycle notification. ReferenceID is
// the account identifier we handed to the provider at checkout time;
// SubscriptionID is the provider's own identifier for the agreement.
type Event struct {
	SubscriptionID string
	Status         EventStatus
	ReferenceID    string
}

// Checkout is the result of creating an external subscription: an identifier
// the provider will resolve later and the URL the payer completes it at.
type Checkout struct {
	SubscriptionID string
	URL            string
}

// Provider is the opaque payment service backing recurring billing. All
// implementations must bound their calls with a timeout.
type Provider interface {
	CreateSubscription(ctx context.Context, plan models.Plan, payerEmail, referenceID string) (*Checkout, error)
	GetSubscription(ctx context.Context, id string) (*Event, error)
	CancelSubscription(ctx context.Context, id string) error
	PauseSubscription(ctx context.Context, id string) error
	ResumeSubscription(ctx context.Context, id string) error
}

// ProviderError wraps a failed provider call. StatusCode carries the
// provider-supplied HTTP status when one was present, zero otherwise.
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("payment provider %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("payment provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
