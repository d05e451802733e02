package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"

	"keyserve.app/cloud/internal/models"
)

const referenceMetadataKey = "account_id"

// StripeProvider implements Provider on Stripe subscriptions. Checkout
// returns the session id as the pending subscription identifier; once the
// payer completes checkout, webhook events carry the real subscription id
// and the reconciler rebinds to it.
type StripeProvider struct {
	prices  map[models.Plan]string
	success string
	cancel  string
	timeout time.Duration
}

func NewStripeProvider(apiKey string, prices map[models.Plan]string, successURL, cancelURL string, timeout time.Duration) *StripeProvider {
	stripe.Key = apiKey
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StripeProvider{
		prices:  prices,
		success: successURL,
		cancel:  cancelURL,
		timeout: timeout,
	}
}

func (p *StripeProvider) CreateSubscription(ctx context.Context, plan models.Plan, payerEmail, referenceID string) (*Checkout, error) {
	price, ok := p.prices[plan]
	if !ok {
		return nil, fmt.Errorf("no price configured for plan %q", plan)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		CustomerEmail:     stripe.String(payerEmail),
		ClientReferenceID: stripe.String(referenceID),
		SuccessURL:        stripe.String(p.success),
		CancelURL:         stripe.String(p.cancel),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(price), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{referenceMetadataKey: referenceID},
		},
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, providerError("create subscription", err)
	}
	return &Checkout{SubscriptionID: sess.ID, URL: sess.URL}, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, id string) (*Event, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if strings.HasPrefix(id, "cs_") {
		params := &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}}
		params.AddExpand("subscription")
		sess, err := session.Get(id, params)
		if err != nil {
			return nil, providerError("get checkout session", err)
		}
		if sess.Subscription != nil {
			ev := EventFromSubscription(sess.Subscription)
			if ev.ReferenceID == "" {
				ev.ReferenceID = sess.ClientReferenceID
			}
			return &ev, nil
		}
		status := StatusIgnored
		if sess.Status == stripe.CheckoutSessionStatusExpired {
			status = StatusCancelled
		}
		return &Event{SubscriptionID: id, Status: status, ReferenceID: sess.ClientReferenceID}, nil
	}

	sub, err := subscription.Get(id, &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, providerError("get subscription", err)
	}
	ev := EventFromSubscription(sub)
	return &ev, nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if strings.HasPrefix(id, "cs_") {
		// A pending checkout has no subscription yet; expiring the
		// session is the closest thing to cancellation.
		params := &stripe.CheckoutSessionExpireParams{Params: stripe.Params{Context: ctx}}
		if _, err := session.Expire(id, params); err != nil {
			return providerError("expire checkout session", err)
		}
		return nil
	}

	params := &stripe.SubscriptionCancelParams{Params: stripe.Params{Context: ctx}}
	if _, err := subscription.Cancel(id, params); err != nil {
		return providerError("cancel subscription", err)
	}
	return nil
}

func (p *StripeProvider) PauseSubscription(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
		PauseCollection: &stripe.SubscriptionPauseCollectionParams{
			Behavior: stripe.String("void"),
		},
	}
	if _, err := subscription.Update(id, params); err != nil {
		return providerError("pause subscription", err)
	}
	return nil
}

func (p *StripeProvider) ResumeSubscription(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}}
	params.AddExtra("pause_collection", "")
	if _, err := subscription.Update(id, params); err != nil {
		return providerError("resume subscription", err)
	}
	return nil
}

// EventFromSubscription normalizes a Stripe subscription into the event
// shape the reconciler consumes.
func EventFromSubscription(sub *stripe.Subscription) Event {
	return Event{
		SubscriptionID: sub.ID,
		Status:         statusFromStripe(sub.Status),
		ReferenceID:    sub.Metadata[referenceMetadataKey],
	}
}

func statusFromStripe(status stripe.SubscriptionStatus) EventStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return StatusAuthorized
	case stripe.SubscriptionStatusPaused:
		return StatusPaused
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		return StatusCancelled
	default:
		// incomplete / past_due resolve on a later event.
		return StatusIgnored
	}
}

func providerError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &ProviderError{Op: op, StatusCode: stripeErr.HTTPStatusCode, Err: err}
	}
	return &ProviderError{Op: op, Err: err}
}
