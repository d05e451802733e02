package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keyserve.app/cloud/internal/license"
	"keyserve.app/cloud/internal/logger"
	"keyserve.app/cloud/internal/models"
	"keyserve.app/cloud/internal/storage"
)

var errStaleSubscription = errors.New("event from superseded subscription")

// staleFor reports whether a pause/cancel event concerns a subscription the
// license is no longer bound to. Every rebind cancels the old agreement, so
// its dying events arrive later and must not touch the license.
func staleFor(l *models.License, ev Event) bool {
	return l.ExternalSubscriptionRef != "" && l.ExternalSubscriptionRef != ev.SubscriptionID
}

// Mailer delivers the license token notification. Delivery is never allowed
// to fail a reconciliation.
type Mailer interface {
	Send(to, subject, body string) error
}

// Reconciler maps external subscription events onto license records and
// applies the matching state transition.
type Reconciler struct {
	store    storage.Storage
	provider Provider
	mailer   Mailer
	now      func() time.Time
}

func NewReconciler(store storage.Storage, provider Provider, mailer Mailer) *Reconciler {
	return &Reconciler{
		store:    store,
		provider: provider,
		mailer:   mailer,
		now:      time.Now,
	}
}

// Reconcile resolves the target license and applies the transition for one
// event. Events that resolve to no license are discarded, not errors; the
// returned bool reports whether a license was updated.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (bool, error) {
	if ev.SubscriptionID == "" || ev.Status == StatusIgnored {
		return false, nil
	}

	target, err := r.resolve(ctx, ev)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Info("Discarding event for unknown license", map[string]interface{}{
				"subscription_id": ev.SubscriptionID,
				"reference_id":    ev.ReferenceID,
			})
			return false, nil
		}
		return false, err
	}

	var superseded string
	var firstActivation bool

	updated, err := r.store.UpdateLicense(ctx, target.AccountID, func(l *models.License) error {
		switch ev.Status {
		case StatusAuthorized:
			hadToken := l.Token != ""
			superseded = license.Activate(l, ev.SubscriptionID, r.now())
			firstActivation = !hadToken
		case StatusPaused:
			if staleFor(l, ev) {
				return errStaleSubscription
			}
			license.MarkPaused(l)
		case StatusCancelled:
			if staleFor(l, ev) {
				return errStaleSubscription
			}
			license.MarkCancelled(l)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errStaleSubscription) {
			logger.Info("Discarding event from superseded subscription", map[string]interface{}{
				"account_id":      target.AccountID,
				"subscription_id": ev.SubscriptionID,
				"current_ref":     target.ExternalSubscriptionRef,
			})
			return false, nil
		}
		return false, err
	}

	logger.Info("Applied subscription event", map[string]interface{}{
		"account_id":      updated.AccountID,
		"subscription_id": ev.SubscriptionID,
		"event_status":    string(ev.Status),
		"license_status":  string(updated.Status),
	})

	if superseded != "" {
		r.cancelSuperseded(ctx, superseded)
	}
	if firstActivation {
		r.sendTokenEmail(ctx, updated)
	}
	return true, nil
}

// resolve prefers the reference id handed to the provider at checkout, then
// falls back to the stored subscription ref.
func (r *Reconciler) resolve(ctx context.Context, ev Event) (*models.License, error) {
	if ev.ReferenceID != "" {
		l, err := r.store.GetLicenseByAccount(ctx, ev.ReferenceID)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	return r.store.FindLicenseBySubscriptionRef(ctx, ev.SubscriptionID)
}

// cancelSuperseded asks the provider to cancel a stale subscription. It runs
// only after the rebind has committed, so the old agreement's fate never
// gates the transition. Failure is logged and swallowed; a stray active
// subscription is preferable to blocking the rebind.
func (r *Reconciler) cancelSuperseded(ctx context.Context, subscriptionID string) {
	if err := r.provider.CancelSubscription(ctx, subscriptionID); err != nil {
		logger.Warn("Failed to cancel superseded subscription", map[string]interface{}{
			"subscription_id": subscriptionID,
			"error":           err.Error(),
		})
		return
	}
	logger.Info("Cancelled superseded subscription", map[string]interface{}{
		"subscription_id": subscriptionID,
	})
}

func (r *Reconciler) sendTokenEmail(ctx context.Context, l *models.License) {
	if r.mailer == nil {
		return
	}
	account, err := r.store.GetAccount(ctx, l.AccountID)
	if err != nil {
		logger.Warn("Cannot send license email, account lookup failed", map[string]interface{}{
			"account_id": l.AccountID,
			"error":      err.Error(),
		})
		return
	}

	body := fmt.Sprintf(`Hello,

Your subscription is confirmed and your license is ready.

LICENSE DETAILS
License key: %s
Plan: %s
Valid until: %s

Enter the license key in the app under Settings > License to activate.

Best regards,
The KeyServe Team`, l.Token, l.Plan, l.ExpiresAt.Format("2 January 2006"))

	if err := r.mailer.Send(account.Email, "Your license key", body); err != nil {
		logger.Warn("Failed to send license email", map[string]interface{}{
			"account_id": l.AccountID,
			"error":      err.Error(),
		})
		return
	}
	logger.Info("License email sent", map[string]interface{}{
		"account_id": l.AccountID,
	})
}
