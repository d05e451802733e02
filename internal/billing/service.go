package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"keyserve.app/cloud/internal/license"
	"keyserve.app/cloud/internal/logger"
	"keyserve.app/cloud/internal/models"
	"keyserve.app/cloud/internal/storage"
)

// PendingExpiry is the window a freshly created, unconfirmed license stays
// around before the authorization event must arrive.
const PendingExpiry = 24 * time.Hour

// ErrNoCurrentSubscription is returned by management operations when the
// license has no bound external subscription to act on.
var ErrNoCurrentSubscription = errors.New("no subscription bound to license")

// TransitionError rejects a management request the current status does not
// permit, e.g. resuming a cancelled license.
type TransitionError struct {
	Status models.Status
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a %s license", e.Action, e.Status)
}

// Service runs account-initiated subscription management: checkout creation,
// cancel/pause/resume, payment-method change and the post-checkout return
// flow.
type Service struct {
	store      storage.Storage
	provider   Provider
	reconciler *Reconciler
	now        func() time.Time
}

func NewService(store storage.Storage, provider Provider, reconciler *Reconciler) *Service {
	return &Service{
		store:      store,
		provider:   provider,
		reconciler: reconciler,
		now:        time.Now,
	}
}

// CreateSubscription starts a checkout for the account and records the
// pending subscription on an inactive license. An existing different binding
// is cancelled best-effort, matching the rebind rule.
func (s *Service) CreateSubscription(ctx context.Context, accountID string, plan models.Plan, payerEmail string) (string, error) {
	checkout, err := s.provider.CreateSubscription(ctx, plan, payerEmail, accountID)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	_, err = s.store.GetLicenseByAccount(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		l := &models.License{
			ID:                      uuid.Must(uuid.NewRandom()).String(),
			AccountID:               accountID,
			Plan:                    plan,
			Status:                  models.StatusInactive,
			ExpiresAt:               now.Add(PendingExpiry),
			Devices:                 models.NewDeviceSet(),
			ExternalSubscriptionRef: checkout.SubscriptionID,
			Features:                map[string]bool{},
			CreatedAt:               now,
			UpdatedAt:               now,
		}
		if err := s.store.SaveLicense(ctx, l); err != nil {
			return "", err
		}
		return checkout.URL, nil
	}
	if err != nil {
		return "", err
	}

	var superseded string
	_, err = s.store.UpdateLicense(ctx, accountID, func(l *models.License) error {
		if l.ExternalSubscriptionRef != "" && l.ExternalSubscriptionRef != checkout.SubscriptionID {
			superseded = l.ExternalSubscriptionRef
		}
		l.Plan = plan
		l.Status = models.StatusInactive
		l.ExternalSubscriptionRef = checkout.SubscriptionID
		l.ExpiresAt = now.Add(PendingExpiry)
		return nil
	})
	if err != nil {
		return "", err
	}

	if superseded != "" {
		s.reconciler.cancelSuperseded(ctx, superseded)
	}
	return checkout.URL, nil
}

// Cancel ends the account's subscription at the provider and marks the
// license cancelled.
func (s *Service) Cancel(ctx context.Context, accountID string) (*models.License, error) {
	l, err := s.current(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !license.CanCancel(l) {
		return nil, &TransitionError{Status: l.Status, Action: "cancel"}
	}
	if err := s.provider.CancelSubscription(ctx, l.ExternalSubscriptionRef); err != nil {
		return nil, err
	}
	return s.store.UpdateLicense(ctx, accountID, func(l *models.License) error {
		license.MarkCancelled(l)
		return nil
	})
}

// Pause suspends collection at the provider and pauses the license.
func (s *Service) Pause(ctx context.Context, accountID string) (*models.License, error) {
	l, err := s.current(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !license.CanPause(l) {
		return nil, &TransitionError{Status: l.Status, Action: "pause"}
	}
	if err := s.provider.PauseSubscription(ctx, l.ExternalSubscriptionRef); err != nil {
		return nil, err
	}
	return s.store.UpdateLicense(ctx, accountID, func(l *models.License) error {
		license.MarkPaused(l)
		return nil
	})
}

// Resume reactivates a paused subscription. A cancelled license cannot be
// resumed; its payment agreement is gone and only a fresh authorization
// event brings it back.
func (s *Service) Resume(ctx context.Context, accountID string) (*models.License, error) {
	l, err := s.current(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !license.CanResume(l) {
		return nil, &TransitionError{Status: l.Status, Action: "resume"}
	}
	if err := s.provider.ResumeSubscription(ctx, l.ExternalSubscriptionRef); err != nil {
		return nil, err
	}
	return s.store.UpdateLicense(ctx, accountID, func(l *models.License) error {
		license.MarkActive(l)
		return nil
	})
}

// ChangePaymentMethod starts a parallel checkout for the same account. The
// current binding stays untouched; the reconciler supersedes it once the new
// subscription reports authorized.
func (s *Service) ChangePaymentMethod(ctx context.Context, accountID, payerEmail string) (string, error) {
	l, err := s.current(ctx, accountID)
	if err != nil {
		return "", err
	}
	checkout, err := s.provider.CreateSubscription(ctx, l.Plan, payerEmail, accountID)
	if err != nil {
		return "", err
	}
	logger.Info("Parallel subscription created for payment method change", map[string]interface{}{
		"account_id":      accountID,
		"subscription_id": checkout.SubscriptionID,
	})
	return checkout.URL, nil
}

// HandleReturn resolves a pending subscription to its final status after the
// payer comes back from checkout, and reconciles the license.
func (s *Service) HandleReturn(ctx context.Context, subscriptionID string) (EventStatus, error) {
	ev, err := s.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	if _, err := s.reconciler.Reconcile(ctx, *ev); err != nil {
		return "", err
	}
	return ev.Status, nil
}

func (s *Service) current(ctx context.Context, accountID string) (*models.License, error) {
	l, err := s.store.GetLicenseByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if l.ExternalSubscriptionRef == "" {
		return nil, ErrNoCurrentSubscription
	}
	return l, nil
}
