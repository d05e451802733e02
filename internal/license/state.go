package license

import (
	"crypto/rand"
	"fmt"
	"time"

	"keyserve.app/cloud/internal/models"
)

// Activate applies an external authorized/active event: binds the new
// subscription ref, assigns a token on first activation, and advances the
// expiry one month from now. The provider is the time-of-truth, so repeated
// authorizations may re-advance it. Returns the superseded subscription ref
// ("" if none) so the caller can request its cancellation best-effort.
func Activate(l *models.License, subscriptionRef string, now time.Time) (superseded string) {
	if l.ExternalSubscriptionRef != "" && l.ExternalSubscriptionRef != subscriptionRef {
		superseded = l.ExternalSubscriptionRef
	}
	l.ExternalSubscriptionRef = subscriptionRef
	if l.Token == "" {
		l.Token = NewToken()
	}
	l.Status = models.StatusActive
	l.ExpiresAt = now.UTC().AddDate(0, 1, 0)
	return superseded
}

// MarkPaused and MarkCancelled apply the corresponding external events.
// Reachable from any state; the provider already accepted the change.
func MarkPaused(l *models.License) {
	l.Status = models.StatusPaused
}

func MarkCancelled(l *models.License) {
	l.Status = models.StatusCancelled
}

// MarkActive restores the active status after a resume. Expiry is untouched;
// the billing period never stopped.
func MarkActive(l *models.License) {
	l.Status = models.StatusActive
}

// Guards for explicit management requests. A cancelled license cannot be
// resumed directly, the payment agreement is gone; only a fresh
// authorization event re-activates it.
func CanPause(l *models.License) bool {
	return l.Status == models.StatusActive
}

func CanResume(l *models.License) bool {
	return l.Status == models.StatusPaused
}

func CanCancel(l *models.License) bool {
	return l.Status == models.StatusActive || l.Status == models.StatusPaused
}

// CheckUsable is the validation-time derived check. There is no stored
// "expired" status; expiry is evaluated against the clock on every call.
func CheckUsable(l *models.License, now time.Time) error {
	if l.Status != models.StatusActive {
		return &NotUsableError{Reason: ReasonNotActive}
	}
	if !now.Before(l.ExpiresAt) {
		return &NotUsableError{Reason: ReasonExpired}
	}
	return nil
}

// NewToken generates the opaque public license identifier handed to client
// devices. Immutable once assigned.
func NewToken() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return fmt.Sprintf("KS-%x", bytes)
}
