package license

import (
	"context"
	"time"

	"keyserve.app/cloud/internal/models"
	"keyserve.app/cloud/internal/storage"
)

// Issuer produces a signed assertion for one device on a license, and
// reports the validity window it applies.
type Issuer interface {
	IssueAssertion(l *models.License, deviceID string) (string, error)
	TTL() time.Duration
}

// ValidationResult carries the signed assertion plus the license summary
// returned to the client.
type ValidationResult struct {
	Assertion  string
	License    *models.License
	OfflineTTL time.Duration
}

// Service runs the client-facing license operations: validation with device
// binding, refresh, and explicit device management. All mutations go through
// Storage.UpdateLicense, which serializes per license.
type Service struct {
	store  storage.Storage
	issuer Issuer
	now    func() time.Time
}

func NewService(store storage.Storage, issuer Issuer) *Service {
	return &Service{
		store:  store,
		issuer: issuer,
		now:    time.Now,
	}
}

// Validate checks the license behind a token, binds the device if quota
// allows, and issues an offline assertion.
func (s *Service) Validate(ctx context.Context, token, deviceID string) (*ValidationResult, error) {
	return s.issue(ctx, token, deviceID, true)
}

// Refresh re-issues an assertion for an already-bound device. It never
// attempts a new binding.
func (s *Service) Refresh(ctx context.Context, token, deviceID string) (*ValidationResult, error) {
	return s.issue(ctx, token, deviceID, false)
}

func (s *Service) issue(ctx context.Context, token, deviceID string, bind bool) (*ValidationResult, error) {
	found, err := s.store.FindLicenseByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	// Usability and binding are re-checked inside the atomic update; the
	// lookup above only resolves the owning account.
	updated, err := s.store.UpdateLicense(ctx, found.AccountID, func(l *models.License) error {
		if err := CheckUsable(l, s.now()); err != nil {
			return err
		}
		if bind {
			return Attach(l, deviceID)
		}
		if !IsBound(l, deviceID) {
			return ErrDeviceNotBound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	assertion, err := s.issuer.IssueAssertion(updated, deviceID)
	if err != nil {
		return nil, err
	}
	return &ValidationResult{
		Assertion:  assertion,
		License:    updated,
		OfflineTTL: s.issuer.TTL(),
	}, nil
}

// AttachDevice binds a device to the account's license, enforcing quota.
func (s *Service) AttachDevice(ctx context.Context, accountID, deviceID string) (*models.License, error) {
	return s.store.UpdateLicense(ctx, accountID, func(l *models.License) error {
		return Attach(l, deviceID)
	})
}

// DetachDevice removes a device binding unconditionally.
func (s *Service) DetachDevice(ctx context.Context, accountID, deviceID string) (*models.License, error) {
	return s.store.UpdateLicense(ctx, accountID, func(l *models.License) error {
		Detach(l, deviceID)
		return nil
	})
}
