package license_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"keyserve.app/cloud/internal/license"
	"keyserve.app/cloud/internal/models"
	"keyserve.app/cloud/internal/storage"
	"keyserve.app/cloud/internal/testutil"
)

func newService(t *testing.T) (*license.Service, *storage.MemoryStorage) {
	t.Helper()
	store := testutil.Storage()
	return license.NewService(store, testutil.Authority(t, time.Hour)), store
}

func TestValidate_BindsDeviceAndIssuesAssertion(t *testing.T) {
	svc, store := newService(t)
	testutil.CreateAccount(t, store, "acct1", "a@example.com")
	testutil.CreateLicense(t, store, "acct1")

	result, err := svc.Validate(context.Background(), "KS-acct1", "device-a")
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if result.Assertion == "" {
		t.Error("Expected a signed assertion")
	}
	if result.OfflineTTL != time.Hour {
		t.Errorf("Expected TTL 1h, got %v", result.OfflineTTL)
	}
	if !result.License.Devices.Has("device-a") {
		t.Error("Expected device-a to be bound after validation")
	}

	persisted, err := store.GetLicenseByAccount(context.Background(), "acct1")
	if err != nil {
		t.Fatalf("GetLicenseByAccount failed: %v", err)
	}
	if !persisted.Devices.Has("device-a") {
		t.Error("Binding was not persisted")
	}
}

func TestValidate_UnknownToken(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Validate(context.Background(), "KS-nope", "device-a")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestValidate_PausedLicense(t *testing.T) {
	svc, store := newService(t)
	testutil.CreateAccount(t, store, "acct1", "a@example.com")
	testutil.CreateLicense(t, store, "acct1", func(l *models.License) {
		l.Status = models.StatusPaused
		l.Devices = models.NewDeviceSet("device-a")
	})

	_, err := svc.Validate(context.Background(), "KS-acct1", "device-a")
	var usableErr *license.NotUsableError
	if !errors.As(err, &usableErr) {
		t.Fatalf("Expected NotUsableError, got %v", err)
	}
	if usableErr.Reason != license.ReasonNotActive {
		t.Errorf("Expected reason %q, got %q", license.ReasonNotActive, usableErr.Reason)
	}
}

func TestValidate_ExpiredLicense(t *testing.T) {
	svc, store := newService(t)
	testutil.CreateAccount(t, store, "acct1", "a@example.com")
	testutil.CreateLicense(t, store, "acct1", func(l *models.License) {
		l.ExpiresAt = time.Now().Add(-time.Hour)
	})

	_, err := svc.Validate(context.Background(), "KS-acct1", "device-a")
	var usableErr *license.NotUsableError
	if !errors.As(err, &usableErr) {
		t.Fatalf("Expected NotUsableError, got %v", err)
	}
	if usableErr.Reason != license.ReasonExpired {
		t.Errorf("Expected reason %q, got %q", license.ReasonExpired, usableErr.Reason)
	}
}

func TestValidate_QuotaExceeded(t *testing.T) {
	svc, store := newService(t)
	testutil.CreateAccount(t, store, "acct1", "a@example.com")
	testutil.CreateLicense(t, store, "acct1", func(l *models.License) {
		l.Devices = models.NewDeviceSet("device-a")
	})

	_, err := svc.Validate(context.Background(), "KS-acct1", "device-b")
	var quotaErr *license.QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("Expected QuotaExceededError, got %v", err)
	}

	persisted, _ := store.GetLicenseByAccount(context.Background(), "acct1")
	if persisted.Devices.Len() != 1 || !persisted.Devices.Has("device-a") {
		t.Errorf("Failed attach mutated devices: %v", persisted.Devices.Sorted())
	}
}

func TestRefresh_RequiresBoundDevice(t *testing.T) {
	svc, store := newService(t)
	testutil.CreateAccount(t, store, "acct1", "a@example.com")
	testutil.CreateLicense(t, store, "acct1", func(l *models.License) {
		l.Devices = models.NewDeviceSet("device-a")
	})

	if _, err := svc.Refresh(context.Background(), "KS-acct1", "device-a"); err != nil {
		t.Fatalf("Refresh for bound device failed: %v", err)
	}

	_, err := svc.Refresh(context.Background(), "KS-acct1", "device-b")
	if !errors.Is(err, license.ErrDeviceNotBound) {
		t.Fatalf("Expected ErrDeviceNotBound, got %v", err)
	}

	// Refresh must never bind.
	persisted, _ := store.GetLicenseByAccount(context.Background(), "acct1")
	if persisted.Devices.Has("device-b") {
		t.Error("Refresh bound a new device")
	}
}

func TestAttachDetachDevice(t *testing.T) {
	svc, store := newService(t)
	testutil.CreateAccount(t, store, "acct1", "a@example.com")
	testutil.CreateLicense(t, store, "acct1", func(l *models.License) {
		l.Plan = models.PlanMulti
	})

	l, err := svc.AttachDevice(context.Background(), "acct1", "device-a")
	if err != nil {
		t.Fatalf("AttachDevice failed: %v", err)
	}
	if !l.Devices.Has("device-a") {
		t.Error("Expected device-a bound")
	}

	l, err = svc.DetachDevice(context.Background(), "acct1", "device-a")
	if err != nil {
		t.Fatalf("DetachDevice failed: %v", err)
	}
	if l.Devices.Has("device-a") {
		t.Error("Expected device-a removed")
	}

	// Detaching again stays a no-op.
	if _, err := svc.DetachDevice(context.Background(), "acct1", "device-a"); err != nil {
		t.Fatalf("Second detach failed: %v", err)
	}
}

func TestValidate_ConcurrentAttachesRespectQuota(t *testing.T) {
	svc, store := newService(t)
	testutil.CreateAccount(t, store, "acct1", "a@example.com")
	testutil.CreateLicense(t, store, "acct1")

	results := make(chan error, 2)
	for _, device := range []string{"device-a", "device-b"} {
		go func(id string) {
			_, err := svc.Validate(context.Background(), "KS-acct1", id)
			results <- err
		}(device)
	}

	var failures int
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			var quotaErr *license.QuotaExceededError
			if !errors.As(err, &quotaErr) {
				t.Fatalf("Unexpected error: %v", err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("Expected exactly one quota failure, got %d", failures)
	}

	persisted, _ := store.GetLicenseByAccount(context.Background(), "acct1")
	if persisted.Devices.Len() != 1 {
		t.Errorf("Expected exactly one bound device, got %d", persisted.Devices.Len())
	}
}
