package billing_test

import (
	"context"
	"errors"
	"testing"

	"keyserve.app/cloud/internal/billing"
	"keyserve.app/cloud/internal/models"
	"keyserve.app/cloud/internal/storage"
	"keyserve.app/cloud/internal/testutil"
)

func newService(store storage.Storage, provider billing.Provider) *billing.Service {
	return billing.NewService(store, provider, billing.NewReconciler(store, provider, nil))
}

func TestCreateSubscription_NewAccount(t *testing.T) {
	store := testutil.Storage()
	provider := &testutil.FakeProvider{}
	svc := newService(store, provider)

	testutil.CreateAccount(t, store, "acct1", "a@example.com")

	url, err := svc.CreateSubscription(context.Background(), "acct1", models.PlanMulti, "a@example.com")
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	if url != "https://pay.example.com/cs_test" {
		t.Errorf("Unexpected checkout URL: %s", url)
	}

	l, err := store.GetLicenseByAccount(context.Background(), "acct1")
	if err != nil {
		t.Fatalf("Expected pending license: %v", err)
	}
	if l.Status != models.StatusInactive {
		t.Errorf("Expected inactive pending license, got %s", l.Status)
	}
	if l.Plan != models.PlanMulti {
		t.Errorf("Expected multi plan, got %s", l.Plan)
	}
	if l.Token != "" {
		t.Errorf("Pending license must not carry a token, got %s", l.Token)
	}
	if l.ExternalSubscriptionRef != "cs_test" {
		t.Errorf("Expected pending ref cs_test, got %s", l.ExternalSubscriptionRef)
	}
}

func TestCreateSubscription_RebindCancelsOld(t *testing.T) {
	store := testutil.Storage()
	provider := &testutil.FakeProvider{}
	svc := newService(store, provider)

	testutil.CreateAccount(t, store, "acct1", "a@example.com")
	testutil.CreateLicense(t, store, "acct1", func(l *models.License) {
		l.Status = models.StatusCancelled
		l.ExternalSubscriptionRef = "sub_old"
	})

	if _, err := svc.CreateSubscription(context.Background(), "acct1", models.PlanSingle, "a@example.com"); err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}

	l, _ := store.GetLicenseByAccount(context.Background(), "acct1")
	if l.ExternalSubscriptionRef != "cs_test" {
		t.Errorf("Expected rebind to cs_test, got %s", l.ExternalSubscriptionRef)
	}
	if l.Status != models.StatusInactive {
		t.Errorf("Expected pending status, got %s", l.Status)
	}
	if l.Token != "KS-acct1" {
		t.Errorf("Existing token must survive the rebind, got %s", l.Token)
	}

	cancelled := provider.CancelledIDs()
	if len(cancelled) != 1 || cancelled[0] != "sub_old" {
		t.Errorf("Expected sub_old cancelled, got %v", cancelled)
	}
}

func TestCreateSubscription_ProviderError(t *testing.T) {
	store := testutil.Storage()
	provider := &testutil.FakeProvider{
		CreateErr: &billing.ProviderError{Op: "create subscription", StatusCode: 503, Err: errors.New("unavailable")},
	}
	svc := newService(store, provider)

	_, err := svc.CreateSubscription(context.Background(), "acct1", models.PlanSingle, "a@example.com")
	var perr *billing.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ProviderError, got %v", err)
	}

	// No license record may be left behind when checkout creation fails.
	if _, err := store.GetLicenseByAccount(context.Background(), "acct1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected no license, got err=%v", err)
	}
}

func TestCancel(t *testing.T) {
	store := testutil.Storage()
	provider := &testutil.FakeProvider{}
	svc := newService(store, provider)

	testutil.CreateAccount(t, store, "acct1", "a@example.com")
	testutil.CreateLicense(t, store, "acct1")

	l, err := svc.Cancel(context.Background(), "acct1")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if l.Status != models.StatusCancelled {
		t.Errorf("Expected cancelled, got %s", l.Status)
	}
	cancelled := provider.CancelledIDs()
	if len(cancelled) != 1 || cancelled[0] != "sub_acct1" {
		t.Errorf("Expected provider cancel of sub_acct1, got %v", cancelled)
	}
}

func TestCancel_ProviderFailureLeavesLicenseUntouched(t *testing.T) {
	store := testutil.Storage()
	provider := &testutil.FakeProvider{CancelErr: errors.New("down")}
	svc := newService(store, provider)

	testutil.CreateAccount(t, store, "acct1", "a@example.com")
	testutil.CreateLicense(t, store, "acct1")

	if _, err := svc.Cancel(context.Background(), "acct1"); err == nil {
		t.Fatal("Expected error when provider cancel fails")
	}

	l, _ := store.GetLicenseByAccount(context.Background(), "acct1")
	if l.Status != models.StatusActive {
		t.Errorf("License must stay active when provider cancel fails, got %s", l.Status)
	}
}

func TestTransitionGuardsOnManagement(t *testing.T) {
	tests := []struct {
		name   string
		status models.Status
		op     func(*billing.Service) error
	}{
		{
			name:   "cancel already cancelled",
			status: models.StatusCancelled,
			op: func(svc *billing.Service) error {
				_, err := svc.Cancel(context.Background(), "acct1")
				return err
			},
		},
		{
			name:   "pause paused",
			status: models.StatusPaused,
			op: func(svc *billing.Service) error {
				_, err := svc.Pause(context.Background(), "acct1")
				return err
			},
		},
		{
			name:   "pause cancelled",
			status: models.StatusCancelled,
			op: func(svc *billing.Service) error {
				_, err := svc.Pause(context.Background(), "acct1")
				return err
			},
		},
		{
			name:   "resume active",
			status: models.StatusActive,
			op: func(svc *billing.Service) error {
				_, err := svc.Resume(context.Background(), "acct1")
				return err
			},
		},
		{
			name:   "resume cancelled",
			status: models.StatusCancelled,
			op: func(svc *billing.Service) error {
				_, err := svc.Resume(context.Background(), "acct1")
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.Storage()
			svc := newService(store, &testutil.FakeProvider{})
			testutil.CreateAccount(t, store, "acct1", "a@example.com")
			testutil.CreateLicense(t, store, "acct1", func(l *models.License) {
				l.Status = tt.status
			})

			err := tt.op(svc)
			var terr *billing.TransitionError
			if !errors.As(err, &terr) {
				t.Fatalf("Expected TransitionError, got %v", err)
			}
		})
	}
}

func TestPauseAndResume(t *testing.T) {
	store := testutil.Storage()
	provider := &testutil.FakeProvider{}
	svc := newService(store, provider)

	testutil.CreateAccount(t, store, "acct1", "a@example.com")
	testutil.CreateLicense(t, store, "acct1")

	l, err := svc.Pause(context.Background(), "acct1")
	if err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if l.Status != models.StatusPaused {
		t.Errorf("Expected paused, got %s", l.Status)
	}

	l, err = svc.Resume(context.Background(), "acct1")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if l.Status != models.StatusActive {
		t.Errorf("Expected active after resume, got %s", l.Status)
	}

	if len(provider.Paused) != 1 || provider.Paused[0] != "sub_acct1" {
		t.Errorf("Expected provider pause of sub_acct1, got %v", provider.Paused)
	}
	if len(provider.Resumed) != 1 || provider.Resumed[0] != "sub_acct1" {
		t.Errorf("Expected provider resume of sub_acct1, got %v", provider.Resumed)
	}
}

func TestManagementWithoutSubscription(t *testing.T) {
	store := testutil.Storage()
	svc := newService(store, &testutil.FakeProvider{})

	testutil.CreateAccount(t, store, "acct1", "a@example.com")
	testutil.CreateLicense(t, store, "acct1", func(l *models.License) {
		l.ExternalSubscriptionRef = ""
	})

	if _, err := svc.Cancel(context.Background(), "acct1"); !errors.Is(err, billing.ErrNoCurrentSubscription) {
		t.Errorf("Expected ErrNoCurrentSubscription, got %v", err)
	}
}

func TestChangePaymentMethod(t *testing.T) {
	store := testutil.Storage()
	provider := &testutil.FakeProvider{}
	svc := newService(store, provider)

	testutil.CreateAccount(t, store, "acct1", "a@example.com")
	testutil.CreateLicense(t, store, "acct1")

	url, err := svc.ChangePaymentMethod(context.Background(), "acct1", "a@example.com")
	if err != nil {
		t.Fatalf("ChangePaymentMethod failed: %v", err)
	}
	if url == "" {
		t.Error("Expected a checkout URL")
	}

	// The current binding stays as-is until the new subscription confirms.
	l, _ := store.GetLicenseByAccount(context.Background(), "acct1")
	if l.ExternalSubscriptionRef != "sub_acct1" {
		t.Errorf("Binding must stay untouched, got %s", l.ExternalSubscriptionRef)
	}
	if l.Status != models.StatusActive {
		t.Errorf("Status must stay untouched, got %s", l.Status)
	}
}

func TestHandleReturn(t *testing.T) {
	store := testutil.Storage()
	provider := &testutil.FakeProvider{
		GetResult: &billing.Event{SubscriptionID: "sub_1", Status: billing.StatusAuthorized, ReferenceID: "acct1"},
	}
	svc := newService(store, provider)

	testutil.CreateAccount(t, store, "acct1", "a@example.com")
	testutil.CreateLicense(t, store, "acct1", func(l *models.License) {
		l.Token = ""
		l.Status = models.StatusInactive
		l.ExternalSubscriptionRef = "cs_pending"
	})

	status, err := svc.HandleReturn(context.Background(), "sub_1")
	if err != nil {
		t.Fatalf("HandleReturn failed: %v", err)
	}
	if status != billing.StatusAuthorized {
		t.Errorf("Expected authorized, got %s", status)
	}

	l, _ := store.GetLicenseByAccount(context.Background(), "acct1")
	if l.Status != models.StatusActive {
		t.Errorf("Expected license activated on return, got %s", l.Status)
	}
}
