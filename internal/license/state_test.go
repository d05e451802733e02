package license

import (
	"errors"
	"testing"
	"time"

	"keyserve.app/cloud/internal/models"
)

func TestActivate_FirstAuthorization(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := &models.License{
		Plan:    models.PlanSingle,
		Status:  models.StatusInactive,
		Devices: models.NewDeviceSet(),
	}

	superseded := Activate(l, "sub_1", now)

	if superseded != "" {
		t.Errorf("Expected no superseded ref, got %q", superseded)
	}
	if l.Status != models.StatusActive {
		t.Errorf("Expected status active, got %s", l.Status)
	}
	if l.Token == "" {
		t.Error("Expected token to be assigned on first activation")
	}
	if l.ExternalSubscriptionRef != "sub_1" {
		t.Errorf("Expected ref sub_1, got %s", l.ExternalSubscriptionRef)
	}
	expectedExpiry := now.AddDate(0, 1, 0)
	if !l.ExpiresAt.Equal(expectedExpiry) {
		t.Errorf("Expected expiry %v, got %v", expectedExpiry, l.ExpiresAt)
	}
	if l.Devices.Len() != 0 {
		t.Errorf("Activation must not touch devices, got %v", l.Devices.Sorted())
	}
}

func TestActivate_TokenImmutable(t *testing.T) {
	l := &models.License{
		Token:   "KS-original",
		Plan:    models.PlanSingle,
		Status:  models.StatusCancelled,
		Devices: models.NewDeviceSet("a"),
	}

	Activate(l, "sub_2", time.Now())

	if l.Token != "KS-original" {
		t.Errorf("Token changed on re-activation: %s", l.Token)
	}
	if !l.Devices.Has("a") {
		t.Error("Devices changed on re-activation")
	}
}

func TestActivate_SupersedesOldRef(t *testing.T) {
	l := &models.License{
		Token:                   "KS-x",
		Status:                  models.StatusActive,
		ExternalSubscriptionRef: "sub_old",
	}

	superseded := Activate(l, "sub_new", time.Now())

	if superseded != "sub_old" {
		t.Errorf("Expected superseded sub_old, got %q", superseded)
	}
	if l.ExternalSubscriptionRef != "sub_new" {
		t.Errorf("Expected rebind to sub_new, got %s", l.ExternalSubscriptionRef)
	}
}

func TestActivate_SameRefNotSuperseded(t *testing.T) {
	l := &models.License{
		Token:                   "KS-x",
		ExternalSubscriptionRef: "sub_1",
	}

	if superseded := Activate(l, "sub_1", time.Now()); superseded != "" {
		t.Errorf("Re-delivery of the same ref must not supersede, got %q", superseded)
	}
}

func TestCheckUsable(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		status  models.Status
		expires time.Time
		reason  string
	}{
		{"active and valid", models.StatusActive, now.Add(time.Hour), ""},
		{"inactive", models.StatusInactive, now.Add(time.Hour), ReasonNotActive},
		{"paused", models.StatusPaused, now.Add(time.Hour), ReasonNotActive},
		{"cancelled", models.StatusCancelled, now.Add(time.Hour), ReasonNotActive},
		{"active but expired", models.StatusActive, now.Add(-time.Minute), ReasonExpired},
		{"active expiring exactly now", models.StatusActive, now, ReasonExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &models.License{Status: tt.status, ExpiresAt: tt.expires}
			err := CheckUsable(l, now)

			if tt.reason == "" {
				if err != nil {
					t.Fatalf("Expected usable, got %v", err)
				}
				return
			}

			var usableErr *NotUsableError
			if !errors.As(err, &usableErr) {
				t.Fatalf("Expected NotUsableError, got %v", err)
			}
			if usableErr.Reason != tt.reason {
				t.Errorf("Expected reason %q, got %q", tt.reason, usableErr.Reason)
			}
		})
	}
}

func TestMarkTransitions(t *testing.T) {
	expiry := time.Now().Add(24 * time.Hour)
	l := &models.License{Status: models.StatusActive, ExpiresAt: expiry}

	MarkPaused(l)
	if l.Status != models.StatusPaused {
		t.Errorf("Expected paused, got %s", l.Status)
	}

	MarkActive(l)
	if l.Status != models.StatusActive {
		t.Errorf("Expected active, got %s", l.Status)
	}
	if !l.ExpiresAt.Equal(expiry) {
		t.Errorf("Resume must not touch expiry, got %v", l.ExpiresAt)
	}

	MarkCancelled(l)
	if l.Status != models.StatusCancelled {
		t.Errorf("Expected cancelled, got %s", l.Status)
	}
}

func TestTransitionGuards(t *testing.T) {
	tests := []struct {
		status    models.Status
		canPause  bool
		canResume bool
		canCancel bool
	}{
		{models.StatusInactive, false, false, false},
		{models.StatusActive, true, false, true},
		{models.StatusPaused, false, true, true},
		{models.StatusCancelled, false, false, false},
	}

	for _, tt := range tests {
		l := &models.License{Status: tt.status}
		if got := CanPause(l); got != tt.canPause {
			t.Errorf("CanPause(%s) = %v, want %v", tt.status, got, tt.canPause)
		}
		if got := CanResume(l); got != tt.canResume {
			t.Errorf("CanResume(%s) = %v, want %v", tt.status, got, tt.canResume)
		}
		if got := CanCancel(l); got != tt.canCancel {
			t.Errorf("CanCancel(%s) = %v, want %v", tt.status, got, tt.canCancel)
		}
	}
}

func TestNewToken(t *testing.T) {
	a, b := NewToken(), NewToken()
	if a == b {
		t.Error("Expected distinct tokens")
	}
	if len(a) != len("KS-")+32 {
		t.Errorf("Unexpected token length: %d", len(a))
	}
}
