package testutil

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"keyserve.app/cloud/internal/billing"
	"keyserve.app/cloud/internal/models"
	"keyserve.app/cloud/internal/signing"
	"keyserve.app/cloud/internal/storage"
)

// SigningKeyPEM generates a fresh Ed25519 keypair in PKCS#8 PEM form.
func SigningKeyPEM(t *testing.T) string {
	t.Helper()

	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate keypair: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(private)
	if err != nil {
		t.Fatalf("Failed to marshal private key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

// Authority builds a signing authority with a throwaway keypair.
func Authority(t *testing.T, ttl time.Duration) *signing.Authority {
	t.Helper()

	authority, err := signing.NewAuthority(SigningKeyPEM(t), ttl)
	if err != nil {
		t.Fatalf("Failed to create authority: %v", err)
	}
	return authority
}

// Storage creates an empty in-memory storage.
func Storage() *storage.MemoryStorage {
	return storage.NewMemoryStorage()
}

// CreateAccount saves a test account and returns it.
func CreateAccount(t *testing.T, store storage.Storage, id, email string) *models.Account {
	t.Helper()

	account := &models.Account{
		ID:           id,
		Email:        email,
		SessionToken: "session-" + id,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := store.SaveAccount(context.Background(), account); err != nil {
		t.Fatalf("Failed to save account %s: %v", id, err)
	}
	return account
}

// CreateLicense saves a license for the account, applying any mutations
// first. The default is an active single-plan license valid for a month.
func CreateLicense(t *testing.T, store storage.Storage, accountID string, mutate ...func(*models.License)) *models.License {
	t.Helper()

	l := &models.License{
		ID:                      "license-" + accountID,
		AccountID:               accountID,
		Token:                   "KS-" + accountID,
		Plan:                    models.PlanSingle,
		Status:                  models.StatusActive,
		ExpiresAt:               time.Now().UTC().AddDate(0, 1, 0),
		Devices:                 models.NewDeviceSet(),
		ExternalSubscriptionRef: "sub_" + accountID,
		Features:                map[string]bool{},
		CreatedAt:               time.Now(),
		UpdatedAt:               time.Now(),
	}
	for _, fn := range mutate {
		fn(l)
	}
	if err := store.SaveLicense(context.Background(), l); err != nil {
		t.Fatalf("Failed to save license for %s: %v", accountID, err)
	}
	return l
}

// FakeProvider records calls and returns scripted results.
type FakeProvider struct {
	mu sync.Mutex

	CheckoutResult *billing.Checkout
	CreateErr      error
	GetResult      *billing.Event
	GetErr         error
	CancelErr      error
	PauseErr       error
	ResumeErr      error

	Created   []string // reference ids passed to CreateSubscription
	Cancelled []string
	Paused    []string
	Resumed   []string
}

func (f *FakeProvider) CreateSubscription(ctx context.Context, plan models.Plan, payerEmail, referenceID string) (*billing.Checkout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.Created = append(f.Created, referenceID)
	if f.CheckoutResult != nil {
		return f.CheckoutResult, nil
	}
	return &billing.Checkout{SubscriptionID: "cs_test", URL: "https://pay.example.com/cs_test"}, nil
}

func (f *FakeProvider) GetSubscription(ctx context.Context, id string) (*billing.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.GetErr != nil {
		return nil, f.GetErr
	}
	if f.GetResult != nil {
		return f.GetResult, nil
	}
	return &billing.Event{SubscriptionID: id, Status: billing.StatusIgnored}, nil
}

func (f *FakeProvider) CancelSubscription(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CancelErr != nil {
		return f.CancelErr
	}
	f.Cancelled = append(f.Cancelled, id)
	return nil
}

func (f *FakeProvider) PauseSubscription(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PauseErr != nil {
		return f.PauseErr
	}
	f.Paused = append(f.Paused, id)
	return nil
}

func (f *FakeProvider) ResumeSubscription(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ResumeErr != nil {
		return f.ResumeErr
	}
	f.Resumed = append(f.Resumed, id)
	return nil
}

// CancelledIDs returns a copy, safe to read after concurrent use.
func (f *FakeProvider) CancelledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Cancelled...)
}

// FakeMailer records sent messages.
type FakeMailer struct {
	mu   sync.Mutex
	Sent []FakeMail
	Err  error
}

type FakeMail struct {
	To      string
	Subject string
	Body    string
}

func (f *FakeMailer) Send(to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}
	f.Sent = append(f.Sent, FakeMail{To: to, Subject: subject, Body: body})
	return nil
}

func (f *FakeMailer) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}
