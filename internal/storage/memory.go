package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"keyserve.app/cloud/internal/models"
)

// MemoryStorage keeps everything in maps. Used by tests and local runs.
type MemoryStorage struct {
	mu       sync.Mutex
	accounts map[string]models.Account
	licenses map[string]models.License // keyed by account id
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		accounts: make(map[string]models.Account),
		licenses: make(map[string]models.License),
	}
}

func (m *MemoryStorage) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, exists := m.accounts[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &account, nil
}

func (m *MemoryStorage) FindAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, account := range m.accounts {
		if account.Email == email {
			a := account
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStorage) FindAccountBySessionToken(ctx context.Context, token string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token == "" {
		return nil, ErrNotFound
	}
	for _, account := range m.accounts {
		if account.SessionToken == token {
			a := account
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStorage) SaveAccount(ctx context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts[account.ID] = *account
	return nil
}

func (m *MemoryStorage) GetLicenseByAccount(ctx context.Context, accountID string) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	license, exists := m.licenses[accountID]
	if !exists {
		return nil, ErrNotFound
	}
	return license.Clone(), nil
}

func (m *MemoryStorage) FindLicenseByToken(ctx context.Context, token string) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token == "" {
		return nil, ErrNotFound
	}
	for _, license := range m.licenses {
		if license.Token == token {
			return license.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStorage) FindLicenseBySubscriptionRef(ctx context.Context, ref string) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ref == "" {
		return nil, ErrNotFound
	}
	for _, license := range m.licenses {
		if license.ExternalSubscriptionRef == ref {
			return license.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStorage) SaveLicense(ctx context.Context, license *models.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[license.AccountID]; !exists {
		return fmt.Errorf("account %s not found", license.AccountID)
	}
	m.licenses[license.AccountID] = *license.Clone()
	return nil
}

func (m *MemoryStorage) UpdateLicense(ctx context.Context, accountID string, fn func(*models.License) error) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	license, exists := m.licenses[accountID]
	if !exists {
		return nil, ErrNotFound
	}

	working := license.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.UpdatedAt = time.Now().UTC()
	m.licenses[accountID] = *working

	return working.Clone(), nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
