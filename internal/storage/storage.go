package storage

import (
	"context"
	"errors"

	"keyserve.app/cloud/internal/models"
)

// ErrNotFound is returned when no matching account or license exists.
var ErrNotFound = errors.New("not found")

// Storage persists accounts and their licenses. Each account has at most one
// license; UpdateLicense serializes read-modify-write cycles per account so
// concurrent device attaches and webhook transitions never lose updates.
type Storage interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	FindAccountBySessionToken(ctx context.Context, token string) (*models.Account, error)
	SaveAccount(ctx context.Context, account *models.Account) error

	GetLicenseByAccount(ctx context.Context, accountID string) (*models.License, error)
	FindLicenseByToken(ctx context.Context, token string) (*models.License, error)
	FindLicenseBySubscriptionRef(ctx context.Context, ref string) (*models.License, error)
	SaveLicense(ctx context.Context, license *models.License) error
	UpdateLicense(ctx context.Context, accountID string, fn func(*models.License) error) (*models.License, error)

	Close() error
}
