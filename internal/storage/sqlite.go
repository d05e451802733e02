package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"keyserve.app/cloud/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStorage struct {
	db   *sql.DB
	path string
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	// _txlock=immediate makes every transaction take the write lock up
	// front, which is what serializes per-license read-modify-write cycles.
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db, path: path}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

const accountColumns = `id, email, session_token, created_at, updated_at`

func scanAccount(row *sql.Row) (*models.Account, error) {
	var account models.Account
	var sessionToken sql.NullString
	err := row.Scan(&account.ID, &account.Email, &sessionToken, &account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	account.SessionToken = sessionToken.String
	return &account, nil
}

func (s *SQLiteStorage) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	return scanAccount(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStorage) FindAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = ?`
	return scanAccount(s.db.QueryRowContext(ctx, query, email))
}

func (s *SQLiteStorage) FindAccountBySessionToken(ctx context.Context, token string) (*models.Account, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE session_token = ?`
	return scanAccount(s.db.QueryRowContext(ctx, query, token))
}

func (s *SQLiteStorage) SaveAccount(ctx context.Context, account *models.Account) error {
	query := `INSERT OR REPLACE INTO accounts (id, email, session_token, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.Email,
		nullable(account.SessionToken),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

const licenseColumns = `id, account_id, token, plan, status, expires_at, devices, external_subscription_ref, features, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*models.License, error) {
	var license models.License
	var token, ref sql.NullString
	var expiresAt sql.NullTime
	var devices, features string

	err := row.Scan(
		&license.ID,
		&license.AccountID,
		&token,
		&license.Plan,
		&license.Status,
		&expiresAt,
		&devices,
		&ref,
		&features,
		&license.CreatedAt,
		&license.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	license.Token = token.String
	license.ExternalSubscriptionRef = ref.String
	license.ExpiresAt = expiresAt.Time
	if err := json.Unmarshal([]byte(devices), &license.Devices); err != nil {
		return nil, fmt.Errorf("failed to parse devices column: %w", err)
	}
	if err := json.Unmarshal([]byte(features), &license.Features); err != nil {
		return nil, fmt.Errorf("failed to parse features column: %w", err)
	}
	return &license, nil
}

func (s *SQLiteStorage) GetLicenseByAccount(ctx context.Context, accountID string) (*models.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE account_id = ?`
	return scanLicense(s.db.QueryRowContext(ctx, query, accountID))
}

func (s *SQLiteStorage) FindLicenseByToken(ctx context.Context, token string) (*models.License, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE token = ?`
	return scanLicense(s.db.QueryRowContext(ctx, query, token))
}

func (s *SQLiteStorage) FindLicenseBySubscriptionRef(ctx context.Context, ref string) (*models.License, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE external_subscription_ref = ?`
	return scanLicense(s.db.QueryRowContext(ctx, query, ref))
}

func (s *SQLiteStorage) SaveLicense(ctx context.Context, license *models.License) error {
	return s.upsertLicense(ctx, s.db, license)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStorage) upsertLicense(ctx context.Context, db execer, license *models.License) error {
	devices, err := json.Marshal(license.Devices)
	if err != nil {
		return fmt.Errorf("failed to encode devices: %w", err)
	}
	features, err := json.Marshal(license.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	query := `INSERT OR REPLACE INTO licenses (` + licenseColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, query,
		license.ID,
		license.AccountID,
		nullable(license.Token),
		license.Plan,
		license.Status,
		nullableTime(license.ExpiresAt),
		string(devices),
		nullable(license.ExternalSubscriptionRef),
		string(features),
		license.CreatedAt,
		license.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save license: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpdateLicense(ctx context.Context, accountID string, fn func(*models.License) error) (*models.License, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE account_id = ?`
	license, err := scanLicense(tx.QueryRowContext(ctx, query, accountID))
	if err != nil {
		return nil, err
	}

	if err := fn(license); err != nil {
		return nil, err
	}
	license.UpdatedAt = time.Now().UTC()

	if err := s.upsertLicense(ctx, tx, license); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit license update: %w", err)
	}
	return license, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
