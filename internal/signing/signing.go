package signing

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"keyserve.app/cloud/internal/license"
	"keyserve.app/cloud/internal/models"
)

const DefaultAssertionTTL = 72 * time.Hour

var (
	// ErrNotConfigured means no signing keypair was provisioned.
	ErrNotConfigured = errors.New("signing key not configured")

	// ErrInvalidSignature means the assertion is tampered with or was signed
	// by a different key.
	ErrInvalidSignature = errors.New("assertion signature invalid")

	// ErrExpired means the assertion verified but its validity window passed.
	// Clients should retry an online refresh.
	ErrExpired = errors.New("assertion expired")
)

// AssertionClaims is the self-contained payload a client holds to prove
// license validity offline. Everything needed for an offline decision is in
// here; verification requires only the published public key.
type AssertionClaims struct {
	AccountID   string          `json:"account_id"`
	LicenseID   string          `json:"license_id"`
	LicenseKey  string          `json:"license_key"`
	Plan        models.Plan     `json:"plan"`
	Status      models.Status   `json:"status"`
	DeviceID    string          `json:"device_id"`
	DeviceQuota int             `json:"device_quota"`
	Features    map[string]bool `json:"features,omitempty"`
	jwt.RegisteredClaims
}

// Authority issues and verifies signed license assertions. Stateless apart
// from the keypair, which is loaded once at startup.
type Authority struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	ttl     time.Duration
}

// NewAuthority parses a PKCS#8 PEM-encoded Ed25519 private key. A zero ttl
// falls back to DefaultAssertionTTL.
func NewAuthority(privateKeyPEM string, ttl time.Duration) (*Authority, error) {
	if privateKeyPEM == "" {
		return nil, ErrNotConfigured
	}

	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("signing key is not valid PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	private, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is not an Ed25519 key")
	}

	if ttl <= 0 {
		ttl = DefaultAssertionTTL
	}
	return &Authority{
		private: private,
		public:  private.Public().(ed25519.PublicKey),
		ttl:     ttl,
	}, nil
}

// TTL is the validity window applied to issued assertions.
func (a *Authority) TTL() time.Duration {
	return a.ttl
}

// IssueAssertion signs a time-bounded assertion for one device on a license.
func (a *Authority) IssueAssertion(l *models.License, deviceID string) (string, error) {
	if a == nil || len(a.private) != ed25519.PrivateKeySize {
		return "", ErrNotConfigured
	}

	now := time.Now().UTC()
	claims := AssertionClaims{
		AccountID:   l.AccountID,
		LicenseID:   l.ID,
		LicenseKey:  l.Token,
		Plan:        l.Plan,
		Status:      l.Status,
		DeviceID:    deviceID,
		DeviceQuota: license.Quota(l.Plan),
		Features:    l.Features,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   l.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(a.private)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}
	return signed, nil
}

// PublicKeyPEM returns the verification key in PKIX PEM form.
func (a *Authority) PublicKeyPEM() (string, error) {
	if a == nil || len(a.public) != ed25519.PublicKeySize {
		return "", ErrNotConfigured
	}
	der, err := x509.MarshalPKIXPublicKey(a.public)
	if err != nil {
		return "", fmt.Errorf("failed to encode public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// VerifyAssertion checks signature and validity window. Expiry is reported
// distinctly from signature failures so clients know a refresh can help.
func (a *Authority) VerifyAssertion(signed string) (*AssertionClaims, error) {
	if a == nil || len(a.public) != ed25519.PublicKeySize {
		return nil, ErrNotConfigured
	}

	var claims AssertionClaims
	_, err := jwt.ParseWithClaims(signed, &claims, func(t *jwt.Token) (any, error) {
		return a.public, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidSignature
	}
	return &claims, nil
}
