package gdrive

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"

	"github.com/tonimelisma/drivevault/internal/retry"
)

// DefaultScopes are the OAuth scopes the backup needs: read-only Drive access
// for every user and read-only access to the domain's user directory.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/drive.readonly",
	"https://www.googleapis.com/auth/admin.directory.user.readonly",
}

// Credentials holds the service identity used to sign JWT assertions.
// Impersonation is done by copying the config and setting its Subject.
type Credentials struct {
	cfg    *jwt.Config
	policy retry.Policy
	logger *slog.Logger
}

// LoadCredentials reads a service-account JSON key file. A missing,
// unreadable or malformed key is reported as ErrInvalidCredentials.
func LoadCredentials(keyFile string, scopes []string, policy retry.Policy, logger *slog.Logger) (*Credentials, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: reading key file %s: %w", ErrInvalidCredentials, keyFile, err)
	}

	cfg, err := google.JWTConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing key file %s: %w", ErrInvalidCredentials, keyFile, err)
	}

	return NewCredentials(cfg, policy, logger)
}

// NewCredentials wraps an already-built JWT config. The private key is parsed
// up front so a corrupt key fails here rather than on the first request.
func NewCredentials(cfg *jwt.Config, policy retry.Policy, logger *slog.Logger) (*Credentials, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := checkPrivateKey(cfg.PrivateKey); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}

	logger.Debug("service account credentials loaded",
		slog.String("email", cfg.Email),
		slog.Int("scopes", len(cfg.Scopes)),
	)

	return &Credentials{cfg: cfg, policy: policy, logger: logger}, nil
}

// Email returns the service account's address.
func (c *Credentials) Email() string {
	return c.cfg.Email
}

// Validate proves the application can obtain tokens at all, then that it may
// act as adminEmail. The first failure is ErrInvalidCredentials, the second
// ErrUnauthorizedApp. Neither is retried; transport failures and token
// endpoint outages (429, 5xx) are.
func (c *Credentials) Validate(ctx context.Context, adminEmail string) error {
	if err := c.checkToken(ctx, "", ErrInvalidCredentials); err != nil {
		return err
	}

	c.logger.Debug("application credentials valid")

	if err := c.checkToken(ctx, adminEmail, ErrUnauthorizedApp); err != nil {
		return err
	}

	c.logger.Debug("domain-wide delegation granted", slog.String("admin", adminEmail))

	return nil
}

func (c *Credentials) checkToken(ctx context.Context, subject string, sentinel error) error {
	return c.policy.DoFunc(ctx, "validate credentials", func() error {
		_, err := c.TokenSource(ctx, subject).Token()
		if err == nil {
			return nil
		}

		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return tokenError(re, sentinel)
		}

		return fmt.Errorf("gdrive: fetching token: %w", err)
	}, isFatal)
}

// TokenSource returns a token source impersonating email. An empty email
// yields tokens for the service account itself. ctx must outlive the source:
// it carries the HTTP client used for silent refreshes.
func (c *Credentials) TokenSource(ctx context.Context, email string) oauth2.TokenSource {
	cfg := *c.cfg
	cfg.Subject = email

	return cfg.TokenSource(ctx)
}

// checkPrivateKey accepts the PEM-encoded PKCS#8 or PKCS#1 RSA keys Google
// issues for service accounts.
func checkPrivateKey(key []byte) error {
	block, _ := pem.Decode(key)
	if block == nil {
		return errors.New("private key is not PEM encoded")
	}

	if _, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return nil
	}

	if _, err := x509.ParsePKCS1PrivateKey(block.Bytes); err != nil {
		return fmt.Errorf("parsing private key: %w", err)
	}

	return nil
}
