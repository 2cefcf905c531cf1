package backup

import (
	"context"

	"github.com/tonimelisma/drivevault/internal/gdrive"
)

// Connector reaches the domain: credential validation, user enumeration and
// per-user clients. GoogleConnector is the real one; tests use fakes.
type Connector interface {
	Validate(ctx context.Context) error
	Users(ctx context.Context) ([]string, error)
	Client(ctx context.Context, login string) (Client, error)
}

// GoogleConnector connects through a service account with domain-wide
// delegation.
type GoogleConnector struct {
	Credentials *gdrive.Credentials
	Domain      string
	AdminLogin  string
	Options     gdrive.Options
}

// Validate checks the key and the delegation grant for the admin login.
func (g *GoogleConnector) Validate(ctx context.Context) error {
	return g.Credentials.Validate(ctx, gdrive.EmailAddress(g.AdminLogin, g.Domain))
}

// Users lists the domain's logins as the admin.
func (g *GoogleConnector) Users(ctx context.Context) ([]string, error) {
	c, err := gdrive.NewClient(ctx, g.Credentials, g.Domain, g.AdminLogin, g.Options)
	if err != nil {
		return nil, err
	}

	return c.ListUsers(ctx)
}

// Client returns an authorized client impersonating login.
func (g *GoogleConnector) Client(ctx context.Context, login string) (Client, error) {
	c, err := gdrive.NewClient(ctx, g.Credentials, g.Domain, login, g.Options)
	if err != nil {
		return nil, err
	}

	return c, nil
}

var _ Connector = (*GoogleConnector)(nil)
