package gdrive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	admin "google.golang.org/api/admin/directory/v1"
)

// usersPageSize is the maxResults value for directory listings (API maximum).
const usersPageSize = 500

// ListUsers enumerates every user of the client's domain, ordered by login.
// The client must impersonate a domain administrator; a 403 is reported as
// ErrNotAdmin.
func (c *Client) ListUsers(ctx context.Context) ([]string, error) {
	c.logger.Info("listing domain users", slog.String("domain", c.domain))

	seen := make(map[string]struct{})

	var (
		token string
		page  int
	)

	for {
		var users *admin.Users

		err := c.call(ctx, "list users", []int{http.StatusForbidden}, func() error {
			call := c.directory.Users.List().
				Domain(c.domain).
				OrderBy("email").
				MaxResults(usersPageSize).
				Context(ctx)
			if token != "" {
				call = call.PageToken(token)
			}

			resp, err := call.Do()
			if err != nil {
				return err
			}

			users = resp

			return nil
		})
		if IsExpectedStatus(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotAdmin, c.login)
		}

		if err != nil {
			return nil, fmt.Errorf("gdrive: listing users of %s: %w", c.domain, err)
		}

		page++

		for _, u := range users.Users {
			seen[LoginFromEmail(u.PrimaryEmail)] = struct{}{}
		}

		c.logger.Debug("fetched users page",
			slog.Int("page", page),
			slog.Int("count", len(users.Users)),
		)

		if users.NextPageToken == "" {
			break
		}

		token = users.NextPageToken
	}

	logins := make([]string, 0, len(seen))
	for login := range seen {
		logins = append(logins, login)
	}

	slices.Sort(logins)

	c.logger.Info("found domain users", slog.Int("count", len(logins)))

	return logins, nil
}
