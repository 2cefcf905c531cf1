package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	admin "google.golang.org/api/admin/directory/v1"
	drive "google.golang.org/api/drive/v2"
	"google.golang.org/api/option"

	"github.com/tonimelisma/drivevault/internal/retry"
)

const (
	defaultUserAgent   = "drivevault/0.1"
	defaultHTTPTimeout = 5 * time.Minute
)

// Options configures a Client. Zero values get sensible defaults.
type Options struct {
	// HTTPClient is the unauthenticated base client; its Transport and
	// Timeout are reused under the oauth2 transport.
	HTTPClient *http.Client
	Retry      retry.Policy
	UserAgent  string
	Logger     *slog.Logger

	// DriveEndpoint and DirectoryEndpoint override the Google API base URLs.
	// Used by tests to point at httptest servers.
	DriveEndpoint     string
	DirectoryEndpoint string
}

// RequestOptions tune a single Request call.
type RequestOptions struct {
	// Expected lists status codes the caller wants back as an
	// *ExpectedStatusError instead of a generic failure.
	Expected []int
	// Stream returns the body unread in Response.Stream.
	Stream bool
}

// Response is a successful (2xx) HTTP response. Exactly one of Body or Stream
// is set, depending on RequestOptions.Stream.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Stream io.ReadCloser
}

// ContentLength returns the declared Content-Length, or -1 when absent.
func (r *Response) ContentLength() int64 {
	v := r.Header.Get("Content-Length")
	if v == "" {
		return -1
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}

	return n
}

// Client performs API calls as one impersonated user. It is not safe for
// concurrent re-authorization; each principal gets its own Client.
type Client struct {
	creds  *Credentials
	domain string
	login  string
	opts   Options
	logger *slog.Logger

	httpClient *http.Client
	drive      *drive.Service
	directory  *admin.Service
}

// NewClient builds a client acting as login@domain and authorizes it.
func NewClient(ctx context.Context, creds *Credentials, domain, login string, opts Options) (*Client, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{
		creds:  creds,
		domain: domain,
		login:  LoginFromEmail(login),
		opts:   opts,
		logger: opts.Logger.With(slog.String("login", LoginFromEmail(login))),
	}

	if err := c.Authorize(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// Login returns the impersonated user's login (no domain part).
func (c *Client) Login() string {
	return c.login
}

// Email returns the impersonated user's address.
func (c *Client) Email() string {
	return EmailAddress(c.login, c.domain)
}

// Authorize (re)builds the impersonated HTTP client and API services from a
// fresh token source. Called at construction and whenever the caller saw
// ErrTokenExpired.
func (c *Client) Authorize(ctx context.Context) error {
	c.logger.Debug("authorizing client")

	base := c.opts.HTTPClient
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, base)

	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	hc := &http.Client{
		Transport: &oauth2.Transport{
			Source: c.creds.TokenSource(tokenCtx, c.Email()),
			Base:   transport,
		},
		Timeout: base.Timeout,
	}

	driveOpts := []option.ClientOption{option.WithHTTPClient(hc), option.WithUserAgent(c.opts.UserAgent)}
	if c.opts.DriveEndpoint != "" {
		driveOpts = append(driveOpts, option.WithEndpoint(c.opts.DriveEndpoint))
	}

	driveSvc, err := drive.NewService(ctx, driveOpts...)
	if err != nil {
		return fmt.Errorf("gdrive: creating drive service: %w", err)
	}

	dirOpts := []option.ClientOption{option.WithHTTPClient(hc), option.WithUserAgent(c.opts.UserAgent)}
	if c.opts.DirectoryEndpoint != "" {
		dirOpts = append(dirOpts, option.WithEndpoint(c.opts.DirectoryEndpoint))
	}

	dirSvc, err := admin.NewService(ctx, dirOpts...)
	if err != nil {
		return fmt.Errorf("gdrive: creating directory service: %w", err)
	}

	c.httpClient = hc
	c.drive = driveSvc
	c.directory = dirSvc

	return nil
}

// Request issues a GET to url with the impersonated identity. Transient
// failures are retried under the client's policy. Expected statuses,
// ErrTokenExpired and credential errors surface immediately. Other non-2xx
// responses become *RequestFailedError once the attempt budget is spent.
// With opts.Stream the caller owns Response.Stream and must close it.
func (c *Client) Request(ctx context.Context, url string, opts RequestOptions) (*Response, error) {
	var out *Response

	err := c.opts.Retry.DoFunc(ctx, "request", func() error {
		resp, err := c.doOnce(ctx, url, opts)
		if err != nil {
			return err
		}

		out = resp

		return nil
	}, isFatal)
	if err != nil {
		return nil, err
	}

	return out, nil
}

// doOnce executes a single request (no retry).
func (c *Client) doOnce(ctx context.Context, url string, opts RequestOptions) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("gdrive: creating request: %w", err)
	}

	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, tokenError(re, ErrUnauthorizedApp)
		}

		return nil, fmt.Errorf("gdrive: GET failed: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()

		return nil, classifyStatus(resp.StatusCode, resp.Header, body, opts.Expected)
	}

	out := &Response{Status: resp.StatusCode, Header: resp.Header}

	if opts.Stream {
		out.Stream = resp.Body
		return out, nil
	}

	defer resp.Body.Close()

	out.Body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gdrive: reading response body: %w", err)
	}

	return out, nil
}

// call runs one SDK operation under the retry policy with error
// classification.
func (c *Client) call(ctx context.Context, name string, expected []int, fn func() error) error {
	return c.opts.Retry.DoFunc(ctx, name, func() error {
		return classifyError(fn(), expected)
	}, isFatal)
}

// EmailAddress joins a login and a domain.
func EmailAddress(login, domain string) string {
	return login + "@" + domain
}

// LoginFromEmail strips the domain part of an address, if any.
func LoginFromEmail(email string) string {
	login, _, _ := strings.Cut(email, "@")
	return login
}
