// Package gdrive talks to the Google Workspace APIs on behalf of the backup
// engine: service-account validation, per-user impersonation, raw content
// requests with retry and error classification, user enumeration, and
// paginated Drive listings.
package gdrive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// Sentinel errors. Use errors.Is(err, gdrive.ErrTokenExpired) to check.
var (
	// ErrInvalidCredentials means the service-account key was rejected or
	// could not be parsed. Fatal.
	ErrInvalidCredentials = errors.New("gdrive: invalid application credentials")

	// ErrUnauthorizedApp means the application has not been granted
	// domain-wide delegation (or the impersonated user does not exist). Fatal.
	ErrUnauthorizedApp = errors.New("gdrive: application not authorized on the domain")

	// ErrTokenExpired means the API rejected the bearer token. The caller
	// decides whether to re-authorize and retry.
	ErrTokenExpired = errors.New("gdrive: authorization expired")

	// ErrNotAdmin means the configured admin login cannot enumerate the
	// domain's users. Fatal.
	ErrNotAdmin = errors.New("gdrive: login is not a domain administrator")
)

// maxErrorBody bounds how much of a failed response body is kept for
// diagnostics.
const maxErrorBody = 64 * 1024

// Error reasons Google attaches to a 403 that only means "slow down".
var rateLimitReasons = []string{"rateLimitExceeded", "userRateLimitExceeded"}

// RequestFailedError is returned for a non-2xx response that the caller did
// not anticipate. It keeps the status, headers and body for diagnostics.
type RequestFailedError struct {
	Status int
	Header http.Header
	Body   string
	// Reason is the first error reason from a Google JSON error body.
	Reason string
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("gdrive: HTTP request failed (status %d, headers %v): %s", e.Status, e.Header, e.Body)
}

// Throttled reports a 429, or a 403 whose reason is a rate limit.
func (e *RequestFailedError) Throttled() bool {
	return e.Status == http.StatusTooManyRequests ||
		(e.Status == http.StatusForbidden && slices.Contains(rateLimitReasons, e.Reason))
}

// RetryAfter reports the server's requested wait for throttled responses,
// which the retry policy uses as a floor for its next sleep.
func (e *RequestFailedError) RetryAfter() time.Duration {
	if !e.Throttled() || e.Header == nil {
		return 0
	}

	if seconds, err := strconv.Atoi(e.Header.Get("Retry-After")); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return 0
}

// ExpectedStatusError is returned when the response status is one the caller
// listed in RequestOptions.Expected. It is never retried.
type ExpectedStatusError struct {
	Status int
}

func (e *ExpectedStatusError) Error() string {
	return fmt.Sprintf("gdrive: expected failure status %d", e.Status)
}

// IsExpectedStatus reports whether err carries an anticipated status code.
func IsExpectedStatus(err error) bool {
	var ese *ExpectedStatusError
	return errors.As(err, &ese)
}

// isFatal lists the errors the request layer never retries.
func isFatal(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrUnauthorizedApp) ||
		IsExpectedStatus(err)
}

// classifyStatus maps a non-2xx response to an error. Throttling is checked
// before the expected set, so a rate-limited 403 is retried even when the
// caller treats 403 as final.
func classifyStatus(status int, header http.Header, body []byte, expected []int) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}

	rfe := &RequestFailedError{
		Status: status,
		Header: header,
		Body:   string(body),
		Reason: errorReason(status, header, body),
	}

	if rfe.Throttled() {
		return rfe
	}

	if slices.Contains(expected, status) {
		return &ExpectedStatusError{Status: status}
	}

	if status == http.StatusUnauthorized {
		return fmt.Errorf("%w: HTTP %d", ErrTokenExpired, status)
	}

	return rfe
}

// errorReason extracts the reason of a Google JSON error body. A rate-limit
// reason wins over any other listed first.
func errorReason(status int, header http.Header, body []byte) string {
	err := googleapi.CheckResponse(&http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
	})

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return ""
	}

	reason := ""

	for _, item := range gerr.Errors {
		if slices.Contains(rateLimitReasons, item.Reason) {
			return item.Reason
		}

		if reason == "" {
			reason = item.Reason
		}
	}

	return reason
}

// classifyError normalizes errors coming out of the Google SDK services or the
// oauth2 transport into this package's taxonomy. nil stays nil.
func classifyError(err error, expected []int) error {
	if err == nil {
		return nil
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return tokenError(re, ErrUnauthorizedApp)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classifyStatus(gerr.Code, gerr.Header, []byte(gerr.Body), expected)
	}

	return err
}

// tokenError classifies a failure from the token endpoint. Throttling and
// server errors come back as a retryable *RequestFailedError. Any other
// rejection maps to sentinel, except invalid_client, which always means the
// key itself was refused.
func tokenError(re *oauth2.RetrieveError, sentinel error) error {
	var (
		status int
		header http.Header
	)

	if re.Response != nil {
		status = re.Response.StatusCode
		header = re.Response.Header
	}

	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		body := re.Body
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}

		return fmt.Errorf("gdrive: token endpoint unavailable: %w",
			&RequestFailedError{Status: status, Header: header, Body: string(body)})
	}

	code := tokenErrorCode(re)
	if code == "invalid_client" {
		sentinel = ErrInvalidCredentials
	}

	if code == "" && re.Response != nil {
		code = re.Response.Status
	}

	return fmt.Errorf("%w: token endpoint said %q", sentinel, code)
}

// tokenErrorCode returns the RFC 6749 error code. The jwt flow leaves
// ErrorCode empty, so the body is consulted too.
func tokenErrorCode(re *oauth2.RetrieveError) string {
	if re.ErrorCode != "" {
		return re.ErrorCode
	}

	var body struct {
		Error string `json:"error"`
	}

	if json.Unmarshal(re.Body, &body) != nil {
		return ""
	}

	return body.Error
}
