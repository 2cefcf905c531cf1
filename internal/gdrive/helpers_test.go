package gdrive

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2/jwt"

	"github.com/tonimelisma/drivevault/internal/retry"
)

const testDomain = "example.com"

var (
	keyOnce sync.Once
	keyPEM  []byte
)

// testKey returns a PEM-encoded RSA key shared by all tests in the package.
func testKey(t *testing.T) []byte {
	t.Helper()

	keyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}

		keyPEM = pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})
	})

	return keyPEM
}

func fastPolicy() retry.Policy {
	return retry.Policy{Attempts: 3, Delay: time.Millisecond, Factor: 2}
}

// fakeGoogle is an httptest server standing in for the token endpoint and
// the Drive / Directory APIs.
type fakeGoogle struct {
	*httptest.Server

	mu sync.Mutex
	// rejectAll makes the token endpoint refuse every assertion.
	rejectAll bool
	// denied subjects get a 401 from the token endpoint.
	denied map[string]bool
	// subjects records the sub claim of every token request.
	subjects []string
	// outages are statuses served, in order, before any real token.
	outages []int
}

func newFakeGoogle(t *testing.T, api http.Handler) *fakeGoogle {
	t.Helper()

	fg := &fakeGoogle{denied: make(map[string]bool)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", fg.handleToken)

	if api != nil {
		mux.Handle("/", api)
	}

	fg.Server = httptest.NewServer(mux)
	t.Cleanup(fg.Close)

	return fg
}

func (fg *fakeGoogle) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub := assertionSubject(r.PostForm.Get("assertion"))

	fg.mu.Lock()
	fg.subjects = append(fg.subjects, sub)
	reject := fg.rejectAll || fg.denied[sub]

	outage := 0
	if len(fg.outages) > 0 {
		outage, fg.outages = fg.outages[0], fg.outages[1:]
	}
	fg.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	if outage != 0 {
		w.WriteHeader(outage)
		_, _ = w.Write([]byte(`{"error":"backend_error"}`))

		return
	}

	if reject {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized_client"}`))

		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "tok-" + sub,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

// assertionSubject extracts the sub claim from a signed JWT assertion
// without verifying it.
func assertionSubject(assertion string) string {
	parts := strings.Split(assertion, ".")
	if len(parts) != 3 {
		return ""
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}

	var claims struct {
		Sub string `json:"sub"`
	}

	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}

	return claims.Sub
}

func (fg *fakeGoogle) deny(subject string) {
	fg.mu.Lock()
	defer fg.mu.Unlock()

	fg.denied[subject] = true
}

// failTokens queues token endpoint failures served before normal replies.
func (fg *fakeGoogle) failTokens(statuses ...int) {
	fg.mu.Lock()
	defer fg.mu.Unlock()

	fg.outages = append(fg.outages, statuses...)
}

func (fg *fakeGoogle) setRejectAll() {
	fg.mu.Lock()
	defer fg.mu.Unlock()

	fg.rejectAll = true
}

func (fg *fakeGoogle) tokenSubjects() []string {
	fg.mu.Lock()
	defer fg.mu.Unlock()

	return append([]string(nil), fg.subjects...)
}

func (fg *fakeGoogle) credentials(t *testing.T) *Credentials {
	t.Helper()

	creds, err := NewCredentials(&jwt.Config{
		Email:      "backup@project.iam.gserviceaccount.com",
		PrivateKey: testKey(t),
		Scopes:     DefaultScopes,
		TokenURL:   fg.URL + "/token",
	}, fastPolicy(), slog.Default())
	require.NoError(t, err)

	return creds
}

func (fg *fakeGoogle) client(t *testing.T, login string) *Client {
	t.Helper()

	c, err := NewClient(context.Background(), fg.credentials(t), testDomain, login, Options{
		HTTPClient:        fg.Client(),
		Retry:             fastPolicy(),
		DriveEndpoint:     fg.URL + "/drive/v2/",
		DirectoryEndpoint: fg.URL + "/",
	})
	require.NoError(t, err)

	return c
}

func writeJSONFile(t *testing.T, path string, v any) {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
