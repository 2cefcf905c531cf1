package backup

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	drive "google.golang.org/api/drive/v2"

	"github.com/tonimelisma/drivevault/internal/backend"
	"github.com/tonimelisma/drivevault/internal/gdrive"
	"github.com/tonimelisma/drivevault/internal/retry"
)

var sessionStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const sessionName = "2024-06-01T120000Z"

// content scripts one download URL. A zero status means 200.
type content struct {
	body      string
	status    int
	md5Header string // overrides the computed Content-MD5
}

// fakeClient is one user's view of Drive. Token expiry is injected per key:
// "list:<token>", "get:<url>" or "meta:<id>", each counting down the number
// of ErrTokenExpired answers still to give.
type fakeClient struct {
	mu sync.Mutex

	pages    [][]*drive.File
	folders  []*drive.File
	files    map[string]*drive.File
	contents map[string]content
	expire   map[string]int
	authErr  error

	authorizations int
	calls          []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		files:    make(map[string]*drive.File),
		contents: make(map[string]content),
		expire:   make(map[string]int),
	}
}

func (c *fakeClient) expired(key string) bool {
	if c.expire[key] > 0 {
		c.expire[key]--
		return true
	}

	return false
}

func (c *fakeClient) ListFilesPage(_ context.Context, query, token string) (*drive.FileList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if query == gdrive.QueryFolders {
		c.calls = append(c.calls, "folders")
		return &drive.FileList{Items: c.folders}, nil
	}

	c.calls = append(c.calls, "list:"+token)

	if c.expired("list:" + token) {
		return nil, gdrive.ErrTokenExpired
	}

	i := 0
	if token != "" {
		n, err := strconv.Atoi(token[1:])
		if err != nil {
			return nil, fmt.Errorf("bad token %q", token)
		}

		i = n
	}

	list := &drive.FileList{}
	if i < len(c.pages) {
		list.Items = c.pages[i]
	}

	if i+1 < len(c.pages) {
		list.NextPageToken = "p" + strconv.Itoa(i+1)
	}

	return list, nil
}

func (c *fakeClient) GetFile(_ context.Context, id string) (*drive.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, "meta:"+id)

	if c.expired("meta:" + id) {
		return nil, gdrive.ErrTokenExpired
	}

	f, ok := c.files[id]
	if !ok {
		return nil, &gdrive.RequestFailedError{Status: http.StatusNotFound}
	}

	return f, nil
}

func (c *fakeClient) Request(_ context.Context, url string, opts gdrive.RequestOptions) (*gdrive.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, "get:"+url)

	if c.expired("get:" + url) {
		return nil, gdrive.ErrTokenExpired
	}

	ct, ok := c.contents[url]
	if !ok {
		return nil, fmt.Errorf("unexpected request for %s", url)
	}

	if ct.status >= http.StatusMultipleChoices {
		for _, e := range opts.Expected {
			if e == ct.status {
				return nil, &gdrive.ExpectedStatusError{Status: ct.status}
			}
		}

		return nil, &gdrive.RequestFailedError{Status: ct.status}
	}

	h := http.Header{}
	h.Set("Content-Length", strconv.Itoa(len(ct.body)))

	if ct.md5Header != "" {
		h.Set("Content-MD5", ct.md5Header)
	} else {
		h.Set("Content-MD5", md5Base64(ct.body))
	}

	resp := &gdrive.Response{Status: http.StatusOK, Header: h}
	if opts.Stream {
		resp.Stream = io.NopCloser(bytes.NewReader([]byte(ct.body)))
	} else {
		resp.Body = []byte(ct.body)
	}

	return resp, nil
}

func (c *fakeClient) Authorize(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, "authorize")
	c.authorizations++

	return c.authErr
}

// requests returns the recorded calls with the given prefix.
func (c *fakeClient) requests(prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string

	for _, call := range c.calls {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			out = append(out, call)
		}
	}

	return out
}

func md5Base64(s string) string {
	sum := md5.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func md5Hex(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

// directFile is an uploaded file with a direct download URL.
func directFile(id, title, body string) *drive.File {
	return &drive.File{
		Id:             id,
		Title:          title,
		MimeType:       "text/plain",
		DownloadUrl:    "https://dl/" + id,
		Md5Checksum:    md5Hex(body),
		FileSize:       int64(len(body)),
		ModifiedDate:   "2024-05-01T09:30:00Z",
		UserPermission: &drive.Permission{Role: "owner"},
	}
}

// exportDoc is a native document exportable to each format in exts.
func exportDoc(id, title string, exts ...string) *drive.File {
	links := make(map[string]string, len(exts))
	for _, ext := range exts {
		links["application/x-"+ext] = exportURL(id, ext)
	}

	return &drive.File{
		Id:             id,
		Title:          title,
		MimeType:       "application/vnd.google-apps.document",
		ExportLinks:    links,
		ModifiedDate:   "2024-05-01T09:30:00Z",
		UserPermission: &drive.Permission{Role: "owner"},
	}
}

func exportURL(id, ext string) string {
	return "https://export/" + id + "?exportFormat=" + ext
}

func folderFile(id, title string) *drive.File {
	return &drive.File{
		Id:       id,
		Title:    title,
		MimeType: gdrive.FolderMimeType,
		Parents:  []*drive.ParentReference{{Id: "root", IsRoot: true}},
	}
}

func fastPolicy() retry.Policy {
	return retry.Policy{Attempts: 2, Delay: time.Millisecond, Factor: 2}
}

func newPlainBackend(t *testing.T, root string, keepDirs bool) backend.Backend {
	t.Helper()

	b, err := backend.New(backend.KindPlain, backend.Options{
		Root:     root,
		Session:  backend.NewSession(sessionStart),
		KeepDirs: keepDirs,
	})
	require.NoError(t, err)

	return b
}

func userConfig(b backend.Backend) UserConfig {
	return UserConfig{Backend: b, Retry: fastPolicy()}
}
