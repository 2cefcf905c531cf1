package backend

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/drivevault/internal/document"
)

var sessionStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newBackend(t *testing.T, kind Kind, root string, opts Options) Backend {
	t.Helper()

	opts.Root = root
	if opts.Session.IsZero() {
		opts.Session = NewSession(sessionStart)
	}

	b, err := New(kind, opts)
	require.NoError(t, err)

	return b
}

func testDoc(id, title string) *document.Document {
	return &document.Document{ID: id, Title: title, ModifiedAt: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)}
}

func rendition(name, body string, modified time.Time) *document.Rendition {
	r := document.NewRendition(name, modified, []byte(body))
	r.URL = "https://dl/" + name

	return r
}

// mkSession creates root/<session>/<entries...>; entries ending in "/" are
// directories holding one file.
func mkSession(t *testing.T, root string, s Session, entries ...string) string {
	t.Helper()

	dir := filepath.Join(root, s.Name())
	require.NoError(t, os.MkdirAll(dir, 0o755))

	for _, e := range entries {
		p := filepath.Join(dir, e)

		if e[len(e)-1] == '/' {
			require.NoError(t, os.MkdirAll(p, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(p, "doc_1.txt"), []byte("x"), 0o644))

			continue
		}

		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	return dir
}

func exists(t *testing.T, p string) bool {
	t.Helper()

	_, err := os.Stat(p)
	if os.IsNotExist(err) {
		return false
	}

	require.NoError(t, err)

	return true
}
