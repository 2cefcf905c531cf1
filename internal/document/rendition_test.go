package document

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackingCloser records Close on a stream.
type trackingCloser struct {
	io.Reader
	closed bool
}

func (c *trackingCloser) Close() error {
	c.closed = true
	return nil
}

func TestRendition_BufferedConsumedOnce(t *testing.T) {
	r := NewRendition("a_1.txt", time.Time{}, []byte("hello"))

	n, err := r.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.False(t, r.Streamed())

	got, err := readAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	_, err = readAll(r)
	require.ErrorIs(t, err, ErrConsumed)
}

func TestRendition_StreamedWithoutSize(t *testing.T) {
	src := &trackingCloser{Reader: strings.NewReader("streamed content")}
	r := newStreamedRendition(Candidate{URL: "u"}, "s_1.txt", time.Time{}, src, t.TempDir(), 4)

	got, err := readAll(r)
	require.NoError(t, err)
	assert.Equal(t, "streamed content", got)

	n, err := r.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(16), n)

	require.NoError(t, r.Close())
	assert.True(t, src.closed)
}

func TestRendition_SizeSpoolsAndCloseRemovesSpool(t *testing.T) {
	dir := t.TempDir()
	payload := strings.Repeat("x", 10_000)
	src := &trackingCloser{Reader: strings.NewReader(payload)}
	r := newStreamedRendition(Candidate{URL: "u"}, "s_1.bin", time.Time{}, src, dir, 1024)

	n, err := r.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.True(t, src.closed, "stream closed once spooled")

	spools, err := filepath.Glob(filepath.Join(dir, "drivevault-spool-*"))
	require.NoError(t, err)
	require.Len(t, spools, 1)

	got, err := readAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = os.Stat(spools[0])
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRendition_SpoolFailureSurfacesVerification(t *testing.T) {
	dir := t.TempDir()
	h := http.Header{}
	h.Set("Content-Length", "99")

	stream := newVerifyingReader(io.NopCloser(strings.NewReader("short")), expectationFor(&Document{}, "u", h))
	r := newStreamedRendition(Candidate{URL: "u"}, "v_1.txt", time.Time{}, stream, dir, 0)

	_, err := r.Size()
	require.ErrorIs(t, err, ErrVerification)

	spools, err := filepath.Glob(filepath.Join(dir, "drivevault-spool-*"))
	require.NoError(t, err)
	assert.Empty(t, spools)

	_, err = readAll(r)
	assert.ErrorIs(t, err, ErrConsumed)
}

func TestCopyChunks_BoundedWrites(t *testing.T) {
	var sizes []int

	w := writerFunc(func(p []byte) (int, error) {
		sizes = append(sizes, len(p))
		return len(p), nil
	})

	n, err := copyChunks(w, bytes.NewReader(make([]byte, 10)), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	for _, s := range sizes {
		assert.LessOrEqual(t, s, 4)
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
