package backend

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/drivevault/internal/document"
)

type tarEntry struct {
	name    string
	size    int64
	modTime time.Time
	body    string
}

func readArchive(t *testing.T, p string, c Compression) []tarEntry {
	t.Helper()

	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()

	var r io.Reader

	switch c {
	case CompressionBzip2:
		br, err := bzip2.NewReader(f, nil)
		require.NoError(t, err)
		defer br.Close()

		r = br
	default:
		gr, err := gzip.NewReader(f)
		require.NoError(t, err)
		defer gr.Close()

		r = gr
	}

	var out []tarEntry

	tr := tar.NewReader(r)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out
		}

		require.NoError(t, err)

		body, err := io.ReadAll(tr)
		require.NoError(t, err)

		out = append(out, tarEntry{name: hdr.Name, size: hdr.Size, modTime: hdr.ModTime, body: string(body)})
	}
}

func TestArchive_WritesPerPrincipalArchives(t *testing.T) {
	for _, c := range []Compression{CompressionGzip, CompressionBzip2} {
		t.Run(string(c), func(t *testing.T) {
			root := t.TempDir()
			b := newBackend(t, KindArchive, root, Options{Compression: c, KeepDirs: true})
			ctx := context.Background()

			doc := testDoc("d1", "Plan")
			_, err := b.Save(ctx, "alice", "Projects", doc, []*document.Rendition{
				rendition("Plan_d1.pdf", "pdf bytes", doc.ModifiedAt),
			})
			require.NoError(t, err)

			streamed := document.NewStreamRendition("Notes_d2.txt", time.Time{}, io.NopCloser(strings.NewReader("streamed notes")), t.TempDir())
			_, err = b.Save(ctx, "alice", "", testDoc("d2", "Notes"), []*document.Rendition{streamed})
			require.NoError(t, err)

			_, err = b.Save(ctx, "bob", "", testDoc("d3", "Memo"), []*document.Rendition{
				rendition("Memo_d3.txt", "memo", time.Time{}),
			})
			require.NoError(t, err)

			require.NoError(t, b.ClosePrincipal("alice"))
			require.NoError(t, b.Finalize())

			sessionDir := filepath.Join(root, "2024-06-01T120000Z")

			alice := readArchive(t, filepath.Join(sessionDir, ArchiveName("alice", c)), c)
			require.Len(t, alice, 2)
			assert.Equal(t, "Projects/Plan_d1.pdf", alice[0].name)
			assert.Equal(t, int64(9), alice[0].size)
			assert.True(t, alice[0].modTime.Equal(doc.ModifiedAt))
			assert.Equal(t, "pdf bytes", alice[0].body)
			assert.Equal(t, "Notes_d2.txt", alice[1].name)
			assert.Equal(t, "streamed notes", alice[1].body)
			assert.True(t, alice[1].modTime.Equal(sessionStart))

			bob := readArchive(t, filepath.Join(sessionDir, ArchiveName("bob", c)), c)
			require.Len(t, bob, 1)
			assert.Equal(t, "memo", bob[0].body)
		})
	}
}

func TestArchive_VerificationFailureWritesNoEntry(t *testing.T) {
	root := t.TempDir()
	b := newBackend(t, KindArchive, root, Options{})
	doc := testDoc("d1", "Plan")

	good := rendition("Plan_d1.odt", "odt", time.Time{})
	bad := streamedRendition(t, "Plan_d1.pdf", &failingReader{err: document.ErrVerification})

	_, err := b.Save(context.Background(), "alice", "", doc, []*document.Rendition{good, bad})
	require.ErrorIs(t, err, document.ErrVerification)
	assert.True(t, doc.Persisted(good.URL))

	require.NoError(t, b.Finalize())

	entries := readArchive(t, filepath.Join(root, "2024-06-01T120000Z", "alice.tar.gz"), CompressionGzip)
	require.Len(t, entries, 1)
	assert.Equal(t, "Plan_d1.odt", entries[0].name)
}

func TestArchive_WritesAfterFinalizeFail(t *testing.T) {
	b := newBackend(t, KindArchive, t.TempDir(), Options{})
	require.NoError(t, b.Finalize())

	_, err := b.Save(context.Background(), "alice", "", testDoc("d1", "x"), []*document.Rendition{
		rendition("x_d1.txt", "x", time.Time{}),
	})
	require.ErrorIs(t, err, errClosed)
}

func TestArchive_CleanUpRemovesSession(t *testing.T) {
	root := t.TempDir()
	b := newBackend(t, KindArchive, root, Options{Compression: CompressionBzip2})

	_, err := b.Save(context.Background(), "alice", "", testDoc("d1", "x"), []*document.Rendition{
		rendition("x_d1.txt", "x", time.Time{}),
	})
	require.NoError(t, err)

	require.NoError(t, b.CleanUp())
	assert.False(t, exists(t, filepath.Join(root, "2024-06-01T120000Z")))
}

func TestArchiveEntryLogin(t *testing.T) {
	for name, want := range map[string]string{
		"alice.tar.gz":  "alice",
		"bob.tar.bz2":   "bob",
		"j.doe.tar.gz":  "j.doe",
		"carol.tar":     "",
		".tar.gz":       "",
		"dave.tar.gz.x": "",
	} {
		login, ok := archiveEntryLogin(name, false)
		assert.Equal(t, want != "", ok, name)
		assert.Equal(t, want, login, name)
	}

	_, ok := archiveEntryLogin("alice.tar.gz", true)
	assert.False(t, ok)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(KindPlain, Options{})
	require.Error(t, err)

	_, err = New(KindArchive, Options{Root: t.TempDir(), Compression: "zstd"})
	require.Error(t, err)

	_, err = New(Kind("s3"), Options{Root: t.TempDir()})
	require.Error(t, err)

	k, err := ParseKind(" Archive ")
	require.NoError(t, err)
	assert.Equal(t, KindArchive, k)

	c, err := ParseCompression("bz2")
	require.NoError(t, err)
	assert.Equal(t, CompressionBzip2, c)
}
