package backend

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"

	"github.com/tonimelisma/drivevault/internal/document"
)

// errClosed is returned by writes after Finalize or CleanUp.
var errClosed = errors.New("backend: session already closed")

// archiveSuffixes maps codecs to archive file suffixes.
var archiveSuffixes = map[Compression]string{
	CompressionGzip:  ".tar.gz",
	CompressionBzip2: ".tar.bz2",
}

// Archive writes one compressed tar stream per principal at
// root/session/login.tar.{gz|bz2}. A principal's archive is opened on its
// first Save and closed by ClosePrincipal, Finalize or CleanUp.
type Archive struct {
	store       *sessionStore
	keepDirs    bool
	compression Compression
	logger      *slog.Logger

	mu     sync.Mutex
	open   map[string]*archiveHandle
	saved  savedSet
	closed bool
}

// archiveHandle is one open archive. Only the goroutine processing its
// login writes to it.
type archiveHandle struct {
	path  string
	file  *os.File
	codec io.WriteCloser
	tw    *tar.Writer
}

func newArchive(opts Options) *Archive {
	return &Archive{
		store: &sessionStore{
			root:       opts.Root,
			session:    opts.Session,
			logger:     opts.Logger,
			entryLogin: archiveEntryLogin,
		},
		keepDirs:    opts.KeepDirs,
		compression: opts.Compression,
		logger:      opts.Logger,
		open:        make(map[string]*archiveHandle),
		saved:       make(savedSet),
	}
}

// ArchiveName is the file name of login's archive.
func ArchiveName(login string, c Compression) string {
	return login + archiveSuffixes[c]
}

// archiveEntryLogin strips either archive suffix, whatever codec the old
// session used.
func archiveEntryLogin(name string, isDir bool) (string, bool) {
	if isDir {
		return "", false
	}

	for _, suffix := range archiveSuffixes {
		if login, ok := strings.CutSuffix(name, suffix); ok && login != "" {
			return login, true
		}
	}

	return "", false
}

// Session implements Backend.
func (a *Archive) Session() Session {
	return a.store.session
}

// NeedsContent implements Backend.
func (a *Archive) NeedsContent(login string, doc *document.Document) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return !a.saved.has(login, doc.ID)
}

// Save implements Backend. Entry headers need the size up front, so
// streamed renditions are spooled first; a verification failure surfaces
// there, before anything is written to the archive.
func (a *Archive) Save(ctx context.Context, login, folderPath string, doc *document.Document, renditions []*document.Rendition) (int64, error) {
	h, err := a.handle(login)
	if err != nil {
		return 0, err
	}

	var total int64

	for _, r := range renditions {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		size, err := r.Size()
		if err != nil {
			return total, fmt.Errorf("backend: sizing %s for %s: %w", r.Name, login, err)
		}

		modTime := r.ModifiedAt
		if modTime.IsZero() {
			modTime = a.store.session.Start
		}

		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     a.entryName(folderPath, r.Name),
			Size:     size,
			Mode:     filePerms,
			ModTime:  modTime,
			Format:   tar.FormatPAX,
		}

		if err := h.tw.WriteHeader(hdr); err != nil {
			return total, fmt.Errorf("backend: writing header for %s in %s: %w", r.Name, h.path, err)
		}

		n, err := r.WriteTo(h.tw)
		if err != nil {
			return total, fmt.Errorf("backend: writing %s to %s: %w", r.Name, h.path, err)
		}

		doc.MarkPersisted(r.URL)
		total += n

		a.logger.Debug("archived rendition",
			slog.String("login", login),
			slog.String("doc_id", doc.ID),
			slog.String("entry", hdr.Name),
			slog.Int64("bytes", n),
		)
	}

	a.mu.Lock()
	a.saved.add(login, doc.ID)
	a.mu.Unlock()

	return total, nil
}

func (a *Archive) entryName(folderPath, name string) string {
	if a.keepDirs && folderPath != "" {
		return path.Join(folderPath, name)
	}

	return name
}

// handle returns login's open archive, creating it on first use.
func (a *Archive) handle(login string) (*archiveHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, errClosed
	}

	if h, ok := a.open[login]; ok {
		return h, nil
	}

	if err := a.store.ensureDir(); err != nil {
		return nil, err
	}

	p := filepath.Join(a.store.dir(), ArchiveName(login, a.compression))

	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerms)
	if err != nil {
		return nil, fmt.Errorf("backend: creating archive %s: %w", p, err)
	}

	codec, err := newCodec(f, a.compression)
	if err != nil {
		f.Close()
		os.Remove(p)

		return nil, err
	}

	h := &archiveHandle{path: p, file: f, codec: codec, tw: tar.NewWriter(codec)}
	a.open[login] = h

	a.logger.Debug("opened archive", slog.String("login", login), slog.String("path", p))

	return h, nil
}

func newCodec(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionBzip2:
		bw, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if err != nil {
			return nil, fmt.Errorf("backend: creating bzip2 writer: %w", err)
		}

		return bw, nil
	default:
		return gzip.NewWriter(w), nil
	}
}

func (h *archiveHandle) close() error {
	return errors.Join(h.tw.Close(), h.codec.Close(), h.file.Close())
}

// ClosePrincipal implements Backend.
func (a *Archive) ClosePrincipal(login string) error {
	a.mu.Lock()
	h, ok := a.open[login]
	delete(a.open, login)
	a.mu.Unlock()

	if !ok {
		return nil
	}

	if err := h.close(); err != nil {
		return fmt.Errorf("backend: closing archive %s: %w", h.path, err)
	}

	a.logger.Debug("closed archive", slog.String("login", login))

	return nil
}

// closeAll closes every open archive and refuses later writes.
func (a *Archive) closeAll() error {
	a.mu.Lock()
	handles := a.open
	a.open = make(map[string]*archiveHandle)
	a.closed = true
	a.mu.Unlock()

	var errs []error

	for login, h := range handles {
		if err := h.close(); err != nil {
			errs = append(errs, fmt.Errorf("backend: closing archive for %s: %w", login, err))
		}
	}

	return errors.Join(errs...)
}

// Finalize implements Backend.
func (a *Archive) Finalize() error {
	err := a.closeAll()

	a.logger.Info("session finalized", slog.String("dir", a.store.dir()))

	return err
}

// CleanUp implements Backend.
func (a *Archive) CleanUp() error {
	if err := a.closeAll(); err != nil {
		a.logger.Warn("closing archives before cleanup", slog.String("error", err.Error()))
	}

	return a.store.remove()
}

// Prune implements Backend.
func (a *Archive) Prune(ctx context.Context, completed []string, retentionDays int) (PruneReport, error) {
	return a.store.prune(ctx, completed, retentionDays)
}

var _ Backend = (*Archive)(nil)
