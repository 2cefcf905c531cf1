package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tonimelisma/drivevault/internal/document"
)

// partialSuffix marks a rendition still being written.
const partialSuffix = ".partial"

// Plain writes root/session/login/[path/]filename.
type Plain struct {
	store    *sessionStore
	keepDirs bool
	logger   *slog.Logger

	mu    sync.Mutex
	saved savedSet
}

func newPlain(opts Options) *Plain {
	return &Plain{
		store: &sessionStore{
			root:       opts.Root,
			session:    opts.Session,
			logger:     opts.Logger,
			entryLogin: plainEntryLogin,
		},
		keepDirs: opts.KeepDirs,
		logger:   opts.Logger,
		saved:    make(savedSet),
	}
}

// plainEntryLogin maps a session child back to a login: every directory is
// one user's tree.
func plainEntryLogin(name string, isDir bool) (string, bool) {
	if !isDir || name == "" || strings.HasPrefix(name, ".") {
		return "", false
	}

	return name, true
}

// Session implements Backend.
func (p *Plain) Session() Session {
	return p.store.session
}

// NeedsContent implements Backend.
func (p *Plain) NeedsContent(login string, doc *document.Document) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return !p.saved.has(login, doc.ID)
}

// Save implements Backend. Each rendition is written to a .partial file and
// renamed into place once complete.
func (p *Plain) Save(ctx context.Context, login, path string, doc *document.Document, renditions []*document.Rendition) (int64, error) {
	dir := filepath.Join(p.store.dir(), login)
	if p.keepDirs && path != "" {
		dir = filepath.Join(dir, filepath.FromSlash(path))
	}

	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return 0, fmt.Errorf("backend: creating %s: %w", dir, err)
	}

	var total int64

	for _, r := range renditions {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := writeRendition(filepath.Join(dir, r.Name), r)
		if err != nil {
			return total, fmt.Errorf("backend: saving %s for %s: %w", r.Name, login, err)
		}

		doc.MarkPersisted(r.URL)
		total += n

		p.logger.Debug("saved rendition",
			slog.String("login", login),
			slog.String("doc_id", doc.ID),
			slog.String("name", r.Name),
			slog.Int64("bytes", n),
		)
	}

	p.mu.Lock()
	p.saved.add(login, doc.ID)
	p.mu.Unlock()

	return total, nil
}

func writeRendition(target string, r *document.Rendition) (int64, error) {
	partial := target + partialSuffix

	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerms)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", partial, err)
	}

	n, err := r.WriteTo(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		os.Remove(partial)
		return 0, err
	}

	if !r.ModifiedAt.IsZero() {
		if err := os.Chtimes(partial, r.ModifiedAt, r.ModifiedAt); err != nil {
			os.Remove(partial)
			return 0, fmt.Errorf("setting mtime on %s: %w", partial, err)
		}
	}

	if err := os.Rename(partial, target); err != nil {
		os.Remove(partial)
		return 0, fmt.Errorf("renaming %s: %w", partial, err)
	}

	return n, nil
}

// ClosePrincipal implements Backend. Plain files are closed as they are
// written, so there is nothing to release.
func (p *Plain) ClosePrincipal(string) error {
	return nil
}

// Finalize implements Backend.
func (p *Plain) Finalize() error {
	p.logger.Info("session finalized", slog.String("dir", p.store.dir()))
	return nil
}

// CleanUp implements Backend.
func (p *Plain) CleanUp() error {
	return p.store.remove()
}

// Prune implements Backend.
func (p *Plain) Prune(ctx context.Context, completed []string, retentionDays int) (PruneReport, error) {
	return p.store.prune(ctx, completed, retentionDays)
}

var _ Backend = (*Plain)(nil)
