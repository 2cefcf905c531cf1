// Package backend persists fetched documents under a session directory,
// either as a plain file tree or as one tar archive per principal, and runs
// the retention scan over earlier sessions.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tonimelisma/drivevault/internal/document"
)

// Backend is a backup destination. Save and ClosePrincipal for one login
// must come from a single goroutine; different logins may run in parallel.
type Backend interface {
	// NeedsContent reports whether doc must be fetched for login. It is
	// false only when doc was already stored for login in this session.
	NeedsContent(login string, doc *document.Document) bool
	// Save stores renditions of doc for login under the folder path
	// (ignored unless folder hierarchy is kept). Each stored rendition is
	// marked persisted on doc. Returns the bytes written.
	Save(ctx context.Context, login, path string, doc *document.Document, renditions []*document.Rendition) (int64, error)
	// ClosePrincipal releases per-login resources once login is done.
	ClosePrincipal(login string) error
	// Finalize closes everything still open, keeping the output.
	Finalize() error
	// CleanUp closes everything and deletes the in-progress session.
	CleanUp() error
	// Session is the session being written.
	Session() Session
	// Prune applies retention to earlier sessions for the completed logins.
	Prune(ctx context.Context, completed []string, retentionDays int) (PruneReport, error)
}

// Kind selects a backend implementation.
type Kind string

// Backend kinds.
const (
	KindPlain   Kind = "plain"
	KindArchive Kind = "archive"
)

// ParseKind validates a configured backend name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindPlain, KindArchive:
		return k, nil
	default:
		return "", fmt.Errorf("backend: unknown backend %q (want %q or %q)", s, KindPlain, KindArchive)
	}
}

// Compression selects the archive codec.
type Compression string

// Archive codecs.
const (
	CompressionGzip  Compression = "gzip"
	CompressionBzip2 Compression = "bzip2"
)

// ParseCompression validates a configured codec name.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case CompressionGzip, CompressionBzip2:
		return c, nil
	case "gz":
		return CompressionGzip, nil
	case "bz2":
		return CompressionBzip2, nil
	default:
		return "", fmt.Errorf("backend: unknown compression %q (want %q or %q)", s, CompressionGzip, CompressionBzip2)
	}
}

// Options configures a backend.
type Options struct {
	Root string
	// Session defaults to one starting now.
	Session Session
	// KeepDirs reproduces each user's folder hierarchy.
	KeepDirs bool
	// Compression applies to KindArchive; defaults to gzip.
	Compression Compression
	Logger      *slog.Logger
}

// New builds the backend for kind.
func New(kind Kind, opts Options) (Backend, error) {
	if opts.Root == "" {
		return nil, errors.New("backend: root directory is required")
	}

	if opts.Session.IsZero() {
		opts.Session = NewSession(time.Now())
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	opts.Logger = opts.Logger.With(slog.String("session", opts.Session.Name()))

	switch kind {
	case KindPlain:
		return newPlain(opts), nil
	case KindArchive:
		if opts.Compression == "" {
			opts.Compression = CompressionGzip
		}

		if _, err := ParseCompression(string(opts.Compression)); err != nil {
			return nil, err
		}

		return newArchive(opts), nil
	default:
		return nil, fmt.Errorf("backend: unknown backend %q", kind)
	}
}

// savedSet tracks which document ids were stored per login.
type savedSet map[string]map[string]struct{}

func (s savedSet) has(login, id string) bool {
	_, ok := s[login][id]
	return ok
}

func (s savedSet) add(login, id string) {
	if s[login] == nil {
		s[login] = make(map[string]struct{})
	}

	s[login][id] = struct{}{}
}
