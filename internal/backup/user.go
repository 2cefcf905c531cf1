// Package backup drives a backup run: one UserSync per principal walks that
// user's documents through fetch and persist, and the Runner schedules the
// principals, settles the session and applies retention.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/juju/clock"
	drive "google.golang.org/api/drive/v2"

	"github.com/tonimelisma/drivevault/internal/backend"
	"github.com/tonimelisma/drivevault/internal/document"
	"github.com/tonimelisma/drivevault/internal/gdrive"
	"github.com/tonimelisma/drivevault/internal/retry"
)

// ErrRepeatedAuthFailure means authorization expired twice on the same
// document or listing page.
var ErrRepeatedAuthFailure = errors.New("backup: authorization expired twice on the same unit")

// DefaultAuthRetryPause is the wait before re-authorizing after an expired
// token.
const DefaultAuthRetryPause = 5 * time.Second

// Operations named in SyncError.
const (
	OpList      = "list"
	OpMetadata  = "metadata"
	OpFolder    = "folder"
	OpFetch     = "fetch"
	OpSave      = "save"
	OpAuthorize = "authorize"
	OpClose     = "close"
)

// Client is the API surface one principal's pass needs. *gdrive.Client
// implements it.
type Client interface {
	gdrive.PageFetcher
	document.Requester
	GetFile(ctx context.Context, id string) (*drive.File, error)
	Authorize(ctx context.Context) error
}

// Principal is one user to back up. DocIDs, when set, restricts the pass to
// those documents instead of the full listing.
type Principal struct {
	Login  string
	DocIDs []string
}

// SyncError annotates a fatal failure with where it happened.
type SyncError struct {
	Login string
	DocID string // "" for failures outside a document
	Op    string
	Err   error
}

func (e *SyncError) Error() string {
	if e.DocID == "" {
		return fmt.Sprintf("backup: %s: %s: %v", e.Login, e.Op, e.Err)
	}

	return fmt.Sprintf("backup: %s: document %s: %s: %v", e.Login, e.DocID, e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// PrincipalStats counts one principal's outcome.
type PrincipalStats struct {
	Login         string
	Documents     int
	Skipped       int
	Unrecoverable int
	Bytes         int64
}

// UserConfig holds what every UserSync of a run shares.
type UserConfig struct {
	Backend   backend.Backend
	Fetch     document.FetcherOptions
	OwnerOnly bool
	// KeepDirs resolves folder paths for the backend; without it the
	// folder listing is never fetched.
	KeepDirs       bool
	AuthRetryPause time.Duration
	MaxFolderDepth int
	Retry          retry.Policy
	Logger         *slog.Logger
}

// UserSync backs up one principal. Documents are processed strictly in
// listing order; it is not safe for concurrent use.
type UserSync struct {
	client    Client
	principal Principal
	cfg       UserConfig
	clock     clock.Clock
	logger    *slog.Logger

	fetcher *document.Fetcher
	folders *document.FolderCache
	// authFailed holds units (document ids, listing pages) that already
	// saw one authorization expiry.
	authFailed map[string]struct{}
	stats      PrincipalStats
}

// NewUserSync prepares a pass over principal using client.
func NewUserSync(client Client, principal Principal, cfg UserConfig) *UserSync {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	logger := cfg.Logger.With(slog.String("login", principal.Login))

	clk := cfg.Retry.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	fetchOpts := cfg.Fetch
	fetchOpts.Logger = logger

	return &UserSync{
		client:     client,
		principal:  principal,
		cfg:        cfg,
		clock:      clk,
		logger:     logger,
		fetcher:    document.NewFetcher(client, fetchOpts),
		folders:    document.NewFolderCache(client, cfg.Retry, cfg.MaxFolderDepth, logger),
		authFailed: make(map[string]struct{}),
		stats:      PrincipalStats{Login: principal.Login},
	}
}

// Run processes every document of the principal, then closes the
// principal's backend output. Any returned error is a *SyncError and fatal
// for the run.
func (u *UserSync) Run(ctx context.Context) (PrincipalStats, error) {
	start := time.Now()

	u.logger.Info("backing up principal", slog.Int("explicit_documents", len(u.principal.DocIDs)))

	var err error
	if len(u.principal.DocIDs) > 0 {
		err = u.runExplicit(ctx)
	} else {
		err = u.runListing(ctx)
	}

	u.folders.Release()
	u.authFailed = nil

	if err != nil {
		return u.stats, err
	}

	if err := u.cfg.Backend.ClosePrincipal(u.principal.Login); err != nil {
		return u.stats, u.fail("", OpClose, err)
	}

	u.logger.Info("principal complete",
		slog.Int("documents", u.stats.Documents),
		slog.Int("skipped", u.stats.Skipped),
		slog.Int("unrecoverable", u.stats.Unrecoverable),
		slog.Int64("bytes", u.stats.Bytes),
		slog.Duration("duration", time.Since(start)),
	)

	return u.stats, nil
}

func (u *UserSync) runListing(ctx context.Context) error {
	cur := gdrive.NewCursor(u.client, gdrive.QueryDocuments, u.cfg.Retry, u.logger)

	for {
		res, err := cur.Next(ctx)
		if err != nil {
			return u.fail("", OpList, err)
		}

		switch res.Kind {
		case gdrive.KindEnd:
			u.logger.Debug("listing exhausted", slog.Int("pages", cur.Pages()))
			return nil

		case gdrive.KindAuthExpired:
			// The failed page is fetched again on the next pull.
			unit := "page:" + strconv.Itoa(cur.Pages()+1)
			if err := u.reauthorize(ctx, unit, "", OpList); err != nil {
				return err
			}

		case gdrive.KindItem:
			doc := document.FromFile(res.File)

			err := u.process(ctx, doc)
			if errors.Is(err, gdrive.ErrTokenExpired) {
				if err := u.reauthorize(ctx, "doc:"+doc.ID, doc.ID, opOf(err)); err != nil {
					return err
				}

				cur.ResetToCurrentPage()

				continue
			}

			if err != nil {
				return err
			}

			cur.AddProcessedID(doc.ID)
		}
	}
}

func (u *UserSync) runExplicit(ctx context.Context) error {
	for i := 0; i < len(u.principal.DocIDs); {
		id := u.principal.DocIDs[i]

		f, err := u.client.GetFile(ctx, id)
		if err == nil {
			err = u.process(ctx, document.FromFile(f))
		} else {
			err = u.fail(id, OpMetadata, err)
		}

		if errors.Is(err, gdrive.ErrTokenExpired) {
			if err := u.reauthorize(ctx, "doc:"+id, id, opOf(err)); err != nil {
				return err
			}

			continue
		}

		if err != nil {
			return err
		}

		i++
	}

	return nil
}

// process takes one listed document through skip checks, fetch and save.
// Content is released before it returns.
func (u *UserSync) process(ctx context.Context, doc *document.Document) error {
	logger := u.logger.With(slog.String("doc_id", doc.ID))

	if reason := u.skipReason(doc); reason != "" {
		logger.Debug("skipping document", slog.String("reason", reason))
		u.stats.Skipped++

		return nil
	}

	var folderPath string

	if u.cfg.KeepDirs {
		p, err := u.folders.Path(ctx, doc.ParentID)
		if err != nil {
			return u.fail(doc.ID, OpFolder, err)
		}

		folderPath = p
	}

	defer doc.Release()

	if err := u.fetcher.Fetch(ctx, doc); err != nil {
		return u.fail(doc.ID, OpFetch, err)
	}

	var saved int64

	for {
		if doc.Unrecoverable() {
			u.stats.Unrecoverable++
			return nil
		}

		if len(doc.Renditions()) == 0 {
			// Everything still retrievable was persisted before a ban.
			break
		}

		n, err := u.cfg.Backend.Save(ctx, u.principal.Login, folderPath, doc, doc.Renditions())
		saved += n

		if err == nil {
			break
		}

		if !errors.Is(err, document.ErrVerification) {
			return u.fail(doc.ID, OpSave, err)
		}

		// A streamed rendition failed its check while being written. Ban it
		// and download what is still missing.
		bad := firstUnpersisted(doc)
		if bad == "" {
			return u.fail(doc.ID, OpSave, err)
		}

		logger.Warn("rendition failed verification while saving",
			slog.String("url", bad),
			slog.String("error", err.Error()),
		)

		doc.Ban(bad)

		if err := u.fetcher.Refetch(ctx, doc); err != nil {
			return u.fail(doc.ID, OpFetch, err)
		}
	}

	u.stats.Documents++
	u.stats.Bytes += saved

	logger.Debug("document saved",
		slog.String("title", doc.Title),
		slog.Int64("bytes", saved),
		slog.String("path", folderPath),
	)

	return nil
}

func (u *UserSync) skipReason(doc *document.Document) string {
	switch {
	case doc.IsFolder():
		return "folder"
	case u.cfg.OwnerOnly && !doc.OwnedByMe:
		return "not owned"
	case !u.cfg.Backend.NeedsContent(u.principal.Login, doc):
		return "already stored"
	default:
		return ""
	}
}

// reauthorize handles an expired token on unit. The second expiry on the
// same unit is fatal.
func (u *UserSync) reauthorize(ctx context.Context, unit, docID, op string) error {
	if _, seen := u.authFailed[unit]; seen {
		return u.fail(docID, op, fmt.Errorf("%w: %w", ErrRepeatedAuthFailure, gdrive.ErrTokenExpired))
	}

	u.authFailed[unit] = struct{}{}

	u.logger.Info("authorization expired, re-authorizing",
		slog.String("unit", unit),
		slog.Duration("pause", u.cfg.AuthRetryPause),
	)

	if u.cfg.AuthRetryPause > 0 {
		select {
		case <-ctx.Done():
			return u.fail(docID, OpAuthorize, ctx.Err())
		case <-u.clock.After(u.cfg.AuthRetryPause):
		}
	}

	if err := u.client.Authorize(ctx); err != nil {
		return u.fail(docID, OpAuthorize, err)
	}

	return nil
}

func (u *UserSync) fail(docID, op string, err error) error {
	var se *SyncError
	if errors.As(err, &se) {
		return err
	}

	return &SyncError{Login: u.principal.Login, DocID: docID, Op: op, Err: err}
}

// opOf recovers the operation of a wrapped SyncError.
func opOf(err error) string {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Op
	}

	return OpFetch
}

// firstUnpersisted returns the URL of the first held rendition the backend
// did not persist. Backends write renditions in order and stop at the first
// failure.
func firstUnpersisted(doc *document.Document) string {
	for _, r := range doc.Renditions() {
		if !doc.Persisted(r.URL) {
			return r.URL
		}
	}

	return ""
}
