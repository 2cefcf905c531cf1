package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/drivevault/internal/gdrive"
)

// Requester performs authenticated content requests. *gdrive.Client
// implements it.
type Requester interface {
	Request(ctx context.Context, url string, opts gdrive.RequestOptions) (*gdrive.Response, error)
}

// DefaultBannedStatuses are the download statuses that ban a URL at once
// instead of failing the run. Throttling (429, or a 403 carrying a rate
// limit reason) is retried first and only bans the URL once the retry
// budget is spent.
var DefaultBannedStatuses = []int{
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusGone,
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Formats Formats
	// Streaming leaves response bodies unread until the backend writes them.
	Streaming bool
	ChunkSize int
	// TempDir holds spool files for streamed renditions ("" = os.TempDir).
	TempDir        string
	BannedStatuses []int
	Logger         *slog.Logger
}

// Fetcher downloads a document's renditions under the format rules.
type Fetcher struct {
	client Requester
	opts   FetcherOptions
	logger *slog.Logger
}

// NewFetcher returns a Fetcher that downloads through client.
func NewFetcher(client Requester, opts FetcherOptions) *Fetcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.BannedStatuses == nil {
		opts.BannedStatuses = DefaultBannedStatuses
	}

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	return &Fetcher{client: client, opts: opts, logger: opts.Logger}
}

// Fetch downloads doc's content unless it is already fetched.
func (f *Fetcher) Fetch(ctx context.Context, doc *Document) error {
	if doc.fetched {
		return nil
	}

	return f.fetch(ctx, doc)
}

// Refetch drops any held content and downloads again, skipping banned and
// already-persisted URLs.
func (f *Fetcher) Refetch(ctx context.Context, doc *Document) error {
	doc.Release()
	return f.fetch(ctx, doc)
}

// fetch runs the preferred pass, then, if nothing at all was obtained for
// the document, a fallback pass that ignores preferences. Verification
// failures and banned statuses ban the URL and move on. ErrTokenExpired and
// anything unclassified abort the fetch with the content released.
func (f *Fetcher) fetch(ctx context.Context, doc *Document) error {
	logger := f.logger.With(slog.String("doc_id", doc.ID))

	for _, ignorePreferred := range []bool{false, true} {
		if ignorePreferred && (len(doc.renditions) > 0 || len(doc.persisted) > 0) {
			break
		}

		candidates := SelectRenditions(doc, f.opts.Formats, doc.excluded(), ignorePreferred)

		logger.Debug("selected renditions",
			slog.Int("count", len(candidates)),
			slog.Bool("fallback", ignorePreferred),
		)

		for _, c := range candidates {
			r, err := f.download(ctx, doc, c)
			if err == nil {
				doc.renditions = append(doc.renditions, r)
				continue
			}

			if bannable(err) {
				logger.Warn("banning rendition URL",
					slog.String("url", c.URL),
					slog.String("error", err.Error()),
				)

				doc.Ban(c.URL)

				continue
			}

			doc.Release()

			return err
		}
	}

	doc.fetched = true

	if doc.Unrecoverable() {
		logger.Warn("no retrievable rendition, document left without content",
			slog.String("title", doc.Title),
			slog.Int("banned", len(doc.banned)),
		)
	}

	return nil
}

// bannable reports whether err condemns one URL rather than the run.
func bannable(err error) bool {
	if errors.Is(err, ErrVerification) || gdrive.IsExpectedStatus(err) {
		return true
	}

	var rfe *gdrive.RequestFailedError

	return errors.As(err, &rfe) && rfe.Throttled()
}

func (f *Fetcher) download(ctx context.Context, doc *Document, c Candidate) (*Rendition, error) {
	resp, err := f.client.Request(ctx, c.URL, gdrive.RequestOptions{
		Expected: f.opts.BannedStatuses,
		Stream:   f.opts.Streaming,
	})
	if err != nil {
		return nil, fmt.Errorf("document: downloading %s (%s): %w", doc.ID, c.Extension, err)
	}

	exp := expectationFor(doc, c.URL, resp.Header)
	name := FileName(doc.Title, doc.ID, resp.Header.Get("Content-Disposition"), c.Extension)

	if resp.Stream != nil {
		return newStreamedRendition(c, name, doc.ModifiedAt, newVerifyingReader(resp.Stream, exp), f.opts.TempDir, f.opts.ChunkSize), nil
	}

	if err := exp.verify(resp.Body); err != nil {
		return nil, fmt.Errorf("document: %s (%s): %w", doc.ID, c.Extension, err)
	}

	f.logger.Debug("downloaded rendition",
		slog.String("doc_id", doc.ID),
		slog.String("name", name),
		slog.Int("bytes", len(resp.Body)),
	)

	return newBufferedRendition(c, name, doc.ModifiedAt, resp.Body), nil
}
