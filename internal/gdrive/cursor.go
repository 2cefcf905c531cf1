package gdrive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	drive "google.golang.org/api/drive/v2"

	"github.com/tonimelisma/drivevault/internal/retry"
)

// PageFetcher fetches one page of a user's file listing. *Client implements
// it; tests use in-memory fakes.
type PageFetcher interface {
	ListFilesPage(ctx context.Context, query, pageToken string) (*drive.FileList, error)
}

// Kind tags the outcome of Cursor.Next.
type Kind int

const (
	// KindItem carries the next file.
	KindItem Kind = iota
	// KindEnd means the listing is exhausted.
	KindEnd
	// KindAuthExpired means the token expired while fetching a page. The
	// caller re-authorizes, optionally calls ResetToCurrentPage, and pulls again.
	KindAuthExpired
)

func (k Kind) String() string {
	switch k {
	case KindItem:
		return "item"
	case KindEnd:
		return "end"
	case KindAuthExpired:
		return "auth-expired"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Result is what Cursor.Next yields. File is set only for KindItem.
type Result struct {
	Kind Kind
	File *drive.File
}

// Cursor lazily walks a user's file listing page by page. It cannot restart
// from the beginning, but ResetToCurrentPage re-emits the current page minus
// the ids marked processed on it. Not safe for concurrent use.
type Cursor struct {
	fetcher PageFetcher
	query   string
	policy  retry.Policy
	logger  *slog.Logger

	buf          []*drive.File
	pages        int
	currentToken string
	nextToken    string

	// processed holds ids marked done on the page identified by processedFor.
	// It is dropped when a different page is fetched, and survives refetches
	// of the same page.
	processed    map[string]struct{}
	processedFor string
}

// NewCursor returns a cursor over fetcher's listing filtered by query.
func NewCursor(fetcher PageFetcher, query string, policy retry.Policy, logger *slog.Logger) *Cursor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cursor{
		fetcher:   fetcher,
		query:     query,
		policy:    policy,
		logger:    logger,
		processed: make(map[string]struct{}),
	}
}

// Next returns the next file, KindEnd once the listing is exhausted, or
// KindAuthExpired when a page fetch hit an expired token. Other errors are
// returned once the retry budget is spent.
func (c *Cursor) Next(ctx context.Context) (Result, error) {
	for len(c.buf) == 0 {
		if !c.hasMore() {
			return Result{Kind: KindEnd}, nil
		}

		err := c.policy.DoFunc(ctx, "list files page", func() error {
			return c.fetchPage(ctx)
		}, isFatal)
		if errors.Is(err, ErrTokenExpired) {
			c.logger.Info("authorization expired while listing",
				slog.Int("page", c.pages+1),
			)

			return Result{Kind: KindAuthExpired}, nil
		}

		if err != nil {
			return Result{}, fmt.Errorf("gdrive: listing page %d: %w", c.pages+1, err)
		}
	}

	f := c.buf[0]
	c.buf[0] = nil
	c.buf = c.buf[1:]

	return Result{Kind: KindItem, File: f}, nil
}

// AddProcessedID marks id as done so a refetch of the current page skips it.
func (c *Cursor) AddProcessedID(id string) {
	c.processed[id] = struct{}{}
}

// ResetToCurrentPage rewinds so the next pull refetches the page the last
// item came from.
func (c *Cursor) ResetToCurrentPage() {
	if c.pages == 0 {
		return
	}

	c.nextToken = c.currentToken
	c.buf = nil
	c.pages--

	c.logger.Debug("cursor rewound to current page", slog.Int("page", c.pages+1))
}

// Pages returns how many pages have been consumed so far.
func (c *Cursor) Pages() int {
	return c.pages
}

func (c *Cursor) hasMore() bool {
	return c.pages == 0 || c.nextToken != ""
}

func (c *Cursor) fetchPage(ctx context.Context) error {
	token := c.nextToken

	list, err := c.fetcher.ListFilesPage(ctx, c.query, token)
	if err != nil {
		return err
	}

	if token != c.processedFor {
		c.processed = make(map[string]struct{})
		c.processedFor = token
	}

	c.currentToken = token
	c.nextToken = list.NextPageToken
	c.pages++

	c.buf = make([]*drive.File, 0, len(list.Items))
	for _, f := range list.Items {
		if _, done := c.processed[f.Id]; done {
			continue
		}

		c.buf = append(c.buf, f)
	}

	c.logger.Debug("retrieved listing page",
		slog.Int("page", c.pages),
		slog.Int("found", len(list.Items)),
		slog.Int("pending", len(c.buf)),
	)

	return nil
}
