package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tonimelisma/drivevault/internal/gdrive"
	"github.com/tonimelisma/drivevault/internal/retry"
)

// MaxFolderDepth is Drive's nesting limit for folders.
const MaxFolderDepth = 100

var (
	// ErrFolderCycle means parent references loop back on themselves.
	ErrFolderCycle = errors.New("document: folder parent cycle")
	// ErrFolderTooDeep means a folder chain exceeds the maximum depth.
	ErrFolderTooDeep = errors.New("document: folder nesting too deep")
)

type folder struct {
	title  string
	parent string
}

// FolderCache maps a user's folder ids to paths relative to that user's
// root. It lists every folder once, on first use, and resolves from memory
// afterwards. Not safe for concurrent use.
type FolderCache struct {
	fetcher  gdrive.PageFetcher
	policy   retry.Policy
	maxDepth int
	logger   *slog.Logger

	folders map[string]folder
	paths   map[string]string
}

// NewFolderCache returns an empty cache listing folders through fetcher.
// maxDepth <= 0 selects MaxFolderDepth.
func NewFolderCache(fetcher gdrive.PageFetcher, policy retry.Policy, maxDepth int, logger *slog.Logger) *FolderCache {
	if maxDepth <= 0 {
		maxDepth = MaxFolderDepth
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &FolderCache{fetcher: fetcher, policy: policy, maxDepth: maxDepth, logger: logger}
}

// Path returns the "/"-joined sanitized folder titles from the root down to
// folderID. The root ("") maps to "". A parent that is not among the user's
// folders (e.g. shared from another user) is treated as the root.
// An expired token during the initial listing is returned as
// gdrive.ErrTokenExpired, leaving the cache empty for a later retry.
func (fc *FolderCache) Path(ctx context.Context, folderID string) (string, error) {
	if folderID == "" {
		return "", nil
	}

	if err := fc.load(ctx); err != nil {
		return "", err
	}

	if p, ok := fc.paths[folderID]; ok {
		return p, nil
	}

	// Walk up to the first ancestor with a known path.
	var chain []string

	onPath := make(map[string]struct{})
	base := ""
	id := folderID

	for id != "" {
		if p, ok := fc.paths[id]; ok {
			base = p
			break
		}

		f, ok := fc.folders[id]
		if !ok {
			break
		}

		if _, seen := onPath[id]; seen {
			return "", fmt.Errorf("%w: folder %s", ErrFolderCycle, id)
		}

		if len(chain) >= fc.maxDepth {
			return "", fmt.Errorf("%w: folder %s exceeds %d levels", ErrFolderTooDeep, folderID, fc.maxDepth)
		}

		onPath[id] = struct{}{}
		chain = append(chain, id)
		id = f.parent
	}

	if depth := strings.Count(base, "/") + 1; base != "" && depth+len(chain) > fc.maxDepth {
		return "", fmt.Errorf("%w: folder %s exceeds %d levels", ErrFolderTooDeep, folderID, fc.maxDepth)
	}

	for i := len(chain) - 1; i >= 0; i-- {
		name := folderName(fc.folders[chain[i]].title)
		if base == "" {
			base = name
		} else {
			base = base + "/" + name
		}

		fc.paths[chain[i]] = base
	}

	return base, nil
}

// Len returns the number of folders known, loading them if needed.
func (fc *FolderCache) Len(ctx context.Context) (int, error) {
	if err := fc.load(ctx); err != nil {
		return 0, err
	}

	return len(fc.folders), nil
}

// Release drops the cache. The next Path call lists folders again.
func (fc *FolderCache) Release() {
	fc.folders = nil
	fc.paths = nil
}

func (fc *FolderCache) load(ctx context.Context) error {
	if fc.folders != nil {
		return nil
	}

	folders := make(map[string]folder)
	cur := gdrive.NewCursor(fc.fetcher, gdrive.QueryFolders, fc.policy, fc.logger)

	for {
		res, err := cur.Next(ctx)
		if err != nil {
			return fmt.Errorf("document: listing folders: %w", err)
		}

		switch res.Kind {
		case gdrive.KindAuthExpired:
			return fmt.Errorf("document: listing folders: %w", gdrive.ErrTokenExpired)
		case gdrive.KindEnd:
			fc.folders = folders
			fc.paths = make(map[string]string, len(folders))

			fc.logger.Debug("folder cache loaded", slog.Int("folders", len(folders)))

			return nil
		case gdrive.KindItem:
			d := FromFile(res.File)
			folders[d.ID] = folder{title: d.Title, parent: d.ParentID}
			cur.AddProcessedID(d.ID)
		}
	}
}

// folderName is SanitizeName plus the path elements a filesystem would
// interpret: "", "." and "..".
func folderName(title string) string {
	switch name := SanitizeName(title); name {
	case "", ".", "..":
		return strings.Repeat("_", len(name)+1)
	default:
		return name
	}
}
