package gdrive

import (
	"context"
	"fmt"
	"log/slog"

	drive "google.golang.org/api/drive/v2"
)

// FolderMimeType marks folder metadata in Drive listings.
const FolderMimeType = "application/vnd.google-apps.folder"

// Listing queries (Drive search syntax).
const (
	QueryDocuments = "mimeType != '" + FolderMimeType + "'"
	QueryFolders   = "mimeType = '" + FolderMimeType + "'"
)

// filesPageSize is the maxResults value for file listings.
const filesPageSize = 1000

// ListFilesPage fetches one page of the impersonated user's files matching
// query (may be empty). It performs a single attempt; retry and token-expiry
// handling belong to the Cursor driving it.
func (c *Client) ListFilesPage(ctx context.Context, query, pageToken string) (*drive.FileList, error) {
	call := c.drive.Files.List().MaxResults(filesPageSize).Context(ctx)
	if query != "" {
		call = call.Q(query)
	}

	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	list, err := call.Do()
	if err != nil {
		return nil, classifyError(err, nil)
	}

	c.logger.Debug("fetched files page",
		slog.Int("count", len(list.Items)),
		slog.Bool("has_next", list.NextPageToken != ""),
	)

	return list, nil
}

// GetFile fetches one file's metadata by id.
func (c *Client) GetFile(ctx context.Context, id string) (*drive.File, error) {
	c.logger.Debug("getting file", slog.String("file_id", id))

	var f *drive.File

	err := c.call(ctx, "get file", nil, func() error {
		got, err := c.drive.Files.Get(id).Context(ctx).Do()
		if err != nil {
			return err
		}

		f = got

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gdrive: getting file %s: %w", id, err)
	}

	return f, nil
}
