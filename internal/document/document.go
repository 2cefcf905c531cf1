// Package document models one Drive document and its downloadable
// renditions: which export or download URLs to fetch under the configured
// format rules, how to verify what comes back, how to name it on disk, and
// where it sits in its owner's folder tree.
package document

import (
	"slices"
	"time"

	drive "google.golang.org/api/drive/v2"

	"github.com/tonimelisma/drivevault/internal/gdrive"
)

// Document is the metadata of one listed file plus the per-pass state of its
// content: fetched renditions, URLs banned after a failure, and URLs already
// handed to the backend.
type Document struct {
	ID          string
	Title       string
	MimeType    string
	OwnedByMe   bool
	ParentID    string // "" when the parent is the user's root
	ModifiedAt  time.Time
	MD5         string // hex, only declared for binary uploads
	FileSize    int64
	DownloadURL string
	ExportLinks map[string]string // MIME type -> URL

	renditions []*Rendition
	fetched    bool
	banned     map[string]struct{}
	persisted  map[string]struct{}
}

// FromFile converts Drive v2 metadata.
func FromFile(f *drive.File) *Document {
	d := &Document{
		ID:          f.Id,
		Title:       f.Title,
		MimeType:    f.MimeType,
		MD5:         f.Md5Checksum,
		FileSize:    f.FileSize,
		DownloadURL: f.DownloadUrl,
		ExportLinks: f.ExportLinks,
	}

	if f.UserPermission != nil {
		d.OwnedByMe = f.UserPermission.Role == "owner"
	}

	for _, p := range f.Parents {
		if p == nil {
			continue
		}

		if !p.IsRoot {
			d.ParentID = p.Id
		}

		break
	}

	if f.ModifiedDate != "" {
		if t, err := time.Parse(time.RFC3339, f.ModifiedDate); err == nil {
			d.ModifiedAt = t.UTC()
		}
	}

	return d
}

// IsFolder reports whether the metadata describes a folder.
func (d *Document) IsFolder() bool {
	return d.MimeType == gdrive.FolderMimeType
}

// Renditions returns the content fetched by the last Fetch or Refetch.
func (d *Document) Renditions() []*Rendition {
	return d.renditions
}

// Fetched reports whether content has been fetched since the last Release.
func (d *Document) Fetched() bool {
	return d.fetched
}

// Unrecoverable reports whether a fetch completed without producing any
// content, now or in an earlier pass.
func (d *Document) Unrecoverable() bool {
	return d.fetched && len(d.renditions) == 0 && len(d.persisted) == 0
}

// Ban excludes url from every later selection for this document.
func (d *Document) Ban(url string) {
	if d.banned == nil {
		d.banned = make(map[string]struct{})
	}

	d.banned[url] = struct{}{}
}

// Banned lists the URLs that failed for this document, sorted.
func (d *Document) Banned() []string {
	out := make([]string, 0, len(d.banned))
	for u := range d.banned {
		out = append(out, u)
	}

	slices.Sort(out)

	return out
}

// MarkPersisted records that url's rendition reached the backend, so a
// refetch after a later rendition failed does not download it again.
func (d *Document) MarkPersisted(url string) {
	if d.persisted == nil {
		d.persisted = make(map[string]struct{})
	}

	d.persisted[url] = struct{}{}
}

// Persisted reports whether url's rendition was already stored.
func (d *Document) Persisted(url string) bool {
	_, ok := d.persisted[url]
	return ok
}

// Release drops fetched content, closing any open streams or spool files.
// Banned and persisted URLs are kept.
func (d *Document) Release() {
	for _, r := range d.renditions {
		_ = r.Close()
	}

	d.renditions = nil
	d.fetched = false
}

// excluded returns the URLs selection must skip.
func (d *Document) excluded() map[string]struct{} {
	out := make(map[string]struct{}, len(d.banned)+len(d.persisted))
	for u := range d.banned {
		out[u] = struct{}{}
	}

	for u := range d.persisted {
		out[u] = struct{}{}
	}

	return out
}
