package document

import (
	"mime"
	"net/url"
	"path"
	"slices"
	"strings"
)

// Formats holds the operator's format rules as lower-case extensions
// without the leading dot. An empty Exclusive set allows everything.
type Formats struct {
	Preferred []string
	Exclusive []string
}

// NormalizeFormats lower-cases, strips dots, drops blanks and duplicates.
func NormalizeFormats(exts []string) []string {
	out := make([]string, 0, len(exts))

	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(e), ".")))
		if e == "" || slices.Contains(out, e) {
			continue
		}

		out = append(out, e)
	}

	return out
}

func (f Formats) preferred(ext string) bool {
	return slices.Contains(f.Preferred, strings.ToLower(ext))
}

func (f Formats) allowed(exts ...string) bool {
	if len(f.Exclusive) == 0 {
		return true
	}

	for _, e := range exts {
		if slices.Contains(f.Exclusive, strings.ToLower(e)) {
			return true
		}
	}

	return false
}

// Candidate is one URL selected for download and the extension it implies.
type Candidate struct {
	URL       string
	Extension string
}

// SelectRenditions returns the URLs to download for doc.
//
// A direct download is kept unless exclusive formats are configured and
// none of them matches an extension of its MIME type. Export links are filtered by the
// exclusive set; with preferred formats configured, the first pass keeps
// only preferred exports and the fallback pass (ignorePreferred) keeps every
// allowed one. URLs in excluded are never returned. The result is sorted by
// extension, then URL.
func SelectRenditions(doc *Document, formats Formats, excluded map[string]struct{}, ignorePreferred bool) []Candidate {
	if doc.DownloadURL != "" {
		if _, skip := excluded[doc.DownloadURL]; skip {
			return nil
		}

		exts := ExtensionsForMIME(doc.MimeType)
		if !formats.allowed(exts...) {
			return nil
		}

		// The title only names the file; it never admits one.
		ext := titleExtension(doc.Title)
		if len(exts) > 0 {
			ext = exts[0]
		}

		return []Candidate{{URL: doc.DownloadURL, Extension: ext}}
	}

	var out []Candidate

	for mimeType, link := range doc.ExportLinks {
		if _, skip := excluded[link]; skip {
			continue
		}

		ext := ExportExtension(link, mimeType)
		if !formats.allowed(ext) {
			continue
		}

		if !ignorePreferred && len(formats.Preferred) > 0 && !formats.preferred(ext) {
			continue
		}

		out = append(out, Candidate{URL: link, Extension: ext})
	}

	slices.SortFunc(out, func(a, b Candidate) int {
		if c := strings.Compare(a.Extension, b.Extension); c != 0 {
			return c
		}

		return strings.Compare(a.URL, b.URL)
	})

	return out
}

// ExportExtension extracts the format an export URL produces: its
// exportFormat query parameter, else the path extension, else the first
// extension known for mimeType.
func ExportExtension(link, mimeType string) string {
	if u, err := url.Parse(link); err == nil {
		if f := u.Query().Get("exportFormat"); f != "" {
			return strings.ToLower(f)
		}

		if ext := strings.TrimPrefix(path.Ext(u.Path), "."); ext != "" {
			return strings.ToLower(ext)
		}
	}

	if exts := ExtensionsForMIME(mimeType); len(exts) > 0 {
		return exts[0]
	}

	return ""
}

// knownExtensions covers the office and Google export types, which the
// system MIME database often lacks. First entry is the canonical one.
var knownExtensions = map[string][]string{
	"application/pdf":      {"pdf"},
	"application/msword":   {"doc"},
	"application/rtf":      {"rtf"},
	"application/epub+zip": {"epub"},
	"application/zip":      {"zip"},

	"application/vnd.ms-excel":      {"xls"},
	"application/vnd.ms-powerpoint": {"ppt"},

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   {"docx"},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         {"xlsx"},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {"pptx"},

	"application/vnd.oasis.opendocument.text":          {"odt"},
	"application/vnd.oasis.opendocument.spreadsheet":   {"ods"},
	"application/vnd.oasis.opendocument.presentation":  {"odp"},
	"application/vnd.oasis.opendocument.graphics":      {"odg"},
	"application/x-vnd.oasis.opendocument.spreadsheet": {"ods"},
	"application/vnd.google-apps.script+json":          {"json"},

	"text/plain":                {"txt"},
	"text/csv":                  {"csv"},
	"text/tab-separated-values": {"tsv"},
	"text/html":                 {"html"},
	"image/jpeg":                {"jpg", "jpeg"},
	"image/png":                 {"png"},
	"image/svg+xml":             {"svg"},
}

// ExtensionsForMIME lists the extensions for a MIME type, lower-case
// without dots, canonical first. Unknown types yield nil.
func ExtensionsForMIME(mimeType string) []string {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.ToLower(strings.TrimSpace(base))

	if exts, ok := knownExtensions[base]; ok {
		return slices.Clone(exts)
	}

	sys, err := mime.ExtensionsByType(base)
	if err != nil || len(sys) == 0 {
		return nil
	}

	return NormalizeFormats(sys)
}

func titleExtension(title string) string {
	ext := path.Ext(title)
	if ext == "" || strings.ContainsAny(ext, `/\ `) {
		return ""
	}

	return strings.ToLower(ext[1:])
}
