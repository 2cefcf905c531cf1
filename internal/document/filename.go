package document

import (
	"mime"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FileName derives the on-disk name of a rendition as {title}_{id}.{ext}.
// The extension comes from the filename suggested by a Content-Disposition
// header (quoted or RFC 5987 form), else fallbackExt; without either the
// name is {title}_{id}. The id suffix keeps documents sharing a title apart.
// The result never contains a path separator.
func FileName(title, id, disposition, fallbackExt string) string {
	ext := dispositionExtension(disposition)
	if ext == "" {
		ext = fallbackExt
	}

	name := SanitizeName(title) + "_" + SanitizeName(id)
	if ext = SanitizeName(ext); ext != "" {
		name += "." + ext
	}

	return name
}

// SanitizeName makes s safe as a single path element: NFC-normalized, with
// separators replaced by "_" and NUL bytes dropped.
func SanitizeName(s string) string {
	s = norm.NFC.String(s)

	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\':
			return '_'
		case 0:
			return -1
		default:
			return r
		}
	}, s)
}

func dispositionExtension(disposition string) string {
	if disposition == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}

	suggested := params["filename"]
	if suggested == "" {
		return ""
	}

	// Only the last element counts; a suggested directory is ignored.
	suggested = suggested[strings.LastIndexAny(suggested, `/\`)+1:]

	return strings.TrimPrefix(path.Ext(suggested), ".")
}
