package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// DefaultChunkSize is the buffer used when copying streamed content.
const DefaultChunkSize = 1 << 20

// ErrConsumed is returned when a rendition's content is read a second time.
var ErrConsumed = errors.New("document: rendition content already consumed")

// Rendition is one downloaded representation of a document. Its content is
// either held in memory (buffered mode) or an unread response stream
// (streaming mode) and can be written out exactly once. Close releases the
// stream and any spool file; it is safe to call more than once.
type Rendition struct {
	Name       string
	URL        string
	Extension  string
	ModifiedAt time.Time

	size      int64 // -1 until known
	buffered  bool
	data      []byte
	stream    io.ReadCloser
	spool     *os.File
	tempDir   string
	chunkSize int
	consumed  bool
}

func newBufferedRendition(c Candidate, name string, modified time.Time, data []byte) *Rendition {
	return &Rendition{
		Name:       name,
		URL:        c.URL,
		Extension:  c.Extension,
		ModifiedAt: modified,
		size:       int64(len(data)),
		buffered:   true,
		data:       data,
	}
}

func newStreamedRendition(c Candidate, name string, modified time.Time, stream io.ReadCloser, tempDir string, chunkSize int) *Rendition {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Rendition{
		Name:       name,
		URL:        c.URL,
		Extension:  c.Extension,
		ModifiedAt: modified,
		size:       -1,
		stream:     stream,
		tempDir:    tempDir,
		chunkSize:  chunkSize,
	}
}

// NewRendition wraps in-memory content. Used by callers that already hold
// the bytes.
func NewRendition(name string, modified time.Time, data []byte) *Rendition {
	return newBufferedRendition(Candidate{}, name, modified, data)
}

// NewStreamRendition wraps an unread stream. Spool files, if Size needs
// one, go to tempDir.
func NewStreamRendition(name string, modified time.Time, stream io.ReadCloser, tempDir string) *Rendition {
	return newStreamedRendition(Candidate{}, name, modified, stream, tempDir, DefaultChunkSize)
}

// Streamed reports whether the content arrives from a live response.
func (r *Rendition) Streamed() bool {
	return !r.buffered
}

// Size returns the content length. For a streamed rendition this drains the
// stream into a temporary file first; later reads are served from it.
func (r *Rendition) Size() (int64, error) {
	if r.size >= 0 {
		return r.size, nil
	}

	if r.consumed || r.stream == nil {
		return 0, ErrConsumed
	}

	if err := r.spoolStream(); err != nil {
		return 0, err
	}

	return r.size, nil
}

func (r *Rendition) spoolStream() error {
	f, err := os.CreateTemp(r.tempDir, "drivevault-spool-*")
	if err != nil {
		return fmt.Errorf("document: creating spool file: %w", err)
	}

	n, copyErr := copyChunks(f, r.stream, r.chunkSize)
	closeErr := r.stream.Close()
	r.stream = nil

	if copyErr == nil {
		copyErr = closeErr
	}

	if copyErr == nil {
		_, copyErr = f.Seek(0, io.SeekStart)
	}

	if copyErr != nil {
		f.Close()
		os.Remove(f.Name())
		r.consumed = true

		return fmt.Errorf("document: spooling %s: %w", r.Name, copyErr)
	}

	r.spool = f
	r.size = n

	return nil
}

// WriteTo copies the content to w in fixed-size chunks. It can be called
// once; later calls return ErrConsumed.
func (r *Rendition) WriteTo(w io.Writer) (int64, error) {
	if r.consumed {
		return 0, ErrConsumed
	}

	r.consumed = true

	switch {
	case r.buffered:
		n, err := copyChunks(w, bytes.NewReader(r.data), DefaultChunkSize)
		r.data = nil

		return n, err
	case r.spool != nil:
		return copyChunks(w, r.spool, r.chunkSize)
	case r.stream != nil:
		n, err := copyChunks(w, r.stream, r.chunkSize)
		if err == nil {
			r.size = n
		}

		return n, err
	default:
		return 0, ErrConsumed
	}
}

// Close releases the content.
func (r *Rendition) Close() error {
	var errs []error

	if r.stream != nil {
		errs = append(errs, r.stream.Close())
		r.stream = nil
	}

	if r.spool != nil {
		name := r.spool.Name()
		errs = append(errs, r.spool.Close())

		if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}

		r.spool = nil
	}

	r.data = nil

	return errors.Join(errs...)
}

// copyChunks copies src to dst through a buffer of the given size. It does
// not defer to ReaderFrom/WriterTo, so memory stays bounded by the chunk.
func copyChunks(dst io.Writer, src io.Reader, chunk int) (int64, error) {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	buf := make([]byte, chunk)

	var written int64

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)

			if werr != nil {
				return written, werr
			}

			if w != n {
				return written, io.ErrShortWrite
			}
		}

		if errors.Is(rerr, io.EOF) {
			return written, nil
		}

		if rerr != nil {
			return written, rerr
		}
	}
}
