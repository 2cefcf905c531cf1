package document

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ErrVerification means a download's length or checksum did not match what
// the source declared. The URL is banned for the document; it is never fatal
// for the run.
var ErrVerification = errors.New("document: content verification failed")

// expectation is what the source declared about a download. length < 0 and
// a nil md5 mean "not declared".
type expectation struct {
	length int64
	md5    []byte
}

// expectationFor collects the declared length from Content-Length and the
// declared MD5 from Content-MD5 or X-Goog-Hash. The metadata checksum only
// describes the stored binary, so it applies to the direct download URL
// alone.
func expectationFor(doc *Document, url string, h http.Header) expectation {
	exp := expectation{length: -1}

	if v := h.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			exp.length = n
		}
	}

	if sum := headerMD5(h); sum != nil {
		exp.md5 = sum
	} else if url == doc.DownloadURL && doc.MD5 != "" {
		if sum, err := hex.DecodeString(doc.MD5); err == nil {
			exp.md5 = sum
		}
	}

	return exp
}

func headerMD5(h http.Header) []byte {
	if v := h.Get("Content-MD5"); v != "" {
		if sum, err := base64.StdEncoding.DecodeString(v); err == nil && len(sum) == md5.Size {
			return sum
		}
	}

	for _, v := range h.Values("X-Goog-Hash") {
		for _, part := range strings.Split(v, ",") {
			algo, enc, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok || algo != "md5" {
				continue
			}

			if sum, err := base64.StdEncoding.DecodeString(enc); err == nil && len(sum) == md5.Size {
				return sum
			}
		}
	}

	return nil
}

// check compares the actual byte count and digest against the declaration.
func (e expectation) check(n int64, sum []byte) error {
	if e.length >= 0 && e.length != n {
		return fmt.Errorf("%w: expected length %d, got %d", ErrVerification, e.length, n)
	}

	if e.md5 != nil && !bytes.Equal(e.md5, sum) {
		return fmt.Errorf("%w: expected md5 %x, got %x", ErrVerification, e.md5, sum)
	}

	return nil
}

func (e expectation) verify(data []byte) error {
	sum := md5.Sum(data)
	return e.check(int64(len(data)), sum[:])
}

// verifyingReader hashes a stream as it is read and, at EOF, returns an
// ErrVerification error instead of io.EOF when the stream does not match.
type verifyingReader struct {
	rc  io.ReadCloser
	exp expectation
	h   hash.Hash
	n   int64
}

func newVerifyingReader(rc io.ReadCloser, exp expectation) *verifyingReader {
	return &verifyingReader{rc: rc, exp: exp, h: md5.New()}
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.rc.Read(p)
	v.h.Write(p[:n])
	v.n += int64(n)

	if errors.Is(err, io.EOF) {
		if verr := v.exp.check(v.n, v.h.Sum(nil)); verr != nil {
			return n, verr
		}
	}

	return n, err
}

func (v *verifyingReader) Close() error {
	return v.rc.Close()
}
