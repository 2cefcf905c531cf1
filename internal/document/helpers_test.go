package document

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tonimelisma/drivevault/internal/gdrive"
	"github.com/tonimelisma/drivevault/internal/retry"
)

// fakeResponse scripts one URL. A zero status means 200.
type fakeResponse struct {
	status      int
	body        string
	disposition string
	md5Header   string // overrides the computed Content-MD5; "-" omits it
	length      string // overrides Content-Length; "-" omits it
	err         error
}

// fakeRequester serves scripted responses per URL, popping one per call and
// repeating the last.
type fakeRequester struct {
	responses map[string][]fakeResponse
	calls     []string
}

func newFakeRequester() *fakeRequester {
	return &fakeRequester{responses: make(map[string][]fakeResponse)}
}

func (f *fakeRequester) on(url string, rs ...fakeResponse) {
	f.responses[url] = append(f.responses[url], rs...)
}

func (f *fakeRequester) Request(_ context.Context, url string, opts gdrive.RequestOptions) (*gdrive.Response, error) {
	f.calls = append(f.calls, url)

	queue := f.responses[url]
	if len(queue) == 0 {
		return nil, fmt.Errorf("unexpected request for %s", url)
	}

	r := queue[0]
	if len(queue) > 1 {
		f.responses[url] = queue[1:]
	}

	if r.err != nil {
		return nil, r.err
	}

	status := r.status
	if status == 0 {
		status = http.StatusOK
	}

	if status >= http.StatusMultipleChoices {
		for _, e := range opts.Expected {
			if e == status {
				return nil, &gdrive.ExpectedStatusError{Status: status}
			}
		}

		return nil, &gdrive.RequestFailedError{Status: status}
	}

	h := http.Header{}

	switch r.length {
	case "":
		h.Set("Content-Length", strconv.Itoa(len(r.body)))
	case "-":
	default:
		h.Set("Content-Length", r.length)
	}

	switch r.md5Header {
	case "":
		sum := md5.Sum([]byte(r.body))
		h.Set("Content-MD5", base64.StdEncoding.EncodeToString(sum[:]))
	case "-":
	default:
		h.Set("Content-MD5", r.md5Header)
	}

	if r.disposition != "" {
		h.Set("Content-Disposition", r.disposition)
	}

	resp := &gdrive.Response{Status: status, Header: h}
	if opts.Stream {
		resp.Stream = io.NopCloser(bytes.NewReader([]byte(r.body)))
	} else {
		resp.Body = []byte(r.body)
	}

	return resp, nil
}

func md5Base64(s string) string {
	sum := md5.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func fastPolicy() retry.Policy {
	return retry.Policy{Attempts: 2, Delay: time.Millisecond, Factor: 2}
}

// readAll drains a rendition through WriteTo.
func readAll(r *Rendition) (string, error) {
	var buf bytes.Buffer
	_, err := r.WriteTo(&buf)

	return buf.String(), err
}
