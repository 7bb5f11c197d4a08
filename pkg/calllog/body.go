package calllog

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// ParseBody decodes b as JSON. When b is not a single valid JSON document the
// raw text is returned instead.
func ParseBody(b []byte) any {
	if v, ok := DecodeJSON(b); ok {
		return v
	}

	return string(b)
}

// DecodeJSON decodes b as exactly one JSON document. Numbers are kept as
// json.Number.
func DecodeJSON(b []byte) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}

	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}

	return v, true
}

// DefaultMaxBodyBytes is the capture limit used when Options.MaxBodyBytes is
// not set.
const DefaultMaxBodyBytes = 64 << 10

// ReadBody reads at most limit bytes of rc. The replacement yields the read
// bytes followed by the unread rest of rc and closes rc. truncated reports
// whether rc held more than limit bytes. A nil rc yields a nil replacement.
func ReadBody(rc io.ReadCloser, limit int64) (b []byte, replacement io.ReadCloser, truncated bool, err error) {
	if rc == nil || rc == http.NoBody {
		return nil, rc, false, nil
	}

	b, err = io.ReadAll(io.LimitReader(rc, limit+1))

	var rest io.Reader = rc
	if err != nil {
		// The replacement replays the partial bytes, then the read error.
		rest = errReader{err}
	}
	replacement = readCloser{Reader: io.MultiReader(bytes.NewReader(b), rest), Closer: rc}

	if int64(len(b)) > limit {
		b, truncated = b[:limit], true
	}

	return b, replacement, truncated, err
}

// CaptureBuffer keeps the first bytes written to it, up to a limit. Writes
// never fail.
type CaptureBuffer struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

// NewCaptureBuffer creates a CaptureBuffer that keeps at most limit bytes.
func NewCaptureBuffer(limit int64) *CaptureBuffer {
	return &CaptureBuffer{limit: limit}
}

func (c *CaptureBuffer) Write(p []byte) (int, error) {
	room := c.limit - int64(c.buf.Len())
	if int64(len(p)) > room {
		c.truncated = true
		if room > 0 {
			c.buf.Write(p[:room])
		}
		return len(p), nil
	}

	c.buf.Write(p)
	return len(p), nil
}

// Bytes returns the kept bytes.
func (c *CaptureBuffer) Bytes() []byte {
	return c.buf.Bytes()
}

// Truncated reports whether bytes were dropped.
func (c *CaptureBuffer) Truncated() bool {
	return c.truncated
}

type readCloser struct {
	io.Reader
	io.Closer
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
