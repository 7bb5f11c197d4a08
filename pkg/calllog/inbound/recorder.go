package inbound

import (
	"net/http"

	"github.com/bellissimopizza/bellissimolog/pkg/calllog"
)

// responseRecorder wraps an http.ResponseWriter to capture the status code and
// the first bytes of the body. A nil body captures nothing.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        *calllog.CaptureBuffer
	size        int
}

func newResponseRecorder(w http.ResponseWriter, body *calllog.CaptureBuffer) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, body: body}
}

func (rr *responseRecorder) WriteHeader(code int) {
	// Informational responses may precede the final one.
	if !rr.wroteHeader && code >= http.StatusOK {
		rr.status = code
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(p []byte) (int, error) {
	if !rr.wroteHeader {
		rr.status = http.StatusOK
		rr.wroteHeader = true
	}

	n, err := rr.ResponseWriter.Write(p)
	rr.size += n
	if rr.body != nil {
		rr.body.Write(p[:n]) //nolint:errcheck
	}

	return n, err
}

// Flush implements http.Flusher when the wrapped writer does.
func (rr *responseRecorder) Flush() {
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		if !rr.wroteHeader {
			rr.status = http.StatusOK
			rr.wroteHeader = true
		}
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the wrapped writer.
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

func (rr *responseRecorder) statusCode() int {
	if rr.status == 0 {
		return http.StatusOK
	}

	return rr.status
}
