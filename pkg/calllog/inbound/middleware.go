// Package inbound logs requests handled by this process. The Middleware
// writes the "Request" entry before the wrapped handler runs and a "Response"
// or "Exception" entry once it returned, returned an error or panicked.
package inbound

import (
	"fmt"
	"net/http"

	"github.com/bellissimopizza/bellissimolog/pkg/calllog"
	"github.com/bellissimopizza/bellissimolog/pkg/metrics"
)

// Config configures a Middleware.
type Config struct {
	calllog.Options

	// TrustForwardedFor takes the client IP and scheme from the
	// X-Forwarded-For and X-Forwarded-Proto headers.
	TrustForwardedFor bool
}

// HandlerFunc is a handler that reports failure by returning an error.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// Middleware logs inbound requests. It holds no per-request state and is safe
// for concurrent use.
type Middleware struct {
	cfg *Config
}

// NewMiddleware creates a Middleware.
func NewMiddleware(cfg *Config) (*Middleware, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}

	return &Middleware{cfg: cfg}, nil
}

// Handler wraps next. A panic in next is logged and then continues with the
// same value.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.shouldLog(r) {
			next.ServeHTTP(w, r)
			return
		}

		_ = m.serve(w, r, func(rw http.ResponseWriter) error {
			next.ServeHTTP(rw, r)
			return nil
		})
	})
}

// WrapFunc wraps next. An error returned by next is logged and returned
// unchanged; panics are handled as in Handler.
func (m *Middleware) WrapFunc(next HandlerFunc) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		if !m.shouldLog(r) {
			return next(w, r)
		}

		return m.serve(w, r, func(rw http.ResponseWriter) error {
			return next(rw, r)
		})
	}
}

func (m *Middleware) shouldLog(r *http.Request) bool {
	return m.cfg.Sink != nil && !m.cfg.Excluded(r.URL.Path)
}

func (m *Middleware) serve(w http.ResponseWriter, r *http.Request, call func(http.ResponseWriter) error) error {
	record := m.cfg.Start(r.Context(), calllog.Inbound, r.Method, fullURL(r, m.cfg.TrustForwardedFor))
	record.IP = clientIP(r, m.cfg.TrustForwardedFor)
	if m.cfg.CapturePayload(r.URL.Path) {
		payload, size := requestPayload(r, m.cfg.BodyLimit())
		record.Payload = payload
		m.observeSize("request", size)
	}

	m.cfg.LogRequest(record)

	var captured *calllog.CaptureBuffer
	if m.cfg.CaptureResponseBody(r.URL.Path) {
		captured = calllog.NewCaptureBuffer(m.cfg.BodyLimit())
	}
	rec := newResponseRecorder(w, captured)

	defer func() {
		if v := recover(); v != nil {
			record.Fail(calllog.NewPanicFailure(v))
			m.cfg.Finish(record)
			panic(v)
		}
	}()

	if err := call(rec); err != nil {
		record.Fail(calllog.NewFailure(err, nil))
		m.cfg.Finish(record)
		return err
	}

	var body any
	if captured != nil {
		body = calllog.ParseBody(captured.Bytes())
	}
	m.observeSize("response", rec.size)

	record.Complete(rec.statusCode(), body)
	m.cfg.Finish(record)

	return nil
}

func (m *Middleware) observeSize(kind string, n int) {
	if m.cfg.Metrics {
		metrics.PayloadSizeBytes.WithLabelValues(string(calllog.Inbound), kind).Observe(float64(n))
	}
}
