// Package outbound logs outgoing HTTP client calls. Transport is an
// http.RoundTripper that emits a "Request" entry and either a "Response" or
// an "Exception" entry for every call, without changing its result.
package outbound

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/bellissimopizza/bellissimolog/pkg/calllog"
	"github.com/bellissimopizza/bellissimolog/pkg/metrics"
	"go.uber.org/zap"
)

// Config configures a Transport.
type Config struct {
	calllog.Options

	// TransferStats observes connection statistics for every call. Without
	// it statistics are only collected for requests whose context carries a
	// StatsHandler.
	TransferStats bool
}

// Transport logs each call made through the wrapped http.RoundTripper. It
// holds no per-call state and is safe for concurrent use.
type Transport struct {
	roundTripper http.RoundTripper
	cfg          *Config
}

// NewTransport wraps next. A nil next uses a dedicated http.Transport.
func NewTransport(next http.RoundTripper, cfg *Config) (*Transport, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}

	if next == nil {
		next = newDefaultRoundTripper()
	}

	return &Transport{
		roundTripper: next,
		cfg:          cfg,
	}, nil
}

func newDefaultRoundTripper() http.RoundTripper {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// RoundTrip performs the call and logs it. The response and error of the
// wrapped RoundTripper are returned unchanged.
//
// execution_time is measured up to the arrival of the response headers. When
// the response body is logged, the "Request" entry is written once the headers
// arrived and the "Response" entry once the caller drained or closed the body.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	if !t.cfg.shouldLog(r) {
		return t.roundTripper.RoundTrip(r)
	}

	record := t.cfg.Start(r.Context(), calllog.Outbound, r.Method, r.URL.String())

	sent := r
	if t.cfg.CapturePayload(r.URL.Path) {
		record.Payload, sent = t.requestPayload(r)
	}

	handler := statsHandlerFrom(r.Context())
	var stats *statsRecorder
	if t.cfg.TransferStats || handler != nil {
		stats = newStatsRecorder(t.cfg.now)
		sent = sent.WithContext(httptrace.WithClientTrace(sent.Context(), stats.trace()))
	}

	response, err := t.roundTripper.RoundTrip(sent)

	if stats != nil {
		snapshot := stats.snapshot()
		if handler != nil {
			handler(snapshot)
		}
		record.Extra = append(record.Extra, zap.Object("transfer_stats", snapshot))
	}

	if err != nil {
		carried := calllog.CarriedResponse(err)
		if carried == nil {
			carried = response
		}

		record.Fail(calllog.NewFailure(err, carried))
		if t.cfg.Metrics {
			metrics.UpstreamErrorsTotal.WithLabelValues(r.URL.Host, classifyError(err)).Inc()
		}

		t.cfg.LogRequest(record)
		t.cfg.Finish(record)

		return response, err
	}

	record.Complete(response.StatusCode, nil)
	t.cfg.LogRequest(record)

	capture := t.cfg.CaptureResponseBody(r.URL.Path)
	if !capture || !teeable(response) {
		if capture {
			record.Body = calllog.ParseBody(nil)
		}
		t.cfg.Finish(record)
		return response, nil
	}

	response.Body = &loggedBody{
		ReadCloser: response.Body,
		capture:    calllog.NewCaptureBuffer(t.cfg.BodyLimit()),
		finish: func(captured []byte, size int) {
			t.observeSize("response", size)
			record.Body = calllog.ParseBody(captured)
			t.cfg.Finish(record)
		},
	}

	return response, nil
}

// teeable reports whether the body of response can be wrapped. Upgraded
// connections need their writable body.
func teeable(response *http.Response) bool {
	return response.Body != nil &&
		response.Body != http.NoBody &&
		response.StatusCode != http.StatusSwitchingProtocols
}

func (c *Config) shouldLog(r *http.Request) bool {
	return c.Sink != nil && !c.Excluded(r.URL.Path)
}

func (c *Config) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}

	return time.Now()
}

// requestPayload captures the outgoing body and returns the request to send.
// Without GetBody the body is read up to the capture limit and a clone of r
// carries the replacement, so r itself is never modified.
func (t *Transport) requestPayload(r *http.Request) (any, *http.Request) {
	if r.Body == nil || r.Body == http.NoBody {
		return calllog.ParseBody(nil), r
	}

	limit := t.cfg.BodyLimit()

	if r.GetBody != nil {
		rc, err := r.GetBody()
		if err != nil {
			return calllog.ParseBody(nil), r
		}
		b, _, _, _ := calllog.ReadBody(rc, limit)
		rc.Close()

		t.observeSize("request", len(b))
		return calllog.ParseBody(b), r
	}

	b, body, _, _ := calllog.ReadBody(r.Body, limit)
	sent := r.Clone(r.Context())
	sent.Body = body

	t.observeSize("request", len(b))
	return calllog.ParseBody(b), sent
}

func (t *Transport) observeSize(kind string, n int) {
	if t.cfg.Metrics {
		metrics.PayloadSizeBytes.WithLabelValues(string(calllog.Outbound), kind).Observe(float64(n))
	}
}

func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return "http_status"
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return "connection_refused"
	case strings.Contains(errStr, "context deadline exceeded"):
		return "context_deadline_exceeded"
	case strings.Contains(errStr, "context canceled"):
		return "context_canceled"
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "no such host"):
		return "dns_error"
	case strings.Contains(errStr, "EOF"):
		return "eof"
	case strings.Contains(errStr, "TLS") || strings.Contains(errStr, "tls"):
		return "tls_error"
	default:
		return "other"
	}
}
