package calllog

import (
	"context"
	"regexp"
	"strconv"

	"github.com/bellissimopizza/bellissimolog/pkg/metrics"
	"go.uber.org/zap/zapcore"
)

// Options configures a call logger. The zero value logs nothing because it
// has no Sink.
type Options struct {
	Sink Sink
	// Level of every emitted entry. Nil logs at zapcore.DebugLevel.
	Level *zapcore.Level
	// RequestID reads the correlation id of a call. Without it request_id is
	// logged as null.
	RequestID RequestIDFunc
	Clock     Clock

	// Exclude disables logging for calls whose URL path matches.
	Exclude *regexp.Regexp

	OmitPayload         bool
	ExcludePayload      *regexp.Regexp
	OmitResponseBody    bool
	ExcludeResponseBody *regexp.Regexp
	// MaxBodyBytes caps the captured part of each payload and response body.
	// Zero or less uses DefaultMaxBodyBytes. The call itself always sees the
	// whole body.
	MaxBodyBytes int64

	// Metrics enables the Prometheus collectors in package metrics.
	Metrics bool
}

// Excluded reports whether calls to path are not logged at all.
func (o *Options) Excluded(path string) bool {
	return matches(o.Exclude, path)
}

// CapturePayload reports whether the request payload of a call to path is
// logged.
func (o *Options) CapturePayload(path string) bool {
	return !o.OmitPayload && !matches(o.ExcludePayload, path)
}

// CaptureResponseBody reports whether the response body of a call to path is
// logged.
func (o *Options) CaptureResponseBody(path string) bool {
	return !o.OmitResponseBody && !matches(o.ExcludeResponseBody, path)
}

// BodyLimit returns the number of body bytes captured per payload or
// response.
func (o *Options) BodyLimit() int64 {
	if o.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}

	return o.MaxBodyBytes
}

// LevelOf returns a pointer to l for Options.Level.
func LevelOf(l zapcore.Level) *zapcore.Level {
	return &l
}

func (o *Options) level() zapcore.Level {
	if o.Level == nil {
		return zapcore.DebugLevel
	}

	return *o.Level
}

func matches(re *regexp.Regexp, path string) bool {
	return re != nil && re.String() != "" && re.MatchString(path)
}

// Start creates the record of a call that begins now.
func (o *Options) Start(ctx context.Context, dir Direction, method, url string) *Record {
	if o.Metrics {
		metrics.CallsInFlight.WithLabelValues(string(dir)).Inc()
	}

	return NewRecord(ctx, o.RequestID, o.Clock, dir, method, url)
}

// LogRequest emits the "Request" entry of r.
func (o *Options) LogRequest(r *Record) {
	Emit(o.Sink, o.level(), TagRequest, r.RequestFields())
}

// Finish emits the completion entry of r: "Exception" for a failed call,
// "Response" otherwise.
func (o *Options) Finish(r *Record) {
	if r.Failed() {
		Emit(o.Sink, o.level(), TagException, r.ExceptionFields())
	} else {
		Emit(o.Sink, o.level(), TagResponse, r.ResponseFields())
	}

	if o.Metrics {
		observe(r)
	}
}

func observe(r *Record) {
	dir := string(r.Direction)
	metrics.CallsInFlight.WithLabelValues(dir).Dec()

	status := strconv.Itoa(r.Status)
	if r.Failed() {
		status = "error"
		metrics.CallExceptionsTotal.WithLabelValues(dir, r.Failure.Class).Inc()
	}

	metrics.CallsTotal.WithLabelValues(dir, r.Method, status).Inc()
	metrics.CallDuration.WithLabelValues(dir, r.Method, status).Observe(r.ExecutionTime.Seconds())
}
