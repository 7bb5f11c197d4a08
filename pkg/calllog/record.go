// Package calllog holds the pieces shared by the inbound and outbound call
// loggers: the per-call record, the log entry schema, the body decoding policy
// and the sink contract.
package calllog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Message tags of the emitted log entries.
const (
	TagRequest   = "Request"
	TagResponse  = "Response"
	TagException = "Exception"
)

// Direction tells which side of the process a call was observed on.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Clock returns the current time.
type Clock func() time.Time

// RequestIDFunc reads the correlation id attached to a request context.
type RequestIDFunc func(ctx context.Context) (string, bool)

// Record is the transient state of a single intercepted call. It is created
// when the call starts, completed exactly once and then discarded.
type Record struct {
	RequestID *string
	Direction Direction
	Method    string
	URL       string
	IP        string
	Payload   any
	Start     time.Time

	ExecutionTime time.Duration
	Status        int
	Body          any
	Failure       *Failure

	// Extra is appended to the completion entry.
	Extra []zap.Field

	clock Clock
}

// NewRecord starts a record for one call.
func NewRecord(ctx context.Context, ids RequestIDFunc, clock Clock, dir Direction, method, url string) *Record {
	if clock == nil {
		clock = time.Now
	}

	r := &Record{
		Direction: dir,
		Method:    method,
		URL:       url,
		Start:     clock(),
		clock:     clock,
	}

	if ids != nil {
		if id, ok := ids(ctx); ok {
			r.RequestID = &id
		}
	}

	return r
}

// Complete marks the call as successful.
func (r *Record) Complete(status int, body any) {
	r.ExecutionTime = r.clock().Sub(r.Start)
	r.Status = status
	r.Body = body
}

// Fail marks the call as failed.
func (r *Record) Fail(f *Failure) {
	r.ExecutionTime = r.clock().Sub(r.Start)
	r.Failure = f
}

// Failed reports whether the call ended with a failure.
func (r *Record) Failed() bool {
	return r.Failure != nil
}

// RequestFields returns the fields of the "Request" entry. The ip field is
// only part of inbound entries.
func (r *Record) RequestFields() []zap.Field {
	fields := make([]zap.Field, 0, 6)
	fields = append(fields,
		zap.Stringp("request_id", r.RequestID),
		zap.String("method", r.Method),
		zap.String("url", r.URL),
	)
	if r.Direction == Inbound {
		fields = append(fields, zap.String("ip", r.IP))
	}

	return append(fields,
		zap.Any("payload", r.Payload),
		zap.String("timestamp", FormatTimestamp(r.clock())),
	)
}

// ResponseFields returns the fields of the "Response" entry.
func (r *Record) ResponseFields() []zap.Field {
	fields := []zap.Field{
		zap.Stringp("request_id", r.RequestID),
		zap.Int("status", r.Status),
		zap.String("execution_time", FormatExecutionTime(r.ExecutionTime)),
		zap.String("timestamp", FormatTimestamp(r.clock())),
		zap.Any("response", r.Body),
	}

	return append(fields, r.Extra...)
}

// ExceptionFields returns the fields of the "Exception" entry.
func (r *Record) ExceptionFields() []zap.Field {
	f := r.Failure
	if f == nil {
		f = &Failure{}
	}

	fields := []zap.Field{
		zap.Stringp("request_id", r.RequestID),
		zap.String("exception_class", f.Class),
		zap.String("message", f.Message),
		zap.Int("code", f.Code),
		zap.String("file", f.File),
		zap.Int("line", f.Line),
		zap.String("trace", f.Trace),
		zap.String("execution_time", FormatExecutionTime(r.ExecutionTime)),
		zap.String("timestamp", FormatTimestamp(r.clock())),
	}

	return append(fields, r.Extra...)
}

// FormatExecutionTime renders a duration as seconds with four decimals and an
// "s" suffix. Negative durations are reported as zero.
func FormatExecutionTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	return fmt.Sprintf("%.4fs", d.Seconds())
}

// FormatTimestamp renders t as ISO-8601.
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}
