package calllog_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/bellissimopizza/bellissimolog/pkg/calllog"
	"github.com/bellissimopizza/bellissimolog/pkg/requestid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type carrierError struct {
	resp *http.Response
}

func (e *carrierError) Error() string { return "bad gateway" }

func (e *carrierError) Response() *http.Response { return e.resp }

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func (failingReader) Close() error { return nil }

func fixedClock(times ...time.Time) calllog.Clock {
	i := 0
	return func() time.Time {
		t := times[i]
		if i < len(times)-1 {
			i++
		}
		return t
	}
}

func TestFormatExecutionTime(t *testing.T) {
	pattern := regexp.MustCompile(`^\d+\.\d{4}s$`)

	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0.0000s"},
		{1500 * time.Millisecond, "1.5000s"},
		{123456789 * time.Nanosecond, "0.1235s"},
		{42 * time.Microsecond, "0.0000s"},
		{-time.Second, "0.0000s"},
		{90 * time.Second, "90.0000s"},
	}

	for _, tt := range tests {
		got := calllog.FormatExecutionTime(tt.in)
		if got != tt.want {
			t.Errorf("FormatExecutionTime(%v) = %q, want %q", tt.in, got, tt.want)
		}
		if !pattern.MatchString(got) {
			t.Errorf("FormatExecutionTime(%v) = %q does not have 4 decimals", tt.in, got)
		}
	}
}

func TestParseBody(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want interface{}
	}{
		{"Object", `{"ok":true}`, map[string]interface{}{"ok": true}},
		{"Object with whitespace", " {\"n\": 1}\n", map[string]interface{}{"n": json.Number("1")}},
		{"Array", `["a","b"]`, []interface{}{"a", "b"}},
		{"Scalar", `17`, json.Number("17")},
		{"Null", `null`, nil},
		{"Empty", ``, ""},
		{"Plain text", `hello`, "hello"},
		{"Broken JSON", `{"ok":`, `{"ok":`},
		{"Trailing data", `{"a":1}{"b":2}`, `{"a":1}{"b":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calllog.ParseBody([]byte(tt.in))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseBody(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestReadBody(t *testing.T) {
	b, replacement, truncated, err := calllog.ReadBody(io.NopCloser(strings.NewReader("payload")), 64)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(b) != "payload" || truncated {
		t.Errorf("Expected complete payload, got %q (truncated %v)", string(b), truncated)
	}

	again, _ := io.ReadAll(replacement)
	if string(again) != "payload" {
		t.Errorf("Expected replacement to yield the same bytes, got %q", string(again))
	}

	b, replacement, truncated, err = calllog.ReadBody(nil, 64)
	if b != nil || replacement != nil || truncated || err != nil {
		t.Errorf("Expected nil results for nil body, got %v %v %v %v", b, replacement, truncated, err)
	}

	_, replacement, _, err = calllog.ReadBody(failingReader{}, 64)
	if err == nil {
		t.Fatal("Expected read error")
	}
	if _, rerr := io.ReadAll(replacement); rerr == nil || rerr.Error() != "connection reset" {
		t.Errorf("Expected replacement to replay the read error, got %v", rerr)
	}
}

type countingReader struct {
	r      io.Reader
	read   int
	closed bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += n
	return n, err
}

func (c *countingReader) Close() error {
	c.closed = true
	return nil
}

func TestReadBodyStopsAtLimit(t *testing.T) {
	src := &countingReader{r: strings.NewReader(strings.Repeat("x", 10000))}

	b, replacement, truncated, err := calllog.ReadBody(src, 100)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(b) != 100 || !truncated {
		t.Errorf("Expected 100 truncated bytes, got %d (truncated %v)", len(b), truncated)
	}
	if src.read > 101 {
		t.Errorf("Expected at most 101 bytes read ahead, got %d", src.read)
	}

	all, _ := io.ReadAll(replacement)
	if len(all) != 10000 {
		t.Errorf("Expected replacement to yield all 10000 bytes, got %d", len(all))
	}

	replacement.Close()
	if !src.closed {
		t.Error("Expected replacement to close the original body")
	}
}

func TestCaptureBuffer(t *testing.T) {
	c := calllog.NewCaptureBuffer(8)

	for _, chunk := range []string{"data", ": 1\n", "data: 2\n"} {
		n, err := c.Write([]byte(chunk))
		if err != nil || n != len(chunk) {
			t.Errorf("Expected full write of %q, got %d %v", chunk, n, err)
		}
	}

	if string(c.Bytes()) != "data: 1\n" {
		t.Errorf("Expected first 8 bytes kept, got %q", string(c.Bytes()))
	}
	if !c.Truncated() {
		t.Error("Expected buffer to report truncation")
	}
}

func TestRecordEntries(t *testing.T) {
	start := time.Date(2025, 7, 9, 10, 0, 0, 0, time.UTC)
	clock := fixedClock(start, start.Add(1234567*time.Microsecond), start.Add(2*time.Second))

	ctx := requestid.NewContext(context.Background(), "req-1")
	r := calllog.NewRecord(ctx, requestid.FromContext, clock, calllog.Inbound, "POST", "http://example.com/orders")
	r.IP = "192.0.2.1"
	r.Payload = map[string]interface{}{"qty": 1}

	r.Complete(http.StatusCreated, "created")

	if r.Failed() {
		t.Error("Expected record to be successful")
	}

	keys := func(fields []zap.Field) []string {
		out := make([]string, len(fields))
		for i, f := range fields {
			out[i] = f.Key
		}
		return out
	}

	if got := keys(r.RequestFields()); !reflect.DeepEqual(got, []string{"request_id", "method", "url", "ip", "payload", "timestamp"}) {
		t.Errorf("Unexpected Request fields %v", got)
	}

	response := r.ResponseFields()
	if got := keys(response); !reflect.DeepEqual(got, []string{"request_id", "status", "execution_time", "timestamp", "response"}) {
		t.Errorf("Unexpected Response fields %v", got)
	}

	if response[2].String != "1.2346s" {
		t.Errorf("Expected execution_time 1.2346s, got %q", response[2].String)
	}

	if response[3].String != "2025-07-09T10:00:02Z" {
		t.Errorf("Expected ISO-8601 timestamp, got %q", response[3].String)
	}

	r.Fail(&calllog.Failure{Class: "*errors.errorString", Message: "boom"})
	if got := keys(r.ExceptionFields()); !reflect.DeepEqual(got, []string{
		"request_id", "exception_class", "message", "code", "file", "line", "trace", "execution_time", "timestamp",
	}) {
		t.Errorf("Unexpected Exception fields %v", got)
	}
}

func TestRecordWithoutRequestID(t *testing.T) {
	r := calllog.NewRecord(context.Background(), requestid.FromContext, nil, calllog.Outbound, "GET", "http://example.com")

	if r.RequestID != nil {
		t.Errorf("Expected no request id, got %q", *r.RequestID)
	}

	keys := make([]string, 0)
	for _, f := range r.RequestFields() {
		keys = append(keys, f.Key)
	}
	for _, k := range keys {
		if k == "ip" {
			t.Error("Expected no ip field for outbound records")
		}
	}

	core, recorded := observer.New(zapcore.DebugLevel)
	zap.New(core).Info("Request", r.RequestFields()...)
	if v, ok := recorded.All()[0].ContextMap()["request_id"]; !ok || v != nil {
		t.Errorf("Expected request_id to be logged as null, got %v (present=%v)", v, ok)
	}
}

func TestNewFailure(t *testing.T) {
	err := fmt.Errorf("fetch menu: %w", errors.New("upstream down"))

	f := calllog.NewFailure(err, nil)
	if f.Class != "*fmt.wrapError" {
		t.Errorf("Expected class *fmt.wrapError, got %s", f.Class)
	}
	if f.Message != "fetch menu: upstream down" {
		t.Errorf("Unexpected message %q", f.Message)
	}
	if f.Code != 0 {
		t.Errorf("Expected code 0, got %d", f.Code)
	}
	if !strings.HasSuffix(f.File, "calllog_test.go") || f.Line <= 0 {
		t.Errorf("Expected location in calllog_test.go, got %s:%d", f.File, f.Line)
	}
	if !strings.Contains(f.Trace, "TestNewFailure") {
		t.Errorf("Expected trace to contain the caller, got %q", f.Trace)
	}
}

func TestNewFailureCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		resp *http.Response
		want int
	}{
		{"Carried response", &carrierError{resp: &http.Response{StatusCode: 502}}, nil, 502},
		{"Wrapped carried response", fmt.Errorf("call: %w", &carrierError{resp: &http.Response{StatusCode: 503}}), nil, 503},
		{"Explicit response", errors.New("failed"), &http.Response{StatusCode: 500}, 500},
		{"Errno", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), nil, int(syscall.ECONNREFUSED)},
		{"Plain", errors.New("failed"), nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calllog.NewFailure(tt.err, tt.resp).Code; got != tt.want {
				t.Errorf("Expected code %d, got %d", tt.want, got)
			}
		})
	}
}

func TestNewPanicFailure(t *testing.T) {
	var f *calllog.Failure
	func() {
		defer func() {
			if v := recover(); v != nil {
				f = calllog.NewPanicFailure(v)
			}
		}()
		panic("burnt crust")
	}()

	if f == nil {
		t.Fatal("Expected failure to be recorded")
	}
	if f.Class != "string" || f.Message != "burnt crust" {
		t.Errorf("Unexpected failure %s: %s", f.Class, f.Message)
	}
	if !strings.HasSuffix(f.File, "calllog_test.go") {
		t.Errorf("Expected panic site in calllog_test.go, got %s", f.File)
	}
	if strings.Contains(f.Trace, "runtime.gopanic") {
		t.Errorf("Expected trace to start at the panic site, got %q", f.Trace)
	}
}

func TestOptionsMatching(t *testing.T) {
	o := &calllog.Options{
		Exclude:             regexp.MustCompile("^/health"),
		ExcludePayload:      regexp.MustCompile("^/login"),
		ExcludeResponseBody: regexp.MustCompile(""),
	}

	if !o.Excluded("/healthz") || o.Excluded("/menu") {
		t.Error("Unexpected exclusion result")
	}
	if o.CapturePayload("/login") || !o.CapturePayload("/menu") {
		t.Error("Unexpected payload capture result")
	}
	if !o.CaptureResponseBody("/anything") {
		t.Error("Expected empty regexp to exclude nothing")
	}

	o.OmitResponseBody = true
	if o.CaptureResponseBody("/anything") {
		t.Error("Expected response body to be omitted")
	}
}

func TestOptionsFinishEmitsOneCompletionEntry(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	o := &calllog.Options{
		Sink: calllog.SinkFunc(func(level zapcore.Level, tag string, fields []zap.Field) {
			logger.Check(level, tag).Write(fields...)
		}),
		Level:   calllog.LevelOf(zapcore.WarnLevel),
		Metrics: true,
	}

	ok := o.Start(context.Background(), calllog.Outbound, "GET", "http://example.com")
	o.LogRequest(ok)
	ok.Complete(200, nil)
	o.Finish(ok)

	failed := o.Start(context.Background(), calllog.Outbound, "GET", "http://example.com")
	o.LogRequest(failed)
	failed.Fail(calllog.NewFailure(errors.New("boom"), nil))
	o.Finish(failed)

	var got []string
	for _, entry := range recorded.All() {
		got = append(got, entry.Message)
		if entry.Level != zapcore.WarnLevel {
			t.Errorf("Expected level warn, got %v", entry.Level)
		}
	}

	want := []string{"Request", "Response", "Request", "Exception"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestOptionsDefaults(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	o := &calllog.Options{
		Sink: calllog.SinkFunc(func(level zapcore.Level, tag string, fields []zap.Field) {
			logger.Check(level, tag).Write(fields...)
		}),
	}

	o.LogRequest(o.Start(context.Background(), calllog.Inbound, "GET", "http://example.com"))

	if recorded.Len() != 1 || recorded.All()[0].Level != zapcore.DebugLevel {
		t.Errorf("Expected one debug entry without a configured level, got %v", recorded.All())
	}

	if o.BodyLimit() != calllog.DefaultMaxBodyBytes {
		t.Errorf("Expected default body limit %d, got %d", calllog.DefaultMaxBodyBytes, o.BodyLimit())
	}

	o.MaxBodyBytes = 10
	if o.BodyLimit() != 10 {
		t.Errorf("Expected body limit 10, got %d", o.BodyLimit())
	}
}

func TestEmitContainsSinkPanics(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Expected sink panic to be contained, got %v", r)
		}
	}()

	calllog.Emit(calllog.SinkFunc(func(zapcore.Level, string, []zap.Field) {
		panic("disk full")
	}), zapcore.InfoLevel, calllog.TagRequest, nil)

	calllog.Emit(nil, zapcore.InfoLevel, calllog.TagRequest, nil)
}
