package calllog

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"syscall"
)

// Failure describes the error a call ended with.
type Failure struct {
	Class   string
	Message string
	Code    int
	File    string
	Line    int
	Trace   string
}

// Coder is implemented by errors that carry their own numeric code.
type Coder interface {
	Code() int
}

// ResponseCarrier is implemented by errors that carry the HTTP response which
// caused them.
type ResponseCarrier interface {
	Response() *http.Response
}

// CarriedResponse returns the response carried by err, or nil.
func CarriedResponse(err error) *http.Response {
	var rc ResponseCarrier
	if errors.As(err, &rc) {
		return rc.Response()
	}

	return nil
}

// NewFailure describes err. resp is the response that came with the failure,
// if any. The source location is the first caller outside the interceptors,
// net/http and the runtime.
func NewFailure(err error, resp *http.Response) *Failure {
	frames := callers(3)
	f := &Failure{
		Class:   fmt.Sprintf("%T", err),
		Message: err.Error(),
		Code:    codeOf(err, resp),
		Trace:   formatTrace(frames),
	}
	f.File, f.Line = location(frames)

	return f
}

// NewPanicFailure describes a recovered panic value. It must be called from
// the deferred function that recovered v, the panic site is then still on the
// stack.
func NewPanicFailure(v any) *Failure {
	frames := panicFrames(callers(3))

	f := &Failure{Trace: formatTrace(frames)}
	if err, ok := v.(error); ok {
		f.Class = fmt.Sprintf("%T", err)
		f.Message = err.Error()
		f.Code = codeOf(err, nil)
	} else {
		f.Class = fmt.Sprintf("%T", v)
		f.Message = fmt.Sprint(v)
	}
	f.File, f.Line = location(frames)

	return f
}

func codeOf(err error, resp *http.Response) int {
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}

	if resp == nil {
		resp = CarriedResponse(err)
	}
	if resp != nil {
		return resp.StatusCode
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}

	return 0
}

func callers(skip int) []runtime.Frame {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip, pcs)
	it := runtime.CallersFrames(pcs[:n])

	frames := make([]runtime.Frame, 0, n)
	for {
		frame, more := it.Next()
		frames = append(frames, frame)
		if !more {
			break
		}
	}

	return frames
}

// panicFrames drops everything up to and including runtime.gopanic.
func panicFrames(frames []runtime.Frame) []runtime.Frame {
	for i, frame := range frames {
		if frame.Function == "runtime.gopanic" {
			return frames[i+1:]
		}
	}

	return frames
}

func location(frames []runtime.Frame) (string, int) {
	for _, frame := range frames {
		if internalFrame(frame.Function) {
			continue
		}

		return frame.File, frame.Line
	}

	if len(frames) > 0 {
		return frames[0].File, frames[0].Line
	}

	return "", 0
}

var internalPackages = []string{
	selfPackage,
	selfPackage + "/inbound",
	selfPackage + "/outbound",
	"net/http",
	"runtime",
}

var selfPackage = func() string {
	pc, _, _, _ := runtime.Caller(0)
	name := runtime.FuncForPC(pc).Name()
	return packageOf(name)
}()

func internalFrame(function string) bool {
	pkg := packageOf(function)
	for _, p := range internalPackages {
		if pkg == p {
			return true
		}
	}

	return false
}

// packageOf strips the function and receiver from a fully qualified function
// name such as "example.com/a/b.(*T).M.func1".
func packageOf(function string) string {
	slash := strings.LastIndex(function, "/")
	if dot := strings.Index(function[slash+1:], "."); dot >= 0 {
		return function[:slash+1+dot]
	}

	return function
}

func formatTrace(frames []runtime.Frame) string {
	var b strings.Builder
	for i, frame := range frames {
		fmt.Fprintf(&b, "#%d %s:%d %s\n", i, frame.File, frame.Line, frame.Function)
	}

	return strings.TrimSuffix(b.String(), "\n")
}
