package outbound

import (
	"fmt"
	"net/http"
)

// StatusError is returned by the ErrorOnStatus transport for responses with a
// status of 400 or above. The caller owns the carried response and must close
// its body.
type StatusError struct {
	response *http.Response
}

// NewStatusError wraps resp.
func NewStatusError(resp *http.Response) *StatusError {
	return &StatusError{response: resp}
}

func (e *StatusError) Error() string {
	if req := e.response.Request; req != nil {
		return fmt.Sprintf("%s %s: unexpected status %s", req.Method, req.URL, e.response.Status)
	}

	return fmt.Sprintf("unexpected status %s", e.response.Status)
}

// Response returns the response that caused the error.
func (e *StatusError) Response() *http.Response {
	return e.response
}

type statusTransport struct {
	next http.RoundTripper
}

// ErrorOnStatus turns responses with a status of 400 or above into a
// *StatusError. Place it inside the logging Transport so the error is logged
// as an exception.
func ErrorOnStatus(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}

	return &statusTransport{next: next}
}

func (t *statusTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(r)
	if err != nil {
		return resp, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, NewStatusError(resp)
	}

	return resp, nil
}
