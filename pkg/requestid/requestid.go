// Package requestid threads a correlation id through a request-response cycle
// and the outbound calls made while serving it.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// DefaultHeader carries the id on inbound and outbound requests.
const DefaultHeader = "X-Request-Id"

type contextKey struct{}

// NewContext returns a copy of ctx carrying id.
func NewContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the id attached to ctx. An empty id counts as absent.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	if !ok || id == "" {
		return "", false
	}

	return id, true
}

// Middleware reads the id from header and stores it in the request context.
// When the header is missing and generate is set, a random UUID is used and
// written back to the request header. The id is echoed on the response.
func Middleware(header string, generate bool, next http.Handler) http.Handler {
	if header == "" {
		header = DefaultHeader
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(header)
		if id == "" && generate {
			id = uuid.Must(uuid.NewRandom()).String()
			r.Header.Set(header, id)
		}

		if id == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set(header, id)
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
	})
}

// Transport sets the context's id on outbound requests that do not carry the
// header yet.
type Transport struct {
	Header string
	Base   http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	header := t.Header
	if header == "" {
		header = DefaultHeader
	}

	id, ok := FromContext(r.Context())
	if !ok || r.Header.Get(header) != "" {
		return base.RoundTrip(r)
	}

	// A RoundTripper must not modify the caller's request.
	clone := r.Clone(r.Context())
	clone.Header.Set(header, id)

	return base.RoundTrip(clone)
}
