package inbound

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/bellissimopizza/bellissimolog/pkg/calllog"
)

// requestPayload returns all input of r: a JSON body merged with the query
// parameters, form fields merged with the query parameters, or the raw body.
// At most limit bytes are read ahead; a longer body is logged as its raw
// prefix. The handler still reads the whole body.
func requestPayload(r *http.Request, limit int64) (any, int) {
	b, body, truncated, _ := calllog.ReadBody(r.Body, limit)
	r.Body = body

	query := r.URL.Query()
	if len(b) == 0 {
		return flatten(query), 0
	}
	if truncated {
		return string(b), len(b)
	}

	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if form, err := url.ParseQuery(string(b)); err == nil {
			return merge(flatten(form), query), len(b)
		}
	case "multipart/form-data":
		if form, err := multipartFields(b, params["boundary"]); err == nil {
			return merge(form, query), len(b)
		}
	}

	v, ok := calllog.DecodeJSON(b)
	if !ok {
		return string(b), len(b)
	}

	if object, isObject := v.(map[string]any); isObject {
		return merge(object, query), len(b)
	}

	return v, len(b)
}

// multipartFields reads the value fields of a multipart body. File parts are
// represented by their file name.
func multipartFields(b []byte, boundary string) (map[string]any, error) {
	if boundary == "" {
		return nil, errors.New("missing multipart boundary")
	}

	values := url.Values{}
	reader := multipart.NewReader(bytes.NewReader(b), boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		name := part.FormName()
		if name == "" {
			continue
		}

		if filename := part.FileName(); filename != "" {
			values.Add(name, filename)
			continue
		}

		value, err := io.ReadAll(part)
		if err != nil {
			return nil, err
		}
		values.Add(name, string(value))
	}

	return flatten(values), nil
}

func flatten(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for key, vs := range values {
		if len(vs) == 1 {
			out[key] = vs[0]
			continue
		}

		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}
		out[key] = list
	}

	return out
}

// merge adds query parameters that the body does not define itself.
func merge(fields map[string]any, query url.Values) map[string]any {
	for key, value := range flatten(query) {
		if _, ok := fields[key]; !ok {
			fields[key] = value
		}
	}

	return fields
}

// fullURL rebuilds the absolute URL the client requested.
func fullURL(r *http.Request, trustForwarded bool) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if trustForwarded {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
	}

	u := url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}

	return u.String()
}

// clientIP returns the first X-Forwarded-For hop when forwarded headers are
// trusted, the remote address otherwise.
func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			return strings.TrimSpace(first)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
