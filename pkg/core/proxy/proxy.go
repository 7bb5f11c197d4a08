package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/bellissimopizza/bellissimolog/internal/version"
	"github.com/bellissimopizza/bellissimolog/pkg/calllog/outbound"
	config "github.com/bellissimopizza/bellissimolog/pkg/core/config"
)

// hopHeaders are stripped when a carried upstream response is replayed.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
}

// Server is a single host reverse proxy in front of the configured target.
type Server struct {
	cfg   *config.TranslatedConfig
	proxy *httputil.ReverseProxy
}

// NewServer creates a reverse proxy that sends upstream calls through transport.
// A nil transport uses http.DefaultTransport.
func NewServer(cfg *config.TranslatedConfig, transport http.RoundTripper) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	if cfg.TargetURL == nil {
		return nil, fmt.Errorf("target URL is nil")
	}

	s := &Server{cfg: cfg}
	s.proxy = &httputil.ReverseProxy{
		Director:     s.direct,
		Transport:    transport,
		ErrorHandler: s.handleError,
	}

	return s, nil
}

// ServeHTTP handles incoming HTTP requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.proxy.ServeHTTP(w, r)
}

func (s *Server) direct(req *http.Request) {
	target := s.cfg.TargetURL

	req.URL.Scheme = target.Scheme
	req.URL.Host = target.Host

	if req.Header.Get("X-Forwarded-Host") == "" {
		req.Header.Set("X-Forwarded-Host", req.Host)
	}

	if req.Header.Get("X-Forwarded-Proto") == "" {
		if req.TLS != nil {
			req.Header.Set("X-Forwarded-Proto", "https")
		} else {
			req.Header.Set("X-Forwarded-Proto", "http")
		}
	}

	if req.Header.Get("X-Forwarded-Port") == "" {
		req.Header.Set("X-Forwarded-Port", forwardedPort(target))
	}

	req.Host = target.Host
	req.URL.Path = singleJoiningSlash(target.Path, req.URL.Path)
	req.URL.RawPath = ""

	switch {
	case target.RawQuery == "":
	case req.URL.RawQuery == "":
		req.URL.RawQuery = target.RawQuery
	default:
		req.URL.RawQuery = target.RawQuery + "&" + req.URL.RawQuery
	}

	if _, ok := req.Header["User-Agent"]; !ok {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	// Basic auth from the DSN goes first, an existing Authorization header is appended.
	if password, ok := target.User.Password(); ok {
		existing := req.Header.Get("Authorization")
		req.SetBasicAuth(target.User.Username(), password)
		if existing != "" {
			req.Header.Set("Authorization", req.Header.Get("Authorization")+", "+existing)
		}
	}

	for key, value := range s.cfg.Headers {
		req.Header.Set(key, value)
	}
}

// handleError replays upstream responses rejected by outbound.ErrorOnStatus and
// answers 502 for everything else.
func (s *Server) handleError(w http.ResponseWriter, _ *http.Request, err error) {
	var statusErr *outbound.StatusError
	if !errors.As(err, &statusErr) || statusErr.Response() == nil {
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	resp := statusErr.Response()

	header := w.Header()
	for key, values := range resp.Header {
		header[key] = append([]string(nil), values...)
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}

	w.WriteHeader(resp.StatusCode)
	if resp.Body != nil {
		io.Copy(w, resp.Body) //nolint:errcheck
		resp.Body.Close()
	}
}

func forwardedPort(target *url.URL) string {
	if port := target.Port(); port != "" {
		return port
	}
	if target.Scheme == "https" {
		return "443"
	}

	return "80"
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
