package core

import (
	"fmt"
	"net"
	"net/http"

	"github.com/bellissimopizza/bellissimolog/pkg/calllog"
	"github.com/bellissimopizza/bellissimolog/pkg/calllog/inbound"
	"github.com/bellissimopizza/bellissimolog/pkg/calllog/outbound"
	config "github.com/bellissimopizza/bellissimolog/pkg/core/config"
	proxy "github.com/bellissimopizza/bellissimolog/pkg/core/proxy"
	"github.com/bellissimopizza/bellissimolog/pkg/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run serves the logging reverse proxy described by cfg on s. Log entries go
// to sink.
func Run(cfg *config.TranslatedConfig, sink calllog.Sink, s HTTPServer) error {
	handler, err := NewHandler(cfg, sink)
	if err != nil {
		return err
	}

	return s.ListenAndServe(net.JoinHostPort(cfg.ListenIP, cfg.ListenPort), handler)
}

// NewHandler composes the request id middleware, the inbound logger and the
// reverse proxy. Upstream calls of the proxy go through the outbound logger.
func NewHandler(cfg *config.TranslatedConfig, sink calllog.Sink) (http.Handler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}

	opts := callOptions(cfg, sink)

	upstream, err := upstreamTransport(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream transport: %w", err)
	}

	proxyServer, err := proxy.NewServer(cfg, upstream)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy server: %w", err)
	}

	var handler http.Handler = proxyServer
	if cfg.LoggingEnabled {
		middleware, err := inbound.NewMiddleware(&inbound.Config{
			Options:           opts,
			TrustForwardedFor: cfg.TrustForwardedFor,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create inbound logger: %w", err)
		}
		handler = middleware.Handler(handler)
	}
	handler = requestid.Middleware(cfg.RequestIDHeader, cfg.SetRequestID, handler)

	mux := http.NewServeMux()
	if cfg.MetricsEnabled {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", handler)

	return mux, nil
}

func upstreamTransport(cfg *config.TranslatedConfig, opts calllog.Options) (http.RoundTripper, error) {
	var rt http.RoundTripper = http.DefaultTransport
	if cfg.ErrorOnStatus {
		rt = outbound.ErrorOnStatus(rt)
	}
	rt = &requestid.Transport{Header: cfg.RequestIDHeader, Base: rt}

	if !cfg.LoggingEnabled {
		return rt, nil
	}

	return outbound.NewTransport(rt, &outbound.Config{
		Options:       opts,
		TransferStats: cfg.TransferStats,
	})
}

func callOptions(cfg *config.TranslatedConfig, sink calllog.Sink) calllog.Options {
	return calllog.Options{
		Sink:                sink,
		Level:               calllog.LevelOf(cfg.EntryLevel),
		RequestID:           requestid.FromContext,
		Exclude:             cfg.ExcludeRegexp,
		OmitPayload:         !cfg.LogPayload,
		ExcludePayload:      cfg.ExcludePayloadRegexp,
		OmitResponseBody:    !cfg.LogResponseBody,
		ExcludeResponseBody: cfg.ExcludeResponseBodyRegexp,
		MaxBodyBytes:        cfg.MaxBodyBytes,
		Metrics:             cfg.MetricsEnabled,
	}
}
