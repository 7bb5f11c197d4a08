package core_config

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"
	yaml "gopkg.in/yaml.v3"
)

const (
	defaultReadTimeout      = 5
	defaultWriteTimeout     = 10
	defaultIdleTimeout      = 120
	defaultLogFlushInterval = 1
	defaultMetricsPath      = "/metrics"
)

// SourceConfig holds the raw core configuration
type SourceConfig struct {
	TargetHostDSN       string            `yaml:"targetHostDsn"`
	ListenIP            string            `yaml:"listenIp"`
	ListenPort          string            `yaml:"listenPort"`
	Headers             map[string]string `yaml:"headers,omitempty"`
	LoggingEnabled      bool              `yaml:"loggingEnabled"`
	SetRequestID        bool              `yaml:"setRequestId"`
	RequestIDHeader     string            `yaml:"requestIdHeader"`
	TrustForwardedFor   bool              `yaml:"trustForwardedFor"`
	Exclude             string            `yaml:"exclude"`
	LogPayload          bool              `yaml:"logPayload"`
	LogResponseBody     bool              `yaml:"logResponseBody"`
	ExcludePayload      string            `yaml:"excludePayload"`
	ExcludeResponseBody string            `yaml:"excludeResponseBody"`
	MaxBodyBytes        int64             `yaml:"maxBodyBytes"`
	TransferStats       bool              `yaml:"transferStats"`
	ErrorOnStatus       bool              `yaml:"errorOnStatus"`
	LogLevel            string            `yaml:"logLevel"`
	EntryLevel          string            `yaml:"entryLevel"`
	AsyncLogging        bool              `yaml:"asyncLogging"`
	LogBufferSize       int               `yaml:"logBufferSize"`
	LogFlushInterval    int               `yaml:"logFlushInterval"`
	MetricsEnabled      bool              `yaml:"metricsEnabled"`
	MetricsPath         string            `yaml:"metricsPath"`
	ReadTimeout         int               `yaml:"readTimeout"`
	WriteTimeout        int               `yaml:"writeTimeout"`
	IdleTimeout         int               `yaml:"idleTimeout"`
}

// TranslatedConfig holds the compiled core configuration
type TranslatedConfig struct {
	TargetURL                 *url.URL
	ListenIP                  string
	ListenPort                string
	Headers                   map[string]string
	LoggingEnabled            bool
	SetRequestID              bool
	RequestIDHeader           string
	TrustForwardedFor         bool
	ExcludeRegexp             *regexp.Regexp
	LogPayload                bool
	LogResponseBody           bool
	ExcludePayloadRegexp      *regexp.Regexp
	ExcludeResponseBodyRegexp *regexp.Regexp
	MaxBodyBytes              int64
	TransferStats             bool
	ErrorOnStatus             bool
	LogLevel                  zapcore.Level
	EntryLevel                zapcore.Level
	AsyncLogging              bool
	LogBufferSize             int
	LogFlushInterval          time.Duration
	MetricsEnabled            bool
	MetricsPath               string
	ReadTimeout               time.Duration
	WriteTimeout              time.Duration
	IdleTimeout               time.Duration
}

// NewTranslatedConfiguration validates s and compiles it.
func (s *SourceConfig) NewTranslatedConfiguration() (*TranslatedConfig, error) {
	targetURL, err := getTargetURL(s.TargetHostDSN)
	if err != nil {
		return nil, err
	}

	exclude, err := getExcludeRegexp("exclude", s.Exclude)
	if err != nil {
		return nil, err
	}
	excludePayload, err := getExcludeRegexp("excludePayload", s.ExcludePayload)
	if err != nil {
		return nil, err
	}
	excludeResponseBody, err := getExcludeRegexp("excludeResponseBody", s.ExcludeResponseBody)
	if err != nil {
		return nil, err
	}

	logLevel, err := getLevel("logLevel", s.LogLevel, zapcore.DebugLevel)
	if err != nil {
		return nil, err
	}
	entryLevel, err := getLevel("entryLevel", s.EntryLevel, zapcore.DebugLevel)
	if err != nil {
		return nil, err
	}

	if s.MaxBodyBytes < 0 {
		return nil, fmt.Errorf("maxBodyBytes must not be negative, got %d", s.MaxBodyBytes)
	}

	if s.LogBufferSize < 0 {
		return nil, fmt.Errorf("logBufferSize must not be negative, got %d", s.LogBufferSize)
	}

	metricsPath := s.MetricsPath
	if metricsPath == "" {
		metricsPath = defaultMetricsPath
	}

	return &TranslatedConfig{
		TargetURL:                 targetURL,
		ListenIP:                  s.ListenIP,
		ListenPort:                s.ListenPort,
		Headers:                   s.Headers,
		LoggingEnabled:            s.LoggingEnabled,
		SetRequestID:              s.SetRequestID,
		RequestIDHeader:           s.RequestIDHeader,
		TrustForwardedFor:         s.TrustForwardedFor,
		ExcludeRegexp:             exclude,
		LogPayload:                s.LogPayload,
		LogResponseBody:           s.LogResponseBody,
		ExcludePayloadRegexp:      excludePayload,
		ExcludeResponseBodyRegexp: excludeResponseBody,
		MaxBodyBytes:              s.MaxBodyBytes,
		TransferStats:             s.TransferStats,
		ErrorOnStatus:             s.ErrorOnStatus,
		LogLevel:                  logLevel,
		EntryLevel:                entryLevel,
		AsyncLogging:              s.AsyncLogging,
		LogBufferSize:             s.LogBufferSize,
		LogFlushInterval:          seconds(s.LogFlushInterval, defaultLogFlushInterval),
		MetricsEnabled:            s.MetricsEnabled,
		MetricsPath:               metricsPath,
		ReadTimeout:               seconds(s.ReadTimeout, defaultReadTimeout),
		WriteTimeout:              seconds(s.WriteTimeout, defaultWriteTimeout),
		IdleTimeout:               seconds(s.IdleTimeout, defaultIdleTimeout),
	}, nil
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}

	return time.Duration(value) * time.Second
}

func getExcludeRegexp(name, exclude string) (*regexp.Regexp, error) {
	regex, err := regexp.Compile(exclude)
	if err != nil {
		return nil, fmt.Errorf("invalid %s pattern: %w", name, err)
	}

	return regex, nil
}

func getTargetURL(targetHostDsn string) (*url.URL, error) {
	if targetHostDsn == "" {
		return nil, fmt.Errorf("no target host given")
	}

	u, err := url.Parse(targetHostDsn)
	if err != nil {
		return nil, fmt.Errorf("invalid target host DSN: %w", err)
	}

	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("target host DSN %q needs a scheme and a host", targetHostDsn)
	}

	return u, nil
}

func getLevel(name, level string, fallback zapcore.Level) (zapcore.Level, error) {
	if level == "" {
		return fallback, nil
	}

	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", name, err)
	}

	return l, nil
}

// PrintConfig writes the configuration as YAML to w
func (s *SourceConfig) PrintConfig(w io.Writer) {
	fmt.Fprintln(w, "YAML configuration:")
	yamlString, _ := yaml.Marshal(s)
	fmt.Fprintf(w, "%s\n", string(yamlString))
}
