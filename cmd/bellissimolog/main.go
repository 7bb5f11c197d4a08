package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/bellissimopizza/bellissimolog/internal/version"
	"github.com/bellissimopizza/bellissimolog/internal/zapwriter"
	"github.com/bellissimopizza/bellissimolog/pkg/core"
	config "github.com/bellissimopizza/bellissimolog/pkg/core/config"
	"github.com/bellissimopizza/bellissimolog/pkg/metrics"
	"github.com/bellissimopizza/bellissimolog/pkg/requestid"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ConfigLoader loads the translated configuration from the command line.
type ConfigLoader interface {
	Load(args []string) (*config.TranslatedConfig, error)
}

// LoggerFactory creates the logger call entries are written to. The returned
// function flushes the logger.
type LoggerFactory interface {
	CreateLogger(cfg *config.TranslatedConfig) (*zap.Logger, func() error, error)
}

// App wires configuration, logging and the HTTP server.
type App struct {
	ConfigLoader  ConfigLoader
	LoggerFactory LoggerFactory
	NewServer     func(cfg *config.TranslatedConfig) core.HTTPServer
	Writer        io.Writer
	Args          []string
}

// NewApp creates an App with the default implementations.
func NewApp() *App {
	return &App{
		ConfigLoader:  &DefaultConfigLoader{Output: os.Stdout},
		LoggerFactory: &DefaultLoggerFactory{},
		NewServer: func(cfg *config.TranslatedConfig) core.HTTPServer {
			return core.NewDefaultHTTPServer(cfg)
		},
		Writer: os.Stdout,
		Args:   os.Args,
	}
}

// Run loads the configuration and serves until the server fails.
func (a *App) Run() error {
	cfg, err := a.ConfigLoader.Load(a.Args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, stop, err := a.LoggerFactory.CreateLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer stop() //nolint:errcheck

	if cfg.MetricsEnabled {
		metrics.Init()
	}

	fmt.Fprintf(a.Writer, "%s started.\n", version.Info())

	if err := core.Run(cfg, zapwriter.Writer{Logger: logger}, a.NewServer(cfg)); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}

	return nil
}

// DefaultLoggerFactory builds a JSON logger on stdout.
type DefaultLoggerFactory struct{}

// CreateLogger implements LoggerFactory.
func (f *DefaultLoggerFactory) CreateLogger(cfg *config.TranslatedConfig) (*zap.Logger, func() error, error) {
	return zapwriter.NewLogger(zapwriter.Options{
		Level:         cfg.LogLevel,
		Async:         cfg.AsyncLogging,
		BufferSize:    cfg.LogBufferSize,
		FlushInterval: cfg.LogFlushInterval,
	})
}

// setting is a configuration key with its environment variable and flag.
type setting struct {
	key   string
	env   string
	flag  string
	value interface{}
	usage string
}

var settings = []setting{
	{"targetHostDsn", "TARGET_HOST_DSN", "target-host-dsn", "", "Target host DSN to proxy requests to"},
	{"listenIp", "LISTEN_IP", "listen-ip", "0.0.0.0", "IP address to listen on"},
	{"listenPort", "LISTEN_PORT", "listen-port", "8000", "Port to listen on"},
	{"loggingEnabled", "LOGGING_ENABLED", "logging-enabled", true, "Enable logging"},
	{"setRequestId", "SET_REQUEST_ID", "set-request-id", false, "Generate a request id when the request has none"},
	{"requestIdHeader", "REQUEST_ID_HEADER", "request-id-header", requestid.DefaultHeader, "Header that carries the request id"},
	{"trustForwardedFor", "TRUST_FORWARDED_FOR", "trust-forwarded-for", false, "Take client IP and scheme from X-Forwarded-* headers"},
	{"exclude", "EXCLUDE", "exclude", "", "Regex pattern to exclude from logging"},
	{"logPayload", "LOG_PAYLOAD", "log-payload", true, "Log request payload"},
	{"logResponseBody", "LOG_RESPONSE_BODY", "log-response-body", true, "Log response body"},
	{"excludePayload", "EXCLUDE_PAYLOAD", "exclude-payload", "", "Regex pattern to exclude from payload logging"},
	{"excludeResponseBody", "EXCLUDE_RESPONSE_BODY", "exclude-response-body", "", "Regex pattern to exclude from response body logging"},
	{"maxBodyBytes", "MAX_BODY_BYTES", "max-body-bytes", 65536, "Maximum number of payload and response body bytes captured per call"},
	{"transferStats", "TRANSFER_STATS", "transfer-stats", false, "Log connection statistics of upstream calls"},
	{"errorOnStatus", "ERROR_ON_STATUS", "error-on-status", false, "Log upstream responses with status 400 or above as exceptions"},
	{"logLevel", "LOG_LEVEL", "log-level", "debug", "Minimum level written by the logger"},
	{"entryLevel", "ENTRY_LEVEL", "entry-level", "debug", "Level of call log entries"},
	{"asyncLogging", "ASYNC_LOGGING", "async-logging", false, "Buffer log output and flush it in the background"},
	{"logBufferSize", "LOG_BUFFER_SIZE", "log-buffer-size", 262144, "Size of the log buffer in bytes"},
	{"logFlushInterval", "LOG_FLUSH_INTERVAL", "log-flush-interval", 1, "Flush interval of the log buffer in seconds"},
	{"metricsEnabled", "METRICS_ENABLED", "metrics-enabled", true, "Enable Prometheus metrics"},
	{"metricsPath", "METRICS_PATH", "metrics-path", "/metrics", "Path of the metrics endpoint"},
	{"readTimeout", "READ_TIMEOUT", "read-timeout", 5, "Read timeout in seconds"},
	{"writeTimeout", "WRITE_TIMEOUT", "write-timeout", 10, "Write timeout in seconds"},
	{"idleTimeout", "IDLE_TIMEOUT", "idle-timeout", 120, "Idle timeout in seconds"},
}

// flagVars holds the flags that are not plain configuration keys.
type flagVars struct {
	headers    []string
	configFile string
}

// setupFlags defines all flags on fs.
func setupFlags(fs *flag.FlagSet) *flagVars {
	fv := &flagVars{}

	fs.StringSliceVar(&fv.headers, "header", []string{}, "HTTP header to set. You may use this flag multiple times.")
	fs.StringVar(&fv.configFile, "config", "", "Path of the configuration file")

	for _, s := range settings {
		switch value := s.value.(type) {
		case string:
			fs.String(s.flag, value, s.usage)
		case bool:
			fs.Bool(s.flag, value, s.usage)
		case int:
			fs.Int(s.flag, value, s.usage)
		}
	}

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\nUsage of %s:\n", version.Info(), fs.Name())
		fs.PrintDefaults()
	}

	return fv
}

// bindSettings registers defaults, environment variables and flags with v.
func bindSettings(v *viper.Viper, fs *flag.FlagSet) error {
	v.SetDefault("headers", map[string]string{})

	for _, s := range settings {
		v.SetDefault(s.key, s.value)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", s.env, err)
		}
		if err := v.BindPFlag(s.key, fs.Lookup(s.flag)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", s.flag, err)
		}
	}

	return nil
}

// setupConfigPaths adds the search paths of config.yaml. The home directory
// is skipped when it cannot be determined.
func setupConfigPaths(v *viper.Viper) error {
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/bellissimolog")
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(homeDir + "/.bellissimolog")
	}
	v.AddConfigPath(".")

	return nil
}

// processHeaders adds "Name:value" items to cfg.Headers and canonicalizes all
// header names.
func processHeaders(cfg *config.SourceConfig, headers []string) {
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}

	for _, item := range headers {
		k, v, found := strings.Cut(item, ":")
		if found {
			cfg.Headers[k] = v
		}
	}

	titleCaser := cases.Title(language.AmericanEnglish)
	headersProcessed := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headersProcessed[titleCaser.String(strings.ToLower(k))] = v
	}
	cfg.Headers = headersProcessed
}

// DefaultConfigLoader reads flags, environment variables and config.yaml, in
// that order of precedence.
type DefaultConfigLoader struct {
	// Output receives the effective configuration. Nil discards it.
	Output io.Writer
}

// Load implements ConfigLoader.
func (l *DefaultConfigLoader) Load(args []string) (*config.TranslatedConfig, error) {
	name := "bellissimolog"
	if len(args) > 0 {
		name, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fv := setupFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := bindSettings(v, fs); err != nil {
		return nil, err
	}

	if fv.configFile != "" {
		v.SetConfigFile(fv.configFile)
	} else if err := setupConfigPaths(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if fv.configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg config.SourceConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	processHeaders(&cfg, fv.headers)

	out := l.Output
	if out == nil {
		out = io.Discard
	}
	cfg.PrintConfig(out)
	if configFile := v.ConfigFileUsed(); configFile != "" {
		fmt.Fprintf(out, "Config File: %s\n", configFile)
	}

	translatedConfig, err := cfg.NewTranslatedConfiguration()
	if err != nil {
		return nil, fmt.Errorf("failed to translate configuration: %w", err)
	}

	return translatedConfig, nil
}

func main() {
	if err := NewApp().Run(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("%v", err)
	}
}
