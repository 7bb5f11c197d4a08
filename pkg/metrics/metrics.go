package metrics

import (
	"time"

	"github.com/bellissimopizza/bellissimolog/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BuildInfo exposes version, build date, and git commit.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information including version, build date, and git commit",
		},
		[]string{"version", "build_date", "git_commit"},
	)

	// ProcessUptimeSeconds tracks the uptime of the process in seconds.
	ProcessUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "process_uptime_seconds",
			Help: "Process uptime in seconds",
		},
	)

	// CallsTotal counts logged calls by direction, method and status.
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calllog_calls_total",
			Help: "Total number of logged calls",
		},
		[]string{"direction", "method", "status_code"},
	)

	// CallDuration measures the execution time of logged calls in seconds.
	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calllog_call_duration_seconds",
			Help:    "Execution time of logged calls in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"direction", "method", "status_code"},
	)

	// CallExceptionsTotal counts failed calls by error type.
	CallExceptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calllog_exceptions_total",
			Help: "Total number of calls that ended with an exception",
		},
		[]string{"direction", "exception_class"},
	)

	// CallsInFlight tracks calls that are currently being processed.
	CallsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "calllog_calls_in_flight",
			Help: "Number of logged calls currently being processed",
		},
		[]string{"direction"},
	)

	// UpstreamErrorsTotal counts outbound transport errors.
	UpstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calllog_upstream_errors_total",
			Help: "Total number of outbound transport errors",
		},
		[]string{"target_host", "error_type"},
	)

	// PayloadSizeBytes measures captured request and response bodies.
	PayloadSizeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calllog_payload_size_bytes",
			Help:    "Size of captured bodies in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"direction", "kind"},
	)

	startTime time.Time
)

// Init initializes the metrics with build information and starts the uptime tracker.
func Init() {
	startTime = time.Now()

	// Set build info as a constant gauge with value 1
	BuildInfo.WithLabelValues(
		version.Version,
		version.BuildDate,
		version.GitCommit,
	).Set(1)

	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			ProcessUptimeSeconds.Set(time.Since(startTime).Seconds())
		}
	}()
}
