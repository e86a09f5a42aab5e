// Package metrics provides Prometheus instrumentation for contradeploy.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string
	register    sync.Once

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Pipeline metrics
	compileTotal         *prometheus.CounterVec
	compileDuration      prometheus.Histogram
	contractDeployTotal  *prometheus.CounterVec
	wiringCallTotal      *prometheus.CounterVec
	verificationTotal    *prometheus.CounterVec
	explorerRequestTotal *prometheus.CounterVec
	stageDuration        *prometheus.HistogramVec
)

// Init initializes the metrics system. Collectors are registered once per
// process; later calls only toggle recording.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}
	register.Do(registerCollectors)
}

// registerCollectors registers every collector with a constant service
// label taken from Init.
func registerCollectors() {
	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	if serviceName != "" {
		reg = prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, reg)
	}
	factory := promauto.With(reg)

	httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	compileTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compile_total",
			Help: "Total number of compiler invocations",
		},
		[]string{"status"},
	)

	compileDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compile_duration_seconds",
			Help:    "Compiler invocation latency in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	contractDeployTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contract_deploy_total",
			Help: "Total number of contract deploy steps by action",
		},
		[]string{"action", "status"},
	)

	wiringCallTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wiring_call_total",
			Help: "Total number of wiring steps by result",
		},
		[]string{"status"},
	)

	verificationTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_outcome_total",
			Help: "Total number of source verification outcomes",
		},
		[]string{"outcome"},
	)

	explorerRequestTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "explorer_request_total",
			Help: "Total number of block explorer API requests",
		},
		[]string{"action", "status"},
	)

	stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Pipeline stage latency in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800},
		},
		[]string{"stage"},
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}
