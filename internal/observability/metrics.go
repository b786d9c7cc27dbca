package observability

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolution outcome labels recorded by the dispatcher.
const (
	ResolutionRoute            = "route"
	ResolutionService          = "servicer"
	ResolutionNotFound         = "not_found"
	ResolutionMethodNotAllowed = "method_not_allowed"
)

// MetricsConfig holds configuration for the pipeline metrics
type MetricsConfig struct {
	// Logger for structured logging
	Logger *slog.Logger

	// Namespace for metrics (e.g., "myapp")
	Namespace string

	// Subsystem for metrics
	// Default: "dispatch"
	Subsystem string

	// Buckets for the request duration histogram
	Buckets []float64

	// Registerer receives the collectors. Default: the global registry.
	// Tests pass a private registry here to stay isolated.
	Registerer prometheus.Registerer
}

// DefaultMetricsConfig returns a default metrics configuration
func DefaultMetricsConfig(namespace string) *MetricsConfig {
	return &MetricsConfig{
		Logger:    nil,
		Namespace: namespace,
		Subsystem: "dispatch",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}
}

// PipelineMetrics holds the Prometheus collectors fed by the dispatcher. All
// record methods are safe on a nil receiver, so callers that run without
// metrics skip the nil checks.
type PipelineMetrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	admissionRejections *prometheus.CounterVec
	resolutions         *prometheus.CounterVec
	handlerPanics       prometheus.Counter
	scopesReclaimed     prometheus.Counter
}

// NewPipelineMetrics creates and registers the pipeline collectors
func NewPipelineMetrics(config *MetricsConfig) *PipelineMetrics {
	if config == nil {
		config = DefaultMetricsConfig("app")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	subsystem := config.Subsystem
	if subsystem == "" {
		subsystem = "dispatch"
	}
	buckets := config.Buckets
	if buckets == nil {
		buckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	}
	registerer := config.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	logger.Info("initializing pipeline metrics",
		"namespace", config.Namespace,
		"subsystem", subsystem,
	)

	return &PipelineMetrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Total number of dispatched requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: subsystem,
				Name:      "request_duration_seconds",
				Help:      "Request latency through the pipeline in seconds",
				Buckets:   buckets,
			},
			[]string{"method", "route"},
		),
		admissionRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: subsystem,
				Name:      "admission_rejections_total",
				Help:      "Requests rejected at the admission gate, by rule",
			},
			[]string{"rule"},
		),
		resolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: subsystem,
				Name:      "route_resolutions_total",
				Help:      "Route resolution attempts, by result",
			},
			[]string{"result"},
		),
		handlerPanics: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: subsystem,
				Name:      "handler_panics_total",
				Help:      "Panics recovered from handlers",
			},
		),
		scopesReclaimed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: subsystem,
				Name:      "buffer_scopes_reclaimed_total",
				Help:      "Output scopes left open by handlers and closed by the dispatcher",
			},
		),
	}
}

// ObserveRequest records one completed request.
func (m *PipelineMetrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// AdmissionRejected counts a gate rejection under its rule.
func (m *PipelineMetrics) AdmissionRejected(rule string) {
	if m == nil {
		return
	}
	m.admissionRejections.WithLabelValues(rule).Inc()
}

// ResolutionRecorded counts a resolution attempt under its result label.
func (m *PipelineMetrics) ResolutionRecorded(result string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(result).Inc()
}

// PanicRecovered counts a recovered handler panic.
func (m *PipelineMetrics) PanicRecovered() {
	if m == nil {
		return
	}
	m.handlerPanics.Inc()
}

// ScopesReclaimed counts output scopes a handler left open at request end.
func (m *PipelineMetrics) ScopesReclaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.scopesReclaimed.Add(float64(n))
}

// MetricsHandler returns a Prometheus metrics HTTP handler
// Endpoint: GET /metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
