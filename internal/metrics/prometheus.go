package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// Validation outcomes
const (
	OutcomeAllowed  = "allowed"
	OutcomeRejected = "rejected"
)

// Import statuses
const (
	ImportSuccess  = "success"
	ImportCached   = "cached"
	ImportRejected = "rejected"
	ImportFailed   = "fetch_failed"
	ImportNoRecipe = "no_recipe"
	ImportCanceled = "canceled"
)

// Cache operation statuses
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheOK    = "ok"
	CacheError = "error"
)

// PrometheusMetrics holds the importer's collectors
type PrometheusMetrics struct {
	validationsTotal *prometheus.CounterVec
	importsTotal     *prometheus.CounterVec
	fetchDuration    prometheus.Histogram
	cacheOpsTotal    *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec

	httpHandler fasthttp.RequestHandler
	logger      *zap.Logger
}

// NewPrometheusMetrics registers collectors on a fresh registry
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.NewRegistry(), logger)
}

// NewPrometheusMetricsWithRegistry registers collectors on the given registerer.
// The registerer is also used as the gatherer when it implements one.
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	pm := &PrometheusMetrics{logger: logger}

	pm.validationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "importer",
			Name:      "validations_total",
			Help:      "Total number of outbound URL validations",
		},
		[]string{"outcome", "category"},
	)

	pm.importsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "importer",
			Name:      "imports_total",
			Help:      "Total number of recipe import attempts by result",
		},
		[]string{"status"},
	)

	pm.fetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "importer",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching remote recipe pages",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	pm.cacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "importer",
			Name:      "cache_operations_total",
			Help:      "Total number of import cache operations",
		},
		[]string{"operation", "status"},
	)

	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "importer",
			Name:      "http_requests_total",
			Help:      "Total number of API requests by route and status code",
		},
		[]string{"route", "status"},
	)

	registerer.MustRegister(
		pm.validationsTotal,
		pm.importsTotal,
		pm.fetchDuration,
		pm.cacheOpsTotal,
		pm.httpRequests,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))

	logger.Debug("Prometheus metrics initialized", zap.String("namespace", namespace))
	return pm
}

// RecordValidation counts a guard verdict. Category is empty for allowed URLs
// and for rejections that are not IP based.
func (pm *PrometheusMetrics) RecordValidation(outcome, category string) {
	pm.validationsTotal.WithLabelValues(outcome, category).Inc()
}

func (pm *PrometheusMetrics) RecordImport(status string) {
	pm.importsTotal.WithLabelValues(status).Inc()
}

func (pm *PrometheusMetrics) ObserveFetchDuration(d time.Duration) {
	pm.fetchDuration.Observe(d.Seconds())
}

func (pm *PrometheusMetrics) RecordCacheOperation(operation, status string) {
	pm.cacheOpsTotal.WithLabelValues(operation, status).Inc()
}

func (pm *PrometheusMetrics) RecordHTTPRequest(route string, statusCode int) {
	pm.httpRequests.WithLabelValues(route, statusText(statusCode)).Inc()
}

// ServeHTTP exposes the registry in the Prometheus text format
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}

func statusText(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "other"
	}
}
