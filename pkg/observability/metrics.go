package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Resolver metrics
	DecisionsTotal        *prometheus.CounterVec
	DecisionDuration      *prometheus.HistogramVec
	ResolutionErrorsTotal prometheus.Counter

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheEntries     *prometheus.GaugeVec
	CacheSweptTotal  *prometheus.CounterVec

	// Workspace loader metrics
	WorkspaceLoadsTotal   *prometheus.CounterVec
	WorkspaceLoadDuration prometheus.Histogram

	// Store metrics
	AssignmentsExpiredTotal prometheus.Counter
	InvalidationsTotal      *prometheus.CounterVec

	// Background jobs
	JobRunsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permengine_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permengine_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permengine_decisions_total",
				Help: "Total number of permission decisions",
			},
			[]string{"result", "source"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permengine_decision_duration_seconds",
				Help:    "Permission decision latency in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .5},
			},
			[]string{"cached"},
		),
		ResolutionErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permengine_resolution_errors_total",
				Help: "Total number of decisions that failed with an error",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permengine_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permengine_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),
		CacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "permengine_cache_entries",
				Help: "Number of entries held by a cache",
			},
			[]string{"cache"},
		),
		CacheSweptTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permengine_cache_swept_total",
				Help: "Total number of expired entries removed by sweeps",
			},
			[]string{"cache"},
		),

		WorkspaceLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permengine_workspace_loads_total",
				Help: "Total number of upstream workspace context loads",
			},
			[]string{"outcome"},
		),
		WorkspaceLoadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "permengine_workspace_load_duration_seconds",
				Help:    "Upstream workspace context load duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 3},
			},
		),

		AssignmentsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permengine_assignments_expired_total",
				Help: "Total number of role assignments revoked by the expiry job",
			},
		),
		InvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permengine_invalidations_total",
				Help: "Total number of cache invalidations",
			},
			[]string{"scope"},
		),

		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permengine_job_runs_total",
				Help: "Total number of background job runs",
			},
			[]string{"job", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DecisionsTotal,
		m.DecisionDuration,
		m.ResolutionErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEntries,
		m.CacheSweptTotal,
		m.WorkspaceLoadsTotal,
		m.WorkspaceLoadDuration,
		m.AssignmentsExpiredTotal,
		m.InvalidationsTotal,
		m.JobRunsTotal,
	)

	return m
}

// NewDiscardMetrics returns metrics registered on a private registry. Used
// where a component is built without a shared registry.
func NewDiscardMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel returns the mux path template so user and role IDs do not
// become label values
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
