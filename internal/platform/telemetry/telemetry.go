// Package telemetry exposes Prometheus metrics for resolution runs, remote
// study-service calls and the HTTP surface.
package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ocbridge"

// Metrics holds every collector of the service. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Resolution runs by mode and status
	Runs        *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec

	// Remote mutations
	SubjectsCreated prometheus.Counter
	EventsScheduled prometheus.Counter

	// Study service calls by operation and outcome
	RemoteCalls    *prometheus.CounterVec
	RemoteDuration *prometheus.HistogramVec

	// HTTP server
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	ActiveRequests prometheus.Gauge
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_runs_total",
			Help:      "Resolution runs by mode and status",
		}, []string{"mode", "status"}),

		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_run_duration_seconds",
			Help:      "Duration of resolution runs including remote calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"mode"}),

		SubjectsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subjects_created_total",
			Help:      "Study subjects created in the remote study service",
		}),

		EventsScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_scheduled_total",
			Help:      "Study events scheduled in the remote study service",
		}),

		RemoteCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Study service calls by operation and outcome",
		}, []string{"operation", "outcome"}),

		RemoteDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Duration of study service calls by operation",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		ActiveRequests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "HTTP requests currently being served",
		}),
	}
}

// ObserveRun records a finished resolution run.
func (m *Metrics) ObserveRun(mode, status string, d time.Duration) {
	if m != nil {
		m.Runs.WithLabelValues(mode, status).Inc()
		m.RunDuration.WithLabelValues(mode).Observe(d.Seconds())
	}
}

// SubjectCreated counts a remotely created subject.
func (m *Metrics) SubjectCreated() {
	if m != nil {
		m.SubjectsCreated.Inc()
	}
}

// EventScheduled counts a remotely scheduled event.
func (m *Metrics) EventScheduled() {
	if m != nil {
		m.EventsScheduled.Inc()
	}
}

// ObserveRemoteCall records one study service call. err == nil counts as
// success.
func (m *Metrics) ObserveRemoteCall(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.RemoteCalls.WithLabelValues(operation, outcome).Inc()
	m.RemoteDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Middleware records HTTP server metrics by route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.ActiveRequests.Inc()
			defer m.ActiveRequests.Dec()

			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			method := c.Request().Method
			m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(statusOf(c, err))).Inc()
			m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// statusOf returns the status the error handler will write for err.
func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
