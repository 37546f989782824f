// Package obs builds the logger and Prometheus metrics shared by the API.
package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for one registry.
type Metrics struct {
	inFlight    prometheus.Gauge
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	authz       *prometheus.CounterVec
	historyRows *prometheus.CounterVec
	gatherer    prometheus.Gatherer
}

// NewMetrics registers the API collectors on reg. A nil reg gets a fresh
// registry, which keeps tests isolated.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		authz: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization decisions by permission and outcome.",
		}, []string{"permission", "outcome"}),
		historyRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "history_rows_written_total",
			Help: "Field-level history rows written.",
		}, []string{"entity"}),
		gatherer: reg,
	}
	reg.MustRegister(m.inFlight, m.requests, m.duration, m.authz, m.historyRows)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Authz counts one authorization decision.
func (m *Metrics) Authz(permission string, allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.authz.WithLabelValues(permission, outcome).Inc()
}

// HistoryRows counts history rows written for entity.
func (m *Metrics) HistoryRows(entity string, rows int) {
	if rows > 0 {
		m.historyRows.WithLabelValues(entity).Add(float64(rows))
	}
}

// Instrument measures rate, latency and in-flight requests. route names the
// matched route template; when it returns "" the path is canonicalized.
func (m *Metrics) Instrument(next http.Handler, route func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := ""
		if route != nil {
			path = route(r)
		}
		if path == "" {
			path = CanonicalPath(r.URL.Path)
		}
		status := strconv.Itoa(sw.code)
		m.duration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.requests.WithLabelValues(r.Method, path, status).Inc()
	})
}

// CanonicalPath drops the query and replaces numeric segments with :id so
// label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range parts {
		if isNumeric(s) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
