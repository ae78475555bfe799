// Package metrics provides Prometheus instrumentation for reelstream.
//
// Exposed at GET /metrics:
//
//	reelstream_http_requests_total            counter: requests by method/route/status
//	reelstream_http_request_duration_seconds  histogram: latency by method/route
//	reelstream_media_uploads_total            counter: media uploads by phase/result
//	reelstream_media_orphans_total            counter: media assets left behind by reason
//	reelstream_auth_events_total              counter: auth events by event/result
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ── Counters ──────────────────────────────────────────────────────────────────

// HTTPRequests counts HTTP requests by method, route pattern and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reelstream_http_requests_total",
	Help: "Total HTTP requests handled.",
}, []string{"method", "route", "status"})

// MediaUploads counts Media Store uploads by phase (poster, video) and result.
var MediaUploads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reelstream_media_uploads_total",
	Help: "Media uploads by phase and result.",
}, []string{"phase", "result"})

// MediaOrphans counts media assets that could not be cleaned up.
var MediaOrphans = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reelstream_media_orphans_total",
	Help: "Media assets left in the media store without a catalog record.",
}, []string{"reason"})

// AuthEvents counts auth events (register, login, logout, oauth).
var AuthEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reelstream_auth_events_total",
	Help: "Auth events by type.",
}, []string{"event", "result"})

// ── Histograms ────────────────────────────────────────────────────────────────

// HTTPDuration tracks HTTP request latency.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "reelstream_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "route"})

// ── Handler ───────────────────────────────────────────────────────────────────

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ── Middleware ────────────────────────────────────────────────────────────────

// Middleware records request counts and latency. The route label is the
// ServeMux pattern that matched, so path parameters never reach a label.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
