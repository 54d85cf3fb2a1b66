// Package metrics exposes process-wide Prometheus collectors for the story
// service: HTTP traffic, host commands and gestures, and loop pressure.
// Story lifecycle metrics are derived from events by the progress sinks.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	storyCommandsTotal         *prometheus.CounterVec
	storyGesturesTotal         *prometheus.CounterVec
	storyRateLimitedTotal      prometheus.Counter
	storySessionsOpen          prometheus.Gauge
	loopRejectedTotal          *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		storyCommandsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "story_commands_total",
				Help: "Navigation and lifecycle commands received, labeled by command.",
			},
			[]string{"command"},
		)

		storyGesturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "story_gestures_total",
				Help: "Gestures received from hosts, labeled by gesture type.",
			},
			[]string{"gesture"},
		)

		storyRateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "story_gestures_rate_limited_total",
				Help: "Gestures rejected by the per-story rate limit.",
			},
		)

		storySessionsOpen = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "story_sessions_open",
				Help: "Carousel sessions currently presented.",
			},
		)

		loopRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "story_loop_rejected_total",
				Help: "Work items the event loop refused, labeled by reason.",
			},
			[]string{"reason"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCommand counts a host command such as "next" or "pause".
func ObserveCommand(command string) {
	Init()
	storyCommandsTotal.WithLabelValues(command).Inc()
}

// ObserveGesture counts a host gesture such as "tap_next".
func ObserveGesture(gesture string) {
	Init()
	storyGesturesTotal.WithLabelValues(gesture).Inc()
}

// ObserveRateLimited counts a gesture rejected by the rate limiter.
func ObserveRateLimited() {
	Init()
	storyRateLimitedTotal.Inc()
}

// SessionOpened increments the open sessions gauge.
func SessionOpened() {
	Init()
	storySessionsOpen.Inc()
}

// SessionClosed decrements the open sessions gauge.
func SessionClosed() {
	Init()
	storySessionsOpen.Dec()
}

// ObserveLoopRejected counts work refused by the event loop.
func ObserveLoopRejected(reason string) {
	Init()
	loopRejectedTotal.WithLabelValues(reason).Inc()
}

// Middleware is a chi middleware that records HTTP request metrics using the
// matched route pattern so ids do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
