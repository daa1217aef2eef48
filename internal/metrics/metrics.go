package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatwatch_http_requests_total",
			Help: "Total ops HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seatwatch_http_request_duration_seconds",
			Help:    "Ops HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
		},
		[]string{"method", "path"},
	)

	pollerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatwatch_poller_runs_total",
			Help: "Poller runs by outcome",
		},
		[]string{"outcome"},
	)

	pollerRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seatwatch_poller_run_duration_seconds",
			Help:    "Wall time of a poller run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	busMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatwatch_bus_messages_total",
			Help: "Event bus messages handled by the notifier, by result",
		},
		[]string{"result"},
	)

	busMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seatwatch_bus_messages_in_flight",
			Help: "Messages currently being handled by the notifier",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPollerRun records the outcome ("ok", "failed", "partial") and duration of a run.
func RecordPollerRun(outcome string, duration time.Duration) {
	pollerRuns.WithLabelValues(outcome).Inc()
	pollerRunDuration.Observe(duration.Seconds())
}

// RecordBusMessage counts a consumed message by result
// ("handled", "retried", "malformed").
func RecordBusMessage(result string) {
	busMessages.WithLabelValues(result).Inc()
}

// SetBusMessagesInFlight sets the number of messages being handled.
func SetBusMessagesInFlight(count int) {
	busMessagesInFlight.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
