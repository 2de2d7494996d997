package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts HTTP requests served by the MCP server
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airops_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks served request latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airops_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// APIRequestsTotal counts outbound calls to the AirOps API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airops_api_requests_total",
			Help: "Total number of outbound API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// APIRequestDuration tracks outbound call latency
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airops_api_request_duration_seconds",
			Help:    "Outbound API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// ExecutionsSubmitted counts accepted submissions
	ExecutionsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airops_executions_submitted_total",
			Help: "Total number of submitted executions",
		},
		[]string{"kind", "streaming"},
	)

	// ExecutionResolutions counts how executions were resolved
	ExecutionResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airops_execution_resolutions_total",
			Help: "Total number of resolved executions by source and status",
		},
		[]string{"source", "status"},
	)

	// ExecutionDuration tracks time from submit to resolution
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airops_execution_duration_seconds",
			Help:    "Execution duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	// PollsTotal counts result polls by observed status
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airops_polls_total",
			Help: "Total number of execution polls",
		},
		[]string{"status"},
	)

	// ActiveSubscriptions tracks realtime channels currently subscribed
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "airops_active_subscriptions",
			Help: "Number of active realtime channel subscriptions",
		},
	)

	// SubscriptionFailures counts rejected channel subscriptions
	SubscriptionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "airops_subscription_failures_total",
			Help: "Total number of failed channel subscriptions",
		},
	)

	// ToolCalls tracks MCP tool invocations
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airops_tool_calls_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool", "status"},
	)

	// ScheduleRuns tracks scheduled executions
	ScheduleRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airops_schedule_runs_total",
			Help: "Total number of scheduled execution runs",
		},
		[]string{"status"},
	)

	// RecordsPruned tracks history and schedule runs removed by retention
	RecordsPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airops_records_pruned_total",
			Help: "Local records deleted by retention",
		},
		[]string{"kind"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware creates an HTTP middleware that records metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath normalizes URL paths to avoid high cardinality
func normalizePath(path string) string {
	switch path {
	case "/health", "/mcp", "/mcp/", "/metrics":
		return path
	default:
		if strings.HasPrefix(path, "/mcp/") {
			return "/mcp"
		}
		return "other"
	}
}

// Endpoint maps an API path to a low-cardinality endpoint label
func Endpoint(path string) string {
	switch {
	case strings.HasSuffix(path, "/cancel"):
		return "cancel"
	case strings.Contains(path, "/async_execute"):
		return "async_execute"
	case strings.Contains(path, "/executions/"):
		return "execution"
	case strings.HasSuffix(path, "/chat_stream"):
		return "chat_stream"
	case strings.HasSuffix(path, "/pusher/auth"):
		return "channel_auth"
	default:
		return "other"
	}
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest records one outbound call. status is 0 for network failures.
func RecordAPIRequest(method, path string, status int, duration time.Duration) {
	endpoint := Endpoint(path)
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	APIRequestsTotal.WithLabelValues(method, endpoint, code).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordSubmit records an accepted submission
func RecordSubmit(kind string, streaming bool) {
	ExecutionsSubmitted.WithLabelValues(kind, strconv.FormatBool(streaming)).Inc()
}

// RecordResolution records how and when an execution resolved
func RecordResolution(source, status string, elapsed time.Duration) {
	ExecutionResolutions.WithLabelValues(source, status).Inc()
	ExecutionDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// RecordPoll records one poll snapshot
func RecordPoll(status string) {
	PollsTotal.WithLabelValues(status).Inc()
}

// RecordSubscriptionStart increments the active subscription gauge
func RecordSubscriptionStart() {
	ActiveSubscriptions.Inc()
}

// RecordSubscriptionEnd decrements the active subscription gauge
func RecordSubscriptionEnd() {
	ActiveSubscriptions.Dec()
}

// RecordSubscriptionFailure records a rejected subscription
func RecordSubscriptionFailure() {
	SubscriptionFailures.Inc()
}

// RecordToolCall records an MCP tool invocation
func RecordToolCall(tool, status string) {
	ToolCalls.WithLabelValues(tool, status).Inc()
}

// RecordScheduleRun records a scheduled execution outcome
func RecordScheduleRun(status string) {
	ScheduleRuns.WithLabelValues(status).Inc()
}

// RecordPruned records n local records removed by retention
func RecordPruned(kind string, n int64) {
	if n > 0 {
		RecordsPruned.WithLabelValues(kind).Add(float64(n))
	}
}
