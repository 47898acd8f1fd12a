package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "queueline",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "queueline",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	TasksSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "queueline",
			Name:      "tasks_submitted_total",
			Help:      "Tasks accepted by the submission gateway.",
		},
	)

	TasksStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "queueline",
			Name:      "tasks_started_total",
			Help:      "Tasks picked up by workers.",
		},
	)

	TasksCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "queueline",
			Name:      "tasks_completed_total",
			Help:      "Tasks completed successfully.",
		},
	)

	TasksFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "queueline",
			Name:      "tasks_failed_total",
			Help:      "Tasks failed.",
		},
		[]string{"reason"},
	)

	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "queueline",
			Name:      "task_duration_seconds",
			Help:      "Task execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	QueuePendingDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "queueline",
			Name:      "queue_pending_depth",
			Help:      "Number of tasks currently waiting in the pending set.",
		},
	)

	LifecycleEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "queueline",
			Name:      "lifecycle_events_total",
			Help:      "Lifecycle events consumed, by state and outcome.",
		},
		[]string{"state", "outcome"},
	)
)

func RegisterMetrics() {
	// MustRegister is safe to call once; if tests call multiple times, use Register and ignore errors.
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TasksSubmittedTotal,
		TasksStartedTotal,
		TasksCompletedTotal,
		TasksFailedTotal,
		TaskDuration,
		QueuePendingDepth,
		LifecycleEventsTotal,
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records basic HTTP request metrics.
func HTTPMetricsMiddleware(routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: 200}
			next.ServeHTTP(rec, r)

			route := routeName(r)
			method := r.Method
			status := strconv.Itoa(rec.status)

			HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
			HTTPRequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
		})
	}
}
