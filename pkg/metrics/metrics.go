package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "icefloe_build_info",
			Help: "Build information of the icefloe warehouse",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icefloe_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "icefloe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Commit metrics
	CommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icefloe_commits_total",
			Help: "Total number of table commits",
		},
		[]string{"path", "status"}, // path: "append"/"register", status: "success"/"noop"/"error"
	)

	CommitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "icefloe_commit_duration_seconds",
			Help:    "Duration of table commits in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"path"},
	)

	RowsWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "icefloe_rows_written_total",
			Help: "Total number of rows committed to tables",
		},
	)

	// Precision normalizer metrics
	NormalizeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icefloe_normalize_total",
			Help: "Total number of timestamp precision casts",
		},
		[]string{"outcome"}, // "success", "precision_loss", "error"
	)

	// Object store metrics
	ObjectStoreOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icefloe_objectstore_ops_total",
			Help: "Total number of object store operations",
		},
		[]string{"op", "status"},
	)

	ObjectStoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "icefloe_objectstore_op_duration_seconds",
			Help:    "Duration of object store operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
		[]string{"op"},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordCommit records metrics for one commit attempt.
func RecordCommit(path string, rows int64, duration time.Duration, committed bool, err error) {
	status := "success"
	switch {
	case err != nil:
		status = "error"
	case !committed:
		status = "noop"
	}
	CommitsTotal.WithLabelValues(path, status).Inc()
	CommitDuration.WithLabelValues(path).Observe(duration.Seconds())
	if err == nil && committed && rows > 0 {
		RowsWrittenTotal.Add(float64(rows))
	}
}

// RecordObjectStoreOp records metrics for one object store operation.
func RecordObjectStoreOp(op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ObjectStoreOpsTotal.WithLabelValues(op, status).Inc()
	ObjectStoreOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}
