package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued     = prometheus.NewCounter(prometheus.CounterOpts{Name: "thumbnail_jobs_enqueued_total", Help: "Images accepted for thumbnail processing"})
	InvalidUploads   = prometheus.NewCounter(prometheus.CounterOpts{Name: "thumbnail_uploads_invalid_total", Help: "Uploads rejected before queueing because they are not images"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "thumbnail_rate_limit_rejects_total", Help: "Uploads rejected by the rate limiter"})
	JobsSucceeded    = prometheus.NewCounter(prometheus.CounterOpts{Name: "thumbnail_jobs_succeeded_total", Help: "Jobs that produced a thumbnail"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "thumbnail_jobs_failed_total", Help: "Jobs recorded as errors"})
	WorkerRestarts   = prometheus.NewCounter(prometheus.CounterOpts{Name: "thumbnail_worker_restarts_total", Help: "Workers replaced by the supervisor after dying"})
	WorkerStalls     = prometheus.NewCounter(prometheus.CounterOpts{Name: "thumbnail_worker_stalls_total", Help: "Live workers whose heartbeat went stale"})
	WorkerPollErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "thumbnail_worker_poll_errors_total", Help: "Store errors while polling for the next job"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "thumbnail_jobs_inflight", Help: "Jobs currently being processed"})
	ProcessSeconds   = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "thumbnail_job_duration_seconds",
		Help:    "Time spent transforming a single job",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			InvalidUploads,
			RateLimitRejects,
			JobsSucceeded,
			JobsFailed,
			WorkerRestarts,
			WorkerStalls,
			WorkerPollErrors,
			InFlightGauge,
			ProcessSeconds,
		)
	})
	return promhttp.Handler()
}
