// Package monitoring provides metrics and observability for the mark status service
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Status check metrics
	statusChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markstatus_checks_total",
			Help: "Total number of mark status checks sent to the API",
		},
		[]string{"result"},
	)

	statusCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "markstatus_check_duration_seconds",
			Help:    "Duration of mark status checks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	backoffsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markstatus_backoffs_total",
			Help: "Total number of rescheduled status checks",
		},
		[]string{"reason"},
	)

	// Mutation metrics
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markstatus_mutations_total",
			Help: "Total number of mark/unmark mutations",
		},
		[]string{"action", "outcome"},
	)

	mutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "markstatus_mutation_duration_seconds",
			Help:    "Duration of mark/unmark mutations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action", "outcome"},
	)

	// Cache metrics
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markstatus_cache_lookups_total",
			Help: "Total number of status cache lookups",
		},
		[]string{"result"},
	)

	cacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markstatus_cache_writes_total",
			Help: "Total number of status cache writes",
		},
		[]string{"source", "result"},
	)

	// Limiter metrics
	checksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "markstatus_checks_in_flight",
			Help: "Number of status checks currently in flight",
		},
	)

	limiterRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "markstatus_limiter_rejections_total",
			Help: "Total number of status checks refused a limiter slot",
		},
	)

	// Host metrics
	mountedItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "markstatus_mounted_items",
			Help: "Number of feed items with a mounted reconciler",
		},
	)

	// Timeline metrics
	timelineLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markstatus_timeline_loads_total",
			Help: "Total number of timeline loads",
		},
		[]string{"result"},
	)

	timelineLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "markstatus_timeline_load_duration_seconds",
			Help:    "Duration of timeline loads",
			Buckets: prometheus.DefBuckets,
		},
	)

	timelineItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "markstatus_timeline_items",
			Help: "Number of posts in the last loaded timeline",
		},
	)

	reloadJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markstatus_reload_jobs_total",
			Help: "Total number of timeline reload jobs",
		},
		[]string{"status"},
	)

	reloadQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "markstatus_reload_queue_size",
			Help: "Number of reload jobs waiting in the queue",
		},
	)

	// API client metrics
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markstatus_api_requests_total",
			Help: "Total number of requests sent to the remote API",
		},
		[]string{"method", "status"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "markstatus_api_request_duration_seconds",
			Help:    "Duration of requests sent to the remote API",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)

	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markstatus_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "markstatus_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)

// RecordStatusCheck records metrics for a status check
func RecordStatusCheck(result string, duration float64) {
	statusChecksTotal.WithLabelValues(result).Inc()
	statusCheckDuration.WithLabelValues(result).Observe(duration)
}

// RecordBackoff records a rescheduled status check
func RecordBackoff(reason string) {
	backoffsTotal.WithLabelValues(reason).Inc()
}

// RecordMutation records metrics for a mark/unmark mutation
func RecordMutation(action, outcome string, duration float64) {
	mutationsTotal.WithLabelValues(action, outcome).Inc()
	mutationDuration.WithLabelValues(action, outcome).Observe(duration)
}

// RecordCacheLookup records a cache lookup as fresh, stale or miss
func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheWrite records a cache write and whether it was applied
func RecordCacheWrite(source, result string) {
	cacheWrites.WithLabelValues(source, result).Inc()
}

// UpdateChecksInFlight updates the in-flight gauge
func UpdateChecksInFlight(count int) {
	checksInFlight.Set(float64(count))
}

// RecordLimiterRejection records a refused limiter slot
func RecordLimiterRejection() {
	limiterRejections.Inc()
}

// UpdateMountedItems updates the mounted items gauge
func UpdateMountedItems(count int) {
	mountedItems.Set(float64(count))
}

// RecordTimelineLoad records a timeline load and the number of posts it returned
func RecordTimelineLoad(result string, duration float64, items int) {
	timelineLoadsTotal.WithLabelValues(result).Inc()
	timelineLoadDuration.Observe(duration)
	if items >= 0 {
		timelineItems.Set(float64(items))
	}
}

// RecordReloadJob records a reload job reaching status
func RecordReloadJob(status string) {
	reloadJobsTotal.WithLabelValues(status).Inc()
}

// UpdateReloadQueueSize updates the reload queue gauge
func UpdateReloadQueueSize(size int) {
	reloadQueueSize.Set(float64(size))
}

// RecordAPIRequest records metrics for a remote API request
func RecordAPIRequest(method, status string, duration float64) {
	apiRequestsTotal.WithLabelValues(method, status).Inc()
	apiRequestDuration.WithLabelValues(method, status).Observe(duration)
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration)
}
