// Package metrics provides Prometheus metrics for the fuse-docker mount.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache refresh metrics
	refreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fuse_docker_cache_refreshes_total",
			Help: "Container list refreshes against the Docker daemon",
		},
		[]string{"result"},
	)

	refreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fuse_docker_cache_refresh_duration_seconds",
			Help:    "Time to list containers from the Docker daemon",
			Buckets: prometheus.DefBuckets,
		},
	)

	refreshSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fuse_docker_cache_refresh_suppressed_total",
			Help: "Refreshes skipped because the cache is backing off after a failure",
		},
	)

	snapshotSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fuse_docker_cache_containers",
			Help: "Number of containers in the current cache snapshot",
		},
	)

	inodeCollisionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fuse_docker_inode_collisions_total",
			Help: "Containers admitted with an inode already used by another container",
		},
	)

	// FUSE callback metrics
	callbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fuse_docker_callbacks_total",
			Help: "FUSE callbacks handled",
		},
		[]string{"op", "status"},
	)

	callbackDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fuse_docker_callback_duration_seconds",
			Help:    "FUSE callback duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	callbacksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fuse_docker_callbacks_in_flight",
			Help: "FUSE callbacks currently executing",
		},
	)

	daemonOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fuse_docker_daemon_online",
			Help: "1 if the last Docker daemon call succeeded",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRefresh records a container list refresh.
func RecordRefresh(duration time.Duration, success bool) {
	refreshDuration.Observe(duration.Seconds())
	result := "success"
	if !success {
		result = "error"
	}
	refreshesTotal.WithLabelValues(result).Inc()
}

// RecordRefreshSuppressed records a refresh skipped during backoff.
func RecordRefreshSuppressed() {
	refreshSuppressedTotal.Inc()
}

// SetSnapshotSize sets the number of cached containers.
func SetSnapshotSize(size int) {
	snapshotSize.Set(float64(size))
}

// RecordInodeCollision records a container whose inode aliases another.
func RecordInodeCollision() {
	inodeCollisionsTotal.Inc()
}

// RecordCallback records a completed FUSE callback.
func RecordCallback(op, status string, duration time.Duration) {
	callbacksTotal.WithLabelValues(op, status).Inc()
	callbackDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// CallbackStarted increments the in-flight gauge. Call CallbackDone
// when the callback returns.
func CallbackStarted() {
	callbacksInFlight.Inc()
}

// CallbackDone decrements the in-flight gauge.
func CallbackDone() {
	callbacksInFlight.Dec()
}

// SetDaemonOnline records daemon reachability.
func SetDaemonOnline(online bool) {
	if online {
		daemonOnline.Set(1)
	} else {
		daemonOnline.Set(0)
	}
}
