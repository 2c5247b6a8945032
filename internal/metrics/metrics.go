// Package metrics defines the Prometheus collectors for the task lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "asynctask"

type Metrics struct {
	Submitted prometheus.Counter
	Rejected  prometheus.Counter
	Finished  *prometheus.CounterVec
	TimedOut  *prometheus.CounterVec
	Evicted   *prometheus.CounterVec
	Tracked   prometheus.Gauge
	QueryWait prometheus.Histogram

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Submitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Tasks accepted for execution.",
		}),
		Rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_rejected_total",
			Help:      "Submissions refused because the registry was full.",
		}),
		Finished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Tasks that reached a terminal status.",
		}, []string{"status"}),
		TimedOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_timed_out_total",
			Help:      "Tasks finalized by their deadline, by the component that noticed.",
		}, []string{"source"}),
		Evicted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_evicted_total",
			Help:      "Records removed by the reaper.",
		}, []string{"status"}),
		Tracked: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_tracked",
			Help:      "Records held after the latest sweep.",
		}),
		QueryWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_wait_seconds",
			Help:      "Time status queries spent waiting for a change.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}
