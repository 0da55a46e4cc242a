// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the engine-level metrics. A nil *Collector is a
// valid no-op receiver so instrumentation stays optional.
type Collector struct {
	tasksTotal    *prometheus.CounterVec
	taskDuration  prometheus.Histogram
	cacheReads    *prometheus.CounterVec
	httpRequests  prometheus.Counter
}

// NewCollector registers the engine metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "urlclean_tasks_total",
			Help: "Tasks processed, by outcome",
		}, []string{"outcome"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "urlclean_task_duration_seconds",
			Help:    "Wall time per cleaned task",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		cacheReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "urlclean_cache_reads_total",
			Help: "Cache reads, by result",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "urlclean_http_requests_total",
			Help: "Outbound HTTP requests made by side-effect rules",
		}),
	}
	reg.MustRegister(c.tasksTotal, c.taskDuration, c.cacheReads, c.httpRequests)
	return c
}

// TaskDone records one finished task.
func (c *Collector) TaskDone(seconds float64, failed bool) {
	if c == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	c.tasksTotal.WithLabelValues(outcome).Inc()
	c.taskDuration.Observe(seconds)
}

// CacheRead records one cache read.
func (c *Collector) CacheRead(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheReads.WithLabelValues(result).Inc()
}

// HTTPRequest records one outbound request.
func (c *Collector) HTTPRequest() {
	if c == nil {
		return
	}
	c.httpRequests.Inc()
}
