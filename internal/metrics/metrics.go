// Package metrics wires the broker's runtime counters and gauges into
// Prometheus, plus a periodic process-resource sample via gopsutil.
package metrics

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
)

// Registry wraps every Prometheus collector memqd exposes. It implements
// broker.Metrics.
type Registry struct {
	connectionsActive   prometheus.Gauge
	subscriptionsActive prometheus.Gauge
	messagesPublished   prometheus.Counter
	messagesDelivered   prometheus.Counter
	messagesDropped     *prometheus.CounterVec
	cacheEvictions      prometheus.Counter
	acceptErrors        prometheus.Counter

	processCPUPercent prometheus.Gauge
	processRSSBytes   prometheus.Gauge
}

// NewRegistry creates and registers all collectors.
func NewRegistry() *Registry {
	return &Registry{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "memq_connections_active",
			Help: "Number of currently open client connections.",
		}),
		subscriptionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "memq_subscriptions_active",
			Help: "Number of active (topic, subscriber) pairs.",
		}),
		messagesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "memq_messages_published_total",
			Help: "Total number of successful send commands.",
		}),
		messagesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "memq_messages_delivered_total",
			Help: "Total number of individual subscriber deliveries, fan-out included.",
		}),
		messagesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "memq_messages_dropped_total",
			Help: "Total number of deliveries dropped, by reason.",
		}, []string{"reason"}),
		cacheEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "memq_cache_evictions_total",
			Help: "Total number of replay cache FIFO evictions.",
		}),
		acceptErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "memq_accept_errors_total",
			Help: "Total number of connections rejected at admission.",
		}),
		processCPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "memq_process_cpu_percent",
			Help: "Process CPU utilization percentage, sampled periodically.",
		}),
		processRSSBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "memq_process_rss_bytes",
			Help: "Process resident set size in bytes, sampled periodically.",
		}),
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// broker.Metrics implementation.

func (r *Registry) SubscriptionInc()  { r.subscriptionsActive.Inc() }
func (r *Registry) SubscriptionDec()  { r.subscriptionsActive.Dec() }
func (r *Registry) MessagePublished() { r.messagesPublished.Inc() }
func (r *Registry) MessageDelivered() { r.messagesDelivered.Inc() }
func (r *Registry) MessageDropped(reason string) {
	r.messagesDropped.WithLabelValues(reason).Inc()
}
func (r *Registry) CacheEviction() { r.cacheEvictions.Inc() }

// ConnectionOpened/Closed track the active connection gauge from the
// transport layer.
func (r *Registry) ConnectionOpened() { r.connectionsActive.Inc() }
func (r *Registry) ConnectionClosed() { r.connectionsActive.Dec() }
func (r *Registry) AcceptError()      { r.acceptErrors.Inc() }

// RunProcessSampler samples the current process's CPU and RSS every
// interval until ctx is done, the way the teacher's collectMetrics loop
// does with gopsutil.
func (r *Registry) RunProcessSampler(ctx context.Context, interval time.Duration) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pct, err := proc.CPUPercent(); err == nil {
				r.processCPUPercent.Set(pct)
			}
			if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
				r.processRSSBytes.Set(float64(mem.RSS))
			}
		}
	}
}
