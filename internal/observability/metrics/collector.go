package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "indexao"

// Collector implements plugin.Observer on top of Prometheus vectors.
type Collector struct {
	switches        *prometheus.CounterVec
	loads           *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	cleanupFailures *prometheus.CounterVec
	construct       *prometheus.HistogramVec
	active          *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector registers every metric with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		switches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_switches_total",
			Help:      "Number of active adapter changes.",
		}, []string{"kind", "from", "to"}),
		loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_loads_total",
			Help:      "Dynamic adapter loads by result.",
		}, []string{"kind", "name", "result"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_fallbacks_total",
			Help:      "Loads that fell back to the mock adapter.",
		}, []string{"kind"}),
		cleanupFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_cleanup_failures_total",
			Help:      "Adapters whose Close returned an error.",
		}, []string{"kind", "name"}),
		construct: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adapter_construct_seconds",
			Help:      "Time spent constructing adapter instances.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"kind", "name"}),
		active: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_adapter",
			Help:      "1 for the adapter currently active for a kind.",
		}, []string{"kind", "name"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
}

// Switched is called for first activations too, with an empty from.
func (c *Collector) Switched(kind, from, to string) {
	if from != "" {
		c.switches.WithLabelValues(kind, from, to).Inc()
		if from != to {
			c.active.DeleteLabelValues(kind, from)
		}
	}
	c.active.WithLabelValues(kind, to).Set(1)
}

func (c *Collector) Loaded(kind, name string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.loads.WithLabelValues(kind, name, result).Inc()
}

func (c *Collector) FellBack(kind, _ string) {
	c.fallbacks.WithLabelValues(kind).Inc()
}

func (c *Collector) CleanupFailed(kind, name string) {
	c.cleanupFailures.WithLabelValues(kind, name).Inc()
}

func (c *Collector) Constructed(kind, name string, elapsed time.Duration) {
	c.construct.WithLabelValues(kind, name).Observe(elapsed.Seconds())
}
