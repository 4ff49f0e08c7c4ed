package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "miroir"

// Collector records handler outcomes for Prometheus.
//
// Metrics:
//   - miroir_requests_total{outcome,status}
//   - miroir_request_duration_seconds{outcome}
//   - miroir_soft_failures_total
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	softFailures    prometheus.Counter
}

// NewCollector registers the metrics on registry, or on a fresh registry if
// nil.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of mirror requests by outcome and HTTP status",
			},
			[]string{"outcome", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of mirror requests in seconds",
				// LLM completions dominate; most land between 5s and 60s.
				Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		softFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "soft_failures_total",
				Help:      "Completions whose content was not valid JSON",
			},
		),
	}

	registry.MustRegister(c.requestsTotal, c.requestDuration, c.softFailures)
	return c
}

// Observe records one finished request.
func (c *Collector) Observe(outcome string, status int, d time.Duration) {
	c.requestsTotal.WithLabelValues(outcome, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveSoftFailure counts a bad_json_from_ai response.
func (c *Collector) ObserveSoftFailure() {
	c.softFailures.Inc()
}

// Handler exposes the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
