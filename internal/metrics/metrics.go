// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fraudshield/fraudshield/internal/detect"
	"github.com/fraudshield/fraudshield/internal/model"
)

const defaultNamespace = "fraudshield"

// Collector holds the service metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	detections     *prometheus.CounterVec
	detectionTime  *prometheus.HistogramVec
	modelAvailable *prometheus.GaugeVec
	modelLoads     *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	sweptFiles     prometheus.Counter
	auditDropped   prometheus.Counter
}

// NewCollector registers all collectors under namespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Finished detections by kind, status and verdict.",
		}, []string{"kind", "status", "verdict"}),
		detectionTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_duration_seconds",
			Help:      "Detection latency including decoding and inference.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		modelAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_available",
			Help:      "1 when the model of the given kind is loaded.",
		}, []string{"kind"}),
		modelLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Model load attempts by kind and result.",
		}, []string{"kind", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		sweptFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scratch_swept_files_total",
			Help:      "Stale upload files removed by the janitor.",
		}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Audit events dropped because the queue was full.",
		}),
	}
	reg.MustRegister(
		c.detections,
		c.detectionTime,
		c.modelAvailable,
		c.modelLoads,
		c.httpRequests,
		c.sweptFiles,
		c.auditDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, k := range model.Kinds {
		c.modelAvailable.WithLabelValues(string(k)).Set(0)
	}
	return c
}

// ObserveDetection implements detect.Recorder.
func (c *Collector) ObserveDetection(kind string, status detect.Status, verdict string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.detections.WithLabelValues(kind, string(status), verdict).Inc()
	c.detectionTime.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ModelLoaded implements model.Observer.
func (c *Collector) ModelLoaded(kind model.Kind, err error) {
	if c == nil {
		return
	}
	result := "ok"
	available := 1.0
	if err != nil {
		result = "error"
		available = 0
	}
	c.modelLoads.WithLabelValues(string(kind), result).Inc()
	c.modelAvailable.WithLabelValues(string(kind)).Set(available)
}

// ObserveRequest counts one HTTP response. route must be a fixed pattern,
// never the raw URL path.
func (c *Collector) ObserveRequest(route string, code int) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// SweptFiles adds n to the janitor counter.
func (c *Collector) SweptFiles(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.sweptFiles.Add(float64(n))
}

// AuditDropped counts one dropped audit event.
func (c *Collector) AuditDropped() {
	if c == nil {
		return
	}
	c.auditDropped.Inc()
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the exposition format for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
