package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"genomicore/internal/core"
)

var _ core.MetricsRecorder = (*PrometheusRecorder)(nil)

// PrometheusRecorder publishes operation timings, job results, and incident
// counts on its own registry.
type PrometheusRecorder struct {
	registry  *prometheus.Registry
	duration  *prometheus.HistogramVec
	results   *prometheus.CounterVec
	incidents *prometheus.CounterVec
}

// NewPrometheusRecorder registers the genomicore collectors. A nil registry
// gets a fresh one.
func NewPrometheusRecorder(registry *prometheus.Registry) (*PrometheusRecorder, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	r := &PrometheusRecorder{
		registry: registry,
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "genomicore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of orchestrated operations.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 30, 120, 600, 1800},
		}, []string{"operation", "status"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genomicore",
			Name:      "job_results_total",
			Help:      "Job runs by kind and aggregated result.",
		}, []string{"job", "result"}),
		incidents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genomicore",
			Name:      "incidents_total",
			Help:      "Incidents inserted by code.",
		}, []string{"code"}),
	}
	for _, c := range []prometheus.Collector{r.duration, r.results, r.incidents} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

// Observe implements core.MetricsRecorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.duration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// CountResult increments the result counter for a finished job run.
func (r *PrometheusRecorder) CountResult(job, result string) {
	r.results.WithLabelValues(job, result).Inc()
}

// CountIncident increments the incident counter.
func (r *PrometheusRecorder) CountIncident(code string) {
	r.incidents.WithLabelValues(code).Inc()
}

// Registry exposes the underlying registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
