// Package metrics exposes indexing, graph and HTTP metrics in the
// Prometheus exposition format. Each Registry owns its collectors, so
// tests and multiple servers in one process do not collide.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Index run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// DefaultBuckets are the index duration buckets (in seconds).
var DefaultBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Registry holds the service's collectors.
type Registry struct {
	reg *prometheus.Registry

	indexRuns     *prometheus.CounterVec
	indexItems    *prometheus.CounterVec
	indexErrors   *prometheus.CounterVec
	indexDuration prometheus.Histogram
	graphNodes    *prometheus.GaugeVec
	graphRels     *prometheus.GaugeVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates a Registry with Go runtime and process collectors attached.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Registry{
		reg: reg,
		indexRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "specgraph_index_runs_total",
			Help: "Indexing passes by outcome",
		}, []string{"outcome"}),
		indexItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "specgraph_index_items_total",
			Help: "Items processed by indexing phase",
		}, []string{"phase"}),
		indexErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "specgraph_index_errors_total",
			Help: "Items that failed to index, by phase",
		}, []string{"phase"}),
		indexDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "specgraph_index_duration_seconds",
			Help:    "Wall time of an indexing pass",
			Buckets: DefaultBuckets,
		}),
		graphNodes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "specgraph_graph_nodes",
			Help: "Nodes in the graph by label",
		}, []string{"label"}),
		graphRels: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "specgraph_graph_relationships",
			Help: "Relationships in the graph by type",
		}, []string{"type"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "specgraph_http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "specgraph_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// ItemProcessed counts one item handled in phase.
func (r *Registry) ItemProcessed(phase string) {
	r.indexItems.WithLabelValues(phase).Inc()
}

// ItemFailed counts one item that failed in phase.
func (r *Registry) ItemFailed(phase string) {
	r.indexErrors.WithLabelValues(phase).Inc()
}

// ObserveRun records a finished indexing pass.
func (r *Registry) ObserveRun(outcome string, d time.Duration) {
	r.indexRuns.WithLabelValues(outcome).Inc()
	r.indexDuration.Observe(d.Seconds())
}

// SetGraph replaces the graph size gauges. Labels and types missing from
// the maps are dropped rather than left at their previous value.
func (r *Registry) SetGraph(nodesByLabel, relsByType map[string]int64) {
	r.graphNodes.Reset()
	for label, n := range nodesByLabel {
		r.graphNodes.WithLabelValues(label).Set(float64(n))
	}
	r.graphRels.Reset()
	for typ, n := range relsByType {
		r.graphRels.WithLabelValues(typ).Set(float64(n))
	}
}

// Middleware instruments every request with count and latency.
func (r *Registry) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return promhttp.InstrumentHandlerDuration(r.httpDuration,
			promhttp.InstrumentHandlerCounter(r.httpRequests, next))
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
