// Package metrics exports benchmark counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spherical/ocr-bench/internal/domain"
)

// Collector holds the benchmark collectors registered on one registry.
type Collector struct {
	registry *prometheus.Registry

	// pages tracks processed pages by provider and status
	pages *prometheus.CounterVec

	// pageDuration tracks provider response time per page
	pageDuration *prometheus.HistogramVec

	// tokens tracks tokens consumed by provider and direction
	tokens *prometheus.CounterVec

	// runs tracks finished runs by terminal status
	runs *prometheus.CounterVec

	// recomputes tracks aggregate recomputations by outcome
	recomputes *prometheus.CounterVec

	// activeRuns tracks runs currently in progress
	activeRuns prometheus.Gauge
}

// NewCollector registers the benchmark collectors on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		pages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocrbench_pages_total",
				Help: "Total pages processed by provider and status",
			},
			[]string{"provider", "status"},
		),
		pageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ocrbench_page_duration_seconds",
				Help:    "Provider response time per page",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		),
		tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocrbench_tokens_total",
				Help: "Total tokens consumed by provider and direction",
			},
			[]string{"provider", "direction"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocrbench_runs_total",
				Help: "Total finished runs by status",
			},
			[]string{"status"},
		),
		recomputes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocrbench_aggregate_recomputes_total",
				Help: "Total aggregate recomputations by outcome",
			},
			[]string{"outcome"},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ocrbench_active_runs",
				Help: "Number of runs currently in progress",
			},
		),
	}
}

// ObservePage records one page result.
func (c *Collector) ObservePage(provider string, result domain.PageResult) {
	c.pages.WithLabelValues(provider, string(result.Status)).Inc()
	if !result.Succeeded() {
		return
	}
	c.pageDuration.WithLabelValues(provider).Observe(result.ResponseTime)
	c.tokens.WithLabelValues(provider, "input").Add(float64(result.InputTokens))
	c.tokens.WithLabelValues(provider, "output").Add(float64(result.OutputTokens))
}

// RunStarted marks a run as in progress.
func (c *Collector) RunStarted() {
	c.activeRuns.Inc()
}

// RunFinished records a run reaching a terminal status.
func (c *Collector) RunFinished(status domain.RunStatus) {
	c.activeRuns.Dec()
	c.runs.WithLabelValues(string(status)).Inc()
}

// AggregateRecomputed records the outcome of one recomputation.
func (c *Collector) AggregateRecomputed(err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.recomputes.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
