// Package metrics exposes Prometheus collectors for the analytics layer.
// All recording methods are nil-safe so components can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// Collector manages all metrics for the service
type Collector struct {
	registry *prometheus.Registry

	CacheOperations *prometheus.CounterVec
	Computations    *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	TaskOutcomes    *prometheus.CounterVec
	DomainHealth    *prometheus.GaugeVec
	WarmingTasks    *prometheus.CounterVec
}

// NewCollector creates a collector registered on its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "outreach_analytics"
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		CacheOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Cache operations by domain and result (hit, miss, error, set, invalidate).",
		}, []string{"domain", "result"}),
		Computations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "computations_total",
			Help:      "Fresh computations performed after a cache miss.",
		}, []string{"domain", "operation"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Orchestrator task wall time.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"domain", "outcome"}),
		TaskOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_outcomes_total",
			Help:      "Orchestrator task outcomes (ok, error, timeout).",
		}, []string{"domain", "outcome"}),
		DomainHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "domain_health_status",
			Help:      "0 healthy, 1 degraded, 2 unhealthy.",
		}, []string{"domain"}),
		WarmingTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warming_tasks_total",
			Help:      "Cache warming tasks by result (warmed, skipped, failed).",
		}, []string{"priority", "result"}),
	}
	c.registry.MustRegister(
		c.CacheOperations, c.Computations, c.TaskDuration,
		c.TaskOutcomes, c.DomainHealth, c.WarmingTasks,
	)
	return c
}

// Registry returns the underlying registry (used by tests).
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) CacheOp(domain, result string) {
	if c == nil {
		return
	}
	c.CacheOperations.WithLabelValues(domain, result).Inc()
}

func (c *Collector) Computed(domain, operation string) {
	if c == nil {
		return
	}
	c.Computations.WithLabelValues(domain, operation).Inc()
}

func (c *Collector) TaskDone(domain, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.TaskOutcomes.WithLabelValues(domain, outcome).Inc()
	c.TaskDuration.WithLabelValues(domain, outcome).Observe(d.Seconds())
}

func (c *Collector) HealthChanged(domain string, severity int) {
	if c == nil {
		return
	}
	c.DomainHealth.WithLabelValues(domain).Set(float64(severity))
}

func (c *Collector) Warmed(priority, result string) {
	if c == nil {
		return
	}
	c.WarmingTasks.WithLabelValues(priority, result).Inc()
}
