// Package metrics exposes Prometheus counters for strip downloads.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertmeta/strip-cli/model"
)

const namespace = "strip_cli"

// Collector records fetch activity on its own registry.
type Collector struct {
	registry      *prometheus.Registry
	fetchAttempts *prometheus.CounterVec
	attemptCycles *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
	stripBytes    prometheus.Gauge
}

// NewCollector creates a Collector with a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		fetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Strip fetch attempts by outcome.",
		}, []string{"outcome"}),
		attemptCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_cycles_total",
			Help:      "Scheduled attempt cycles by how they ended.",
		}, []string{"result"}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_new_strip_timestamp_seconds",
			Help:      "Unix time at which the last new strip was downloaded.",
		}),
		stripBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_strip_bytes",
			Help:      "Size of the current strip image.",
		}),
	}
}

// ObserveFetch counts one fetch attempt. A new strip also updates the
// last success time and size gauges.
func (c *Collector) ObserveFetch(outcome model.Outcome, strip *model.Strip, at time.Time) {
	if c == nil {
		return
	}
	c.fetchAttempts.WithLabelValues(string(outcome)).Inc()
	if outcome == model.OutcomeNewStrip && strip != nil {
		c.lastSuccess.Set(float64(at.Unix()))
		c.stripBytes.Set(float64(strip.Size()))
	}
}

// ObserveCycle counts a finished attempt cycle. result is "succeeded",
// "exhausted" or "cancelled".
func (c *Collector) ObserveCycle(result string) {
	if c == nil {
		return
	}
	c.attemptCycles.WithLabelValues(result).Inc()
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
