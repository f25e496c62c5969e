// Package metrics provides Prometheus collectors for the fixture.
//
// A nil *Collector is valid and records nothing, so library packages can
// accept one without forcing callers to wire a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Statement outcomes
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Collector groups the fixture's collectors.
type Collector struct {
	StatementsTotal    *prometheus.CounterVec
	StatementDuration  *prometheus.HistogramVec
	ToxicsActive       prometheus.Gauge
	ToxicsAppliedTotal *prometheus.CounterVec
	ProvisionDuration  *prometheus.HistogramVec
	RetryAttempts      prometheus.Counter
}

// New registers the collectors on reg. Passing prometheus.DefaultRegisterer
// exposes them through promhttp.Handler().
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		StatementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cqlfixture_statements_total",
				Help: "CQL statements executed by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		StatementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cqlfixture_statement_duration_seconds",
				Help:    "CQL statement latency in seconds",
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 10, 15},
			},
			[]string{"kind"},
		),
		ToxicsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cqlfixture_toxics_active",
				Help: "Toxics currently registered on the proxy",
			},
		),
		ToxicsAppliedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cqlfixture_toxics_applied_total",
				Help: "Toxics added by kind",
			},
			[]string{"kind"},
		),
		ProvisionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cqlfixture_provision_duration_seconds",
				Help:    "Container start latency in seconds",
				Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 180},
			},
			[]string{"service"},
		),
		RetryAttempts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cqlfixture_retry_attempts_total",
				Help: "Retries made by retry policies after a failed attempt",
			},
		),
	}
}

// ObserveStatement records one executed statement.
func (c *Collector) ObserveStatement(kind, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.StatementsTotal.WithLabelValues(kind, outcome).Inc()
	c.StatementDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ToxicAdded records a toxic registration.
func (c *Collector) ToxicAdded(kind string) {
	if c == nil {
		return
	}
	c.ToxicsAppliedTotal.WithLabelValues(kind).Inc()
	c.ToxicsActive.Inc()
}

// ToxicsRemoved records n toxic removals.
func (c *Collector) ToxicsRemoved(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.ToxicsActive.Sub(float64(n))
}

// ObserveProvision records how long a container took to start.
func (c *Collector) ObserveProvision(service string, d time.Duration) {
	if c == nil {
		return
	}
	c.ProvisionDuration.WithLabelValues(service).Observe(d.Seconds())
}

// RetryAttempt records one retry of a failed operation.
func (c *Collector) RetryAttempt() {
	if c == nil {
		return
	}
	c.RetryAttempts.Inc()
}
