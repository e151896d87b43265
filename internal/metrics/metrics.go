// Package metrics exposes engine activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cluster-chaos/internal/retry"
)

const namespace = "chaos"

// Metrics implements retry.Observer and the fault controller's observer
type Metrics struct {
	registry *prometheus.Registry

	// ActionsTotal counts finished actions by kind and outcome
	ActionsTotal *prometheus.CounterVec
	// ActionDuration tracks wall time per action kind
	ActionDuration *prometheus.HistogramVec
	// RetryAttempts counts classified attempts per cluster operation
	RetryAttempts *prometheus.CounterVec
	// FaultRulesActive is the number of fault rules currently installed
	FaultRulesActive prometheus.Gauge
	// ValidationPolls counts stability and health polls
	ValidationPolls *prometheus.CounterVec
}

var _ retry.Observer = (*Metrics)(nil)

// New registers the collectors on a fresh registry that also carries the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Total number of finished actions",
			},
			[]string{"kind", "outcome"},
		),
		ActionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Action duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		),
		RetryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of cluster call attempts by classification",
			},
			[]string{"operation", "outcome"},
		),
		FaultRulesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fault_rules_active",
				Help:      "Fault rules currently installed by this process",
			},
		),
		ValidationPolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_polls_total",
				Help:      "Total number of validation polls",
			},
			[]string{"check", "result"},
		),
	}
}

func (m *Metrics) ObserveAttempt(operation string, outcome retry.Outcome) {
	m.RetryAttempts.WithLabelValues(operation, outcome.String()).Inc()
}

func (m *Metrics) RuleInstalled() { m.FaultRulesActive.Inc() }

func (m *Metrics) RuleRemoved() { m.FaultRulesActive.Dec() }

// ActionFinished records one finished action; outcome is succeeded, failed
// or cancelled.
func (m *Metrics) ActionFinished(kind, outcome string, d time.Duration) {
	m.ActionsTotal.WithLabelValues(kind, outcome).Inc()
	m.ActionDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) ValidationPoll(check string, ok bool) {
	result := "fail"
	if ok {
		result = "pass"
	}
	m.ValidationPolls.WithLabelValues(check, result).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
