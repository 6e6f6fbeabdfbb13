// Package metrics provides Prometheus metrics for the incident ledger.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LedgerMetrics contains Prometheus metrics for ledger operations.
type LedgerMetrics struct {
	registry *prometheus.Registry

	submissions      *prometheus.CounterVec
	tipConflicts     prometheus.Counter
	submitAttempts   prometheus.Histogram
	verificationRuns *prometheus.CounterVec
	exports          prometheus.Counter
}

// NewLedgerMetrics creates and registers ledger metrics on the given registry.
func NewLedgerMetrics(registry *prometheus.Registry) (*LedgerMetrics, error) {
	m := &LedgerMetrics{registry: registry}

	m.submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_ledger_submissions_total",
			Help: "Total number of incident submissions by result",
		},
		[]string{"result"},
	)
	m.tipConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tandem_ledger_tip_conflicts_total",
			Help: "Total number of append attempts that lost the tip race",
		},
	)
	m.submitAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tandem_ledger_submit_attempts",
			Help:    "Number of append attempts needed per successful submission",
			Buckets: []float64{1, 2, 3, 5, 8},
		},
	)
	m.verificationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_ledger_verification_runs_total",
			Help: "Total number of chain verification runs by outcome",
		},
		[]string{"outcome"},
	)
	m.exports = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tandem_ledger_exports_total",
			Help: "Total number of evidence exports rendered",
		},
	)

	for _, c := range []prometheus.Collector{
		m.submissions,
		m.tipConflicts,
		m.submitAttempts,
		m.verificationRuns,
		m.exports,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordSubmission counts a finished submission with the given result label
// ("success", "exhausted", "invalid", "canceled", "error") and the attempts
// it took.
func (m *LedgerMetrics) RecordSubmission(result string, attempts int) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
	if attempts > 0 {
		m.submitAttempts.Observe(float64(attempts))
	}
}

// RecordTipConflict counts a single lost append race.
func (m *LedgerMetrics) RecordTipConflict() {
	if m == nil {
		return
	}
	m.tipConflicts.Inc()
}

// RecordVerification counts a verification run with outcome "valid" or "invalid".
func (m *LedgerMetrics) RecordVerification(outcome string) {
	if m == nil {
		return
	}
	m.verificationRuns.WithLabelValues(outcome).Inc()
}

// RecordExport counts a rendered evidence export.
func (m *LedgerMetrics) RecordExport() {
	if m == nil {
		return
	}
	m.exports.Inc()
}

// Handler returns an HTTP handler exposing the registry in Prometheus format.
func (m *LedgerMetrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
