// Package observability provides Prometheus metrics for the engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warp/till-engine/recon"
)

// Metrics implements recon.Metrics over a private Prometheus registry.
// A private registry avoids "duplicate collector" panics when NewMetrics
// is called more than once (e.g. in tests).
type Metrics struct {
	// Registry is exposed so the /metrics endpoint can serve it.
	Registry *prometheus.Registry

	closesSubmitted *prometheus.CounterVec
	closesResolved  *prometheus.CounterVec
	postingFailures prometheus.Counter
	auditRetries    prometheus.Counter
	auditDrops      prometheus.Counter
}

// NewMetrics creates a registry and registers all engine metrics in it.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		closesSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "till_closes_submitted_total",
				Help: "Closes accepted for accountant review.",
			},
			[]string{"variance_flagged"},
		),
		closesResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "till_closes_resolved_total",
				Help: "Closes reaching a terminal status.",
			},
			[]string{"status"},
		),
		postingFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "till_posting_failures_total",
				Help: "Ledger posting attempts that failed.",
			},
		),
		auditRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "till_audit_retries_total",
				Help: "Audit event delivery retries.",
			},
		),
		auditDrops: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "till_audit_drops_total",
				Help: "Audit events dropped after retries were exhausted.",
			},
		),
	}
}

func (m *Metrics) CloseSubmitted(varianceFlagged bool) {
	flagged := "false"
	if varianceFlagged {
		flagged = "true"
	}
	m.closesSubmitted.WithLabelValues(flagged).Inc()
}

func (m *Metrics) CloseResolved(status recon.CloseStatus) {
	m.closesResolved.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) PostingFailed() {
	m.postingFailures.Inc()
}

func (m *Metrics) AuditRetried() {
	m.auditRetries.Inc()
}

func (m *Metrics) AuditDropped() {
	m.auditDrops.Inc()
}
