// Package metrics exposes prometheus collectors for the ledger, the
// compensation queue, reconciliation and circuit breakers.
package metrics

import (
	"time"

	"ledgercore/internal/resilience"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ledgercore"

// Collector implements the metrics interfaces of every service.
type Collector struct {
	ledgerOps          *prometheus.CounterVec
	ledgerErrors       *prometheus.CounterVec
	ledgerDuration     *prometheus.HistogramVec
	ledgerVolume       *prometheus.CounterVec
	compensationEvents *prometheus.CounterVec
	compensationQueue  *prometheus.GaugeVec
	reconciliation     *prometheus.GaugeVec
	circuitState       *prometheus.GaugeVec
	circuitRejections  *prometheus.CounterVec
}

// NewCollector registers every metric with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		ledgerOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by type and result",
		}, []string{"operation", "result"}),
		ledgerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "errors_total",
			Help:      "Ledger failures by error kind",
		}, []string{"operation", "kind"}),
		ledgerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"operation"}),
		ledgerVolume: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "volume_total",
			Help:      "Monetary volume moved by committed operations",
		}, []string{"operation"}),
		compensationEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compensation",
			Name:      "events_total",
			Help:      "Compensation queue events by outcome",
		}, []string{"outcome"}),
		compensationQueue: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "compensation",
			Name:      "entries",
			Help:      "Compensation entries by status",
		}, []string{"status"}),
		reconciliation: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "records",
			Help:      "Reconciliation records by status",
		}, []string{"status"}),
		circuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "state",
			Help:      "Circuit state per dependency (0 closed, 1 open, 2 half-open)",
		}, []string{"name"}),
		circuitRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "rejections_total",
			Help:      "Calls rejected by an open circuit",
		}, []string{"name"}),
	}
}

func (c *Collector) RecordOperationDuration(operation string, d time.Duration) {
	c.ledgerDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (c *Collector) RecordOperationResult(operation, result string) {
	c.ledgerOps.WithLabelValues(operation, result).Inc()
}

func (c *Collector) RecordError(operation, kind string) {
	c.ledgerErrors.WithLabelValues(operation, kind).Inc()
}

func (c *Collector) RecordTransactionVolume(operation string, amount float64) {
	c.ledgerVolume.WithLabelValues(operation).Add(amount)
}

func (c *Collector) RecordCompensation(outcome string) {
	c.compensationEvents.WithLabelValues(outcome).Inc()
}

func (c *Collector) SetCompensationEntries(status string, n int64) {
	c.compensationQueue.WithLabelValues(status).Set(float64(n))
}

func (c *Collector) SetReconciliationRecords(status string, n int64) {
	c.reconciliation.WithLabelValues(status).Set(float64(n))
}

func (c *Collector) ObserveCircuitState(name string, state resilience.State) {
	c.circuitState.WithLabelValues(name).Set(float64(state))
}

func (c *Collector) RecordCircuitRejection(name string) {
	c.circuitRejections.WithLabelValues(name).Inc()
}
