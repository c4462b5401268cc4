package metrics

import (
	"github.com/DomeLiquid/risk/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const namespace = "risk"

// Collector records engine outcomes. A nil *Collector drops every
// observation.
type Collector struct {
	registry *prometheus.Registry

	operations   *prometheus.CounterVec
	failures     *prometheus.CounterVec
	integrity    prometheus.Counter
	liabTransfer *prometheus.HistogramVec
}

var _ core.Metrics = (*Collector)(nil)

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Count of committed engine operations by type.",
		}, []string{"op"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Count of rolled back engine operations by type and error class.",
		}, []string{"op", "class"}),
		integrity: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_failures_total",
			Help:      "Count of operations aborted because an external dependency misbehaved.",
		}),
		liabTransfer: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "liquidation_liab_transfer",
			Help:      "Liability amount taken over per liquidation, in native units.",
			Buckets:   prometheus.ExponentialBuckets(1, 10, 10),
		}, []string{"kind"}),
	}
	c.registry.MustRegister(c.operations, c.failures, c.integrity, c.liabTransfer)
	return c
}

// Registry exposes the collector's metrics for an HTTP handler.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ObserveOperation(op core.OpType, err error) {
	if c == nil {
		return
	}
	if err == nil {
		c.operations.WithLabelValues(op.String()).Inc()
		return
	}
	c.failures.WithLabelValues(op.String(), core.ClassOf(err).String()).Inc()
	if core.IsIntegrity(err) {
		c.integrity.Inc()
	}
}

func (c *Collector) ObserveLiquidation(kind core.LiquidationKind, liabTransfer decimal.Decimal) {
	if c == nil {
		return
	}
	c.liabTransfer.WithLabelValues(kind.String()).Observe(liabTransfer.InexactFloat64())
}
