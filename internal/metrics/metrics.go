// Package metrics exposes Prometheus collectors for settlement activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors the engine and HTTP layer update.
type Metrics struct {
	Operations        *prometheus.CounterVec
	DepositedTotal    prometheus.Counter
	ExecutedTransfers prometheus.Counter
	RefundedTotal     prometheus.Counter
	QueueLength       prometheus.Gauge
}

// New registers the FairSettle collectors with the given registerer.
// Pass prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fairsettle",
			Name:      "operations_total",
			Help:      "Mutating settlement operations by name and result.",
		}, []string{"operation", "result"}),
		DepositedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fairsettle",
			Name:      "deposited_amount_total",
			Help:      "Total deposited amount in smallest units.",
		}),
		ExecutedTransfers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fairsettle",
			Name:      "executed_transfers_total",
			Help:      "Total number of executed transfer line items.",
		}),
		RefundedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fairsettle",
			Name:      "refunded_amount_total",
			Help:      "Total refunded amount in smallest units.",
		}),
		QueueLength: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fairsettle",
			Name:      "queue_length",
			Help:      "Settlements currently queued for execution.",
		}),
	}
}

// Observe records one operation outcome.
func (m *Metrics) Observe(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Operations.WithLabelValues(operation, result).Inc()
}
