package signal

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirrors the teacher's metrics.go pattern (CounterVec per
// outcome dimension, registered once) generalized from a single-strategy
// bot to a multi-pair copy-trading processor: every series carries a
// "pair" label so one Prometheus instance covers every engine.
var (
	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_orders_total",
			Help: "Orders submitted, by pair, side and result",
		},
		[]string{"pair", "side", "result"},
	)

	mtxDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_decisions_total",
			Help: "Signal-processor decisions, by pair and direction",
		},
		[]string{"pair", "direction"},
	)

	mtxSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_skipped_total",
			Help: "Signals skipped without an order, by pair and reason",
		},
		[]string{"pair", "reason"},
	)

	mtxFillEventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_fill_events_dropped_total",
			Help: "Fill events dropped before processing, by pair and reason",
		},
		[]string{"pair", "reason"},
	)
)

func init() {
	prometheus.MustRegister(mtxOrders, mtxDecisions, mtxSkipped, mtxFillEventsDropped)
}
