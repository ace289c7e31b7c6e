// Package metrics exposes Prometheus counters and gauges for the trading
// core. Everything is registered on the default registry and served by the
// promhttp handler main mounts at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	intentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_intents_total",
		Help: "Trading intents processed, by direction and outcome.",
	}, []string{"direction", "outcome"})

	riskVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_risk_verdicts_total",
		Help: "Risk gate verdicts.",
	}, []string{"action"})

	ordersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_orders_total",
		Help: "Orders placed on the venue, by type and purpose.",
	}, []string{"type", "purpose"})

	protectionCloses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_protection_closes_total",
		Help: "Positions closed by the protection monitor, by trigger.",
	}, []string{"trigger"})

	fillEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_fill_events_total",
		Help: "Fill events consumed from the user-data stream, by handling path.",
	}, []string{"path"})

	openPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trading_open_positions",
		Help: "Open positions observed on the last protection scan.",
	})

	realizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trading_realized_pnl_today",
		Help: "Realized PnL since UTC midnight, in quote currency.",
	})
)

func IntentProcessed(direction, outcome string) {
	intentsTotal.WithLabelValues(direction, outcome).Inc()
}

func RiskVerdict(action string) {
	riskVerdicts.WithLabelValues(action).Inc()
}

func OrderPlaced(orderType, purpose string) {
	ordersTotal.WithLabelValues(orderType, purpose).Inc()
}

func ProtectionClose(trigger string) {
	protectionCloses.WithLabelValues(trigger).Inc()
}

func FillEvent(path string) {
	fillEvents.WithLabelValues(path).Inc()
}

func SetOpenPositions(n int) {
	openPositions.Set(float64(n))
}

func SetRealizedPnLToday(v float64) {
	realizedPnL.Set(v)
}
