package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		pushesTotal,
		callbacksTotal,
		retriesTotal,
		revenueTotal,
	)
}

var (
	pushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stk_pushes_total",
			Help: "STK push requests by gateway outcome (accepted/rejected).",
		},
		[]string{"outcome"},
	)

	callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_callbacks_total",
			Help: "Gateway callbacks by reconciliation branch (success/failed/cancelled/transient/duplicate/unknown/malformed/error).",
		},
		[]string{"branch"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_retries_total",
			Help: "Transient-failure retry outcomes (repushed/push_rejected/lost_race).",
		},
		[]string{"outcome"},
	)

	revenueTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_revenue_ksh_total",
			Help: "Total value of settled payments in whole shillings.",
		},
	)
)

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func IncPush(outcome string) {
	pushesTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncCallback(branch string) {
	callbacksTotal.WithLabelValues(norm(branch)).Inc()
}

func IncRetry(outcome string) {
	retriesTotal.WithLabelValues(norm(outcome)).Inc()
}

func AddRevenue(amount int64) {
	revenueTotal.Add(float64(amount))
}
