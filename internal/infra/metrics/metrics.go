package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors fed by the payday engine, the
// interception adapter and the active cache. A nil *Metrics disables
// collection; every method is nil-safe.
type Metrics struct {
	registry *prometheus.Registry

	activePrincipals  prometheus.Gauge
	payoutsTotal      prometheus.Counter
	paidAmountTotal   prometheus.Counter
	zeroBalanceCycles prometheus.Counter
	payoutFailures    prometheus.Counter
	interceptedTotal  prometheus.Counter
	interceptedAmount prometheus.Counter
	storeErrors       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activePrincipals: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "payday",
			Name:      "active_principals",
			Help:      "Number of principals currently held in the active cache.",
		}),
		payoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "payday",
			Name:      "payouts_total",
			Help:      "Completed payday cycles, including zero-balance resets.",
		}),
		paidAmountTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "payday",
			Name:      "paid_amount_total",
			Help:      "Total amount disbursed after multipliers.",
		}),
		zeroBalanceCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "payday",
			Name:      "zero_balance_cycles_total",
			Help:      "Threshold crossings completed with nothing to disburse.",
		}),
		payoutFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "payday",
			Name:      "payout_failures_total",
			Help:      "Disbursement attempts rejected or errored by the sink.",
		}),
		interceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "payday",
			Name:      "intercepted_payments_total",
			Help:      "Payments redirected into pending balance.",
		}),
		interceptedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "payday",
			Name:      "intercepted_amount_total",
			Help:      "Total amount redirected into pending balance.",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "payday",
			Name:      "store_errors_total",
			Help:      "Persistent store operations that failed and were retried or logged.",
		}),
	}
	m.registry.MustRegister(
		m.activePrincipals,
		m.payoutsTotal,
		m.paidAmountTotal,
		m.zeroBalanceCycles,
		m.payoutFailures,
		m.interceptedTotal,
		m.interceptedAmount,
		m.storeErrors,
	)
	return m
}

// Handler serves the registry for a /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetActivePrincipals(n int) {
	if m != nil {
		m.activePrincipals.Set(float64(n))
	}
}

func (m *Metrics) PayoutCompleted(amount float64) {
	if m != nil {
		m.payoutsTotal.Inc()
		m.paidAmountTotal.Add(amount)
	}
}

func (m *Metrics) ZeroBalanceCycle() {
	if m != nil {
		m.payoutsTotal.Inc()
		m.zeroBalanceCycles.Inc()
	}
}

func (m *Metrics) PayoutFailed() {
	if m != nil {
		m.payoutFailures.Inc()
	}
}

func (m *Metrics) PaymentIntercepted(amount float64) {
	if m != nil {
		m.interceptedTotal.Inc()
		m.interceptedAmount.Add(amount)
	}
}

func (m *Metrics) StoreError() {
	if m != nil {
		m.storeErrors.Inc()
	}
}
