// Package metrics holds the Prometheus counters of the payment ledger and
// the generation flow. All methods are safe to call on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smachno"

type Metrics struct {
	paymentTransitions     *prometheus.CounterVec
	refusedTransitions     *prometheus.CounterVec
	signatureRejections    prometheus.Counter
	entitlementCorrections prometheus.Counter
	guardBusy              prometheus.Counter
	creditsConsumed        *prometheus.CounterVec
}

// New creates the counters and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		paymentTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_transitions_total",
				Help:      "Payment status changes applied to the ledger by previous and new status",
			},
			[]string{"from", "to"},
		),
		refusedTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_refused_transitions_total",
				Help:      "Gateway reports the ledger refused because the status change is not allowed",
			},
			[]string{"from", "to"},
		),
		signatureRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signature_rejections_total",
			Help:      "Gateway notifications rejected because no merchant key matched the signature",
		}),
		entitlementCorrections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_corrections_total",
			Help:      "Reads where paid usage exceeded granted credits and was clamped",
		}),
		guardBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_guard_busy_total",
			Help:      "Generation requests refused because one was already being decided for the user",
		}),
		creditsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credits_consumed_total",
				Help:      "Generations charged by source",
			},
			[]string{"source"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}
	return m
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.paymentTransitions,
		m.refusedTransitions,
		m.signatureRejections,
		m.entitlementCorrections,
		m.guardBusy,
		m.creditsConsumed,
	}
}

// ObserveTransition records a status change. from is "none" when the
// payment was created directly in its new status.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.paymentTransitions.WithLabelValues(from, to).Inc()
}

// TransitionRefused records a report the transition table rejected, such as
// an approval arriving for an already failed payment.
func (m *Metrics) TransitionRefused(from, to string) {
	if m == nil {
		return
	}
	m.refusedTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) SignatureRejected() {
	if m == nil {
		return
	}
	m.signatureRejections.Inc()
}

func (m *Metrics) EntitlementCorrected() {
	if m == nil {
		return
	}
	m.entitlementCorrections.Inc()
}

func (m *Metrics) GuardBusy() {
	if m == nil {
		return
	}
	m.guardBusy.Inc()
}

func (m *Metrics) CreditConsumed(source string) {
	if m == nil {
		return
	}
	m.creditsConsumed.WithLabelValues(source).Inc()
}
