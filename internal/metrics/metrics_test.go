package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersRegisterAndIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTransition("pending", "completed")
	m.ObserveTransition("", "completed")
	m.TransitionRefused("failed", "completed")
	m.SignatureRejected()
	m.EntitlementCorrected()
	m.GuardBusy()
	m.CreditConsumed("free")
	m.CreditConsumed("free")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.paymentTransitions.WithLabelValues("pending", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paymentTransitions.WithLabelValues("none", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refusedTransitions.WithLabelValues("failed", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signatureRejections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.entitlementCorrections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.guardBusy))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.creditsConsumed.WithLabelValues("free")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["smachno_payment_transitions_total"])
	assert.True(t, names["smachno_signature_rejections_total"])
	assert.True(t, names["smachno_payment_refused_transitions_total"])
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTransition("pending", "failed")
		m.TransitionRefused("refunded", "completed")
		m.SignatureRejected()
		m.EntitlementCorrected()
		m.GuardBusy()
		m.CreditConsumed("paid")
	})
}
