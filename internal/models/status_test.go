package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		ok       bool
	}{
		{PaymentPending, PaymentCompleted, true},
		{PaymentPending, PaymentFailed, true},
		{PaymentCompleted, PaymentRefunded, true},
		{PaymentCompleted, PaymentCompleted, true},
		{PaymentPending, PaymentRefunded, false},
		{PaymentCompleted, PaymentPending, false},
		{PaymentCompleted, PaymentFailed, false},
		{PaymentFailed, PaymentCompleted, false},
		{PaymentRefunded, PaymentCompleted, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestParsePaymentStatus(t *testing.T) {
	status, err := ParsePaymentStatus("refunded")
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, status)

	_, err = ParsePaymentStatus("Approved")
	assert.Error(t, err)
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, PaymentFailed.Terminal())
	assert.True(t, PaymentRefunded.Terminal())
	assert.False(t, PaymentPending.Terminal())
	assert.False(t, PaymentCompleted.Terminal())
}
