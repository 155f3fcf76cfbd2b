package wayforpay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignIsHexHMACMD5(t *testing.T) {
	sig := Sign("key", []string{"a", "b"})
	require.Len(t, sig, 32)
	assert.Equal(t, strings.ToLower(sig), sig)
	assert.Equal(t, sig, Sign("key", []string{"a", "b"}))
	assert.NotEqual(t, sig, Sign("other", []string{"a", "b"}))
}

func TestVerifyTriesKeysInOrder(t *testing.T) {
	fields := []string{"merchant", "creative_1_1", "30", "UAH", "", "", "Approved", "1100"}
	sig := Sign("password", fields)

	assert.True(t, Verify(fields, sig, []string{"secret", "password"}))
	assert.True(t, Verify(fields, strings.ToUpper(sig), []string{"password"}))
	assert.False(t, Verify(fields, sig, []string{"secret"}))
	assert.False(t, Verify(fields, sig, []string{"", ""}))
	assert.False(t, Verify(fields, "not-hex", []string{"password"}))
	assert.False(t, Verify(fields, "", []string{"password"}))
}

func TestVerifierRejectsTamperedField(t *testing.T) {
	v := NewVerifier("secret", "", "secret", "password")
	assert.Equal(t, []string{"secret", "password"}, v.Keys())
	assert.Equal(t, "secret", v.PrimaryKey())

	n := &Notification{
		MerchantAccount:   "merchant",
		OrderReference:    "creative_42_1700000000000",
		Amount:            "30",
		Currency:          "UAH",
		TransactionStatus: "Approved",
		ReasonCode:        "1100",
	}
	n.MerchantSignature = Field(Sign("password", n.SignatureFields()))
	require.NoError(t, v.VerifyNotification(n))

	n.Amount = "3000"
	assert.ErrorIs(t, v.VerifyNotification(n), ErrInvalidSignature)
}

func TestAbsentFieldsSignAsEmptyStrings(t *testing.T) {
	n, err := ParseNotification([]byte(`{"merchantAccount":"m","orderReference":"r","amount":30,"currency":"UAH","transactionStatus":"Declined","reasonCode":null}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, []string{"m", "r", "30", "UAH", "", "", "Declined", ""}, n.SignatureFields())
}
