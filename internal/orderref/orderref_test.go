package orderref

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ts := time.UnixMilli(1717171717171)
	ref := Encode(123456789, ts)
	assert.Equal(t, "creative_123456789_1717171717171", ref)

	id, ok := Decode(ref)
	require.True(t, ok)
	assert.Equal(t, int64(123456789), id)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, ref := range []string{
		"",
		"creative_",
		"creative__123",
		"creative_abc_123",
		"order_42_1700000000000",
		"creative_0_1700000000000",
		"creative_99999999999999999999999_1",
	} {
		_, ok := Decode(ref)
		assert.False(t, ok, ref)
	}
}

func TestSequenceNeverRepeats(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	seq := NewSequence(func() time.Time { return fixed })

	first := seq.Next(7)
	second := seq.Next(7)
	third := seq.Next(8)

	assert.Equal(t, "creative_7_1700000000000", first)
	assert.Equal(t, "creative_7_1700000000001", second)
	assert.Equal(t, "creative_8_1700000000002", third)
}
