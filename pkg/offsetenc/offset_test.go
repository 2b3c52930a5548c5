package offsetenc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripBothWidths(t *testing.T) {
	for _, w := range []Width{Width31, Width47} {
		for _, v := range []int64{0, 1, -1, 12345, -12345, maxMagnitude(w), -maxMagnitude(w)} {
			enc, err := Encode(v, w)
			require.NoError(t, err, "width %d value %d", w, v)
			assert.Len(t, enc, int(w))

			dec, err := Decode(enc, w)
			require.NoError(t, err)
			assert.Equal(t, v, dec, "width %d value %d", w, v)
		}
	}
}

func TestOverflow(t *testing.T) {
	_, err := Encode(maxMagnitude(Width31)+1, Width31)
	require.Error(t, err)
	assert.ErrorIs(t, err, OffsetOverflow)

	_, err = Encode(-(maxMagnitude(Width47) + 1), Width47)
	require.Error(t, err)
	assert.ErrorIs(t, err, OffsetOverflow)
}

func TestLargeOffsetNoInt32Overflow(t *testing.T) {
	// 2^40 comfortably overflows a 32-bit signed integer; verify the
	// 47-bit codec still round-trips it correctly.
	v := int64(1) << 40
	enc, err := Encode(v, Width47)
	require.NoError(t, err)

	dec, err := Decode(enc, Width47)
	require.NoError(t, err)
	assert.Equal(t, v, dec)
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode([]byte{1, 2}, Width47)
	require.Error(t, err)
}
