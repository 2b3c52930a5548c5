// Package offsetenc encodes the signed relative offsets used for node
// pivot children, leaf prev/next pointers, and node gt-children. The sign
// bit lives in the top bit of the first byte; the remaining bits hold the
// big-endian magnitude. All arithmetic is performed in 64-bit registers:
// splitting the magnitude into 8-bit digits by division/modulus avoids the
// 32-bit overflow the 47-bit width would otherwise hit.
package offsetenc

import "github.com/cockroachdb/errors"

// Width selects the encoded size of a relative offset.
type Width int

const (
	// Width31 stores a signed offset in 4 bytes: 1 sign bit + 31 magnitude bits.
	Width31 Width = 4
	// Width47 stores a signed offset in 6 bytes: 1 sign bit + 47 magnitude bits.
	Width47 Width = 6
)

// OffsetOverflow reports a magnitude that does not fit the requested width.
var OffsetOverflow = errors.New("offsetenc: magnitude exceeds width")

func maxMagnitude(w Width) int64 {
	bits := uint(w)*8 - 1
	return (int64(1) << bits) - 1
}

// Encode writes v as a signed relative offset of the given width.
func Encode(v int64, w Width) ([]byte, error) {
	neg := v < 0
	mag := v
	if neg {
		mag = -mag
	}
	if mag > maxMagnitude(w) {
		return nil, errors.Wrapf(OffsetOverflow, "offset %d exceeds %d-byte width", v, w)
	}

	n := int(w)
	digits := make([]byte, n)
	// Split into 8-bit digits via division/modulus, never shifting a
	// 32-bit-sized quantity past its width.
	rem := mag
	for i := n - 1; i >= 0; i-- {
		digits[i] = byte(rem % 256)
		rem /= 256
	}
	if neg {
		digits[0] |= 0x80
	}
	return digits, nil
}

// Decode reads a signed relative offset of the given width from buf.
func Decode(buf []byte, w Width) (int64, error) {
	n := int(w)
	if len(buf) < n {
		return 0, errors.Wrap(OffsetOverflow, "truncated offset field")
	}
	neg := buf[0]&0x80 != 0
	var mag int64
	mag = int64(buf[0] & 0x7f)
	for i := 1; i < n; i++ {
		mag = mag*256 + int64(buf[i])
	}
	if neg {
		return -mag, nil
	}
	return mag, nil
}

// Size returns the byte width of w.
func Size(w Width) int { return int(w) }
