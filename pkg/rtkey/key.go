// Package rtkey implements the typed key and metadata codec used throughout
// the tree: a one-byte type tag, a one-byte length, and the payload bytes.
package rtkey

import (
	"math"

	"github.com/cockroachdb/errors"
)

// Tag identifies the wire type of an encoded Value.
type Tag byte

const (
	TagAbsent Tag = 0
	TagString Tag = 1
	TagNumber Tag = 2
	TagBool   Tag = 3
	TagDate   Tag = 4
)

// MaxStringLen is the largest string payload the codec can encode.
const MaxStringLen = 255

// Value is a typed key or metadata-tuple element.
//
// The zero Value is the absent/undefined sentinel.
type Value struct {
	Tag    Tag
	Str    string
	Num    float64
	Bool   bool
	DateMS int64
}

// EncodingError reports a value that cannot be encoded by the key codec.
var EncodingError = errors.New("rtkey: encoding error")

// Absent returns the undefined/null sentinel value.
func Absent() Value { return Value{Tag: TagAbsent} }

// String returns a string-typed value.
func String(s string) Value { return Value{Tag: TagString, Str: s} }

// Number returns a number-typed value.
func Number(n float64) Value { return Value{Tag: TagNumber, Num: n} }

// Bool returns a boolean-typed value.
func Bool(b bool) Value { return Value{Tag: TagBool, Bool: b} }

// Date returns a date value from epoch milliseconds.
func Date(ms int64) Value { return Value{Tag: TagDate, DateMS: ms} }

// Encode serializes v as tag(1) + length(1) + payload(length).
func Encode(v Value) ([]byte, error) {
	switch v.Tag {
	case TagAbsent:
		return []byte{byte(TagAbsent), 0}, nil
	case TagString:
		if len(v.Str) > MaxStringLen {
			return nil, errors.Wrapf(EncodingError, "string key of %d bytes exceeds %d byte limit", len(v.Str), MaxStringLen)
		}
		buf := make([]byte, 2+len(v.Str))
		buf[0] = byte(TagString)
		buf[1] = byte(len(v.Str))
		copy(buf[2:], v.Str)
		return buf, nil
	case TagNumber:
		return encodeTrimmed(byte(TagNumber), math.Float64bits(v.Num)), nil
	case TagBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return []byte{byte(TagBool), 1, b}, nil
	case TagDate:
		return encodeTrimmed(byte(TagDate), uint64(v.DateMS)), nil
	default:
		return nil, errors.Wrapf(EncodingError, "unsupported key tag %d", v.Tag)
	}
}

// encodeTrimmed writes the 8-byte big-endian form of bits, stripping
// trailing zero bytes the way the on-disk format requires for numbers and
// dates.
func encodeTrimmed(tag byte, bits uint64) []byte {
	var full [8]byte
	for i := 0; i < 8; i++ {
		full[i] = byte(bits >> (56 - 8*i))
	}
	n := 8
	for n > 0 && full[n-1] == 0 {
		n--
	}
	buf := make([]byte, 2+n)
	buf[0] = tag
	buf[1] = byte(n)
	copy(buf[2:], full[:n])
	return buf
}

// Decode parses a tag+length+payload encoded value from buf, returning the
// value and the number of bytes consumed.
func Decode(buf []byte) (Value, int, error) {
	if len(buf) < 2 {
		return Value{}, 0, errors.Wrap(EncodingError, "truncated key header")
	}
	tag := Tag(buf[0])
	n := int(buf[1])
	if len(buf) < 2+n {
		return Value{}, 0, errors.Wrap(EncodingError, "truncated key payload")
	}
	payload := buf[2 : 2+n]
	switch tag {
	case TagAbsent:
		return Absent(), 2, nil
	case TagString:
		return String(string(payload)), 2 + n, nil
	case TagBool:
		if n != 1 {
			return Value{}, 0, errors.Wrap(EncodingError, "boolean payload must be 1 byte")
		}
		return Bool(payload[0] != 0), 2 + n, nil
	case TagNumber:
		return Number(math.Float64frombits(rightPad(payload))), 2 + n, nil
	case TagDate:
		return Date(int64(rightPad(payload))), 2 + n, nil
	default:
		return Value{}, 0, errors.Wrapf(EncodingError, "unsupported key tag %d", tag)
	}
}

// rightPad zero-pads a trimmed 8-byte big-endian payload back out to a
// uint64, mirroring the trailing-zero-trim performed on encode.
func rightPad(payload []byte) uint64 {
	var full [8]byte
	copy(full[:], payload)
	var bits uint64
	for i := 0; i < 8; i++ {
		bits |= uint64(full[i]) << (56 - 8*i)
	}
	return bits
}

// typeRank gives each tag's cross-type comparison class. Absent sorts
// before everything; booleans before numbers/dates; numbers and dates
// share a rank and compare numerically; strings sort last. This replaces
// the source's `typeof a < typeof b` string-name comparison (spec Open
// Question a) with an explicit, deterministic table.
func typeRank(t Tag) int {
	switch t {
	case TagAbsent:
		return 0
	case TagBool:
		return 1
	case TagNumber, TagDate:
		return 2
	case TagString:
		return 3
	default:
		return 4
	}
}

// numericOf returns the numeric value of a Number or Date tagged value.
func numericOf(v Value) float64 {
	if v.Tag == TagDate {
		return float64(v.DateMS)
	}
	return v.Num
}

// Compare implements the total order over Values described in spec.md §3:
// absent < boolean < number/date < string, natural ordering within a class.
func Compare(a, b Value) int {
	ra, rb := typeRank(a.Tag), typeRank(b.Tag)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch a.Tag {
	case TagAbsent:
		return 0
	case TagBool:
		if a.Bool == b.Bool {
			return 0
		}
		if !a.Bool {
			return -1
		}
		return 1
	case TagNumber, TagDate:
		na, nb := numericOf(a), numericOf(b)
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	case TagString:
		if a.Str < b.Str {
			return -1
		}
		if a.Str > b.Str {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Less reports whether a orders strictly before b.
func Less(a, b Value) bool { return Compare(a, b) < 0 }

// Equal reports whether a and b compare equal.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

// Tuple is an ordered list of typed values sharing the fixed metadata
// schema declared at tree creation.
type Tuple []Value

// EncodeTuple encodes each element of t in order.
func EncodeTuple(t Tuple) ([]byte, error) {
	var out []byte
	for _, v := range t {
		b, err := Encode(v)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// DecodeTuple decodes exactly n consecutive values from buf.
func DecodeTuple(buf []byte, n int) (Tuple, int, error) {
	out := make(Tuple, 0, n)
	off := 0
	for i := 0; i < n; i++ {
		v, consumed, err := Decode(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
		off += consumed
	}
	return out, off, nil
}
