package layout

import (
	"github.com/cockroachdb/errors"

	"github.com/ssargent/rtbtree/pkg/rtkey"
)

// Value is a (record pointer, metadata tuple) pair attached to an entry.
type Value struct {
	RecordPointer []byte
	Metadata      rtkey.Tuple
}

// EncodeValueList serializes a list of entry values as consecutive
// (1-byte record-pointer length, record-pointer bytes, metadata tuple)
// records.
func EncodeValueList(values []Value) ([]byte, error) {
	var out []byte
	for _, v := range values {
		if len(v.RecordPointer) > 255 {
			return nil, errors.Newf("layout: record pointer of %d bytes exceeds 255 byte limit", len(v.RecordPointer))
		}
		out = append(out, byte(len(v.RecordPointer)))
		out = append(out, v.RecordPointer...)
		mdBytes, err := rtkey.EncodeTuple(v.Metadata)
		if err != nil {
			return nil, err
		}
		out = append(out, mdBytes...)
	}
	return out, nil
}

// DecodeValueList decodes consecutive value records from buf until it is
// exhausted, each carrying metadataKeyCount metadata values.
func DecodeValueList(buf []byte, metadataKeyCount int) ([]Value, error) {
	var out []Value
	off := 0
	for off < len(buf) {
		if off >= len(buf) {
			return nil, errors.New("layout: truncated value list")
		}
		n := int(buf[off])
		off++
		if len(buf) < off+n {
			return nil, errors.New("layout: truncated record pointer")
		}
		rp := append([]byte(nil), buf[off:off+n]...)
		off += n

		var md rtkey.Tuple
		if metadataKeyCount > 0 {
			tuple, consumed, err := rtkey.DecodeTuple(buf[off:], metadataKeyCount)
			if err != nil {
				return nil, err
			}
			md = tuple
			off += consumed
		}
		out = append(out, Value{RecordPointer: rp, Metadata: md})
	}
	return out, nil
}
