package layout

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// ExtData is the decoded body of an ext_data block: a sideband region,
// appended after a leaf, holding a value list too large for the leaf
// body.
type ExtData struct {
	BlockLength uint32
	FreeLength  uint32
	ForwardPtr  uint32 // reserved, always zero
	Values      []Value
}

// EncodeExtData serializes an ext_data block with padBytes trailing free
// bytes.
func EncodeExtData(values []Value, padBytes int) ([]byte, error) {
	valueBytes, err := EncodeValueList(values)
	if err != nil {
		return nil, err
	}

	blockLength := 4 + 4 + 4 + len(valueBytes) + padBytes
	out := make([]byte, blockLength)
	binary.BigEndian.PutUint32(out[0:4], uint32(blockLength))
	binary.BigEndian.PutUint32(out[4:8], uint32(padBytes))
	binary.BigEndian.PutUint32(out[8:12], 0)
	copy(out[12:], valueBytes)
	return out, nil
}

// DecodeExtData parses an ext_data block. metadataKeyCount is needed to
// decode each value's metadata tuple.
func DecodeExtData(buf []byte, metadataKeyCount int) (ExtData, error) {
	if len(buf) < 12 {
		return ExtData{}, errors.New("layout: truncated ext_data header")
	}
	e := ExtData{
		BlockLength: binary.BigEndian.Uint32(buf[0:4]),
		FreeLength:  binary.BigEndian.Uint32(buf[4:8]),
		ForwardPtr:  binary.BigEndian.Uint32(buf[8:12]),
	}
	if int(e.BlockLength) > len(buf) {
		return ExtData{}, errors.New("layout: ext_data block length exceeds buffer")
	}
	valueAreaEnd := int(e.BlockLength) - int(e.FreeLength)
	if valueAreaEnd < 12 || valueAreaEnd > len(buf) {
		return ExtData{}, errors.New("layout: ext_data free length inconsistent with block length")
	}
	values, err := DecodeValueList(buf[12:valueAreaEnd], metadataKeyCount)
	if err != nil {
		return ExtData{}, err
	}
	e.Values = values
	return e, nil
}
