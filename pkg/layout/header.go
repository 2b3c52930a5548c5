package layout

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Header is the tree's root-of-file record, always at offset 0.
type Header struct {
	ByteLength     uint32
	Flags          TreeFlags
	MaxEntries     byte
	FillFactor     byte // valid iff Flags.Has(FlagHasFillFactor)
	FreeByteLength uint32 // valid iff Flags.Has(FlagHasFreeSpace)
	MetadataKeys   []string
}

// EncodeHeader serializes h per spec.md §4.E.
func EncodeHeader(h Header) ([]byte, error) {
	var body []byte
	body = append(body, byte(h.Flags), h.MaxEntries)

	if h.Flags.Has(FlagHasFillFactor) {
		body = append(body, h.FillFactor)
	}
	if h.Flags.Has(FlagHasFreeSpace) {
		var fb [4]byte
		binary.BigEndian.PutUint32(fb[:], h.FreeByteLength)
		body = append(body, fb[:]...)
	}
	if h.Flags.Has(FlagHasMetadata) {
		block, err := encodeMetadataBlock(h.MetadataKeys)
		if err != nil {
			return nil, err
		}
		body = append(body, block...)
	}

	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(4+len(body)))
	copy(out[4:], body)
	return out, nil
}

func encodeMetadataBlock(keys []string) ([]byte, error) {
	var entries []byte
	for _, k := range keys {
		if len(k) > 255 {
			return nil, errors.Newf("layout: metadata key name %q exceeds 255 bytes", k)
		}
		entries = append(entries, byte(len(k)))
		entries = append(entries, k...)
	}
	block := make([]byte, 4+1+len(entries))
	binary.BigEndian.PutUint32(block[0:4], uint32(len(block)))
	block[4] = byte(len(keys))
	copy(block[5:], entries)
	return block, nil
}

// DecodeHeader parses a Header from buf (the full header record starting
// at offset 0, including its 4-byte length prefix).
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < 6 {
		return Header{}, errors.New("layout: truncated header")
	}
	h := Header{ByteLength: binary.BigEndian.Uint32(buf[0:4])}
	h.Flags = TreeFlags(buf[4])
	h.MaxEntries = buf[5]
	off := 6

	if h.Flags.Has(FlagHasFillFactor) {
		if len(buf) < off+1 {
			return Header{}, errors.New("layout: truncated header fill factor")
		}
		h.FillFactor = buf[off]
		off++
	}
	if h.Flags.Has(FlagHasFreeSpace) {
		if len(buf) < off+4 {
			return Header{}, errors.New("layout: truncated header free space")
		}
		h.FreeByteLength = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
	}
	if h.Flags.Has(FlagHasMetadata) {
		if len(buf) < off+5 {
			return Header{}, errors.New("layout: truncated header metadata block")
		}
		blockLen := binary.BigEndian.Uint32(buf[off : off+4])
		count := int(buf[off+4])
		pos := off + 5
		keys := make([]string, 0, count)
		for i := 0; i < count; i++ {
			if len(buf) < pos+1 {
				return Header{}, errors.New("layout: truncated metadata key")
			}
			n := int(buf[pos])
			pos++
			if len(buf) < pos+n {
				return Header{}, errors.New("layout: truncated metadata key name")
			}
			keys = append(keys, string(buf[pos:pos+n]))
			pos += n
		}
		h.MetadataKeys = keys
		off += int(blockLen)
	}
	return h, nil
}
