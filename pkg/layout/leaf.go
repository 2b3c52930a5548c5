package layout

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/rtbtree/pkg/offsetenc"
	"github.com/ssargent/rtbtree/pkg/rtkey"
)

// ExceedsInlineBudget reports that a value list is too large to encode
// inline in small-leaf mode and must spill to ext_data instead; callers
// attempting an in-place rewrite treat this as "does not fit" rather than
// a hard failure.
var ExceedsInlineBudget = errors.New("layout: value list exceeds small-leaf inline budget")

// ExtRef points an entry's value list into the ext_data block trailing
// the leaf, instead of carrying it inline.
type ExtRef struct {
	Ptr         uint32 // unsigned, measured from the end of the leaf body
	ListLength  uint32 // encoded byte length of the value list in ext_data
}

// LeafEntry is a (key, value-list) pair; exactly one of InlineValues or
// Ext is populated, matching whichever form its size required.
type LeafEntry struct {
	Key         rtkey.Value
	InlineValues []Value
	Ext         *ExtRef
	// TotalValues is populated for inline entries at decode time. For
	// entries with Ext set it is left at zero here; the caller must load
	// the ext_data block and count its values (spec.md invariant 4).
	TotalValues uint32
}

// Leaf is a leaf record's decoded body (not including its trailing
// ext_data region, if any).
type Leaf struct {
	ByteLength         uint32
	Flags              LeafFlags
	FreeByteLength     uint32
	PrevOffset         int64
	NextOffset         int64
	ExtDataTotalLength uint32 // valid iff Flags.Has(LeafHasExtData)
	ExtDataFreeLength  uint32 // valid iff Flags.Has(LeafHasExtData)
	Entries            []LeafEntry
}

// EncodeOptions bundles the tree-wide settings the leaf codec needs but
// does not itself own.
type EncodeOptions struct {
	Width       offsetenc.Width
	SmallLeaves bool
	PadBytes    int
}

// EncodeLeaf serializes l per spec.md §4.E.
func EncodeLeaf(l Leaf, opts EncodeOptions) ([]byte, error) {
	if len(l.Entries) > 255 {
		return nil, errors.New("layout: leaf entry count exceeds 255")
	}

	var body []byte
	body = append(body, byte(l.Flags))

	var fb [4]byte
	binary.BigEndian.PutUint32(fb[:], l.FreeByteLength)
	body = append(body, fb[:]...)

	prevB, err := offsetenc.Encode(l.PrevOffset, opts.Width)
	if err != nil {
		return nil, err
	}
	body = append(body, prevB...)

	nextB, err := offsetenc.Encode(l.NextOffset, opts.Width)
	if err != nil {
		return nil, err
	}
	body = append(body, nextB...)

	if l.Flags.Has(LeafHasExtData) {
		var extTotal, extFree [4]byte
		binary.BigEndian.PutUint32(extTotal[:], l.ExtDataTotalLength)
		binary.BigEndian.PutUint32(extFree[:], l.ExtDataFreeLength)
		body = append(body, extTotal[:]...)
		body = append(body, extFree[:]...)
	}

	body = append(body, byte(len(l.Entries)))

	for _, e := range l.Entries {
		kb, err := rtkey.Encode(e.Key)
		if err != nil {
			return nil, err
		}
		body = append(body, kb...)

		entryBytes, err := encodeLeafEntryValues(e, opts.SmallLeaves)
		if err != nil {
			return nil, err
		}
		body = append(body, entryBytes...)
	}

	if opts.PadBytes > 0 {
		body = append(body, make([]byte, opts.PadBytes)...)
	}

	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(4+len(body)))
	copy(out[4:], body)
	return out, nil
}

func encodeLeafEntryValues(e LeafEntry, smallLeaves bool) ([]byte, error) {
	if e.Ext != nil {
		var out []byte
		if smallLeaves {
			out = append(out, extDataMarkerSmall)
		} else {
			var lenField [4]byte
			binary.BigEndian.PutUint32(lenField[:], extDataMarkerLarge)
			out = append(out, lenField[:]...)
		}
		var listLen, ptr [4]byte
		binary.BigEndian.PutUint32(listLen[:], e.Ext.ListLength)
		binary.BigEndian.PutUint32(ptr[:], e.Ext.Ptr)
		out = append(out, listLen[:]...)
		out = append(out, ptr[:]...)
		return out, nil
	}

	inline, err := EncodeValueList(e.InlineValues)
	if err != nil {
		return nil, err
	}
	if smallLeaves {
		if len(inline) > smallLeafInlineBudget {
			return nil, errors.Wrapf(ExceedsInlineBudget, "inline value list of %d bytes exceeds small-leaf budget of %d", len(inline), smallLeafInlineBudget)
		}
		out := append([]byte{byte(len(inline))}, inline...)
		return out, nil
	}

	var lenField [4]byte
	binary.BigEndian.PutUint32(lenField[:], uint32(len(inline)))
	out := append(lenField[:], inline...)
	return out, nil
}

// DecodeLeaf parses a leaf record (not including its ext_data region).
// metadataKeyCount is needed to decode each inline value's metadata
// tuple.
func DecodeLeaf(buf []byte, width offsetenc.Width, smallLeaves bool, metadataKeyCount int) (Leaf, error) {
	if len(buf) < 5 {
		return Leaf{}, errors.New("layout: truncated leaf header")
	}
	l := Leaf{ByteLength: binary.BigEndian.Uint32(buf[0:4])}
	flags := LeafFlags(buf[4])
	if !flags.Has(LeafIsLeaf) {
		return Leaf{}, errors.New("layout: DecodeLeaf called on a node record")
	}
	l.Flags = flags
	off := 5

	if len(buf) < off+4 {
		return Leaf{}, errors.New("layout: truncated free byte length")
	}
	l.FreeByteLength = binary.BigEndian.Uint32(buf[off : off+4])
	off += 4

	w := int(width)
	if len(buf) < off+w {
		return Leaf{}, errors.New("layout: truncated prev offset")
	}
	prevOff, err := offsetenc.Decode(buf[off:off+w], width)
	if err != nil {
		return Leaf{}, err
	}
	l.PrevOffset = prevOff
	off += w

	if len(buf) < off+w {
		return Leaf{}, errors.New("layout: truncated next offset")
	}
	nextOff, err := offsetenc.Decode(buf[off:off+w], width)
	if err != nil {
		return Leaf{}, err
	}
	l.NextOffset = nextOff
	off += w

	if l.Flags.Has(LeafHasExtData) {
		if len(buf) < off+8 {
			return Leaf{}, errors.New("layout: truncated ext_data lengths")
		}
		l.ExtDataTotalLength = binary.BigEndian.Uint32(buf[off : off+4])
		l.ExtDataFreeLength = binary.BigEndian.Uint32(buf[off+4 : off+8])
		off += 8
	}

	if len(buf) < off+1 {
		return Leaf{}, errors.New("layout: truncated entry count")
	}
	count := int(buf[off])
	off++

	l.Entries = make([]LeafEntry, 0, count)
	for i := 0; i < count; i++ {
		key, consumed, err := rtkey.Decode(buf[off:])
		if err != nil {
			return Leaf{}, err
		}
		off += consumed

		entry, consumed, err := decodeLeafEntryValues(buf[off:], key, smallLeaves, metadataKeyCount)
		if err != nil {
			return Leaf{}, err
		}
		off += consumed
		l.Entries = append(l.Entries, entry)
	}

	return l, nil
}

func decodeLeafEntryValues(buf []byte, key rtkey.Value, smallLeaves bool, metadataKeyCount int) (LeafEntry, int, error) {
	if smallLeaves {
		if len(buf) < 1 {
			return LeafEntry{}, 0, errors.New("layout: truncated small-leaf val-length")
		}
		valLen := buf[0]
		if valLen&extDataMarkerSmall != 0 {
			if len(buf) < 1+8 {
				return LeafEntry{}, 0, errors.New("layout: truncated small-leaf ext_data ref")
			}
			listLen := binary.BigEndian.Uint32(buf[1:5])
			ptr := binary.BigEndian.Uint32(buf[5:9])
			return LeafEntry{Key: key, Ext: &ExtRef{Ptr: ptr, ListLength: listLen}}, 9, nil
		}
		n := int(valLen)
		if len(buf) < 1+n {
			return LeafEntry{}, 0, errors.New("layout: truncated small-leaf inline values")
		}
		values, err := DecodeValueList(buf[1:1+n], metadataKeyCount)
		if err != nil {
			return LeafEntry{}, 0, err
		}
		return LeafEntry{Key: key, InlineValues: values, TotalValues: uint32(len(values))}, 1 + n, nil
	}

	if len(buf) < 4 {
		return LeafEntry{}, 0, errors.New("layout: truncated large-leaf val-length")
	}
	valLen := binary.BigEndian.Uint32(buf[0:4])
	if valLen == extDataMarkerLarge {
		if len(buf) < 4+8 {
			return LeafEntry{}, 0, errors.New("layout: truncated large-leaf ext_data ref")
		}
		listLen := binary.BigEndian.Uint32(buf[4:8])
		ptr := binary.BigEndian.Uint32(buf[8:12])
		return LeafEntry{Key: key, Ext: &ExtRef{Ptr: ptr, ListLength: listLen}}, 12, nil
	}
	n := int(valLen)
	if len(buf) < 4+n {
		return LeafEntry{}, 0, errors.New("layout: truncated large-leaf inline values")
	}
	values, err := DecodeValueList(buf[4:4+n], metadataKeyCount)
	if err != nil {
		return LeafEntry{}, 0, err
	}
	return LeafEntry{Key: key, InlineValues: values, TotalValues: uint32(len(values))}, 4 + n, nil
}
