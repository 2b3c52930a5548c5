package layout

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/rtbtree/pkg/offsetenc"
	"github.com/ssargent/rtbtree/pkg/rtkey"
)

// Pivot is a (key, lt-child relative offset) pair in an internal node.
type Pivot struct {
	Key           rtkey.Value
	LTChildOffset int64
}

// Node is an internal node's decoded body.
type Node struct {
	ByteLength     uint32
	FreeByteLength uint32
	Pivots         []Pivot
	GTChildOffset  int64
}

// EncodeNode serializes n using the given offset width, padding the body
// out to padBytes trailing zero bytes.
func EncodeNode(n Node, width offsetenc.Width, padBytes int) ([]byte, error) {
	if len(n.Pivots) == 0 {
		return nil, errors.New("layout: node must have at least one pivot")
	}
	if len(n.Pivots) > 255 {
		return nil, errors.New("layout: node entry count exceeds 255")
	}

	var body []byte
	body = append(body, 0) // is-leaf = 0

	var fb [4]byte
	binary.BigEndian.PutUint32(fb[:], n.FreeByteLength)
	body = append(body, fb[:]...)

	body = append(body, byte(len(n.Pivots)))

	for _, p := range n.Pivots {
		kb, err := rtkey.Encode(p.Key)
		if err != nil {
			return nil, err
		}
		body = append(body, kb...)
		ob, err := offsetenc.Encode(p.LTChildOffset, width)
		if err != nil {
			return nil, err
		}
		body = append(body, ob...)
	}

	gb, err := offsetenc.Encode(n.GTChildOffset, width)
	if err != nil {
		return nil, err
	}
	body = append(body, gb...)

	if padBytes > 0 {
		body = append(body, make([]byte, padBytes)...)
	}

	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(4+len(body)))
	copy(out[4:], body)
	return out, nil
}

// DecodeNode parses a node record (including its 4-byte length prefix and
// is-leaf discriminator byte, which the caller is expected to have already
// peeked to route here).
func DecodeNode(buf []byte, width offsetenc.Width) (Node, error) {
	if len(buf) < 10 {
		return Node{}, errors.New("layout: truncated node header")
	}
	n := Node{ByteLength: binary.BigEndian.Uint32(buf[0:4])}
	isLeaf := buf[4]
	if isLeaf != 0 {
		return Node{}, errors.New("layout: DecodeNode called on a leaf record")
	}
	n.FreeByteLength = binary.BigEndian.Uint32(buf[5:9])
	count := int(buf[9])
	off := 10

	n.Pivots = make([]Pivot, 0, count)
	w := int(width)
	for i := 0; i < count; i++ {
		key, consumed, err := rtkey.Decode(buf[off:])
		if err != nil {
			return Node{}, err
		}
		off += consumed
		if len(buf) < off+w {
			return Node{}, errors.New("layout: truncated pivot lt-child offset")
		}
		ltOff, err := offsetenc.Decode(buf[off:off+w], width)
		if err != nil {
			return Node{}, err
		}
		off += w
		n.Pivots = append(n.Pivots, Pivot{Key: key, LTChildOffset: ltOff})
	}

	if len(buf) < off+w {
		return Node{}, errors.New("layout: truncated gt-child offset")
	}
	gtOff, err := offsetenc.Decode(buf[off:off+w], width)
	if err != nil {
		return Node{}, err
	}
	n.GTChildOffset = gtOff
	return n, nil
}
