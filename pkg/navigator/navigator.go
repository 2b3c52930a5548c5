// Package navigator implements the root-down leaf lookup and linked-list
// leaf iteration of spec.md §4.F, the same latch-coupled descent
// pkg/bptree/bptree.go performs over in-memory nodes, generalized here to
// the on-disk node/leaf records of pkg/layout read through pkg/bytesource.
package navigator

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/offsetenc"
	"github.com/ssargent/rtbtree/pkg/rtkey"
)

// MalformedTree reports a node/leaf record that failed its structural
// invariants (spec.md invariant: every internal node has ≥1 pivot).
var MalformedTree = errors.New("navigator: malformed tree record")

// Navigator locates leaves within a single tree's byte source.
type Navigator struct {
	src              bytesource.Source
	width            offsetenc.Width
	smallLeaves      bool
	metadataKeyCount int
}

// New builds a Navigator over src, decoding offsets at width and leaves in
// small- or large-leaf mode, with metadataKeyCount values per entry value.
func New(src bytesource.Source, width offsetenc.Width, smallLeaves bool, metadataKeyCount int) *Navigator {
	return &Navigator{src: src, width: width, smallLeaves: smallLeaves, metadataKeyCount: metadataKeyCount}
}

// Leaf bundles a decoded leaf with the absolute offset it was read from;
// Offset plus Body.ByteLength locates the start of its ext_data region, per
// spec.md §4.C ("ext_data pointer ... measured from the end of the leaf
// body").
type Leaf struct {
	Offset int64
	Body   layout.Leaf
}

// ExtDataOffset returns the absolute offset of ref's ext_data block.
func (l Leaf) ExtDataOffset(ref *layout.ExtRef) int64 {
	return l.Offset + int64(l.Body.ByteLength) + int64(ref.Ptr)
}

// record is either a decoded internal node or a decoded leaf, read from a
// single absolute offset.
type record struct {
	offset int64
	isLeaf bool
	node   layout.Node
	leaf   layout.Leaf
}

// readRecord reads and decodes whichever record kind is stored at offset.
// The discriminator is the byte immediately following the 4-byte length
// prefix: a node's is-leaf byte is always 0, a leaf's flag byte always has
// LeafIsLeaf set.
func (n *Navigator) readRecord(offset int64) (record, error) {
	r := bytesource.NewReader(n.src, bytesource.DefaultChunkSize)
	r.Seek(offset)
	length, err := r.GetUint32()
	if err != nil {
		return record{}, errors.Wrapf(err, "navigator: reading record length at %d", offset)
	}

	r.Seek(offset)
	buf, err := r.Get(int(length))
	if err != nil {
		return record{}, errors.Wrapf(err, "navigator: reading record body at %d", offset)
	}
	if len(buf) < 5 {
		return record{}, errors.Wrapf(MalformedTree, "record at %d shorter than its discriminator", offset)
	}

	if layout.LeafFlags(buf[4]).Has(layout.LeafIsLeaf) {
		leaf, err := layout.DecodeLeaf(buf, n.width, n.smallLeaves, n.metadataKeyCount)
		if err != nil {
			return record{}, err
		}
		return record{offset: offset, isLeaf: true, leaf: leaf}, nil
	}

	node, err := layout.DecodeNode(buf, n.width)
	if err != nil {
		return record{}, err
	}
	if len(node.Pivots) == 0 {
		return record{}, errors.Wrapf(MalformedTree, "node at %d has no pivots", offset)
	}
	return record{offset: offset, isLeaf: false, node: node}, nil
}

// nodeChildAnchors recomputes, purely from the decoded pivots, the absolute
// byte position each relative child offset resolves against: the first
// byte past that offset field's own encoding (spec.md §4.C: "node pivot's
// lt-child offset: from the first byte after the offset field ... gt-child
// offset: same").
func nodeChildAnchors(recordOffset int64, n layout.Node, width offsetenc.Width) (ltAnchors []int64, gtAnchor int64, err error) {
	w := int64(width)
	// length prefix(4) + is-leaf(1) + free-byte-length(4) + entry-count(1)
	off := int64(10)
	ltAnchors = make([]int64, len(n.Pivots))
	for i, p := range n.Pivots {
		kb, encErr := rtkey.Encode(p.Key)
		if encErr != nil {
			return nil, 0, encErr
		}
		off += int64(len(kb))
		off += w
		ltAnchors[i] = recordOffset + off
	}
	gtAnchor = recordOffset + off + w
	return ltAnchors, gtAnchor, nil
}

// leafSiblingAnchors returns the absolute anchors for a leaf's prev/next
// relative offsets, by the same self-referential convention.
func leafSiblingAnchors(recordOffset int64, width offsetenc.Width) (prevAnchor, nextAnchor int64) {
	w := int64(width)
	// length prefix(4) + flags(1) + free-byte-length(4)
	off := int64(9)
	off += w
	prevAnchor = recordOffset + off
	off += w
	nextAnchor = recordOffset + off
	return prevAnchor, nextAnchor
}

// childOffset resolves a pivot's lt-child (or a node's gt-child) relative
// offset into an absolute file offset.
func childOffset(anchor, relative int64) int64 { return anchor + relative }

// FindLeaf descends from rootOffset to the leaf that would contain key.
func (n *Navigator) FindLeaf(ctx context.Context, rootOffset int64, key rtkey.Value) (Leaf, error) {
	offset := rootOffset
	for {
		if err := ctx.Err(); err != nil {
			return Leaf{}, err
		}
		rec, err := n.readRecord(offset)
		if err != nil {
			return Leaf{}, err
		}
		if rec.isLeaf {
			return Leaf{Offset: rec.offset, Body: rec.leaf}, nil
		}

		ltAnchors, gtAnchor, err := nodeChildAnchors(rec.offset, rec.node, n.width)
		if err != nil {
			return Leaf{}, err
		}

		next := childOffset(gtAnchor, rec.node.GTChildOffset)
		for i, p := range rec.node.Pivots {
			if rtkey.Less(key, p.Key) {
				next = childOffset(ltAnchors[i], p.LTChildOffset)
				break
			}
		}
		offset = next
	}
}

// FindLeafWithParent behaves like FindLeaf but also returns the absolute
// offset of the leaf's immediate parent node, so the mutator can rewrite
// that parent's pivot (or gt-child) offset after a leaf rebuild or split.
// hasParent is false when rootOffset itself names a leaf.
func (n *Navigator) FindLeafWithParent(ctx context.Context, rootOffset int64, key rtkey.Value) (leaf Leaf, parentOffset int64, hasParent bool, err error) {
	offset := rootOffset
	parent := int64(-1)
	for {
		if err := ctx.Err(); err != nil {
			return Leaf{}, 0, false, err
		}
		rec, err := n.readRecord(offset)
		if err != nil {
			return Leaf{}, 0, false, err
		}
		if rec.isLeaf {
			if parent == -1 {
				return Leaf{Offset: rec.offset, Body: rec.leaf}, 0, false, nil
			}
			return Leaf{Offset: rec.offset, Body: rec.leaf}, parent, true, nil
		}

		ltAnchors, gtAnchor, err := nodeChildAnchors(rec.offset, rec.node, n.width)
		if err != nil {
			return Leaf{}, 0, false, err
		}

		next := childOffset(gtAnchor, rec.node.GTChildOffset)
		for i, p := range rec.node.Pivots {
			if rtkey.Less(key, p.Key) {
				next = childOffset(ltAnchors[i], p.LTChildOffset)
				break
			}
		}
		parent = rec.offset
		offset = next
	}
}

// GetFirstLeaf descends the lt-child of the first pivot at every level,
// from rootOffset, to the leftmost leaf.
func (n *Navigator) GetFirstLeaf(ctx context.Context, rootOffset int64) (Leaf, error) {
	offset := rootOffset
	for {
		if err := ctx.Err(); err != nil {
			return Leaf{}, err
		}
		rec, err := n.readRecord(offset)
		if err != nil {
			return Leaf{}, err
		}
		if rec.isLeaf {
			return Leaf{Offset: rec.offset, Body: rec.leaf}, nil
		}
		ltAnchors, _, err := nodeChildAnchors(rec.offset, rec.node, n.width)
		if err != nil {
			return Leaf{}, err
		}
		offset = childOffset(ltAnchors[0], rec.node.Pivots[0].LTChildOffset)
	}
}

// GetLastLeaf descends the gt-child at every level, from rootOffset, to the
// rightmost leaf.
func (n *Navigator) GetLastLeaf(ctx context.Context, rootOffset int64) (Leaf, error) {
	offset := rootOffset
	for {
		if err := ctx.Err(); err != nil {
			return Leaf{}, err
		}
		rec, err := n.readRecord(offset)
		if err != nil {
			return Leaf{}, err
		}
		if rec.isLeaf {
			return Leaf{Offset: rec.offset, Body: rec.leaf}, nil
		}
		_, gtAnchor, err := nodeChildAnchors(rec.offset, rec.node, n.width)
		if err != nil {
			return Leaf{}, err
		}
		offset = childOffset(gtAnchor, rec.node.GTChildOffset)
	}
}

// GetNext follows l's next-leaf pointer without revisiting the root. It
// reports ok=false when l is the last leaf (next offset is zero, the
// sentinel for "no sibling" used throughout the bulk builder).
func (n *Navigator) GetNext(l Leaf) (next Leaf, ok bool, err error) {
	if l.Body.NextOffset == 0 {
		return Leaf{}, false, nil
	}
	_, nextAnchor := leafSiblingAnchors(l.Offset, n.width)
	rec, err := n.readRecord(childOffset(nextAnchor, l.Body.NextOffset))
	if err != nil {
		return Leaf{}, false, err
	}
	if !rec.isLeaf {
		return Leaf{}, false, errors.Wrap(MalformedTree, "next-leaf pointer targets a node record")
	}
	return Leaf{Offset: rec.offset, Body: rec.leaf}, true, nil
}

// GetPrevious follows l's prev-leaf pointer, mirroring GetNext.
func (n *Navigator) GetPrevious(l Leaf) (prev Leaf, ok bool, err error) {
	if l.Body.PrevOffset == 0 {
		return Leaf{}, false, nil
	}
	prevAnchor, _ := leafSiblingAnchors(l.Offset, n.width)
	rec, err := n.readRecord(childOffset(prevAnchor, l.Body.PrevOffset))
	if err != nil {
		return Leaf{}, false, err
	}
	if !rec.isLeaf {
		return Leaf{}, false, errors.Wrap(MalformedTree, "prev-leaf pointer targets a node record")
	}
	return Leaf{Offset: rec.offset, Body: rec.leaf}, true, nil
}

// LoadLeafAt reads and decodes the leaf at a known absolute offset, used by
// the mutator once it already holds a leaf's location (e.g. from a parent
// pivot) and needs the current on-disk body before rewriting it.
func (n *Navigator) LoadLeafAt(offset int64) (Leaf, error) {
	rec, err := n.readRecord(offset)
	if err != nil {
		return Leaf{}, err
	}
	if !rec.isLeaf {
		return Leaf{}, errors.Wrapf(MalformedTree, "record at %d is not a leaf", offset)
	}
	return Leaf{Offset: rec.offset, Body: rec.leaf}, nil
}

// LoadNodeAt reads and decodes the internal node at a known absolute
// offset, used by the mutator to rewrite a parent's pivot after a leaf
// rebuild or split.
func (n *Navigator) LoadNodeAt(offset int64) (layout.Node, error) {
	rec, err := n.readRecord(offset)
	if err != nil {
		return layout.Node{}, err
	}
	if rec.isLeaf {
		return layout.Node{}, errors.Wrapf(MalformedTree, "record at %d is not a node", offset)
	}
	return rec.node, nil
}

// SiblingAnchors exposes leafSiblingAnchors for callers (the mutator) that
// need to compute where a leaf's prev/next relative offsets resolve
// against, either for a leaf it has already decoded or for a brand-new
// leaf record it is about to write at a known offset.
func SiblingAnchors(recordOffset int64, width offsetenc.Width) (prevAnchor, nextAnchor int64) {
	return leafSiblingAnchors(recordOffset, width)
}

// ChildAnchors exposes nodeChildAnchors for callers (the mutator) that need
// to translate a freshly-loaded parent's pivots into absolute child
// addresses, e.g. to confirm which pivot currently targets a leaf being
// rebuilt.
func ChildAnchors(recordOffset int64, n layout.Node, width offsetenc.Width) ([]int64, int64, error) {
	return nodeChildAnchors(recordOffset, n, width)
}
