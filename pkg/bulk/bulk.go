// Package bulk implements the bulk rebuilder and sorted-entry-stream
// builder of spec.md §4.K: write a brand-new, compacted tree file in a
// single forward pass, following the same two-phase "placeholder then
// patch" shape pkg/mutator's rebuildLeaf/splitLeaf use for any record
// whose neighbors are not yet known at write time, applied here across
// an entire tree instead of a single leaf. Per-level node/leaf structure
// is computed by pkg/treebuild, the same in-memory bottom-up builder
// spec.md §4.D describes.
package bulk

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/navigator"
	"github.com/ssargent/rtbtree/pkg/offsetenc"
	"github.com/ssargent/rtbtree/pkg/treebuild"
)

// NoEntries reports an attempt to build a tree from an empty entry set or
// stream.
var NoEntries = treebuild.NoEntries

// DefaultPadFactor is the trailing free-space fraction spec.md §4.E's
// padding policy applies to a freshly built file, reserved as the
// allocator's initial tail-free region.
const DefaultPadFactor = 0.10

// rootPointerWidth is the fixed size of the root-pointer slot bulk
// reserves immediately after the header. The tree header itself (spec.md
// §4.E) carries no root pointer — every record but the first is reached
// by descending from some known root offset — so a freshly built file
// needs one fixed, never-relocated slot recording where the current root
// record lives. pkg/rtree rewrites this slot in place whenever a
// mutation reports Result.RootChanged (an addition this port makes to
// the on-disk format; see DESIGN.md).
const rootPointerWidth = 8

// Options configures a bulk build. Zero values fall back to sensible
// defaults mirroring pkg/treebuild.Options.withDefaults.
type Options struct {
	MaxEntries       int
	FillFactor       int
	MinNode          int
	Width            offsetenc.Width
	SmallLeaves      bool
	Unique           bool
	MetadataKeyCount int
	MetadataKeys     []string
	// PadFactor is the fraction of the built file's byte length appended
	// as trailing free space, per spec.md §4.E's padding policy. Defaults
	// to DefaultPadFactor.
	PadFactor float64
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = treebuild.DefaultMaxEntries
	}
	if o.FillFactor <= 0 {
		o.FillFactor = treebuild.DefaultFillFactor
	}
	if o.MinNode <= 0 {
		o.MinNode = treebuild.DefaultMinNode
	}
	if o.Width == 0 {
		o.Width = offsetenc.Width31
	}
	if o.PadFactor <= 0 {
		o.PadFactor = DefaultPadFactor
	}
	return o
}

func (o Options) flags() layout.TreeFlags {
	var f layout.TreeFlags
	if o.Unique {
		f |= layout.FlagUnique
	}
	if len(o.MetadataKeys) > 0 {
		f |= layout.FlagHasMetadata
	}
	f |= layout.FlagHasFreeSpace
	f |= layout.FlagHasFillFactor
	if o.SmallLeaves {
		f |= layout.FlagSmallLeaves
	}
	if o.Width == offsetenc.Width47 {
		f |= layout.FlagLargePointers
	}
	return f
}

// Result reports what a bulk build produced: where the tree's root and
// root-pointer slot ended up, and the bookkeeping pkg/rtree needs to wire
// up a pkg/alloc.Allocator over the finished file.
type Result struct {
	RootOffset        int64
	RootPointerOffset int64
	TotalLength       int64
	TailFree          int64
	LeafCount         int
}

// BuildFromEntries builds a brand-new tree file in dst from a set of
// already-available (key, value-list) entries, balancing them through
// pkg/treebuild and then streaming the on-disk records in a single
// forward pass.
func BuildFromEntries(dst bytesource.Source, entries []treebuild.Entry, opts Options) (Result, error) {
	opts = opts.withDefaults()
	tree, err := treebuild.Build(entries, treebuild.Options{
		MaxEntries: opts.MaxEntries,
		FillFactor: opts.FillFactor,
		MinNode:    opts.MinNode,
	})
	if err != nil {
		return Result{}, err
	}
	return writeTree(dst, tree, opts)
}

// levelsOf walks root level by level, returning every level from the
// root down to (and including) the leaf level in left-to-right order.
func levelsOf(root interface{}) [][]interface{} {
	levels := [][]interface{}{{root}}
	cur := []interface{}{root}
	for {
		if _, isLeaf := cur[0].(*treebuild.Leaf); isLeaf {
			return levels
		}
		var next []interface{}
		for _, e := range cur {
			node := e.(*treebuild.Internal)
			for _, c := range node.Children() {
				next = append(next, c)
			}
		}
		levels = append(levels, next)
		cur = next
	}
}

// writeTree streams tree's on-disk records into dst: node levels
// top-down with placeholder child offsets, then leaves left to right
// with placeholder sibling offsets, then a final patch pass over every
// node and leaf now that every record's offset is known.
func writeTree(dst bytesource.Source, tree *treebuild.Tree, opts Options) (Result, error) {
	header := layout.Header{
		Flags:        opts.flags(),
		MaxEntries:   byte(opts.MaxEntries),
		FillFactor:   byte(opts.FillFactor),
		MetadataKeys: opts.MetadataKeys,
	}
	headerBytes, err := layout.EncodeHeader(header)
	if err != nil {
		return Result{}, err
	}
	if _, err := dst.Append(headerBytes); err != nil {
		return Result{}, err
	}

	rootPtrOffset, err := dst.Append(make([]byte, rootPointerWidth))
	if err != nil {
		return Result{}, err
	}

	levels := levelsOf(tree.Root)
	nodeLevels := levels[:len(levels)-1]

	offsets := make(map[interface{}]int64)
	placeholders := make(map[interface{}]layout.Node)

	for _, level := range nodeLevels {
		for _, e := range level {
			node := e.(*treebuild.Internal)
			body := placeholderNode(node)
			bytes, err := layout.EncodeNode(body, opts.Width, 0)
			if err != nil {
				return Result{}, err
			}
			off, err := dst.Append(bytes)
			if err != nil {
				return Result{}, err
			}
			offsets[e] = off
			placeholders[e] = body
		}
	}

	packed := make(map[*treebuild.Leaf]packedLeaf)
	leafCount := 0
	for l := tree.FirstLeaf; l != nil; l = l.Next {
		p, err := packEntries(l.Entries, opts.SmallLeaves)
		if err != nil {
			return Result{}, err
		}
		body := leafBody(p, 0, 0)
		bytes, err := layout.EncodeLeaf(body, layout.EncodeOptions{Width: opts.Width, SmallLeaves: opts.SmallLeaves})
		if err != nil {
			return Result{}, err
		}
		off, err := dst.Append(bytes)
		if err != nil {
			return Result{}, err
		}
		if p.hasExt {
			if _, err := dst.Append(p.extBuffer); err != nil {
				return Result{}, err
			}
		}
		offsets[l] = off
		packed[l] = p
		leafCount++
	}

	for _, level := range nodeLevels {
		for _, e := range level {
			node := e.(*treebuild.Internal)
			off := offsets[e]
			placeholder := placeholders[e]
			ltAnchors, gtAnchor, err := navigator.ChildAnchors(off, placeholder, opts.Width)
			if err != nil {
				return Result{}, err
			}
			final := placeholder
			final.Pivots = append([]layout.Pivot(nil), placeholder.Pivots...)
			for i, p := range node.Pivots {
				final.Pivots[i].LTChildOffset = offsets[p.LT] - ltAnchors[i]
			}
			final.GTChildOffset = offsets[node.GT] - gtAnchor
			bytes, err := layout.EncodeNode(final, opts.Width, 0)
			if err != nil {
				return Result{}, err
			}
			if _, err := dst.WriteAt(bytes, off); err != nil {
				return Result{}, err
			}
		}
	}

	for l := tree.FirstLeaf; l != nil; l = l.Next {
		off := offsets[l]
		prevAnchor, nextAnchor := navigator.SiblingAnchors(off, opts.Width)
		var prevRel, nextRel int64
		if l.Prev != nil {
			prevRel = offsets[l.Prev] - prevAnchor
		}
		if l.Next != nil {
			nextRel = offsets[l.Next] - nextAnchor
		}
		body := leafBody(packed[l], prevRel, nextRel)
		bytes, err := layout.EncodeLeaf(body, layout.EncodeOptions{Width: opts.Width, SmallLeaves: opts.SmallLeaves})
		if err != nil {
			return Result{}, err
		}
		if _, err := dst.WriteAt(bytes, off); err != nil {
			return Result{}, err
		}
	}

	rootOffset, ok := offsets[tree.Root]
	if !ok {
		return Result{}, errors.New("bulk: root record was never assigned an offset")
	}

	preTailLength := dst.End()
	tailFree := int64(math.Ceil(float64(preTailLength) * opts.PadFactor))
	if tailFree > 0 {
		if _, err := dst.Append(make([]byte, tailFree)); err != nil {
			return Result{}, err
		}
	}

	header.FreeByteLength = uint32(tailFree)
	finalHeaderBytes, err := layout.EncodeHeader(header)
	if err != nil {
		return Result{}, err
	}
	if _, err := dst.WriteAt(finalHeaderBytes, 0); err != nil {
		return Result{}, err
	}

	var rootPtrBytes [rootPointerWidth]byte
	binary.BigEndian.PutUint64(rootPtrBytes[:], uint64(rootOffset))
	if _, err := dst.WriteAt(rootPtrBytes[:], rootPtrOffset); err != nil {
		return Result{}, err
	}

	if err := dst.Sync(); err != nil {
		return Result{}, err
	}

	return Result{
		RootOffset:        rootOffset,
		RootPointerOffset: rootPtrOffset,
		TotalLength:       dst.End(),
		TailFree:          tailFree,
		LeafCount:         leafCount,
	}, nil
}

// placeholderNode builds node's layout.Node form with every child offset
// zeroed; its pivot keys (and therefore its encoded byte length and
// child anchor positions) are already final, only the offsets are not.
func placeholderNode(node *treebuild.Internal) layout.Node {
	pivots := make([]layout.Pivot, len(node.Pivots))
	for i, p := range node.Pivots {
		pivots[i] = layout.Pivot{Key: p.Key}
	}
	return layout.Node{Pivots: pivots}
}

// packedLeaf mirrors pkg/mutator's packedLeaf: per-entry decision of
// inline-vs-ext_data content, grounded on pkg/mutator/rebuild.go's
// packEntries (that method lives on *Mutator and needs no live tree
// state, so bulk carries its own copy rather than depending on
// pkg/mutator).
type packedLeaf struct {
	entries   []layout.LeafEntry
	extBuffer []byte
	hasExt    bool
}

// packEntries assigns each treebuild entry's value list inline or to
// ext_data per spec.md §4.E's small-leaf budget rule.
func packEntries(entries []treebuild.Entry, smallLeaves bool) (packedLeaf, error) {
	var p packedLeaf
	p.entries = make([]layout.LeafEntry, len(entries))
	for i, e := range entries {
		encoded, err := layout.EncodeValueList(e.Values)
		if err != nil {
			return packedLeaf{}, err
		}
		if smallLeaves && len(encoded) > layout.SmallLeafInlineBudget {
			p.entries[i] = layout.LeafEntry{
				Key: e.Key,
				Ext: &layout.ExtRef{Ptr: uint32(len(p.extBuffer)), ListLength: uint32(len(encoded))},
			}
			p.extBuffer = append(p.extBuffer, encoded...)
			p.hasExt = true
			continue
		}
		p.entries[i] = layout.LeafEntry{Key: e.Key, InlineValues: e.Values}
	}
	return p, nil
}

// leafBody assembles p's final layout.Leaf with the given sibling
// relative offsets; bulk never reserves per-record slack (spec.md §4.K's
// padding policy is a single trailing region for the whole file, not
// per-leaf), so FreeByteLength is always zero here.
func leafBody(p packedLeaf, prevRel, nextRel int64) layout.Leaf {
	flags := layout.LeafIsLeaf
	if p.hasExt {
		flags |= layout.LeafHasExtData
	}
	body := layout.Leaf{
		Flags:      flags,
		Entries:    p.entries,
		PrevOffset: prevRel,
		NextOffset: nextRel,
	}
	if p.hasExt {
		body.ExtDataTotalLength = uint32(len(p.extBuffer))
	}
	return body
}
