// Package layout produces and parses the on-disk header, node, leaf, and
// ext_data byte images described in spec.md §4.E. All multi-byte numbers
// are big-endian; relative child/sibling offsets are encoded through
// pkg/offsetenc.
package layout

import "github.com/ssargent/rtbtree/pkg/offsetenc"

// TreeFlags is the one-byte flag mask stored in the tree header.
type TreeFlags byte

const (
	FlagUnique        TreeFlags = 1 << 0
	FlagHasMetadata    TreeFlags = 1 << 1
	FlagHasFreeSpace   TreeFlags = 1 << 2
	FlagHasFillFactor  TreeFlags = 1 << 3
	FlagSmallLeaves    TreeFlags = 1 << 4
	FlagLargePointers  TreeFlags = 1 << 5
)

func (f TreeFlags) Has(bit TreeFlags) bool { return f&bit != 0 }

// OffsetWidth returns the offset encoding width selected by the
// large-pointers flag: 47-bit (6 bytes) when set, 31-bit (4 bytes)
// otherwise.
func (f TreeFlags) OffsetWidth() offsetenc.Width {
	if f.Has(FlagLargePointers) {
		return offsetenc.Width47
	}
	return offsetenc.Width31
}

// LeafFlags is the one-byte flag mask stored in each leaf record.
type LeafFlags byte

const (
	LeafIsLeaf     LeafFlags = 1 << 0
	LeafHasExtData LeafFlags = 1 << 1
)

func (f LeafFlags) Has(bit LeafFlags) bool { return f&bit != 0 }

// smallLeafInlineBudget is the largest inline value-list size (bytes)
// small-leaf mode can represent before the high bit of the 1-byte
// val-length field must be reserved as the ext_data marker.
const smallLeafInlineBudget = 0x7f

// SmallLeafInlineBudget exposes smallLeafInlineBudget to callers (the
// mutator and bulk rebuilder) that need to decide, before encoding,
// whether a value list must spill into ext_data.
const SmallLeafInlineBudget = smallLeafInlineBudget

// extDataMarkerSmall is the high bit of a 1-byte small-leaf val-length
// field, set when the entry's values live in ext_data.
const extDataMarkerSmall = 0x80

// extDataMarkerLarge is the top bit of a 4-byte large-leaf val-length
// field. The source format only documents the high-bit convention for
// small leaves; large mode reuses the same convention over its wider
// field so both modes share one decoder shape (an explicit decision
// recorded in DESIGN.md where the spec is silent).
const extDataMarkerLarge = uint32(1) << 31
