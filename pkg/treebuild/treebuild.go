// Package treebuild implements the in-memory bottom-up builder of spec.md
// §4.D: accumulate sorted entries, then build a well-balanced tree from
// the leaves up. It produces an in-memory element graph (not yet the
// on-disk byte layout, which pkg/layout and pkg/bulk take from here),
// following the level-by-level node construction
// pkg/bptree/bptree.go's splitLeaf/splitInternalNode perform incrementally
// but done here as a single bulk pass.
package treebuild

import (
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/rtkey"
)

// NoEntries reports an attempt to build a tree from an empty entry set.
var NoEntries = errors.New("treebuild: no entries to build from")

// DefaultMaxEntries is the fallback branching factor, mirroring
// pkg/bptree/bptree.go's DefaultOrder.
const DefaultMaxEntries = 4

// DefaultFillFactor is the fallback leaf fill percentage.
const DefaultFillFactor = 95

// DefaultMinNode is the fallback minimum entries per leaf.
const DefaultMinNode = 2

// Entry is a (key, value-list) pair, pre-assembly of what will become a
// leaf entry once emitted through pkg/layout.
type Entry struct {
	Key    rtkey.Value
	Values []layout.Value
}

// element is either a *Leaf or an *Internal; both can report the first key
// reachable by descending their leftmost children.
type element interface {
	FirstKey() rtkey.Value
	isLeaf() bool
}

// Leaf is a built leaf: an ordered entry window plus its neighbors.
type Leaf struct {
	Entries []Entry
	Prev    *Leaf
	Next    *Leaf
}

// FirstKey returns the leaf's first entry's key.
func (l *Leaf) FirstKey() rtkey.Value { return l.Entries[0].Key }
func (l *Leaf) isLeaf() bool          { return true }

// Pivot is a (key, lt-child) pair; children partition keys as described in
// spec.md §3.
type Pivot struct {
	Key rtkey.Value
	LT  element
}

// Internal is a built internal node: pivots plus a trailing gt-child.
type Internal struct {
	Pivots []Pivot
	GT     element
}

// FirstKey descends the first lt-child (or, with no pivots, the gt-child).
func (n *Internal) FirstKey() rtkey.Value {
	if len(n.Pivots) > 0 {
		return n.Pivots[0].LT.FirstKey()
	}
	return n.GT.FirstKey()
}
func (n *Internal) isLeaf() bool { return false }

// Children returns n's lt-children in left-to-right order followed by its
// gt-child, letting callers outside the package (pkg/bulk) walk the built
// tree level by level without element becoming part of the package's
// exported API.
func (n *Internal) Children() []element {
	out := make([]element, 0, len(n.Pivots)+1)
	for _, p := range n.Pivots {
		out = append(out, p.LT)
	}
	out = append(out, n.GT)
	return out
}

// Tree is the built in-memory tree: its root element and statistics the
// layout/bulk stages need to size the on-disk records.
type Tree struct {
	Root      element
	Height    int
	LeafCount int
	FirstLeaf *Leaf
	LastLeaf  *Leaf
}

// Options configures Build; zero values fall back to the Default constants.
type Options struct {
	MaxEntries int
	FillFactor int
	MinNode    int
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.FillFactor <= 0 {
		o.FillFactor = DefaultFillFactor
	}
	if o.MinNode <= 0 {
		o.MinNode = DefaultMinNode
	}
	return o
}

// Build sorts entries by the key comparator and constructs a balanced tree
// bottom-up per spec.md §4.D.
func Build(entries []Entry, opts Options) (*Tree, error) {
	if len(entries) == 0 {
		return nil, NoEntries
	}
	opts = opts.withDefaults()

	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return rtkey.Less(sorted[i].Key, sorted[j].Key) })

	entriesPerLeaf := opts.MaxEntries * opts.FillFactor / 100
	if entriesPerLeaf < opts.MinNode {
		entriesPerLeaf = opts.MinNode
	}

	leaves := chunkLeaves(sorted, entriesPerLeaf)
	for i, l := range leaves {
		if i > 0 {
			l.Prev = leaves[i-1]
		}
		if i < len(leaves)-1 {
			l.Next = leaves[i+1]
		}
	}

	level := make([]element, len(leaves))
	for i, l := range leaves {
		level[i] = l
	}

	fanOut := opts.MaxEntries + 1
	minPivots := opts.MaxEntries / 2
	if minPivots < 1 {
		minPivots = 1
	}

	height := 1
	for len(level) > 1 {
		level = buildLevel(level, fanOut, minPivots)
		height++
	}

	return &Tree{
		Root:      level[0],
		Height:    height,
		LeafCount: len(leaves),
		FirstLeaf: leaves[0],
		LastLeaf:  leaves[len(leaves)-1],
	}, nil
}

// chunkLeaves windows sorted entries into contiguous leaves of up to
// entriesPerLeaf entries each.
func chunkLeaves(sorted []Entry, entriesPerLeaf int) []*Leaf {
	var leaves []*Leaf
	for start := 0; start < len(sorted); start += entriesPerLeaf {
		end := start + entriesPerLeaf
		if end > len(sorted) {
			end = len(sorted)
		}
		leaves = append(leaves, &Leaf{Entries: sorted[start:end]})
	}
	return leaves
}

// buildLevel groups the current level's elements into up-to-fanOut-child
// parents, then fixes up any underflowing terminal parent by stealing
// children from its previous sibling until it holds minPivots pivots.
func buildLevel(level []element, fanOut, minPivots int) []element {
	var parents []*Internal
	for start := 0; start < len(level); start += fanOut {
		end := start + fanOut
		if end > len(level) {
			end = len(level)
		}
		parents = append(parents, newInternal(level[start:end]))
	}

	if len(parents) > 1 {
		last := parents[len(parents)-1]
		prev := parents[len(parents)-2]
		for len(last.Pivots) < minPivots && len(prev.Pivots) > 0 {
			stealFromPreviousSibling(prev, last)
		}
	}

	out := make([]element, len(parents))
	for i, p := range parents {
		out[i] = p
	}
	return out
}

// newInternal attaches the first len(children)-1 as lt-children (pivot key
// = first key of the next child) and the last as gt-child.
func newInternal(children []element) *Internal {
	n := &Internal{GT: children[len(children)-1]}
	for i := 0; i < len(children)-1; i++ {
		n.Pivots = append(n.Pivots, Pivot{Key: children[i+1].FirstKey(), LT: children[i]})
	}
	return n
}

// stealFromPreviousSibling re-homes prev's rightmost child (its gt-child)
// as last's new leftmost child, rewriting the new separating pivot's key
// to the first key under last's formerly-leftmost child — the key that,
// after the steal, correctly divides the moved subtree from what used to
// be last's first child. (spec.md §4.D describes this rewrite as keying
// off "the first leaf key under the moved subtree"; that phrasing does not
// preserve the lt-child-holds-keys-less-than-pivot invariant once the
// moved subtree becomes the new leftmost child, so the pivot is keyed off
// the child it now precedes instead — the only choice consistent with
// every other pivot in the tree.)
func stealFromPreviousSibling(prev, last *Internal) {
	stolen := prev.GT

	if len(prev.Pivots) > 0 {
		lastPivot := prev.Pivots[len(prev.Pivots)-1]
		prev.GT = lastPivot.LT
		prev.Pivots = prev.Pivots[:len(prev.Pivots)-1]
	}

	var boundaryKey rtkey.Value
	if len(last.Pivots) > 0 {
		boundaryKey = last.Pivots[0].LT.FirstKey()
	} else {
		boundaryKey = last.GT.FirstKey()
	}

	newPivot := Pivot{Key: boundaryKey, LT: stolen}
	last.Pivots = append([]Pivot{newPivot}, last.Pivots...)
}
