// Package rtree wires pkg/rtkey, pkg/layout, pkg/navigator, pkg/search,
// pkg/mutator, pkg/alloc, pkg/txn, pkg/lockreg, and pkg/bulk behind the
// single public API spec.md §6 describes: find, search, add, remove,
// update, transaction, rebuild, and the create/createFromEntryStream
// static constructors, plus getFirstLeaf/getLastLeaf/findLeaf for
// iteration. It plays the same top-level-type role the teacher's
// pkg/bptree.BPlusTree plays for its in-memory tree, generalized to an
// on-disk tree whose root offset is tracked externally rather than held
// as a single in-process struct field.
package rtree

import (
	"encoding/binary"
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/ssargent/rtbtree/pkg/alloc"
	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/lockreg"
	"github.com/ssargent/rtbtree/pkg/mutator"
	"github.com/ssargent/rtbtree/pkg/navigator"
	"github.com/ssargent/rtbtree/pkg/offsetenc"
	"github.com/ssargent/rtbtree/pkg/search"
	"github.com/ssargent/rtbtree/pkg/treebuild"
	"github.com/ssargent/rtbtree/pkg/txn"
)

// rootPointerWidth mirrors pkg/bulk's reserved root-pointer slot size;
// every tree file this package opens or creates was laid out by
// pkg/bulk's writeTree or by bootstrapEmptyTree, both of which reserve
// this many bytes immediately after the header record.
const rootPointerWidth = 8

// Options configures tree creation and opening. Width, SmallLeaves,
// Unique, MetadataKeys, MaxEntries, FillFactor, and MinNode are format
// decisions: Create and CreateFromEntryStream use them to lay out a new
// file; Open derives all of them except MinNode from the on-disk header
// instead, since the header is the tree's sole authority on its own
// format once written. The header does not record MinNode, so Open keeps
// the caller's value (or its default).
type Options struct {
	Width          offsetenc.Width
	SmallLeaves    bool
	Unique         bool
	MetadataKeys   []string
	MaxEntries     int
	FillFactor     int
	MinNode        int
	PadFactor      float64
	InitialEntries []treebuild.Entry

	AutoGrow bool
	TreeID   string
}

func (o Options) withDefaults() Options {
	if o.Width == 0 {
		o.Width = offsetenc.Width31
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = treebuild.DefaultMaxEntries
	}
	if o.FillFactor <= 0 {
		o.FillFactor = treebuild.DefaultFillFactor
	}
	if o.MinNode <= 0 {
		o.MinNode = treebuild.DefaultMinNode
	}
	if o.PadFactor <= 0 {
		o.PadFactor = 0.10
	}
	if o.TreeID == "" {
		o.TreeID = ksuid.New().String()
	}
	return o
}

func treeFlags(o Options) layout.TreeFlags {
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

// Tree is a single tree's collaborators, wired together behind spec.md
// §6's public surface.
type Tree struct {
	src bytesource.Source
	nav *navigator.Navigator

	search  *search.Engine
	mutator *mutator.Mutator
	alloc   *alloc.Allocator
	txn     *txn.Engine
	locks   *lockreg.Registry

	treeID           string
	width            offsetenc.Width
	smallLeaves      bool
	unique           bool
	metadataKeys     []string
	metadataKeyCount int
	maxEntries       int
	fillFactor       int
	minNode          int
	autoGrow         bool

	rootPtrOffset int64

	mu         sync.RWMutex
	rootOffset int64
}

// currentRoot returns the tree's current root offset.
func (t *Tree) currentRoot() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootOffset
}

// setRoot persists a new root offset to the tree's root-pointer slot and
// updates the cached value, used whenever a mutation reports
// mutator.Result.RootChanged.
func (t *Tree) setRoot(offset int64) error {
	var buf [rootPointerWidth]byte
	binary.BigEndian.PutUint64(buf[:], uint64(offset))

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.src.WriteAt(buf[:], t.rootPtrOffset); err != nil {
		return err
	}
	t.rootOffset = offset
	return nil
}

// Close drops the tree's lock registry. The underlying byte source is
// the caller's to close.
func (t *Tree) Close() {
	t.locks.Close()
}

// MetadataKeys returns the tree's ordered metadata key names, the same
// order each entry's value metadata tuple is positionally keyed against.
func (t *Tree) MetadataKeys() []string {
	return t.metadataKeys
}

// Unique reports whether the tree enforces unique keys.
func (t *Tree) Unique() bool {
	return t.unique
}

// Stats reports depth, leaf count, live entry/value counts, and the
// allocator's waste bookkeeping, per SPEC_FULL.md's supplemented tree
// statistics surface.
type Stats struct {
	Depth           int
	LeafCount       int
	LiveEntryCount  int
	LiveValueCount  int
	TotalLength     int64
	TailFree        int64
	ReclaimedTotal  int64
	ReclaimedRegions int
}
