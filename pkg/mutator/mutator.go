// Package mutator implements the in-place add/remove/update engine of
// spec.md §4.H, falling back to leaf rebuild or leaf split when a leaf's
// reserved free space is exhausted. Every durable, multi-write change
// runs through pkg/txn so a failed mutation leaves the tree
// byte-equivalent to its pre-mutation state, guarded end-to-end by a
// tree-level pkg/lockreg lock — the same latch-then-mutate shape
// pkg/bptree/bptree.go uses around its per-node sync.RWMutex,
// generalized here to on-disk records reached through pkg/navigator.
package mutator

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/rtbtree/pkg/alloc"
	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/lockreg"
	"github.com/ssargent/rtbtree/pkg/navigator"
	"github.com/ssargent/rtbtree/pkg/offsetenc"
	"github.com/ssargent/rtbtree/pkg/rtkey"
	"github.com/ssargent/rtbtree/pkg/txn"
)

// DuplicateKey reports add() of a key that already exists in a unique tree.
var DuplicateKey = errors.New("mutator: key already exists")

// KeyNotFound reports update/remove of a key absent from the tree.
var KeyNotFound = errors.New("mutator: key not found")

// ValueNotFound reports update/remove of a record pointer not present
// among a non-unique key's values.
var ValueNotFound = errors.New("mutator: value not found")

// NoSpace reports that a leaf body or its ext_data region has no room
// for the requested write and a rebuild/split is required. It is
// returned to callers only from split-leaf's fail-fast case (spec.md
// §4.H: "fail-fast if the parent is full... callers must rebuild the
// tree"); everywhere else mutator recovers from it internally.
var NoSpace = errors.New("mutator: no space in leaf or ext_data block, and parent node has no room for a new pivot")

// growthFactor is the "grow by 10%" margin spec.md §4.H's rebuild-leaf
// step applies when requesting a new leaf or ext_data region's length.
const growthFactor = 1.1

// Mutator performs add/remove/update against a single tree's byte source.
type Mutator struct {
	nav              *navigator.Navigator
	src              bytesource.Source
	alloc            *alloc.Allocator
	txn              *txn.Engine
	locks            *lockreg.Registry
	treeID           string
	width            offsetenc.Width
	smallLeaves      bool
	metadataKeyCount int
	unique           bool
	maxEntries       int
}

// Options configures a new Mutator.
type Options struct {
	Navigator        *navigator.Navigator
	Source           bytesource.Source
	Allocator        *alloc.Allocator
	Txn              *txn.Engine
	Locks            *lockreg.Registry
	TreeID           string
	Width            offsetenc.Width
	SmallLeaves      bool
	MetadataKeyCount int
	Unique           bool
	MaxEntries       int
}

// New builds a Mutator over the given collaborators.
func New(opts Options) *Mutator {
	return &Mutator{
		nav:              opts.Navigator,
		src:              opts.Source,
		alloc:            opts.Allocator,
		txn:              opts.Txn,
		locks:            opts.Locks,
		treeID:           opts.TreeID,
		width:            opts.Width,
		smallLeaves:      opts.SmallLeaves,
		metadataKeyCount: opts.MetadataKeyCount,
		unique:           opts.Unique,
		maxEntries:       opts.MaxEntries,
	}
}

// Result reports what a mutation did to the tree's root, so callers
// (pkg/rtree) that persist a root offset know whether to update it.
type Result struct {
	NewRootOffset int64
	RootChanged   bool
}

func (m *Mutator) lock(ctx context.Context) (*lockreg.Handle, error) {
	return m.locks.Lock(ctx, m.treeID, 0)
}

// entryContent is the caller's desired content for one leaf entry. Values
// carries the materialized list when known; KeepExt, when non-nil, tells
// the in-place fast path to reuse an existing, untouched ext_data
// reference rather than re-resolving and re-encoding it — rebuild (which
// always reconstructs the whole leaf+ext_data region fresh) resolves
// KeepExt entries lazily instead.
type entryContent struct {
	Key     rtkey.Value
	Values  []layout.Value
	KeepExt *layout.ExtRef
}

func findEntryIndex(entries []layout.LeafEntry, key rtkey.Value) (int, bool) {
	for i, e := range entries {
		if rtkey.Equal(e.Key, key) {
			return i, true
		}
	}
	return -1, false
}

func insertionIndex(entries []layout.LeafEntry, key rtkey.Value) int {
	for i, e := range entries {
		if rtkey.Less(key, e.Key) {
			return i
		}
	}
	return len(entries)
}

// untouchedContents converts every leaf entry except skipIdx (or all, if
// skipIdx < 0) into an entryContent that preserves its current on-disk
// representation unchanged.
func untouchedContents(entries []layout.LeafEntry, skipIdx int) []entryContent {
	out := make([]entryContent, 0, len(entries))
	for i, e := range entries {
		if i == skipIdx {
			continue
		}
		if e.Ext != nil {
			out = append(out, entryContent{Key: e.Key, KeepExt: e.Ext})
		} else {
			out = append(out, entryContent{Key: e.Key, Values: e.InlineValues})
		}
	}
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Add implements spec.md §4.H's add(key, record-pointer, metadata).
func (m *Mutator) Add(ctx context.Context, rootOffset int64, key rtkey.Value, value layout.Value) (Result, error) {
	handle, err := m.lock(ctx)
	if err != nil {
		return Result{}, err
	}
	defer handle.Release()

	leaf, parentOffset, hasParent, err := m.nav.FindLeafWithParent(ctx, rootOffset, key)
	if err != nil {
		return Result{}, err
	}

	idx, found := findEntryIndex(leaf.Body.Entries, key)
	if found {
		if m.unique {
			return Result{}, errors.Wrapf(DuplicateKey, "key already present")
		}
		desired := untouchedContents(leaf.Body.Entries, idx)
		entry := leaf.Body.Entries[idx]
		var newValues []layout.Value
		if entry.Ext != nil {
			existing, err := m.loadExtValues(leaf, entry.Ext)
			if err != nil {
				return Result{}, err
			}
			newValues = append(existing, value)
		} else {
			newValues = append(append([]layout.Value(nil), entry.InlineValues...), value)
		}
		insertAt := insertionIndex(contentKeys(desired), key)
		desired = insertContentAt(desired, insertAt, entryContent{Key: key, Values: newValues})
		newRoot, changed, err := m.applyLeafChange(ctx, leaf, parentOffset, hasParent, desired)
		if err != nil {
			return Result{}, err
		}
		if changed {
			return Result{NewRootOffset: newRoot, RootChanged: true}, nil
		}
		return Result{NewRootOffset: rootOffset}, nil
	}

	desired := untouchedContents(leaf.Body.Entries, -1)
	at := insertionIndex(leaf.Body.Entries, key)
	desired = insertContentAt(desired, at, entryContent{Key: key, Values: []layout.Value{value}})

	if len(desired) > m.maxEntries {
		return m.splitLeaf(ctx, rootOffset, leaf, parentOffset, hasParent, desired)
	}
	newRoot, changed, err := m.applyLeafChange(ctx, leaf, parentOffset, hasParent, desired)
	if err != nil {
		return Result{}, err
	}
	if changed {
		return Result{NewRootOffset: newRoot, RootChanged: true}, nil
	}
	return Result{NewRootOffset: rootOffset}, nil
}

func contentKeys(contents []entryContent) []layout.LeafEntry {
	out := make([]layout.LeafEntry, len(contents))
	for i, c := range contents {
		out[i] = layout.LeafEntry{Key: c.Key}
	}
	return out
}

func insertContentAt(contents []entryContent, at int, c entryContent) []entryContent {
	contents = append(contents, entryContent{})
	copy(contents[at+1:], contents[at:])
	contents[at] = c
	return contents
}

// Remove implements spec.md §4.H's remove(key, record-pointer?). It
// returns the tree's root offset and whether a parentless root leaf was
// relocated by a rebuild, since callers persist the root offset.
func (m *Mutator) Remove(ctx context.Context, rootOffset int64, key rtkey.Value, rp []byte) (Result, error) {
	handle, err := m.lock(ctx)
	if err != nil {
		return Result{}, err
	}
	defer handle.Release()

	leaf, parentOffset, hasParent, err := m.nav.FindLeafWithParent(ctx, rootOffset, key)
	if err != nil {
		return Result{}, err
	}
	idx, found := findEntryIndex(leaf.Body.Entries, key)
	if !found {
		return Result{}, errors.Wrapf(KeyNotFound, "key not present")
	}
	entry := leaf.Body.Entries[idx]

	var currentValues []layout.Value
	if entry.Ext != nil {
		currentValues, err = m.loadExtValues(leaf, entry.Ext)
		if err != nil {
			return Result{}, err
		}
	} else {
		currentValues = entry.InlineValues
	}

	if m.unique || len(currentValues) <= 1 {
		if rp != nil && len(currentValues) == 1 && !bytesEqual(currentValues[0].RecordPointer, rp) {
			return Result{}, errors.Wrapf(ValueNotFound, "record pointer not present for key")
		}
		desired := untouchedContents(leaf.Body.Entries, idx)
		return m.applyLeafChangeResult(ctx, rootOffset, leaf, parentOffset, hasParent, desired)
	}

	valIdx := -1
	for i, v := range currentValues {
		if bytesEqual(v.RecordPointer, rp) {
			valIdx = i
			break
		}
	}
	if valIdx == -1 {
		return Result{}, errors.Wrapf(ValueNotFound, "record pointer not present for key")
	}
	newValues := append(append([]layout.Value(nil), currentValues[:valIdx]...), currentValues[valIdx+1:]...)

	desired := untouchedContents(leaf.Body.Entries, idx)
	at := insertionIndex(contentKeys(desired), key)
	desired = insertContentAt(desired, at, entryContent{Key: key, Values: newValues})
	return m.applyLeafChangeResult(ctx, rootOffset, leaf, parentOffset, hasParent, desired)
}

// Update implements spec.md §4.H's update(key, newVal, currentVal?). It
// returns the tree's root offset and whether a parentless root leaf was
// relocated by a rebuild, since callers persist the root offset.
func (m *Mutator) Update(ctx context.Context, rootOffset int64, key rtkey.Value, newValue layout.Value, currentRP []byte) (Result, error) {
	handle, err := m.lock(ctx)
	if err != nil {
		return Result{}, err
	}
	defer handle.Release()

	leaf, parentOffset, hasParent, err := m.nav.FindLeafWithParent(ctx, rootOffset, key)
	if err != nil {
		return Result{}, err
	}
	idx, found := findEntryIndex(leaf.Body.Entries, key)
	if !found {
		return Result{}, errors.Wrapf(KeyNotFound, "key not present")
	}
	entry := leaf.Body.Entries[idx]

	var currentValues []layout.Value
	if entry.Ext != nil {
		currentValues, err = m.loadExtValues(leaf, entry.Ext)
		if err != nil {
			return Result{}, err
		}
	} else {
		currentValues = entry.InlineValues
	}

	var newValues []layout.Value
	if m.unique || len(currentValues) <= 1 {
		newValues = []layout.Value{newValue}
	} else {
		valIdx := -1
		for i, v := range currentValues {
			if bytesEqual(v.RecordPointer, currentRP) {
				valIdx = i
				break
			}
		}
		if valIdx == -1 {
			return Result{}, errors.Wrapf(ValueNotFound, "record pointer not present for key")
		}
		newValues = append([]layout.Value(nil), currentValues...)
		newValues[valIdx] = newValue
	}

	desired := untouchedContents(leaf.Body.Entries, idx)
	at := insertionIndex(contentKeys(desired), key)
	desired = insertContentAt(desired, at, entryContent{Key: key, Values: newValues})
	return m.applyLeafChangeResult(ctx, rootOffset, leaf, parentOffset, hasParent, desired)
}

// applyLeafChangeResult wraps applyLeafChange into a Result, for Remove
// and Update's callers.
func (m *Mutator) applyLeafChangeResult(ctx context.Context, rootOffset int64, leaf navigator.Leaf, parentOffset int64, hasParent bool, desired []entryContent) (Result, error) {
	newRoot, changed, err := m.applyLeafChange(ctx, leaf, parentOffset, hasParent, desired)
	if err != nil {
		return Result{}, err
	}
	if changed {
		return Result{NewRootOffset: newRoot, RootChanged: true}, nil
	}
	return Result{NewRootOffset: rootOffset}, nil
}

// applyLeafChange tries an in-place rewrite of leaf with the desired
// content; on failure (body too large, or a value list now exceeds the
// small-leaf inline budget) it falls back to rebuildLeaf. It reports
// whether the rebuild fallback relocated a parentless (root) leaf to a
// new offset, which the caller must then treat as the tree's new root.
func (m *Mutator) applyLeafChange(ctx context.Context, leaf navigator.Leaf, parentOffset int64, hasParent bool, desired []entryContent) (int64, bool, error) {
	ok, err := m.tryWriteLeafInPlace(leaf, desired)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return 0, false, nil
	}
	newOffset, err := m.rebuildLeaf(ctx, leaf, parentOffset, hasParent, desired)
	if err != nil {
		return 0, false, err
	}
	if !hasParent && newOffset != leaf.Offset {
		return newOffset, true, nil
	}
	return 0, false, nil
}

// tryWriteLeafInPlace encodes desired to fit exactly within leaf's
// already-allocated record length, reusing any KeepExt reference
// untouched. It reports ok=false (not an error) whenever the content
// does not fit as-is, letting the caller fall back to rebuild.
func (m *Mutator) tryWriteLeafInPlace(leaf navigator.Leaf, desired []entryContent) (bool, error) {
	if len(desired) > 255 {
		return false, nil
	}
	entries := make([]layout.LeafEntry, len(desired))
	for i, c := range desired {
		if c.KeepExt != nil {
			entries[i] = layout.LeafEntry{Key: c.Key, Ext: c.KeepExt}
			continue
		}
		entries[i] = layout.LeafEntry{Key: c.Key, InlineValues: c.Values}
	}

	newBody := leaf.Body
	newBody.Entries = entries

	unpadded, err := layout.EncodeLeaf(newBody, layout.EncodeOptions{Width: m.width, SmallLeaves: m.smallLeaves})
	if err != nil {
		if errors.Is(err, layout.ExceedsInlineBudget) {
			return false, nil
		}
		return false, err
	}
	if uint32(len(unpadded)) > leaf.Body.ByteLength {
		return false, nil
	}

	pad := layout.PaddingForMaxLength(int(leaf.Body.ByteLength), len(unpadded))
	newBody.FreeByteLength = uint32(pad)
	final, err := layout.EncodeLeaf(newBody, layout.EncodeOptions{Width: m.width, SmallLeaves: m.smallLeaves, PadBytes: pad})
	if err != nil {
		return false, err
	}
	if _, err := m.src.WriteAt(final, leaf.Offset); err != nil {
		return false, err
	}
	return true, nil
}
