package mutator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/rtbtree/pkg/alloc"
	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/lockreg"
	"github.com/ssargent/rtbtree/pkg/navigator"
	"github.com/ssargent/rtbtree/pkg/offsetenc"
	"github.com/ssargent/rtbtree/pkg/rtkey"
	"github.com/ssargent/rtbtree/pkg/txn"
)

const fixtureWidth = offsetenc.Width47

func entry(key rtkey.Value, rp byte) layout.LeafEntry {
	return layout.LeafEntry{Key: key, InlineValues: []layout.Value{{RecordPointer: []byte{rp}}}}
}

// singleLeafFixture writes one root leaf (no parent) with padBytes of
// slack beyond its encoded entries, and wires a Mutator over it with
// maxEntries as its split threshold.
func singleLeafFixture(t *testing.T, entries []layout.LeafEntry, padBytes int, unique bool, maxEntries int) (*Mutator, *bytesource.MemorySource, int64) {
	t.Helper()
	src := bytesource.NewMemorySource()

	tentative := layout.Leaf{Flags: layout.LeafIsLeaf, Entries: entries}
	tentative.FreeByteLength = uint32(padBytes)
	final, err := layout.EncodeLeaf(tentative, layout.EncodeOptions{Width: fixtureWidth, SmallLeaves: true, PadBytes: padBytes})
	require.NoError(t, err)

	rootOffset, err := src.Append(final)
	require.NoError(t, err)

	nav := navigator.New(src, fixtureWidth, true, 0)
	allocator := alloc.New(alloc.Options{
		TotalLength: src.End(),
		TailFree:    0,
		AutoGrow:    true,
	})
	m := New(Options{
		Navigator:   nav,
		Source:      src,
		Allocator:   allocator,
		Txn:         txn.New(),
		Locks:       lockreg.New(),
		TreeID:      "tree-1",
		Width:       fixtureWidth,
		SmallLeaves: true,
		Unique:      unique,
		MaxEntries:  maxEntries,
	})
	return m, src, rootOffset
}

func loadLeaf(t *testing.T, m *Mutator, offset int64) navigator.Leaf {
	t.Helper()
	leaf, err := m.nav.LoadLeafAt(offset)
	require.NoError(t, err)
	return leaf
}

func leafKeys(leaf navigator.Leaf) []string {
	out := make([]string, len(leaf.Body.Entries))
	for i, e := range leaf.Body.Entries {
		out[i] = e.Key.Str
	}
	return out
}

func TestAddInPlace(t *testing.T) {
	m, _, root := singleLeafFixture(t, []layout.LeafEntry{
		entry(rtkey.String("banana"), 1),
		entry(rtkey.String("date"), 2),
	}, 64, true, 100)

	result, err := m.Add(context.Background(), root, rtkey.String("cherry"), layout.Value{RecordPointer: []byte{3}})
	require.NoError(t, err)
	assert.False(t, result.RootChanged)
	assert.Equal(t, root, result.NewRootOffset)

	leaf := loadLeaf(t, m, root)
	assert.Equal(t, []string{"banana", "cherry", "date"}, leafKeys(leaf))
}

func TestAddDuplicateKeyRejectedWhenUnique(t *testing.T) {
	m, _, root := singleLeafFixture(t, []layout.LeafEntry{
		entry(rtkey.String("banana"), 1),
	}, 64, true, 100)

	_, err := m.Add(context.Background(), root, rtkey.String("banana"), layout.Value{RecordPointer: []byte{2}})
	require.Error(t, err)
	assert.ErrorIs(t, err, DuplicateKey)
}

func TestAddAppendsValueWhenNotUnique(t *testing.T) {
	m, _, root := singleLeafFixture(t, []layout.LeafEntry{
		entry(rtkey.String("banana"), 1),
	}, 64, false, 100)

	_, err := m.Add(context.Background(), root, rtkey.String("banana"), layout.Value{RecordPointer: []byte{2}})
	require.NoError(t, err)

	leaf := loadLeaf(t, m, root)
	require.Len(t, leaf.Body.Entries, 1)
	require.Len(t, leaf.Body.Entries[0].InlineValues, 2)
	assert.Equal(t, []byte{1}, leaf.Body.Entries[0].InlineValues[0].RecordPointer)
	assert.Equal(t, []byte{2}, leaf.Body.Entries[0].InlineValues[1].RecordPointer)
}

func TestAddTriggersRebuildWhenLeafHasNoSlack(t *testing.T) {
	m, _, root := singleLeafFixture(t, []layout.LeafEntry{
		entry(rtkey.String("banana"), 1),
	}, 0, true, 100)

	result, err := m.Add(context.Background(), root, rtkey.String("cherry"), layout.Value{RecordPointer: []byte{3}})
	require.NoError(t, err)
	require.True(t, result.RootChanged)
	assert.NotEqual(t, root, result.NewRootOffset)

	leaf := loadLeaf(t, m, result.NewRootOffset)
	assert.Equal(t, []string{"banana", "cherry"}, leafKeys(leaf))
}

func TestAddTriggersSplitWhenMaxEntriesExceeded(t *testing.T) {
	m, _, root := singleLeafFixture(t, []layout.LeafEntry{
		entry(rtkey.String("banana"), 1),
		entry(rtkey.String("cherry"), 2),
	}, 64, true, 2)

	result, err := m.Add(context.Background(), root, rtkey.String("date"), layout.Value{RecordPointer: []byte{3}})
	require.NoError(t, err)
	require.True(t, result.RootChanged)

	node, err := m.nav.LoadNodeAt(result.NewRootOffset)
	require.NoError(t, err)
	require.Len(t, node.Pivots, 1)
	assert.Equal(t, "cherry", node.Pivots[0].Key.Str)

	ltAnchors, gtAnchor, err := navigator.ChildAnchors(result.NewRootOffset, node, fixtureWidth)
	require.NoError(t, err)
	leftOffset := ltAnchors[0] + node.Pivots[0].LTChildOffset
	rightOffset := gtAnchor + node.GTChildOffset

	left := loadLeaf(t, m, leftOffset)
	right := loadLeaf(t, m, rightOffset)
	assert.Equal(t, []string{"banana"}, leafKeys(left))
	assert.Equal(t, []string{"cherry", "date"}, leafKeys(right))

	_, leftNextAnchor := navigator.SiblingAnchors(leftOffset, fixtureWidth)
	assert.Equal(t, rightOffset, leftNextAnchor+left.Body.NextOffset)
	rightPrevAnchor, _ := navigator.SiblingAnchors(rightOffset, fixtureWidth)
	assert.Equal(t, leftOffset, rightPrevAnchor+right.Body.PrevOffset)
}

// twoLeafFixture writes leaf0{banana} <-> leaf1{cherry,grape} under a
// single-pivot parent node ("cherry" splits leaf0 from leaf1), and wires
// a Mutator with maxEntries over it.
func twoLeafFixture(t *testing.T, maxEntries int) (*Mutator, int64) {
	t.Helper()
	src := bytesource.NewMemorySource()

	l0Tentative := layout.Leaf{Flags: layout.LeafIsLeaf, Entries: []layout.LeafEntry{entry(rtkey.String("banana"), 1)}}
	l0Bytes, err := layout.EncodeLeaf(l0Tentative, layout.EncodeOptions{Width: fixtureWidth, SmallLeaves: true})
	require.NoError(t, err)
	l0Offset := src.End()
	l1Offset := l0Offset + int64(len(l0Bytes))

	l1Tentative := layout.Leaf{Flags: layout.LeafIsLeaf, Entries: []layout.LeafEntry{
		entry(rtkey.String("cherry"), 2), entry(rtkey.String("grape"), 3),
	}}
	l1Bytes, err := layout.EncodeLeaf(l1Tentative, layout.EncodeOptions{Width: fixtureWidth, SmallLeaves: true})
	require.NoError(t, err)

	_, next0 := navigator.SiblingAnchors(l0Offset, fixtureWidth)
	l0Final := l0Tentative
	l0Final.NextOffset = l1Offset - next0
	l0Bytes, err = layout.EncodeLeaf(l0Final, layout.EncodeOptions{Width: fixtureWidth, SmallLeaves: true})
	require.NoError(t, err)
	_, err = src.Append(l0Bytes)
	require.NoError(t, err)

	prev1, _ := navigator.SiblingAnchors(l1Offset, fixtureWidth)
	l1Final := l1Tentative
	l1Final.PrevOffset = l0Offset - prev1
	l1Bytes, err = layout.EncodeLeaf(l1Final, layout.EncodeOptions{Width: fixtureWidth, SmallLeaves: true})
	require.NoError(t, err)
	_, err = src.Append(l1Bytes)
	require.NoError(t, err)

	nodeOffset := src.End()
	nodeTentative := layout.Node{Pivots: []layout.Pivot{{Key: rtkey.String("cherry")}}}
	ltAnchors, gtAnchor, err := navigator.ChildAnchors(nodeOffset, nodeTentative, fixtureWidth)
	require.NoError(t, err)
	nodeFinal := layout.Node{
		Pivots:        []layout.Pivot{{Key: rtkey.String("cherry"), LTChildOffset: l0Offset - ltAnchors[0]}},
		GTChildOffset: l1Offset - gtAnchor,
	}
	nodeBytes, err := layout.EncodeNode(nodeFinal, fixtureWidth, 0)
	require.NoError(t, err)
	_, err = src.Append(nodeBytes)
	require.NoError(t, err)

	nav := navigator.New(src, fixtureWidth, true, 0)
	allocator := alloc.New(alloc.Options{TotalLength: src.End(), AutoGrow: true})
	m := New(Options{
		Navigator:   nav,
		Source:      src,
		Allocator:   allocator,
		Txn:         txn.New(),
		Locks:       lockreg.New(),
		TreeID:      "tree-2",
		Width:       fixtureWidth,
		SmallLeaves: true,
		Unique:      true,
		MaxEntries:  maxEntries,
	})
	return m, nodeOffset
}

func TestAddSplitFailsFastWhenParentFull(t *testing.T) {
	m, root := twoLeafFixture(t, 1)

	_, err := m.Add(context.Background(), root, rtkey.String("date"), layout.Value{RecordPointer: []byte{4}})
	require.Error(t, err)
	assert.ErrorIs(t, err, NoSpace)
}

func TestAddSpillsToExtDataBeyondInlineBudget(t *testing.T) {
	m, _, root := singleLeafFixture(t, []layout.LeafEntry{
		entry(rtkey.String("banana"), 1),
	}, 256, true, 100)

	bigValues := []layout.Value{{RecordPointer: []byte(strings.Repeat("x", 200))}}
	result, err := m.Add(context.Background(), root, rtkey.String("zebra"), bigValues[0])
	require.NoError(t, err)

	leaf := loadLeaf(t, m, result.NewRootOffset)
	idx, found := findEntryIndex(leaf.Body.Entries, rtkey.String("zebra"))
	require.True(t, found)
	require.NotNil(t, leaf.Body.Entries[idx].Ext)

	values, err := m.loadExtValues(leaf, leaf.Body.Entries[idx].Ext)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, bigValues[0].RecordPointer, values[0].RecordPointer)
}

func TestRemoveDeletesSoleValueEntry(t *testing.T) {
	m, _, root := singleLeafFixture(t, []layout.LeafEntry{
		entry(rtkey.String("banana"), 1),
		entry(rtkey.String("cherry"), 2),
	}, 64, true, 100)

	result, err := m.Remove(context.Background(), root, rtkey.String("banana"), nil)
	require.NoError(t, err)
	assert.False(t, result.RootChanged)

	leaf := loadLeaf(t, m, root)
	assert.Equal(t, []string{"cherry"}, leafKeys(leaf))
}

func TestRemoveKeyNotFound(t *testing.T) {
	m, _, root := singleLeafFixture(t, []layout.LeafEntry{
		entry(rtkey.String("banana"), 1),
	}, 64, true, 100)

	_, err := m.Remove(context.Background(), root, rtkey.String("missing"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, KeyNotFound)
}

func TestRemoveSpecificValueFromNonUniqueKey(t *testing.T) {
	m, _, root := singleLeafFixture(t, []layout.LeafEntry{
		{Key: rtkey.String("banana"), InlineValues: []layout.Value{
			{RecordPointer: []byte{1}}, {RecordPointer: []byte{2}},
		}},
	}, 64, false, 100)

	_, err := m.Remove(context.Background(), root, rtkey.String("banana"), []byte{1})
	require.NoError(t, err)

	leaf := loadLeaf(t, m, root)
	require.Len(t, leaf.Body.Entries, 1)
	require.Len(t, leaf.Body.Entries[0].InlineValues, 1)
	assert.Equal(t, []byte{2}, leaf.Body.Entries[0].InlineValues[0].RecordPointer)
}

func TestRemoveValueNotFound(t *testing.T) {
	m, _, root := singleLeafFixture(t, []layout.LeafEntry{
		{Key: rtkey.String("banana"), InlineValues: []layout.Value{
			{RecordPointer: []byte{1}},
		}},
	}, 64, false, 100)

	_, err := m.Remove(context.Background(), root, rtkey.String("banana"), []byte{9})
	require.Error(t, err)
	assert.ErrorIs(t, err, ValueNotFound)
}

func TestUpdateReplacesSoleValue(t *testing.T) {
	m, _, root := singleLeafFixture(t, []layout.LeafEntry{
		entry(rtkey.String("banana"), 1),
	}, 64, true, 100)

	result, err := m.Update(context.Background(), root, rtkey.String("banana"), layout.Value{RecordPointer: []byte{9}}, nil)
	require.NoError(t, err)
	assert.False(t, result.RootChanged)

	leaf := loadLeaf(t, m, root)
	require.Len(t, leaf.Body.Entries[0].InlineValues, 1)
	assert.Equal(t, []byte{9}, leaf.Body.Entries[0].InlineValues[0].RecordPointer)
}

func TestUpdateKeyNotFound(t *testing.T) {
	m, _, root := singleLeafFixture(t, []layout.LeafEntry{
		entry(rtkey.String("banana"), 1),
	}, 64, true, 100)

	_, err := m.Update(context.Background(), root, rtkey.String("missing"), layout.Value{RecordPointer: []byte{9}}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, KeyNotFound)
}

func TestUpdateReplacesMatchingValueInNonUniqueKey(t *testing.T) {
	m, _, root := singleLeafFixture(t, []layout.LeafEntry{
		{Key: rtkey.String("banana"), InlineValues: []layout.Value{
			{RecordPointer: []byte{1}}, {RecordPointer: []byte{2}},
		}},
	}, 64, false, 100)

	_, err := m.Update(context.Background(), root, rtkey.String("banana"), layout.Value{RecordPointer: []byte{9}}, []byte{2})
	require.NoError(t, err)

	leaf := loadLeaf(t, m, root)
	require.Len(t, leaf.Body.Entries[0].InlineValues, 2)
	assert.Equal(t, []byte{1}, leaf.Body.Entries[0].InlineValues[0].RecordPointer)
	assert.Equal(t, []byte{9}, leaf.Body.Entries[0].InlineValues[1].RecordPointer)
}

func TestUpdateRebuildsWhenNewValueOutgrowsReservedLength(t *testing.T) {
	m, _, root := singleLeafFixture(t, []layout.LeafEntry{
		entry(rtkey.String("banana"), 1),
	}, 0, true, 100)

	bigValue := layout.Value{RecordPointer: []byte(strings.Repeat("y", 40))}
	result, err := m.Update(context.Background(), root, rtkey.String("banana"), bigValue, nil)
	require.NoError(t, err)
	require.True(t, result.RootChanged)

	leaf := loadLeaf(t, m, result.NewRootOffset)
	require.Len(t, leaf.Body.Entries[0].InlineValues, 1)
	assert.Equal(t, bigValue.RecordPointer, leaf.Body.Entries[0].InlineValues[0].RecordPointer)
}
