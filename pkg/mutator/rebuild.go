package mutator

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/navigator"
	"github.com/ssargent/rtbtree/pkg/txn"
)

// resolveDesired turns every KeepExt reference in desired into a
// materialized value list, read from the leaf about to be replaced.
// Rebuild always reconstructs the whole leaf+ext_data region fresh, so
// every surviving ext_data entry needs its values in hand before the old
// region is released.
func (m *Mutator) resolveDesired(leaf navigator.Leaf, desired []entryContent) ([]entryContent, error) {
	out := make([]entryContent, len(desired))
	for i, c := range desired {
		if c.KeepExt == nil {
			out[i] = c
			continue
		}
		values, err := m.loadExtValues(leaf, c.KeepExt)
		if err != nil {
			return nil, err
		}
		out[i] = entryContent{Key: c.Key, Values: values}
	}
	return out, nil
}

// packedLeaf is the outcome of deciding, per entry, whether its value
// list fits inline or must spill to ext_data.
type packedLeaf struct {
	entries   []layout.LeafEntry
	extBuffer []byte
	hasExt    bool
}

// packEntries assigns each entry's value list inline or to ext_data per
// spec.md §4.E's small-leaf budget rule.
func (m *Mutator) packEntries(desired []entryContent) (packedLeaf, error) {
	var p packedLeaf
	p.entries = make([]layout.LeafEntry, len(desired))
	for i, c := range desired {
		encoded, err := layout.EncodeValueList(c.Values)
		if err != nil {
			return packedLeaf{}, err
		}
		if m.smallLeaves && len(encoded) > layout.SmallLeafInlineBudget {
			p.entries[i] = layout.LeafEntry{
				Key: c.Key,
				Ext: &layout.ExtRef{Ptr: uint32(len(p.extBuffer)), ListLength: uint32(len(encoded))},
			}
			p.extBuffer = append(p.extBuffer, encoded...)
			p.hasExt = true
			continue
		}
		p.entries[i] = layout.LeafEntry{Key: c.Key, InlineValues: c.Values}
	}
	return p, nil
}

func grown(n int) int {
	return int(math.Ceil(float64(n) * growthFactor))
}

// rebuildLeaf implements spec.md §4.H's rebuild-leaf: allocate a new,
// grown region, write a freshly-formatted leaf (and ext_data region, if
// any entry needs one) into it, fix up the neighboring leaves' sibling
// pointers and the parent's child offset, then release the old region.
// Every durable write is a pkg/txn step with a rollback that restores the
// prior byte content or returns the new region to the allocator; the
// final release of the old region has none, as nothing runs after it. It
// returns the leaf's new
// offset so a caller rebuilding a parentless (root) leaf can update the
// tree's root reference.
func (m *Mutator) rebuildLeaf(ctx context.Context, leaf navigator.Leaf, parentOffset int64, hasParent bool, desired []entryContent) (int64, error) {
	resolved, err := m.resolveDesired(leaf, desired)
	if err != nil {
		return 0, err
	}
	packed, err := m.packEntries(resolved)
	if err != nil {
		return 0, err
	}

	flags := layout.LeafIsLeaf
	if packed.hasExt {
		flags |= layout.LeafHasExtData
	}

	tentative := layout.Leaf{Flags: flags, Entries: packed.entries}
	if packed.hasExt {
		tentative.ExtDataTotalLength = uint32(len(packed.extBuffer))
	}
	unpadded, err := layout.EncodeLeaf(tentative, layout.EncodeOptions{Width: m.width, SmallLeaves: m.smallLeaves})
	if err != nil {
		return 0, err
	}

	newLeafLen := grown(len(unpadded))
	extTotal := 0
	if packed.hasExt {
		extTotal = grown(len(packed.extBuffer))
	}

	region, err := m.alloc.Request(int64(newLeafLen + extTotal))
	if err != nil {
		return 0, err
	}

	leafOffset := region.Offset
	newPrevAnchor, newNextAnchor := navigator.SiblingAnchors(leafOffset, m.width)

	oldPrevAnchor, oldNextAnchor := navigator.SiblingAnchors(leaf.Offset, m.width)
	var oldPrevAbs, oldNextAbs int64
	if leaf.Body.PrevOffset != 0 {
		oldPrevAbs = oldPrevAnchor + leaf.Body.PrevOffset
	}
	if leaf.Body.NextOffset != 0 {
		oldNextAbs = oldNextAnchor + leaf.Body.NextOffset
	}

	var newPrevRel, newNextRel int64
	if oldPrevAbs != 0 {
		newPrevRel = oldPrevAbs - newPrevAnchor
	}
	if oldNextAbs != 0 {
		newNextRel = oldNextAbs - newNextAnchor
	}

	final := tentative
	final.PrevOffset = newPrevRel
	final.NextOffset = newNextRel
	final.FreeByteLength = uint32(newLeafLen - len(unpadded))
	if packed.hasExt {
		final.ExtDataFreeLength = uint32(extTotal - len(packed.extBuffer))
	}
	finalLeafBytes, err := layout.EncodeLeaf(final, layout.EncodeOptions{
		Width: m.width, SmallLeaves: m.smallLeaves, PadBytes: newLeafLen - len(unpadded),
	})
	if err != nil {
		return 0, err
	}

	extBytes := make([]byte, extTotal)
	copy(extBytes, packed.extBuffer)

	steps := []txn.Step{
		{
			Name: "write-new-leaf",
			Action: func(context.Context) error {
				if _, err := m.src.WriteAt(finalLeafBytes, leafOffset); err != nil {
					return err
				}
				if extTotal > 0 {
					if _, err := m.src.WriteAt(extBytes, leafOffset+int64(newLeafLen)); err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(context.Context) error {
				return m.alloc.Release(region.Offset, region.Length)
			},
		},
	}

	if oldPrevAbs != 0 {
		prevLeaf, err := m.nav.LoadLeafAt(oldPrevAbs)
		if err != nil {
			return 0, err
		}
		oldPrevBytes, err := m.encodeLeafVerbatim(prevLeaf)
		if err != nil {
			return 0, err
		}
		_, prevNextAnchor := navigator.SiblingAnchors(prevLeaf.Offset, m.width)
		patched := prevLeaf.Body
		patched.NextOffset = leafOffset - prevNextAnchor
		patchedBytes, err := layout.EncodeLeaf(patched, layout.EncodeOptions{
			Width: m.width, SmallLeaves: m.smallLeaves, PadBytes: int(patched.FreeByteLength),
		})
		if err != nil {
			return 0, err
		}
		steps = append(steps, txn.Step{
			Name: "patch-prev-leaf-next",
			Action: func(context.Context) error {
				_, err := m.src.WriteAt(patchedBytes, prevLeaf.Offset)
				return err
			},
			Rollback: func(context.Context) error {
				_, err := m.src.WriteAt(oldPrevBytes, prevLeaf.Offset)
				return err
			},
		})
	}

	if oldNextAbs != 0 {
		nextLeaf, err := m.nav.LoadLeafAt(oldNextAbs)
		if err != nil {
			return 0, err
		}
		oldNextBytes, err := m.encodeLeafVerbatim(nextLeaf)
		if err != nil {
			return 0, err
		}
		nextPrevAnchor, _ := navigator.SiblingAnchors(nextLeaf.Offset, m.width)
		patched := nextLeaf.Body
		patched.PrevOffset = leafOffset - nextPrevAnchor
		patchedBytes, err := layout.EncodeLeaf(patched, layout.EncodeOptions{
			Width: m.width, SmallLeaves: m.smallLeaves, PadBytes: int(patched.FreeByteLength),
		})
		if err != nil {
			return 0, err
		}
		steps = append(steps, txn.Step{
			Name: "patch-next-leaf-prev",
			Action: func(context.Context) error {
				_, err := m.src.WriteAt(patchedBytes, nextLeaf.Offset)
				return err
			},
			Rollback: func(context.Context) error {
				_, err := m.src.WriteAt(oldNextBytes, nextLeaf.Offset)
				return err
			},
		})
	}

	if hasParent {
		step, err := m.patchParentChildStep(parentOffset, leaf.Offset, leafOffset)
		if err != nil {
			return 0, err
		}
		steps = append(steps, step)
	}

	oldTotalLength := int64(leaf.Body.ByteLength) + extDataRegionLength(leaf.Body)
	steps = append(steps, txn.Step{
		Name: "release-old-leaf-region",
		Action: func(context.Context) error {
			return m.alloc.Release(leaf.Offset, oldTotalLength)
		},
	})

	if err := m.txn.RunSequential(ctx, steps); err != nil {
		return 0, err
	}
	return leafOffset, nil
}

// extDataRegionLength returns the on-disk size of l's trailing ext_data
// region, zero if it has none.
func extDataRegionLength(l layout.Leaf) int64 {
	if !l.Flags.Has(layout.LeafHasExtData) {
		return 0
	}
	return int64(l.ExtDataTotalLength)
}

// encodeLeafVerbatim re-encodes a decoded leaf back to its exact original
// bytes, used to capture a rollback snapshot before patching one field
// in place.
func (m *Mutator) encodeLeafVerbatim(l navigator.Leaf) ([]byte, error) {
	return layout.EncodeLeaf(l.Body, layout.EncodeOptions{
		Width: m.width, SmallLeaves: m.smallLeaves, PadBytes: int(l.Body.FreeByteLength),
	})
}

// patchParentChildStep finds which of parent's child slots currently
// points at oldLeafOffset and returns a txn.Step that repoints it to
// newLeafOffset, with a rollback restoring the original bytes.
func (m *Mutator) patchParentChildStep(parentOffset, oldLeafOffset, newLeafOffset int64) (txn.Step, error) {
	node, err := m.nav.LoadNodeAt(parentOffset)
	if err != nil {
		return txn.Step{}, err
	}
	ltAnchors, gtAnchor, err := navigator.ChildAnchors(parentOffset, node, m.width)
	if err != nil {
		return txn.Step{}, err
	}

	originalBytes, err := m.encodeNodeVerbatim(parentOffset, node)
	if err != nil {
		return txn.Step{}, err
	}

	patched := node
	patched.Pivots = append([]layout.Pivot(nil), node.Pivots...)
	found := false
	for i, p := range node.Pivots {
		if ltAnchors[i]+p.LTChildOffset == oldLeafOffset {
			patched.Pivots[i].LTChildOffset = newLeafOffset - ltAnchors[i]
			found = true
			break
		}
	}
	if !found && gtAnchor+node.GTChildOffset == oldLeafOffset {
		patched.GTChildOffset = newLeafOffset - gtAnchor
		found = true
	}
	if !found {
		return txn.Step{}, errors.Wrapf(navigator.MalformedTree, "parent at %d has no child slot for leaf at %d", parentOffset, oldLeafOffset)
	}

	patchedBytes, err := layout.EncodeNode(patched, m.width, int(node.FreeByteLength))
	if err != nil {
		return txn.Step{}, err
	}

	return txn.Step{
		Name: "patch-parent-child",
		Action: func(context.Context) error {
			_, err := m.src.WriteAt(patchedBytes, parentOffset)
			return err
		},
		Rollback: func(context.Context) error {
			_, err := m.src.WriteAt(originalBytes, parentOffset)
			return err
		},
	}, nil
}
