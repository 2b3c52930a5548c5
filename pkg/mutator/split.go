package mutator

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/navigator"
	"github.com/ssargent/rtbtree/pkg/txn"
)

// splitLeaf implements spec.md §4.H's split-leaf: the upper half of
// desired moves to a newly allocated sibling; the lower half replaces
// leaf's own content in a second newly allocated region (the original
// offset cannot be kept since every entry's packing may have changed).
// A new pivot is inserted into the parent, or a brand-new root is
// created if leaf had none. Fails fast with NoSpace if the parent
// cannot accept another pivot — spec.md explicitly leaves parent-node
// splitting unimplemented; callers must rebuild the tree instead.
func (m *Mutator) splitLeaf(ctx context.Context, rootOffset int64, leaf navigator.Leaf, parentOffset int64, hasParent bool, desired []entryContent) (Result, error) {
	var parentNode layout.Node
	if hasParent {
		var err error
		parentNode, err = m.nav.LoadNodeAt(parentOffset)
		if err != nil {
			return Result{}, err
		}
		if len(parentNode.Pivots) >= m.maxEntries {
			return Result{}, errors.Wrapf(NoSpace, "parent at %d already has %d pivots", parentOffset, len(parentNode.Pivots))
		}
	}

	resolved, err := m.resolveDesired(leaf, desired)
	if err != nil {
		return Result{}, err
	}
	mid := len(resolved) / 2
	leftContents, rightContents := resolved[:mid], resolved[mid:]

	leftPacked, err := m.packEntries(leftContents)
	if err != nil {
		return Result{}, err
	}
	rightPacked, err := m.packEntries(rightContents)
	if err != nil {
		return Result{}, err
	}

	leftLeafLen, leftExtLen, err := m.measureLeaf(leftPacked)
	if err != nil {
		return Result{}, err
	}
	rightLeafLen, rightExtLen, err := m.measureLeaf(rightPacked)
	if err != nil {
		return Result{}, err
	}

	leftRegion, err := m.alloc.Request(int64(leftLeafLen + leftExtLen))
	if err != nil {
		return Result{}, err
	}
	rightRegion, err := m.alloc.Request(int64(rightLeafLen + rightExtLen))
	if err != nil {
		return Result{}, err
	}
	leftOffset, rightOffset := leftRegion.Offset, rightRegion.Offset

	oldPrevAnchor, oldNextAnchor := navigator.SiblingAnchors(leaf.Offset, m.width)
	var oldPrevAbs, oldNextAbs int64
	if leaf.Body.PrevOffset != 0 {
		oldPrevAbs = oldPrevAnchor + leaf.Body.PrevOffset
	}
	if leaf.Body.NextOffset != 0 {
		oldNextAbs = oldNextAnchor + leaf.Body.NextOffset
	}

	leftPrevAnchor, leftNextAnchor := navigator.SiblingAnchors(leftOffset, m.width)
	rightPrevAnchor, rightNextAnchor := navigator.SiblingAnchors(rightOffset, m.width)

	var leftPrevRel int64
	if oldPrevAbs != 0 {
		leftPrevRel = oldPrevAbs - leftPrevAnchor
	}
	leftNextRel := rightOffset - leftNextAnchor
	rightPrevRel := leftOffset - rightPrevAnchor
	var rightNextRel int64
	if oldNextAbs != 0 {
		rightNextRel = oldNextAbs - rightNextAnchor
	}

	leftBytes, err := m.finalizeLeaf(leftPacked, leftLeafLen, leftExtLen, leftPrevRel, leftNextRel)
	if err != nil {
		return Result{}, err
	}
	rightBytes, err := m.finalizeLeaf(rightPacked, rightLeafLen, rightExtLen, rightPrevRel, rightNextRel)
	if err != nil {
		return Result{}, err
	}

	var steps []txn.Step
	steps = append(steps, txn.Step{
		Name: "write-left-leaf",
		Action: func(context.Context) error {
			_, err := m.src.WriteAt(leftBytes, leftOffset)
			return err
		},
	})
	steps = append(steps, txn.Step{
		Name: "write-right-leaf",
		Action: func(context.Context) error {
			_, err := m.src.WriteAt(rightBytes, rightOffset)
			return err
		},
	})

	if oldPrevAbs != 0 {
		prevLeaf, err := m.nav.LoadLeafAt(oldPrevAbs)
		if err != nil {
			return Result{}, err
		}
		oldBytes, err := m.encodeLeafVerbatim(prevLeaf)
		if err != nil {
			return Result{}, err
		}
		_, prevNextAnchor := navigator.SiblingAnchors(prevLeaf.Offset, m.width)
		patched := prevLeaf.Body
		patched.NextOffset = leftOffset - prevNextAnchor
		patchedBytes, err := layout.EncodeLeaf(patched, layout.EncodeOptions{
			Width: m.width, SmallLeaves: m.smallLeaves, PadBytes: int(patched.FreeByteLength),
		})
		if err != nil {
			return Result{}, err
		}
		steps = append(steps, txn.Step{
			Name: "patch-prev-leaf-next",
			Action: func(context.Context) error {
				_, err := m.src.WriteAt(patchedBytes, prevLeaf.Offset)
				return err
			},
			Rollback: func(context.Context) error {
				_, err := m.src.WriteAt(oldBytes, prevLeaf.Offset)
				return err
			},
		})
	}

	if oldNextAbs != 0 {
		nextLeaf, err := m.nav.LoadLeafAt(oldNextAbs)
		if err != nil {
			return Result{}, err
		}
		oldBytes, err := m.encodeLeafVerbatim(nextLeaf)
		if err != nil {
			return Result{}, err
		}
		nextPrevAnchor, _ := navigator.SiblingAnchors(nextLeaf.Offset, m.width)
		patched := nextLeaf.Body
		patched.PrevOffset = rightOffset - nextPrevAnchor
		patchedBytes, err := layout.EncodeLeaf(patched, layout.EncodeOptions{
			Width: m.width, SmallLeaves: m.smallLeaves, PadBytes: int(patched.FreeByteLength),
		})
		if err != nil {
			return Result{}, err
		}
		steps = append(steps, txn.Step{
			Name: "patch-next-leaf-prev",
			Action: func(context.Context) error {
				_, err := m.src.WriteAt(patchedBytes, nextLeaf.Offset)
				return err
			},
			Rollback: func(context.Context) error {
				_, err := m.src.WriteAt(oldBytes, nextLeaf.Offset)
				return err
			},
		})
	}

	result := Result{NewRootOffset: rootOffset}

	if hasParent {
		step, err := m.insertPivotStep(parentOffset, parentNode, leaf.Offset, leftOffset, rightOffset, rightContents[0].Key)
		if err != nil {
			return Result{}, err
		}
		steps = append(steps, step)
	} else {
		step, newRootOffset, err := m.newRootStep(leftOffset, rightOffset, rightContents[0].Key)
		if err != nil {
			return Result{}, err
		}
		steps = append(steps, step)
		result = Result{NewRootOffset: newRootOffset, RootChanged: true}
	}

	oldTotalLength := int64(leaf.Body.ByteLength) + extDataRegionLength(leaf.Body)
	steps = append(steps, txn.Step{
		Name: "release-old-leaf-region",
		Action: func(context.Context) error {
			return m.alloc.Release(leaf.Offset, oldTotalLength)
		},
	})

	if err := m.txn.RunSequential(ctx, steps); err != nil {
		return Result{}, err
	}
	return result, nil
}

// measureLeaf computes the unpadded byte lengths a packed half's leaf
// record and ext_data buffer will need; split does not over-allocate the
// way rebuild does, since a just-split leaf is expected to fill back up
// through ordinary adds.
func (m *Mutator) measureLeaf(p packedLeaf) (leafLen, extLen int, err error) {
	flags := layout.LeafIsLeaf
	if p.hasExt {
		flags |= layout.LeafHasExtData
	}
	tentative := layout.Leaf{Flags: flags, Entries: p.entries}
	if p.hasExt {
		tentative.ExtDataTotalLength = uint32(len(p.extBuffer))
	}
	unpadded, err := layout.EncodeLeaf(tentative, layout.EncodeOptions{Width: m.width, SmallLeaves: m.smallLeaves})
	if err != nil {
		return 0, 0, err
	}
	return len(unpadded), len(p.extBuffer), nil
}

// finalizeLeaf encodes p's final on-disk leaf bytes (the ext_data buffer,
// if any, is written separately by the caller immediately after) given
// its already-allocated lengths and sibling relative offsets.
func (m *Mutator) finalizeLeaf(p packedLeaf, leafLen, extLen int, prevRel, nextRel int64) ([]byte, error) {
	flags := layout.LeafIsLeaf
	if p.hasExt {
		flags |= layout.LeafHasExtData
	}
	final := layout.Leaf{
		Flags:      flags,
		Entries:    p.entries,
		PrevOffset: prevRel,
		NextOffset: nextRel,
	}
	if p.hasExt {
		final.ExtDataTotalLength = uint32(extLen)
	}
	unpadded, err := layout.EncodeLeaf(final, layout.EncodeOptions{Width: m.width, SmallLeaves: m.smallLeaves})
	if err != nil {
		return nil, err
	}
	final.FreeByteLength = uint32(leafLen - len(unpadded))
	leafBytes, err := layout.EncodeLeaf(final, layout.EncodeOptions{
		Width: m.width, SmallLeaves: m.smallLeaves, PadBytes: leafLen - len(unpadded),
	})
	if err != nil {
		return nil, err
	}
	if extLen == 0 {
		return leafBytes, nil
	}
	out := make([]byte, 0, len(leafBytes)+extLen)
	out = append(out, leafBytes...)
	ext := make([]byte, extLen)
	copy(ext, p.extBuffer)
	out = append(out, ext...)
	return out, nil
}
