package mutator

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/navigator"
	"github.com/ssargent/rtbtree/pkg/rtkey"
	"github.com/ssargent/rtbtree/pkg/txn"
)

// encodeNodeVerbatim re-encodes a decoded node back to its exact
// original bytes, used to capture a rollback snapshot before patching it.
func (m *Mutator) encodeNodeVerbatim(offset int64, n layout.Node) ([]byte, error) {
	return layout.EncodeNode(n, m.width, int(n.FreeByteLength))
}

// insertPivotStep builds the txn.Step that rewrites parent, replacing
// whichever child slot currently points at oldChildOffset with two
// slots: a new pivot (key, leftOffset) immediately before it, and the
// old slot's position now pointing at rightOffset. It fails with
// NoSpace if the rewritten node would not fit in its current reserved
// length, since spec.md leaves parent-node growth/splitting out of
// scope for split-leaf.
func (m *Mutator) insertPivotStep(parentOffset int64, node layout.Node, oldChildOffset, leftOffset, rightOffset int64, pivotKey rtkey.Value) (txn.Step, error) {
	ltAnchors, gtAnchor, err := navigator.ChildAnchors(parentOffset, node, m.width)
	if err != nil {
		return txn.Step{}, err
	}

	oldChildren := make([]int64, len(node.Pivots)+1)
	oldKeys := make([]rtkey.Value, len(node.Pivots))
	for i, p := range node.Pivots {
		oldChildren[i] = ltAnchors[i] + p.LTChildOffset
		oldKeys[i] = p.Key
	}
	oldChildren[len(node.Pivots)] = gtAnchor + node.GTChildOffset

	idx := -1
	for i, c := range oldChildren {
		if c == oldChildOffset {
			idx = i
			break
		}
	}
	if idx == -1 {
		return txn.Step{}, errors.Wrapf(navigator.MalformedTree, "parent at %d has no child slot for leaf at %d", parentOffset, oldChildOffset)
	}

	newKeys := make([]rtkey.Value, 0, len(oldKeys)+1)
	newKeys = append(newKeys, oldKeys[:idx]...)
	newKeys = append(newKeys, pivotKey)
	newKeys = append(newKeys, oldKeys[idx:]...)

	newChildren := make([]int64, 0, len(oldChildren)+1)
	newChildren = append(newChildren, oldChildren[:idx]...)
	newChildren = append(newChildren, leftOffset, rightOffset)
	newChildren = append(newChildren, oldChildren[idx+1:]...)

	tentative := layout.Node{Pivots: make([]layout.Pivot, len(newKeys))}
	for i, k := range newKeys {
		tentative.Pivots[i] = layout.Pivot{Key: k}
	}
	newLtAnchors, newGtAnchor, err := navigator.ChildAnchors(parentOffset, tentative, m.width)
	if err != nil {
		return txn.Step{}, err
	}
	for i := range tentative.Pivots {
		tentative.Pivots[i].LTChildOffset = newChildren[i] - newLtAnchors[i]
	}
	tentative.GTChildOffset = newChildren[len(newChildren)-1] - newGtAnchor

	if len(tentative.Pivots) > m.maxEntries {
		return txn.Step{}, errors.Wrapf(NoSpace, "parent at %d would exceed %d pivots", parentOffset, m.maxEntries)
	}

	unpadded, err := layout.EncodeNode(tentative, m.width, 0)
	if err != nil {
		return txn.Step{}, err
	}
	if uint32(len(unpadded)) > node.ByteLength {
		return txn.Step{}, errors.Wrapf(NoSpace, "parent at %d has no room for a new pivot", parentOffset)
	}
	pad := int(node.ByteLength) - len(unpadded)
	tentative.FreeByteLength = uint32(pad)
	finalBytes, err := layout.EncodeNode(tentative, m.width, pad)
	if err != nil {
		return txn.Step{}, err
	}

	originalBytes, err := m.encodeNodeVerbatim(parentOffset, node)
	if err != nil {
		return txn.Step{}, err
	}

	return txn.Step{
		Name: "insert-parent-pivot",
		Action: func(context.Context) error {
			_, err := m.src.WriteAt(finalBytes, parentOffset)
			return err
		},
		Rollback: func(context.Context) error {
			_, err := m.src.WriteAt(originalBytes, parentOffset)
			return err
		},
	}, nil
}

// newRootStep builds the txn.Step that creates a brand-new internal node
// with leftOffset/rightOffset as its sole lt-/gt-children, used when the
// leaf being split had no parent (it was the tree's only leaf and root).
func (m *Mutator) newRootStep(leftOffset, rightOffset int64, pivotKey rtkey.Value) (txn.Step, int64, error) {
	tentative := layout.Node{Pivots: []layout.Pivot{{Key: pivotKey}}}
	unpadded, err := layout.EncodeNode(tentative, m.width, 0)
	if err != nil {
		return txn.Step{}, 0, err
	}

	region, err := m.alloc.Request(int64(len(unpadded)))
	if err != nil {
		return txn.Step{}, 0, err
	}
	rootOffset := region.Offset

	ltAnchors, gtAnchor, err := navigator.ChildAnchors(rootOffset, tentative, m.width)
	if err != nil {
		return txn.Step{}, 0, err
	}
	tentative.Pivots[0].LTChildOffset = leftOffset - ltAnchors[0]
	tentative.GTChildOffset = rightOffset - gtAnchor

	finalBytes, err := layout.EncodeNode(tentative, m.width, 0)
	if err != nil {
		return txn.Step{}, 0, err
	}

	return txn.Step{
		Name: "write-new-root",
		Action: func(context.Context) error {
			_, err := m.src.WriteAt(finalBytes, rootOffset)
			return err
		},
	}, rootOffset, nil
}
