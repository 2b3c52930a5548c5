package rtree

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/navigator"
)

// Stats computes the tree's depth, leaf count, live entry/value counts,
// and allocator bookkeeping. It walks every leaf, so cost is O(tree
// size); callers on a hot path should cache the result rather than call
// this per request (the pkg/api /stats endpoint does).
func (t *Tree) Stats(ctx context.Context) (Stats, error) {
	root := t.currentRoot()

	depth, err := t.depth(root)
	if err != nil {
		return Stats{}, err
	}

	leafCount, entryCount, valueCount, err := t.walkLeaves(ctx, root)
	if err != nil {
		return Stats{}, err
	}

	allocStats := t.alloc.Stats()
	return Stats{
		Depth:            depth,
		LeafCount:        leafCount,
		LiveEntryCount:   entryCount,
		LiveValueCount:   valueCount,
		TotalLength:      allocStats.TotalLength,
		TailFree:         allocStats.TailFree,
		ReclaimedTotal:   allocStats.ReclaimedTotal,
		ReclaimedRegions: allocStats.ReclaimedRegions,
	}, nil
}

// depth counts the number of record levels from root to the leaf level,
// following the gt-child at every internal node (every level has the
// same depth by construction, per spec.md invariant 2).
func (t *Tree) depth(root int64) (int, error) {
	offset := root
	depth := 1
	for {
		node, err := t.nav.LoadNodeAt(offset)
		if err != nil {
			if errors.Is(err, navigator.MalformedTree) {
				return depth, nil
			}
			return 0, err
		}
		depth++
		_, gtAnchor, err := navigator.ChildAnchors(offset, node, t.width)
		if err != nil {
			return 0, err
		}
		offset = gtAnchor + node.GTChildOffset
	}
}

// walkLeaves scans every leaf left to right, summing entry and value
// counts.
func (t *Tree) walkLeaves(ctx context.Context, root int64) (leafCount, entryCount, valueCount int, err error) {
	leaf, err := t.nav.GetFirstLeaf(ctx, root)
	if err != nil {
		return 0, 0, 0, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, 0, err
		}
		leafCount++
		for _, e := range leaf.Body.Entries {
			entryCount++
			if e.Ext == nil {
				valueCount += len(e.InlineValues)
				continue
			}
			n, err := t.extValueCount(leaf, e.Ext)
			if err != nil {
				return 0, 0, 0, err
			}
			valueCount += n
		}
		next, ok, err := t.nav.GetNext(leaf)
		if err != nil {
			return 0, 0, 0, err
		}
		if !ok {
			break
		}
		leaf = next
	}
	return leafCount, entryCount, valueCount, nil
}

// extValueCount decodes a single entry's ext_data value list to count
// it, the same raw-range read pkg/search and pkg/bulk use for their own
// ext_data reads.
func (t *Tree) extValueCount(leaf navigator.Leaf, ref *layout.ExtRef) (int, error) {
	r := bytesource.NewReader(t.src, bytesource.DefaultChunkSize)
	r.Seek(leaf.ExtDataOffset(ref))
	buf, err := r.Get(int(ref.ListLength))
	if err != nil {
		return 0, err
	}
	values, err := layout.DecodeValueList(buf, t.metadataKeyCount)
	if err != nil {
		return 0, err
	}
	return len(values), nil
}
