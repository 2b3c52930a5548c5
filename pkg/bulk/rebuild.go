package bulk

import (
	"context"

	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/navigator"
	"github.com/ssargent/rtbtree/pkg/treebuild"
)

// Rebuild implements spec.md §4.K's rebuild-from-existing-tree: scan
// every live leaf entry of the tree reached through nav/src at
// rootOffset, in key order, and stream a brand-new, compacted tree file
// into dst. This is the operation pkg/alloc's RebuildRequired error (and
// the mutator's split-leaf NoSpace fail-fast) tells pkg/rtree to fall
// back to.
func Rebuild(ctx context.Context, nav *navigator.Navigator, src bytesource.Source, rootOffset int64, metadataKeyCount int, dst bytesource.Source, opts Options) (Result, error) {
	entries, err := scanLiveEntries(ctx, nav, src, rootOffset, metadataKeyCount)
	if err != nil {
		return Result{}, err
	}
	return BuildFromEntries(dst, entries, opts)
}

// scanLiveEntries walks the tree's leaves left to right via
// GetFirstLeaf/GetNext, materializing every entry's full value list
// (resolving ext_data references along the way) into pkg/treebuild's
// input shape.
func scanLiveEntries(ctx context.Context, nav *navigator.Navigator, src bytesource.Source, rootOffset int64, metadataKeyCount int) ([]treebuild.Entry, error) {
	leaf, err := nav.GetFirstLeaf(ctx, rootOffset)
	if err != nil {
		return nil, err
	}

	var entries []treebuild.Entry
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, e := range leaf.Body.Entries {
			values := e.InlineValues
			if e.Ext != nil {
				values, err = loadExtValues(src, leaf, e.Ext, metadataKeyCount)
				if err != nil {
					return nil, err
				}
			}
			entries = append(entries, treebuild.Entry{Key: e.Key, Values: values})
		}

		next, ok, err := nav.GetNext(leaf)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		leaf = next
	}
	if len(entries) == 0 {
		return nil, NoEntries
	}
	return entries, nil
}

// loadExtValues reads and decodes the value list an entry's ext_data
// reference points to, the same raw-range read pkg/mutator's
// loadExtValues and pkg/search's equivalent perform for their read
// paths.
func loadExtValues(src bytesource.Source, leaf navigator.Leaf, ref *layout.ExtRef, metadataKeyCount int) ([]layout.Value, error) {
	r := bytesource.NewReader(src, bytesource.DefaultChunkSize)
	r.Seek(leaf.ExtDataOffset(ref))
	buf, err := r.Get(int(ref.ListLength))
	if err != nil {
		return nil, err
	}
	return layout.DecodeValueList(buf, metadataKeyCount)
}
