package rtree

import (
	"context"

	"github.com/ssargent/rtbtree/pkg/bulk"
	"github.com/ssargent/rtbtree/pkg/bytesource"
)

// Rebuild implements spec.md §6's rebuild(writer, opts): compact the
// tree's live entries into dst via pkg/bulk.Rebuild, then open the
// result as a fresh Tree. The caller decides whether and how to swap
// their reference to the old tree's byte source for dst's.
func (t *Tree) Rebuild(ctx context.Context, dst bytesource.Source, opts Options) (*Tree, error) {
	opts.Width = t.width
	opts.SmallLeaves = t.smallLeaves
	opts.Unique = t.unique
	opts.MetadataKeys = t.metadataKeys
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = t.maxEntries
	}
	if opts.FillFactor <= 0 {
		opts.FillFactor = t.fillFactor
	}
	opts = opts.withDefaults()

	if _, err := bulk.Rebuild(ctx, t.nav, t.src, t.currentRoot(), t.metadataKeyCount, dst, bulkOptions(opts)); err != nil {
		return nil, err
	}
	return Open(dst, opts)
}
