package rtree

import (
	"encoding/binary"

	"github.com/ssargent/rtbtree/pkg/bulk"
	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/layout"
)

// bulkOptions translates a Tree's format Options into pkg/bulk's.
func bulkOptions(o Options) bulk.Options {
	return bulk.Options{
		MaxEntries:       o.MaxEntries,
		FillFactor:       o.FillFactor,
		MinNode:          o.MinNode,
		Width:            o.Width,
		SmallLeaves:      o.SmallLeaves,
		Unique:           o.Unique,
		MetadataKeyCount: len(o.MetadataKeys),
		MetadataKeys:     o.MetadataKeys,
		PadFactor:        o.PadFactor,
	}
}

// Create is spec.md §6's static create(opts) constructor. With
// opts.InitialEntries populated it bulk-builds the tree from them
// (pkg/bulk.BuildFromEntries); with none, it bootstraps a minimal empty
// tree (header, root-pointer slot, one empty leaf as root) that Add can
// then grow from scratch — a case pkg/bulk does not cover, since
// pkg/treebuild.Build requires at least one entry to balance.
func Create(dst bytesource.Source, opts Options) (*Tree, error) {
	opts = opts.withDefaults()

	if len(opts.InitialEntries) > 0 {
		if _, err := bulk.BuildFromEntries(dst, opts.InitialEntries, bulkOptions(opts)); err != nil {
			return nil, err
		}
		return Open(dst, opts)
	}

	if err := bootstrapEmptyTree(dst, opts); err != nil {
		return nil, err
	}
	return Open(dst, opts)
}

// CreateFromEntryStream is spec.md §6's static createFromEntryStream
// constructor: bulk-build a tree from a sorted entry stream held in src,
// writing the result to dst.
func CreateFromEntryStream(src, dst bytesource.Source, opts Options) (*Tree, error) {
	opts = opts.withDefaults()
	if _, err := bulk.BuildFromEntryStream(src, dst, bulkOptions(opts)); err != nil {
		return nil, err
	}
	return Open(dst, opts)
}

// bootstrapEmptyTree writes the smallest valid tree file: a header, a
// root-pointer slot, and a single empty leaf as root, laid out the same
// way pkg/bulk.writeTree lays out a built tree so Open (and any future
// Add/Remove/Update against it) sees an ordinary tree file. Unlike
// writeTree it reserves no free tail region: the header's free byte
// length is zero.
func bootstrapEmptyTree(dst bytesource.Source, opts Options) error {
	header := layout.Header{
		Flags:        treeFlags(opts),
		MaxEntries:   byte(opts.MaxEntries),
		FillFactor:   byte(opts.FillFactor),
		MetadataKeys: opts.MetadataKeys,
	}
	headerBytes, err := layout.EncodeHeader(header)
	if err != nil {
		return err
	}
	if _, err := dst.Append(headerBytes); err != nil {
		return err
	}

	rootPtrOffset, err := dst.Append(make([]byte, rootPointerWidth))
	if err != nil {
		return err
	}

	leafBytes, err := layout.EncodeLeaf(layout.Leaf{Flags: layout.LeafIsLeaf}, layout.EncodeOptions{
		Width:       opts.Width,
		SmallLeaves: opts.SmallLeaves,
	})
	if err != nil {
		return err
	}
	rootOffset, err := dst.Append(leafBytes)
	if err != nil {
		return err
	}

	var rootPtrBytes [rootPointerWidth]byte
	binary.BigEndian.PutUint64(rootPtrBytes[:], uint64(rootOffset))
	if _, err := dst.WriteAt(rootPtrBytes[:], rootPtrOffset); err != nil {
		return err
	}

	return dst.Sync()
}
