package rtree

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/rtbtree/pkg/alloc"
	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/lockreg"
	"github.com/ssargent/rtbtree/pkg/mutator"
	"github.com/ssargent/rtbtree/pkg/navigator"
	"github.com/ssargent/rtbtree/pkg/search"
	"github.com/ssargent/rtbtree/pkg/txn"
)

// Open wires a Tree over an existing tree file, deriving its on-disk
// shape (offset width, small-leaf mode, uniqueness, metadata keys, max
// entries, fill factor) from the header at src's offset 0 rather than
// from runtimeOpts, which supplies the operational knobs (AutoGrow,
// TreeID) and MinNode, which the header does not record.
func Open(src bytesource.Source, runtimeOpts Options) (*Tree, error) {
	runtimeOpts = runtimeOpts.withDefaults()

	lengthBuf := make([]byte, 4)
	if _, err := src.ReadAt(lengthBuf, 0); err != nil {
		return nil, errors.Wrap(err, "rtree: reading header length prefix")
	}
	headerLen := int64(binary.BigEndian.Uint32(lengthBuf))

	headerBuf := make([]byte, headerLen)
	if _, err := src.ReadAt(headerBuf, 0); err != nil {
		return nil, errors.Wrap(err, "rtree: reading header")
	}
	header, err := layout.DecodeHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	rootPtrOffset := headerLen
	rootPtrBuf := make([]byte, rootPointerWidth)
	if _, err := src.ReadAt(rootPtrBuf, rootPtrOffset); err != nil {
		return nil, errors.Wrap(err, "rtree: reading root pointer")
	}
	rootOffset := int64(binary.BigEndian.Uint64(rootPtrBuf))

	opts := runtimeOpts
	opts.Width = header.Flags.OffsetWidth()
	opts.SmallLeaves = header.Flags.Has(layout.FlagSmallLeaves)
	opts.Unique = header.Flags.Has(layout.FlagUnique)
	opts.MetadataKeys = header.MetadataKeys
	opts.MaxEntries = int(header.MaxEntries)
	if header.Flags.Has(layout.FlagHasFillFactor) {
		opts.FillFactor = int(header.FillFactor)
	}

	tailFree := int64(0)
	if header.Flags.Has(layout.FlagHasFreeSpace) {
		tailFree = int64(header.FreeByteLength)
	}

	return wire(src, opts, rootOffset, rootPtrOffset, tailFree)
}

// wire constructs a Tree's collaborators over an already-laid-out file.
func wire(src bytesource.Source, opts Options, rootOffset, rootPtrOffset, tailFree int64) (*Tree, error) {
	nav := navigator.New(src, opts.Width, opts.SmallLeaves, len(opts.MetadataKeys))
	locks := lockreg.New()
	txnEngine := txn.New()

	t := &Tree{
		src:              src,
		nav:              nav,
		treeID:           opts.TreeID,
		width:            opts.Width,
		smallLeaves:      opts.SmallLeaves,
		unique:           opts.Unique,
		metadataKeys:     opts.MetadataKeys,
		metadataKeyCount: len(opts.MetadataKeys),
		maxEntries:       opts.MaxEntries,
		fillFactor:       opts.FillFactor,
		minNode:          opts.MinNode,
		autoGrow:         opts.AutoGrow,
		rootPtrOffset:    rootPtrOffset,
		rootOffset:       rootOffset,
		locks:            locks,
		txn:              txnEngine,
	}

	t.alloc = alloc.New(alloc.Options{
		TotalLength:     src.End(),
		TailFree:        tailFree,
		OriginalLength:  src.End(),
		AutoGrow:        opts.AutoGrow,
		PersistTailFree: t.persistTailFree,
		Grow:            t.grow,
	})

	t.search = search.New(nav, src, t.metadataKeyCount)
	t.mutator = mutator.New(mutator.Options{
		Navigator:        nav,
		Source:           src,
		Allocator:        t.alloc,
		Txn:              txnEngine,
		Locks:            locks,
		TreeID:           t.treeID,
		Width:            opts.Width,
		SmallLeaves:      opts.SmallLeaves,
		MetadataKeyCount: t.metadataKeyCount,
		Unique:           opts.Unique,
		MaxEntries:       t.maxEntries,
	})

	return t, nil
}

// persistTailFree rewrites the header's free-byte-length field in place;
// every other header field is unchanged, and FreeByteLength is a
// fixed-width field, so the rewritten header is always the same length
// as the one already on disk.
func (t *Tree) persistTailFree(newTailFree int64) error {
	headerBuf := make([]byte, 4)
	if _, err := t.src.ReadAt(headerBuf, 0); err != nil {
		return err
	}
	headerLen := int64(binary.BigEndian.Uint32(headerBuf))
	full := make([]byte, headerLen)
	if _, err := t.src.ReadAt(full, 0); err != nil {
		return err
	}
	header, err := layout.DecodeHeader(full)
	if err != nil {
		return err
	}
	header.FreeByteLength = uint32(newTailFree)
	encoded, err := layout.EncodeHeader(header)
	if err != nil {
		return err
	}
	_, err = t.src.WriteAt(encoded, 0)
	return err
}

// grow extends the tree file by extraBytes, used by the allocator's
// auto-grow path before it carves a new tail region out of the larger
// file.
func (t *Tree) grow(extraBytes int64) error {
	_, err := t.src.Append(make([]byte, extraBytes))
	return err
}
