package bulk

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/rtkey"
	"github.com/ssargent/rtbtree/pkg/treebuild"
)

// TruncatedStream reports an entry stream that ends mid-record.
var TruncatedStream = errors.New("bulk: truncated sorted entry stream")

// EncodeEntryStreamEntry serializes one sorted-entry-stream record per
// spec.md §4.K: a 4-byte key length, the key codec bytes, a 4-byte value
// count, then per value a 4-byte length followed by that value's
// (record-pointer, metadata) encoding.
func EncodeEntryStreamEntry(e treebuild.Entry) ([]byte, error) {
	keyBytes, err := rtkey.Encode(e.Key)
	if err != nil {
		return nil, err
	}

	var out []byte
	var kl [4]byte
	binary.BigEndian.PutUint32(kl[:], uint32(len(keyBytes)))
	out = append(out, kl[:]...)
	out = append(out, keyBytes...)

	var vc [4]byte
	binary.BigEndian.PutUint32(vc[:], uint32(len(e.Values)))
	out = append(out, vc[:]...)

	for _, v := range e.Values {
		vb, err := layout.EncodeValueList([]layout.Value{v})
		if err != nil {
			return nil, err
		}
		var vl [4]byte
		binary.BigEndian.PutUint32(vl[:], uint32(len(vb)))
		out = append(out, vl[:]...)
		out = append(out, vb...)
	}
	return out, nil
}

// EncodeEntryStream appends entries, in order, to dst using
// EncodeEntryStreamEntry's wire format. Used by producers (and tests)
// that assemble a sorted-entry-stream file for BuildFromEntryStream to
// consume.
func EncodeEntryStream(dst bytesource.Source, entries []treebuild.Entry) error {
	for _, e := range entries {
		b, err := EncodeEntryStreamEntry(e)
		if err != nil {
			return err
		}
		if _, err := dst.Append(b); err != nil {
			return err
		}
	}
	return nil
}

// decodeEntryStreamEntry parses one record at r's current position.
func decodeEntryStreamEntry(r *bytesource.Reader, metadataKeyCount int) (treebuild.Entry, error) {
	keyLen, err := r.GetUint32()
	if err != nil {
		return treebuild.Entry{}, errors.Wrap(TruncatedStream, err.Error())
	}
	keyBytes, err := r.Get(int(keyLen))
	if err != nil {
		return treebuild.Entry{}, errors.Wrap(TruncatedStream, err.Error())
	}
	key, _, err := rtkey.Decode(keyBytes)
	if err != nil {
		return treebuild.Entry{}, err
	}

	valueCount, err := r.GetUint32()
	if err != nil {
		return treebuild.Entry{}, errors.Wrap(TruncatedStream, err.Error())
	}

	values := make([]layout.Value, 0, valueCount)
	for i := 0; i < int(valueCount); i++ {
		vLen, err := r.GetUint32()
		if err != nil {
			return treebuild.Entry{}, errors.Wrap(TruncatedStream, err.Error())
		}
		vb, err := r.Get(int(vLen))
		if err != nil {
			return treebuild.Entry{}, errors.Wrap(TruncatedStream, err.Error())
		}
		decoded, err := layout.DecodeValueList(vb, metadataKeyCount)
		if err != nil {
			return treebuild.Entry{}, err
		}
		values = append(values, decoded...)
	}
	return treebuild.Entry{Key: key, Values: values}, nil
}

// DecodeEntryStream parses every record out of src, in order, until its
// logical end. spec.md §4.K describes walking a sorted entry stream
// twice (once to collect leaf-start keys, once for the data itself) so a
// streaming builder never holds every entry in memory at once; this port
// instead decodes the whole stream in a single pass and builds the tree
// from the resulting slice through pkg/treebuild, which already requires
// every entry in memory to balance the tree bottom-up. A true
// external-memory streaming path is left as future work (see DESIGN.md).
func DecodeEntryStream(src bytesource.Source, metadataKeyCount int) ([]treebuild.Entry, error) {
	r := bytesource.NewReader(src, bytesource.DefaultChunkSize)
	var entries []treebuild.Entry
	for r.SourceIndex() < src.End() {
		e, err := decodeEntryStreamEntry(r, metadataKeyCount)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return nil, NoEntries
	}
	return entries, nil
}

// BuildFromEntryStream builds a brand-new tree file in dst from a sorted
// entry stream held in src, per spec.md §4.K's build-from-sorted-stream
// variant and §6's createFromEntryStream(reader, writer, opts).
func BuildFromEntryStream(src bytesource.Source, dst bytesource.Source, opts Options) (Result, error) {
	entries, err := DecodeEntryStream(src, opts.MetadataKeyCount)
	if err != nil {
		return Result{}, err
	}
	return BuildFromEntries(dst, entries, opts)
}
