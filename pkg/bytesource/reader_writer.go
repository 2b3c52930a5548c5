package bytesource

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/rtbtree/pkg/rtkey"
)

// DefaultChunkSize is the read-ahead chunk size used when no override is
// supplied to NewReader.
const DefaultChunkSize = 4096

// Cursor is an opaque saved read position, returned by SavePosition and
// consumed by Restore.
type Cursor struct {
	pos int64
}

// Reader provides buffered, chunked sequential reads over a Source, plus
// typed helpers used by the layout and navigation code.
type Reader struct {
	src       Source
	chunkSize int
	pos       int64
	chunk     []byte
	chunkAt   int64
}

// NewReader builds a Reader over src with the given read-ahead chunk size
// (DefaultChunkSize if n <= 0).
func NewReader(src Source, chunkSize int) *Reader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Reader{src: src, chunkSize: chunkSize}
}

// Init resets the reader to the start of the source.
func (r *Reader) Init() {
	r.pos = 0
	r.chunk = nil
}

// Seek moves the logical read position to an absolute offset.
func (r *Reader) Seek(absolute int64) {
	r.pos = absolute
}

// SourceIndex returns the current logical read position.
func (r *Reader) SourceIndex() int64 { return r.pos }

// Skip advances the read position by n bytes without reading them.
func (r *Reader) Skip(n int64) {
	r.pos += n
}

// SavePosition snapshots the current read position.
func (r *Reader) SavePosition() Cursor { return Cursor{pos: r.pos} }

// Restore rewinds to a previously saved position.
func (r *Reader) Restore(c Cursor) { r.pos = c.pos }

// Clone returns an independent Reader over the same Source at the same
// position; the two cursors do not interfere with each other.
func (r *Reader) Clone() *Reader {
	return &Reader{src: r.src, chunkSize: r.chunkSize, pos: r.pos}
}

// ensureChunk makes sure the chunk buffer covers [r.pos, r.pos+n).
func (r *Reader) ensureChunk(n int) error {
	if r.chunk != nil && r.pos >= r.chunkAt && r.pos+int64(n) <= r.chunkAt+int64(len(r.chunk)) {
		return nil
	}
	size := r.chunkSize
	if n > size {
		size = n
	}
	buf := make([]byte, size)
	read, err := r.src.ReadAt(buf, r.pos)
	if err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(IOError, err.Error())
	}
	if read < n {
		return io.EOF
	}
	r.chunk = buf[:read]
	r.chunkAt = r.pos
	return nil
}

// Get reads and returns the next n bytes, advancing the position.
func (r *Reader) Get(n int) ([]byte, error) {
	if err := r.ensureChunk(n); err != nil {
		return nil, err
	}
	start := r.pos - r.chunkAt
	out := make([]byte, n)
	copy(out, r.chunk[start:start+int64(n)])
	r.pos += int64(n)
	return out, nil
}

// GetUint32 reads a big-endian uint32.
func (r *Reader) GetUint32() (uint32, error) {
	b, err := r.Get(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// GetInt32 reads a big-endian int32.
func (r *Reader) GetInt32() (int32, error) {
	v, err := r.GetUint32()
	return int32(v), err
}

// GetByte reads a single byte.
func (r *Reader) GetByte() (byte, error) {
	b, err := r.Get(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// GetValue decodes a key-codec tagged value at the current position.
func (r *Reader) GetValue() (rtkey.Value, error) {
	tagLen, err := r.Get(2)
	if err != nil {
		return rtkey.Value{}, err
	}
	n := int(tagLen[1])
	payload, err := r.Get(n)
	if err != nil {
		return rtkey.Value{}, err
	}
	full := append(tagLen, payload...)
	v, _, err := rtkey.Decode(full)
	return v, err
}

// Writer provides positioned overwrite and sequential append over a
// Source, with a logical end-of-data position counter.
type Writer struct {
	src Source
}

// NewWriter builds a Writer over src.
func NewWriter(src Source) *Writer {
	return &Writer{src: src}
}

// Append writes buf past the current logical end and returns its offset.
// The boolean result is true whenever err is nil; Source.Append carries
// no backpressure signal for it to pass on.
func (w *Writer) Append(buf []byte) (offset int64, ok bool, err error) {
	offset, err = w.src.Append(buf)
	if err != nil {
		return 0, false, err
	}
	return offset, true, nil
}

// Write overwrites buf at an absolute, possibly already-written, index.
func (w *Writer) Write(buf []byte, absoluteIndex int64) error {
	_, err := w.src.WriteAt(buf, absoluteIndex)
	return err
}

// End returns the writer's current logical length.
func (w *Writer) End() int64 { return w.src.End() }

// Sync flushes buffered writes to the backing medium.
func (w *Writer) Sync() error { return w.src.Sync() }
