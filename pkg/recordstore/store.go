// Package recordstore resolves a tree's opaque record pointers to the
// payload bytes they refer to. spec.md §1 names a record pointer as "an
// opaque byte string the caller attaches meaning to" and explicitly keeps
// payload storage out of the tree's scope; this package is the
// illustrative collaborator on the other side of that pointer, the same
// role the teacher's pkg/storage.DefaultStorage plays for its B+tree's
// KSUID-keyed values.
package recordstore

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/segmentio/ksuid"
)

// NotFound reports a record pointer with no corresponding payload.
var NotFound = errors.New("recordstore: record not found")

// Store is a pebble-backed key-value store keyed by ksuid-generated
// record pointers, mirroring pkg/storage.DefaultStorage's Create/Read/
// Update/Delete shape over the same dependency.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if needed) a record store at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "recordstore: opening pebble store")
	}
	return &Store{db: db}, nil
}

// Put stores payload under a freshly generated record pointer and
// returns it; the tree's Add call then indexes this pointer under the
// entry's key.
func (s *Store) Put(payload []byte) ([]byte, error) {
	id := ksuid.New()
	key := id.Bytes()
	if err := s.db.Set(key, payload, pebble.NoSync); err != nil {
		return nil, errors.Wrap(err, "recordstore: writing record")
	}
	return key, nil
}

// Get resolves a record pointer to its payload. The returned slice is a
// copy; pebble's own buffer is released before Get returns.
func (s *Store) Get(pointer []byte) ([]byte, error) {
	data, closer, err := s.db.Get(pointer)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, errors.Wrapf(NotFound, "pointer %x", pointer)
		}
		return nil, errors.Wrap(err, "recordstore: reading record")
	}
	defer closer.Close()

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Update overwrites the payload stored under an existing record pointer,
// used when a tree Update keeps the same pointer and only the payload
// changes.
func (s *Store) Update(pointer, payload []byte) error {
	if err := s.db.Set(pointer, payload, pebble.NoSync); err != nil {
		return errors.Wrap(err, "recordstore: updating record")
	}
	return nil
}

// Delete removes the payload stored under pointer, used when a tree
// Remove drops its last reference to that pointer.
func (s *Store) Delete(pointer []byte) error {
	if err := s.db.Delete(pointer, pebble.NoSync); err != nil {
		return errors.Wrap(err, "recordstore: deleting record")
	}
	return nil
}

// Close closes the underlying pebble store.
func (s *Store) Close() error {
	return s.db.Close()
}
