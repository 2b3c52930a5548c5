package mutator

import (
	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/navigator"
)

// loadExtValues reads and decodes the full value list an entry's ext_data
// reference points to, the same raw-range read pkg/search's loadExtValues
// performs for the read path.
func (m *Mutator) loadExtValues(leaf navigator.Leaf, ref *layout.ExtRef) ([]layout.Value, error) {
	r := bytesource.NewReader(m.src, bytesource.DefaultChunkSize)
	r.Seek(leaf.ExtDataOffset(ref))
	buf, err := r.Get(int(ref.ListLength))
	if err != nil {
		return nil, err
	}
	return layout.DecodeValueList(buf, m.metadataKeyCount)
}
