package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/rtbtree/pkg/offsetenc"
	"github.com/ssargent/rtbtree/pkg/rtkey"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Flags:          FlagUnique | FlagHasFillFactor | FlagHasFreeSpace | FlagHasMetadata,
		MaxEntries:     200,
		FillFactor:     90,
		FreeByteLength: 1024,
		MetadataKeys:   []string{"region", "tier"},
	}
	enc, err := EncodeHeader(h)
	require.NoError(t, err)

	dec, err := DecodeHeader(enc)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(enc)), dec.ByteLength)
	assert.Equal(t, h.Flags, dec.Flags)
	assert.Equal(t, h.MaxEntries, dec.MaxEntries)
	assert.Equal(t, h.FillFactor, dec.FillFactor)
	assert.Equal(t, h.FreeByteLength, dec.FreeByteLength)
	assert.Equal(t, h.MetadataKeys, dec.MetadataKeys)
}

func TestHeaderWithoutOptionalFields(t *testing.T) {
	h := Header{Flags: FlagUnique, MaxEntries: 64}
	enc, err := EncodeHeader(h)
	require.NoError(t, err)
	assert.Len(t, enc, 6)

	dec, err := DecodeHeader(enc)
	require.NoError(t, err)
	assert.Equal(t, h.MaxEntries, dec.MaxEntries)
}

func TestNodeRoundTrip(t *testing.T) {
	n := Node{
		FreeByteLength: 16,
		Pivots: []Pivot{
			{Key: rtkey.String("banana"), LTChildOffset: 100},
			{Key: rtkey.String("cherry"), LTChildOffset: -50},
		},
		GTChildOffset: 5000,
	}
	enc, err := EncodeNode(n, offsetenc.Width47, 4)
	require.NoError(t, err)

	dec, err := DecodeNode(enc, offsetenc.Width47)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(enc)), dec.ByteLength)
	require.Len(t, dec.Pivots, 2)
	assert.True(t, rtkey.Equal(n.Pivots[0].Key, dec.Pivots[0].Key))
	assert.Equal(t, n.Pivots[0].LTChildOffset, dec.Pivots[0].LTChildOffset)
	assert.Equal(t, n.Pivots[1].LTChildOffset, dec.Pivots[1].LTChildOffset)
	assert.Equal(t, n.GTChildOffset, dec.GTChildOffset)
}

func TestLeafRoundTripSmallInline(t *testing.T) {
	l := Leaf{
		Flags:      LeafIsLeaf,
		PrevOffset: -10,
		NextOffset: 200,
		Entries: []LeafEntry{
			{
				Key: rtkey.String("apple"),
				InlineValues: []Value{
					{RecordPointer: []byte{1}, Metadata: rtkey.Tuple{rtkey.String("us")}},
				},
			},
			{
				Key: rtkey.String("banana"),
				InlineValues: []Value{
					{RecordPointer: []byte{2}, Metadata: rtkey.Tuple{rtkey.String("eu")}},
				},
			},
		},
	}
	opts := EncodeOptions{Width: offsetenc.Width47, SmallLeaves: true}
	enc, err := EncodeLeaf(l, opts)
	require.NoError(t, err)

	dec, err := DecodeLeaf(enc, offsetenc.Width47, true, 1)
	require.NoError(t, err)
	assert.Equal(t, l.PrevOffset, dec.PrevOffset)
	assert.Equal(t, l.NextOffset, dec.NextOffset)
	require.Len(t, dec.Entries, 2)
	assert.True(t, rtkey.Equal(l.Entries[0].Key, dec.Entries[0].Key))
	assert.Equal(t, uint32(1), dec.Entries[0].TotalValues)
	assert.Equal(t, []byte{1}, dec.Entries[0].InlineValues[0].RecordPointer)
	assert.True(t, rtkey.Equal(rtkey.String("us"), dec.Entries[0].InlineValues[0].Metadata[0]))
}

func TestLeafRoundTripLargeMode(t *testing.T) {
	l := Leaf{
		Flags:      LeafIsLeaf,
		PrevOffset: 0,
		NextOffset: 0,
		Entries: []LeafEntry{
			{Key: rtkey.Number(42), InlineValues: []Value{{RecordPointer: []byte("rp-1")}}},
		},
	}
	opts := EncodeOptions{Width: offsetenc.Width31, SmallLeaves: false}
	enc, err := EncodeLeaf(l, opts)
	require.NoError(t, err)

	dec, err := DecodeLeaf(enc, offsetenc.Width31, false, 0)
	require.NoError(t, err)
	require.Len(t, dec.Entries, 1)
	assert.Equal(t, []byte("rp-1"), dec.Entries[0].InlineValues[0].RecordPointer)
}

func TestLeafExtDataRef(t *testing.T) {
	l := Leaf{
		Flags:              LeafIsLeaf | LeafHasExtData,
		ExtDataTotalLength: 4096,
		ExtDataFreeLength:  100,
		Entries: []LeafEntry{
			{Key: rtkey.String("k"), Ext: &ExtRef{Ptr: 12, ListLength: 3000}},
		},
	}
	opts := EncodeOptions{Width: offsetenc.Width47, SmallLeaves: true}
	enc, err := EncodeLeaf(l, opts)
	require.NoError(t, err)

	dec, err := DecodeLeaf(enc, offsetenc.Width47, true, 0)
	require.NoError(t, err)
	require.NotNil(t, dec.Entries[0].Ext)
	assert.Equal(t, uint32(12), dec.Entries[0].Ext.Ptr)
	assert.Equal(t, uint32(3000), dec.Entries[0].Ext.ListLength)
	assert.Equal(t, l.ExtDataTotalLength, dec.ExtDataTotalLength)
}

func TestInlineBudgetExceeded(t *testing.T) {
	vals := make([]Value, 0, 10)
	for i := 0; i < 10; i++ {
		vals = append(vals, Value{RecordPointer: []byte("0123456789012345")})
	}
	l := Leaf{
		Flags:   LeafIsLeaf,
		Entries: []LeafEntry{{Key: rtkey.String("k"), InlineValues: vals}},
	}
	_, err := EncodeLeaf(l, EncodeOptions{Width: offsetenc.Width47, SmallLeaves: true})
	require.Error(t, err)
}

func TestExtDataRoundTrip(t *testing.T) {
	values := []Value{
		{RecordPointer: []byte{1, 2}},
		{RecordPointer: []byte{3}},
	}
	enc, err := EncodeExtData(values, 50)
	require.NoError(t, err)

	dec, err := DecodeExtData(enc, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(50), dec.FreeLength)
	require.Len(t, dec.Values, 2)
	assert.Equal(t, []byte{1, 2}, dec.Values[0].RecordPointer)
}

func TestPaddingBytes(t *testing.T) {
	assert.Equal(t, 0, PaddingBytes(10, 10, 5))
	p := PaddingBytes(5, 10, 5)
	assert.Greater(t, p, 0)
}
