package rtree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/rtbtree/pkg/bulk"
	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/rtkey"
	"github.com/ssargent/rtbtree/pkg/search"
	"github.com/ssargent/rtbtree/pkg/treebuild"
)

func entry(key string, rp byte) treebuild.Entry {
	return treebuild.Entry{Key: rtkey.String(key), Values: []layout.Value{{RecordPointer: []byte{rp}}}}
}

func value(rp byte) layout.Value {
	return layout.Value{RecordPointer: []byte{rp}}
}

func TestCreateFromInitialEntriesThenFind(t *testing.T) {
	entries := []treebuild.Entry{entry("apple", 1), entry("banana", 2), entry("cherry", 3)}
	dst := bytesource.NewMemorySource()

	tr, err := Create(dst, Options{MaxEntries: 4, InitialEntries: entries})
	require.NoError(t, err)

	results, err := tr.Find(context.Background(), rtkey.String("banana"), search.Projection{IncludeValues: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []byte{2}, results[0].Values[0].RecordPointer)
}

func TestCreateEmptyThenAddAndFind(t *testing.T) {
	dst := bytesource.NewMemorySource()

	tr, err := Create(dst, Options{MaxEntries: 4})
	require.NoError(t, err)

	require.NoError(t, tr.Add(context.Background(), rtkey.String("apple"), value(1)))
	require.NoError(t, tr.Add(context.Background(), rtkey.String("banana"), value(2)))

	results, err := tr.Find(context.Background(), rtkey.String("apple"), search.Projection{IncludeValues: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []byte{1}, results[0].Values[0].RecordPointer)
}

func TestOpenRoundTripsRootAfterAdd(t *testing.T) {
	dst := bytesource.NewMemorySource()
	tr, err := Create(dst, Options{MaxEntries: 4})
	require.NoError(t, err)
	require.NoError(t, tr.Add(context.Background(), rtkey.String("apple"), value(1)))

	reopened, err := Open(dst, Options{})
	require.NoError(t, err)

	results, err := reopened.Find(context.Background(), rtkey.String("apple"), search.Projection{IncludeValues: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestAddRemoveUpdate(t *testing.T) {
	dst := bytesource.NewMemorySource()
	tr, err := Create(dst, Options{MaxEntries: 4})
	require.NoError(t, err)

	require.NoError(t, tr.Add(context.Background(), rtkey.String("apple"), value(1)))
	require.NoError(t, tr.Update(context.Background(), rtkey.String("apple"), value(9), []byte{1}))

	results, err := tr.Find(context.Background(), rtkey.String("apple"), search.Projection{IncludeValues: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []byte{9}, results[0].Values[0].RecordPointer)

	require.NoError(t, tr.Remove(context.Background(), rtkey.String("apple"), []byte{9}))
	results, err = tr.Find(context.Background(), rtkey.String("apple"), search.Projection{IncludeValues: true})
	require.NoError(t, err)
	assert.Len(t, results, 0)
}

func TestTransactionStopsOnFirstFailureWithoutRollback(t *testing.T) {
	dst := bytesource.NewMemorySource()
	tr, err := Create(dst, Options{MaxEntries: 4, Unique: true})
	require.NoError(t, err)

	ops := []Op{
		{Kind: OpAdd, Key: rtkey.String("apple"), Value: value(1)},
		{Kind: OpAdd, Key: rtkey.String("banana"), Value: value(2)},
		{Kind: OpAdd, Key: rtkey.String("apple"), Value: value(3)}, // duplicate under Unique: fails
		{Kind: OpAdd, Key: rtkey.String("cherry"), Value: value(4)},
	}

	err = tr.Transaction(context.Background(), ops)
	require.Error(t, err)

	_, err = tr.Find(context.Background(), rtkey.String("apple"), search.Projection{IncludeValues: true})
	require.NoError(t, err)
	_, err = tr.Find(context.Background(), rtkey.String("banana"), search.Projection{IncludeValues: true})
	require.NoError(t, err)

	results, err := tr.Find(context.Background(), rtkey.String("cherry"), search.Projection{IncludeValues: true})
	require.NoError(t, err)
	assert.Len(t, results, 0, "the op after the failing one must not have applied")
}

func TestGetFirstLastAndFindLeaf(t *testing.T) {
	entries := []treebuild.Entry{entry("apple", 1), entry("banana", 2), entry("cherry", 3)}
	dst := bytesource.NewMemorySource()
	tr, err := Create(dst, Options{MaxEntries: 4, InitialEntries: entries})
	require.NoError(t, err)

	first, err := tr.GetFirstLeaf(context.Background())
	require.NoError(t, err)
	assert.True(t, rtkey.Equal(first.Body.Entries[0].Key, rtkey.String("apple")))

	last, err := tr.GetLastLeaf(context.Background())
	require.NoError(t, err)
	assert.True(t, rtkey.Equal(last.Body.Entries[len(last.Body.Entries)-1].Key, rtkey.String("cherry")))

	leaf, err := tr.FindLeaf(context.Background(), rtkey.String("banana"))
	require.NoError(t, err)
	require.Len(t, leaf.Body.Entries, 3)
}

func TestRebuildPreservesEntries(t *testing.T) {
	entries := []treebuild.Entry{entry("apple", 1), entry("banana", 2), entry("cherry", 3)}
	dst := bytesource.NewMemorySource()
	tr, err := Create(dst, Options{MaxEntries: 4, InitialEntries: entries})
	require.NoError(t, err)

	require.NoError(t, tr.Add(context.Background(), rtkey.String("date"), value(4)))
	require.NoError(t, tr.Remove(context.Background(), rtkey.String("banana"), []byte{2}))

	rebuilt := bytesource.NewMemorySource()
	out, err := tr.Rebuild(context.Background(), rebuilt, Options{})
	require.NoError(t, err)

	_, err = out.Find(context.Background(), rtkey.String("banana"), search.Projection{IncludeValues: true})
	require.NoError(t, err)
	results, err := out.Find(context.Background(), rtkey.String("date"), search.Projection{IncludeValues: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestStatsReportsDepthAndCounts(t *testing.T) {
	entries := []treebuild.Entry{entry("apple", 1), entry("banana", 2), entry("cherry", 3)}
	dst := bytesource.NewMemorySource()
	tr, err := Create(dst, Options{MaxEntries: 4, InitialEntries: entries})
	require.NoError(t, err)

	stats, err := tr.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Depth)
	assert.Equal(t, 1, stats.LeafCount)
	assert.Equal(t, 3, stats.LiveEntryCount)
	assert.Equal(t, 3, stats.LiveValueCount)
}

func TestCreateFromEntryStreamBuildsFindableTree(t *testing.T) {
	entries := []treebuild.Entry{entry("apple", 1), entry("banana", 2), entry("cherry", 3)}
	streamSrc := bytesource.NewMemorySource()
	for _, e := range entries {
		enc, err := bulk.EncodeEntryStreamEntry(e)
		require.NoError(t, err)
		_, err = streamSrc.Append(enc)
		require.NoError(t, err)
	}

	dst := bytesource.NewMemorySource()
	tr, err := CreateFromEntryStream(streamSrc, dst, Options{MaxEntries: 4})
	require.NoError(t, err)

	results, err := tr.Find(context.Background(), rtkey.String("cherry"), search.Projection{IncludeValues: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
}
