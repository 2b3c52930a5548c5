package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCarveFromTail(t *testing.T) {
	var persisted int64 = -1
	a := New(Options{
		TotalLength: 1000,
		TailFree:    200,
		PersistTailFree: func(n int64) error {
			persisted = n
			return nil
		},
	})

	r, err := a.Request(50)
	require.NoError(t, err)
	assert.Equal(t, int64(800), r.Offset)
	assert.Equal(t, int64(50), r.Length)
	assert.Equal(t, int64(150), persisted)
}

func TestBestFitReclaimed(t *testing.T) {
	a := New(Options{TotalLength: 1000, TailFree: 0})
	require.NoError(t, a.Release(100, 30))
	require.NoError(t, a.Release(500, 10))

	r, err := a.Request(10)
	require.NoError(t, err)
	assert.Equal(t, int64(500), r.Offset, "best fit should pick the smallest region that still satisfies the request")
}

func TestNotEnoughSpaceWithoutAutoGrow(t *testing.T) {
	a := New(Options{TotalLength: 100, TailFree: 5})
	_, err := a.Request(50)
	require.Error(t, err)
	assert.ErrorIs(t, err, NotEnoughSpace)
}

func TestAutoGrowExtendsTail(t *testing.T) {
	grown := int64(0)
	a := New(Options{
		TotalLength: 100,
		TailFree:    5,
		AutoGrow:    true,
		Grow: func(extra int64) error {
			grown = extra
			return nil
		},
	})

	r, err := a.Request(50)
	require.NoError(t, err)
	assert.Equal(t, int64(45), grown)
	assert.Equal(t, int64(95), r.Offset)
}

func TestReleaseExtendsTailWhenContiguous(t *testing.T) {
	a := New(Options{TotalLength: 1000, TailFree: 100})
	require.NoError(t, a.Release(850, 50))

	stats := a.Stats()
	assert.Equal(t, int64(150), stats.TailFree)
	assert.Equal(t, 0, stats.ReclaimedRegions)
}

func TestReleaseAppendsWhenNotContiguous(t *testing.T) {
	a := New(Options{TotalLength: 1000, TailFree: 100})
	require.NoError(t, a.Release(200, 50))

	stats := a.Stats()
	assert.Equal(t, int64(100), stats.TailFree)
	assert.Equal(t, 1, stats.ReclaimedRegions)
	assert.Equal(t, int64(50), stats.ReclaimedTotal)
}

func TestRebuildRequiredWhenWasteExceedsHalf(t *testing.T) {
	a := New(Options{TotalLength: 1000, TailFree: 0, OriginalLength: 1000})
	require.NoError(t, a.Release(0, 400))

	err := a.Release(500, 200)
	require.Error(t, err)
	assert.ErrorIs(t, err, RebuildRequired)
}
