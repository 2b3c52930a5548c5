package recordstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrips(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	pointer, err := store.Put([]byte("hello world"))
	require.NoError(t, err)
	assert.NotEmpty(t, pointer)

	got, err := store.Get(pointer)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
}

func TestGetMissingPointerReturnsNotFound(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get([]byte("does-not-exist"))
	require.Error(t, err)
	assert.ErrorIs(t, err, NotFound)
}

func TestUpdateOverwritesPayload(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	pointer, err := store.Put([]byte("v1"))
	require.NoError(t, err)

	require.NoError(t, store.Update(pointer, []byte("v2")))

	got, err := store.Get(pointer)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestDeleteRemovesPayload(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	pointer, err := store.Put([]byte("gone soon"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(pointer))

	_, err = store.Get(pointer)
	assert.ErrorIs(t, err, NotFound)
}
