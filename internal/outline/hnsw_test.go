package outline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_AddAndRoute_ReturnsShardsOfNearestNodes(t *testing.T) {
	idx := New(DefaultConfig())

	require.NoError(t, idx.Add("node-a", []float32{1, 0, 0}, []uint32{1, 2}))
	require.NoError(t, idx.Add("node-b", []float32{0, 1, 0}, []uint32{3}))

	shards := idx.Route([]float32{1, 0, 0}, 1, 0)
	assert.ElementsMatch(t, []uint32{1, 2}, shards)
}

func TestIndex_Route_DeduplicatesAndSortsShards(t *testing.T) {
	idx := New(DefaultConfig())

	require.NoError(t, idx.Add("node-a", []float32{1, 0}, []uint32{5, 1}))
	require.NoError(t, idx.Add("node-b", []float32{0.9, 0.1}, []uint32{1, 2}))

	shards := idx.Route([]float32{1, 0}, 5, 0)
	assert.Equal(t, []uint32{1, 2, 5}, shards)
}

func TestIndex_Route_TruncatesToMaxShards(t *testing.T) {
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add("node-a", []float32{1, 0}, []uint32{1, 2, 3, 4, 5}))

	shards := idx.Route([]float32{1, 0}, 5, 2)
	assert.Len(t, shards, 2)
}

func TestIndex_Route_EmptyGraphReturnsNil(t *testing.T) {
	idx := New(DefaultConfig())
	assert.Nil(t, idx.Route([]float32{1, 0}, 5, 0))
}

func TestIndex_Len_ReflectsAddedNodes(t *testing.T) {
	idx := New(DefaultConfig())
	assert.Equal(t, 0, idx.Len())
	require.NoError(t, idx.Add("node-a", []float32{1, 0}, nil))
	assert.Equal(t, 1, idx.Len())
}

func TestIndex_Delete_RemovesFromRoutingMap(t *testing.T) {
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add("node-a", []float32{1, 0}, []uint32{1}))
	idx.Delete("node-a")
	assert.Equal(t, 0, idx.Len())
}

func TestIndex_SaveLoad_RoundTrips(t *testing.T) {
	idx := New(DefaultConfig())
	require.NoError(t, idx.Add("node-a", []float32{1, 0, 0}, []uint32{1, 2}))
	require.NoError(t, idx.Add("node-b", []float32{0, 1, 0}, []uint32{3}))

	dir := t.TempDir()
	require.NoError(t, idx.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), loaded.Len())

	shards := loaded.Route([]float32{1, 0, 0}, 1, 0)
	assert.ElementsMatch(t, []uint32{1, 2}, shards)
}
