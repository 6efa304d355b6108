package ann

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitVector(dims int, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1
	return v
}

func TestNew_BelowThresholdUsesFlatBackend(t *testing.T) {
	idx, err := New(10, DefaultConfig(4))
	require.NoError(t, err)
	_, ok := idx.backend.(*flatIndex)
	assert.True(t, ok)
}

func TestLeafShardIndex_AddAndSearch_ReturnsNearestByInnerProduct(t *testing.T) {
	idx, err := New(10, DefaultConfig(4))
	require.NoError(t, err)

	ids := []string{"leaf-a", "leaf-b", "leaf-c"}
	vectors := [][]float32{
		unitVector(4, 0),
		unitVector(4, 1),
		unitVector(4, 2),
	}
	require.NoError(t, idx.Add(ids, vectors))

	results, err := idx.Search(unitVector(4, 1), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "leaf-b", results[0].LeafID)
	assert.InDelta(t, float32(1.0), results[0].Score, 1e-6)
}

func TestLeafShardIndex_Search_TopKOrderedDescending(t *testing.T) {
	idx, err := New(10, DefaultConfig(2))
	require.NoError(t, err)

	require.NoError(t, idx.Add(
		[]string{"near", "mid", "far"},
		[][]float32{{1, 0}, {0.7, 0.3}, {0.1, 0.2}},
	))

	results, err := idx.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "near", results[0].LeafID)
	assert.Equal(t, "mid", results[1].LeafID)
	assert.Equal(t, "far", results[2].LeafID)
}

func TestLeafShardIndex_Len_ReflectsAddedLeaves(t *testing.T) {
	idx, err := New(10, DefaultConfig(3))
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())

	require.NoError(t, idx.Add([]string{"a", "b"}, [][]float32{{1, 0, 0}, {0, 1, 0}}))
	assert.Equal(t, 2, idx.Len())
}

func TestLeafShardIndex_Trained_AlwaysTrueForFlatBackend(t *testing.T) {
	idx, err := New(10, DefaultConfig(3))
	require.NoError(t, err)
	assert.True(t, idx.Trained())
}

func TestLeafShardIndex_SaveLoad_RoundTripsFlatBackend(t *testing.T) {
	idx, err := New(10, DefaultConfig(3))
	require.NoError(t, err)
	require.NoError(t, idx.Add(
		[]string{"leaf-a", "leaf-b"},
		[][]float32{{1, 0, 0}, {0, 1, 0}},
	))

	dir := t.TempDir()
	require.NoError(t, idx.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), loaded.Len())

	results, err := loaded.Search([]float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "leaf-a", results[0].LeafID)
}

func TestLeafShardIndex_Add_ReplacesExistingLeafID(t *testing.T) {
	idx, err := New(10, DefaultConfig(2))
	require.NoError(t, err)

	require.NoError(t, idx.Add([]string{"leaf-a"}, [][]float32{{1, 0}}))
	require.NoError(t, idx.Add([]string{"leaf-a"}, [][]float32{{0, 1}}))

	assert.Equal(t, 1, len(idx.idToInternal))
	assert.Equal(t, 1, len(idx.internalToID))
}

func TestNLists_ClampsBetween1And256(t *testing.T) {
	assert.Equal(t, 1, NLists(0))
	assert.Equal(t, 1, NLists(1))
	assert.Equal(t, 10, NLists(100))
	assert.Equal(t, 256, NLists(1_000_000))
}
