package outline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectionCount_SingleLeaf(t *testing.T) {
	assert.Equal(t, 1, SelectionCount(1))
}

func TestSelectionCount_ClampsBetween2And5(t *testing.T) {
	assert.Equal(t, 2, SelectionCount(2))
	assert.Equal(t, 2, SelectionCount(8))  // ceil(8/5)=2
	assert.Equal(t, 3, SelectionCount(11)) // ceil(11/5)=3
	assert.Equal(t, 5, SelectionCount(100))
}

func TestSelectionCount_AllLeavesWhenNLessThanOrEqualK(t *testing.T) {
	// n=3, k=ceil(3/5)=1 -> clamped to 2, but n<=k is false since n=3>2
	assert.Equal(t, 2, SelectionCount(3))
	// n=2, k=clamp(ceil(2/5),2,5)=2, n<=k -> use all (2)
	assert.Equal(t, 2, SelectionCount(2))
}

func TestNodeVector_SingleLeafReturnsNormalizedCopy(t *testing.T) {
	v := NodeVector([][]float32{{3, 4, 0}})
	require := assert.New(t)
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	require.InDelta(1.0, math.Sqrt(norm), 1e-6)
}

func TestNodeVector_EmptyReturnsNil(t *testing.T) {
	assert.Nil(t, NodeVector(nil))
}

func TestNodeVector_IsNormalized(t *testing.T) {
	leaves := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0.7, 0.7, 0, 0},
		{0, 0, 0, 1},
	}
	v := NodeVector(leaves)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}

func TestNodeVector_DeterministicAcrossCalls(t *testing.T) {
	leaves := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	a := NodeVector(leaves)
	b := NodeVector(leaves)
	assert.Equal(t, a, b)
}

func TestCosineSimilarity_IdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarity_OrthogonalVectorsIsZero(t *testing.T) {
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
}
