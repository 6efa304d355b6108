package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHybridScorer_RejectsWeightsNotSummingToOne(t *testing.T) {
	_, err := NewHybridScorer(0.8, 0.3)
	require.Error(t, err)
}

func TestNewHybridScorer_AcceptsDefaultWeights(t *testing.T) {
	s, err := NewHybridScorer(DefaultVectorWeight, DefaultBM25Weight)
	require.NoError(t, err)
	assert.Equal(t, 0.75, s.VectorWeight)
	assert.Equal(t, 0.25, s.BM25Weight)
}

func TestHybridScorer_Fuse_WeightedLinearCombination(t *testing.T) {
	s := DefaultHybridScorer()
	results := s.Fuse(
		map[string]float64{"l1": 0.8},
		map[string]float64{"l1": 0.4},
		nil,
	)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.75*0.8+0.25*0.4, results[0].Score, 1e-9)
}

func TestHybridScorer_Fuse_BM25OnlyCandidateUsesCachedVectorScore(t *testing.T) {
	s := DefaultHybridScorer()
	results := s.Fuse(
		map[string]float64{},
		map[string]float64{"l1": 1.0},
		map[string]float64{"l1": 0.5},
	)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.75*0.5+0.25*1.0, results[0].Score, 1e-9)
}

func TestHybridScorer_Fuse_BM25OnlyCandidateWithoutCacheUsesZeroVectorScore(t *testing.T) {
	s := DefaultHybridScorer()
	results := s.Fuse(
		map[string]float64{},
		map[string]float64{"l1": 1.0},
		nil,
	)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.25*1.0, results[0].Score, 1e-9)
}

func TestHybridScorer_Fuse_VectorOnlyCandidateUsesZeroBM25Score(t *testing.T) {
	s := DefaultHybridScorer()
	results := s.Fuse(
		map[string]float64{"l1": 0.9},
		map[string]float64{},
		nil,
	)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.75*0.9, results[0].Score, 1e-9)
}

func TestHybridScorer_Fuse_SortsDescendingByScoreTieBreakAscendingLeafID(t *testing.T) {
	s := DefaultHybridScorer()
	results := s.Fuse(
		map[string]float64{"z": 0.5, "a": 0.5, "b": 0.9},
		nil,
		nil,
	)
	require.Len(t, results, 3)
	assert.Equal(t, "b", results[0].LeafID)
	assert.Equal(t, "a", results[1].LeafID)
	assert.Equal(t, "z", results[2].LeafID)
}
