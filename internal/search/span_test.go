package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanMerger_Merge_MergesOverlappingSpansInSameDoc(t *testing.T) {
	m := NewSpanMerger(0)
	merged := m.Merge([]SpanCandidate{
		{LeafID: "l1", DocURI: "a.md", StartChar: 0, EndChar: 100, Score: 0.5},
		{LeafID: "l2", DocURI: "a.md", StartChar: 80, EndChar: 200, Score: 0.8},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, 0, merged[0].StartChar)
	assert.Equal(t, 200, merged[0].EndChar)
	assert.Equal(t, 0.8, merged[0].Score)
	assert.ElementsMatch(t, []string{"l1", "l2"}, merged[0].LeafIDs)
}

func TestSpanMerger_Merge_MergesWithinGapThreshold(t *testing.T) {
	m := NewSpanMerger(50)
	merged := m.Merge([]SpanCandidate{
		{LeafID: "l1", DocURI: "a.md", StartChar: 0, EndChar: 100, Score: 0.5},
		{LeafID: "l2", DocURI: "a.md", StartChar: 140, EndChar: 200, Score: 0.6},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, 0, merged[0].StartChar)
	assert.Equal(t, 200, merged[0].EndChar)
}

func TestSpanMerger_Merge_DoesNotMergeBeyondGapThreshold(t *testing.T) {
	m := NewSpanMerger(0)
	merged := m.Merge([]SpanCandidate{
		{LeafID: "l1", DocURI: "a.md", StartChar: 0, EndChar: 100, Score: 0.5},
		{LeafID: "l2", DocURI: "a.md", StartChar: 150, EndChar: 200, Score: 0.9},
	})
	require.Len(t, merged, 2)
}

func TestSpanMerger_Merge_KeepsDocumentsSeparate(t *testing.T) {
	m := NewSpanMerger(0)
	merged := m.Merge([]SpanCandidate{
		{LeafID: "l1", DocURI: "a.md", StartChar: 0, EndChar: 100, Score: 0.5},
		{LeafID: "l2", DocURI: "b.md", StartChar: 0, EndChar: 100, Score: 0.9},
	})
	require.Len(t, merged, 2)
	assert.Equal(t, "b.md", merged[0].DocURI)
}

func TestSpanMerger_Merge_SortsDescendingByScoreAcrossDocs(t *testing.T) {
	m := NewSpanMerger(0)
	merged := m.Merge([]SpanCandidate{
		{LeafID: "l1", DocURI: "a.md", StartChar: 0, EndChar: 10, Score: 0.2},
		{LeafID: "l2", DocURI: "b.md", StartChar: 0, EndChar: 10, Score: 0.9},
		{LeafID: "l3", DocURI: "c.md", StartChar: 0, EndChar: 10, Score: 0.5},
	})
	require.Len(t, merged, 3)
	assert.Equal(t, "b.md", merged[0].DocURI)
	assert.Equal(t, "c.md", merged[1].DocURI)
	assert.Equal(t, "a.md", merged[2].DocURI)
}
