// Package search implements hybrid score fusion, span merging, excerpt
// extraction, and the end-to-end retrieval pipeline that ties the shard
// and outline indexes together into a single query operation.
package search

import (
	"fmt"
	"sort"
)

// DefaultVectorWeight and DefaultBM25Weight are the HybridScorer's default
// fusion weights; they must sum to 1.
const (
	DefaultVectorWeight = 0.75
	DefaultBM25Weight   = 0.25
)

// Candidate is one leaf's raw per-source scores before fusion.
type Candidate struct {
	LeafID  string
	VScore  float64 // vector similarity, [0,1]; 0 if absent
	HasV    bool
	BScore  float64 // normalized BM25 score, [0,1]; 0 if absent
	HasB    bool
	CachedV float64 // vector score available from the embedding cache, used
	// when a BM25-only candidate has no direct vector score
	HasCachedV bool
}

// FusedResult is one leaf after weighted-linear fusion.
type FusedResult struct {
	LeafID string
	Score  float64
	VScore float64
	BScore float64
}

// HybridScorer fuses vector and BM25 candidate scores with a weighted
// linear combination: score = w_v*v + w_b*b.
type HybridScorer struct {
	VectorWeight float64
	BM25Weight   float64
}

// NewHybridScorer validates that the weights sum to 1 (within floating
// point tolerance) and returns a scorer.
func NewHybridScorer(vectorWeight, bm25Weight float64) (*HybridScorer, error) {
	const tolerance = 1e-9
	sum := vectorWeight + bm25Weight
	if sum < 1-tolerance || sum > 1+tolerance {
		return nil, fmt.Errorf("hybrid scorer weights must sum to 1, got %v+%v=%v", vectorWeight, bm25Weight, sum)
	}
	return &HybridScorer{VectorWeight: vectorWeight, BM25Weight: bm25Weight}, nil
}

// DefaultHybridScorer returns a scorer configured with the spec's default
// weights (w_v=0.75, w_b=0.25).
func DefaultHybridScorer() *HybridScorer {
	s, err := NewHybridScorer(DefaultVectorWeight, DefaultBM25Weight)
	if err != nil {
		panic(err)
	}
	return s
}

// Fuse combines vector and BM25 candidates keyed by leafId. A BM25-only
// candidate falls back to its cached vector score if available, else 0. A
// vector-only candidate uses b=0. Results are sorted descending by score,
// tie-broken ascending by leafId.
func (s *HybridScorer) Fuse(vScores, bScores map[string]float64, cachedV map[string]float64) []FusedResult {
	merged := make(map[string]*Candidate)

	get := func(leafID string) *Candidate {
		c, ok := merged[leafID]
		if !ok {
			c = &Candidate{LeafID: leafID}
			merged[leafID] = c
		}
		return c
	}

	for leafID, v := range vScores {
		c := get(leafID)
		c.VScore = v
		c.HasV = true
	}
	for leafID, b := range bScores {
		c := get(leafID)
		c.BScore = b
		c.HasB = true
	}

	results := make([]FusedResult, 0, len(merged))
	for leafID, c := range merged {
		v := c.VScore
		if !c.HasV {
			if cv, ok := cachedV[leafID]; ok {
				v = cv
			} else {
				v = 0
			}
		}
		b := c.BScore
		if !c.HasB {
			b = 0
		}
		results = append(results, FusedResult{
			LeafID: leafID,
			Score:  s.VectorWeight*v + s.BM25Weight*b,
			VScore: v,
			BScore: b,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].LeafID < results[j].LeafID
	})

	return results
}
