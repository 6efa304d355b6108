package search

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/msrl/internal/ann"
	"github.com/Aman-CERP/msrl/internal/embed"
	"github.com/Aman-CERP/msrl/internal/outline"
	"github.com/Aman-CERP/msrl/internal/shard"
	"github.com/Aman-CERP/msrl/internal/store"
)

// DefaultTopNodes bounds how many outline nodes a query is routed through;
// DefaultFetchMult multiplies the result limit into each shard's fetch size.
const (
	DefaultTopNodes  = 8
	DefaultFetchMult = 3
)

// ShardSet gives the pipeline access to the engine's live per-shard ANN
// indexes without depending on the engine package.
type ShardSet interface {
	Shard(shardID uint32) (*ann.LeafShardIndex, bool)
}

// Filter narrows query results by document and heading path. All set
// fields are ANDed together.
type Filter struct {
	DocURIPrefix        string
	DocURIs             []string
	HeadingPathPrefix    string
	HeadingPathContains string
}

func (f Filter) matches(docURI, headingPath string) bool {
	if f.DocURIPrefix != "" && !strings.HasPrefix(docURI, f.DocURIPrefix) {
		return false
	}
	if len(f.DocURIs) > 0 {
		found := false
		for _, d := range f.DocURIs {
			if d == docURI {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.HeadingPathPrefix != "" && !strings.HasPrefix(headingPath, f.HeadingPathPrefix) {
		return false
	}
	if f.HeadingPathContains != "" &&
		!strings.Contains(strings.ToLower(headingPath), strings.ToLower(f.HeadingPathContains)) {
		return false
	}
	return true
}

// QueryRequest is one retrieval pipeline invocation.
type QueryRequest struct {
	Query  string
	Limit  int
	Filter Filter
}

// SearchResult is one ranked, merged, excerpted hit.
type SearchResult struct {
	DocURI      string
	HeadingPath string
	StartChar   int
	EndChar     int
	Score       float64
	Excerpt     string
	Truncated   bool
	LeafIDs     []string
}

// QueryMeta carries query timing and diagnostic counts.
type QueryMeta struct {
	TookMs         int64
	ShardsSearched int
}

// QueryResponse is the retrieval pipeline's return value.
type QueryResponse struct {
	Results []SearchResult
	Meta    QueryMeta
}

// RetrievalPipeline orchestrates the full query path: embed, route,
// parallel shard search, hybrid fusion, metadata filtering, span merging,
// and excerpt extraction.
type RetrievalPipeline struct {
	Embedder   embed.Embedder
	Outline    *outline.Index
	Shards     ShardSet
	Metadata   store.MetadataStore
	BM25       store.Bm25Index
	Scorer     *HybridScorer
	Merger     *SpanMerger
	Excerpts   *ExcerptExtractor
	VaultRoot  string
	TopNodes   int
	MaxShards  int
	NowFunc    func() time.Time
}

// NewRetrievalPipeline wires the C11 components with spec defaults.
func NewRetrievalPipeline(embedder embed.Embedder, outlineIdx *outline.Index, shards ShardSet,
	metadata store.MetadataStore, bm25 store.Bm25Index, vaultRoot string) *RetrievalPipeline {
	return &RetrievalPipeline{
		Embedder:  embedder,
		Outline:   outlineIdx,
		Shards:    shards,
		Metadata:  metadata,
		BM25:      bm25,
		Scorer:    DefaultHybridScorer(),
		Merger:    NewSpanMerger(DefaultGapThreshold),
		Excerpts:  NewExcerptExtractor(DefaultMaxExcerptChars),
		VaultRoot: vaultRoot,
		TopNodes:  DefaultTopNodes,
		MaxShards: outline.DefaultMaxShards,
		NowFunc:   time.Now,
	}
}

// Query runs the 10-step retrieval pipeline described in spec.md §4.12.
func (p *RetrievalPipeline) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	start := p.now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return QueryResponse{Results: []SearchResult{}, Meta: QueryMeta{TookMs: p.elapsedMs(start)}}, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	fetchLimit := limit * DefaultFetchMult

	queryVec, _, err := p.Embedder.Embed(ctx, query)
	if err != nil {
		return QueryResponse{}, fmt.Errorf("embed query: %w", err)
	}

	shardIDs := p.Outline.Route(queryVec, p.topNodes(), p.maxShards())
	shardIDs = p.narrowByDocFilter(shardIDs, req.Filter)
	if len(shardIDs) == 0 {
		return QueryResponse{Results: []SearchResult{}, Meta: QueryMeta{TookMs: p.elapsedMs(start), ShardsSearched: 0}}, nil
	}

	vScores, bScores, cachedV, err := p.searchShards(ctx, query, queryVec, shardIDs, fetchLimit)
	if err != nil {
		return QueryResponse{}, err
	}

	fused := p.Scorer.Fuse(vScores, bScores, cachedV)

	leafIDs := make([]string, len(fused))
	for i, f := range fused {
		leafIDs[i] = f.LeafID
	}
	leafMeta, err := p.Metadata.GetLeafMetadata(ctx, leafIDs)
	if err != nil {
		return QueryResponse{}, fmt.Errorf("load leaf metadata: %w", err)
	}

	candidates := make([]SpanCandidate, 0, len(fused))
	scoreByLeaf := make(map[string]float64, len(fused))
	headingByLeaf := make(map[string]string, len(fused))
	for _, f := range fused {
		meta, ok := leafMeta[f.LeafID]
		if !ok {
			continue
		}
		if !req.Filter.matches(meta.DocURI, meta.HeadingPath) {
			continue
		}
		scoreByLeaf[f.LeafID] = f.Score
		headingByLeaf[f.LeafID] = meta.HeadingPath
		candidates = append(candidates, SpanCandidate{
			LeafID:    f.LeafID,
			DocURI:    meta.DocURI,
			StartChar: meta.StartChar,
			EndChar:   meta.EndChar,
			Score:     f.Score,
		})
	}

	merged := p.Merger.Merge(candidates)
	if len(merged) > limit {
		merged = merged[:limit]
	}

	results := make([]SearchResult, 0, len(merged))
	for _, span := range merged {
		representative := ""
		if len(span.LeafIDs) > 0 {
			representative = span.LeafIDs[0]
		}

		excerptText, truncated := "", false
		path := filepath.Join(p.VaultRoot, span.DocURI)
		excerpt, exErr := p.Excerpts.Extract(path, span.StartChar, span.EndChar)
		if exErr == nil {
			excerptText = excerpt.Text
			truncated = excerpt.Truncated
		}

		results = append(results, SearchResult{
			DocURI:      span.DocURI,
			HeadingPath: headingByLeaf[representative],
			StartChar:   span.StartChar,
			EndChar:     span.EndChar,
			Score:       span.Score,
			Excerpt:     excerptText,
			Truncated:   truncated,
			LeafIDs:     span.LeafIDs,
		})
	}

	return QueryResponse{
		Results: results,
		Meta:    QueryMeta{TookMs: p.elapsedMs(start), ShardsSearched: len(shardIDs)},
	}, nil
}

// narrowByDocFilter intersects the routed shard set with the shards that
// the filter's exact DocURIs hash to, when such a filter is present.
// ShardID is a pure function of docUri, so this needs no store lookup.
func (p *RetrievalPipeline) narrowByDocFilter(shardIDs []uint32, f Filter) []uint32 {
	if len(f.DocURIs) == 0 {
		return shardIDs
	}

	allowed := make(map[uint32]struct{}, len(f.DocURIs))
	for _, uri := range f.DocURIs {
		allowed[shard.ShardID(uri)] = struct{}{}
	}

	out := shardIDs[:0:0]
	for _, id := range shardIDs {
		if _, ok := allowed[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// searchShards fans out vector search (per selected shard) and BM25
// search (restricted to the selected shard set) concurrently.
func (p *RetrievalPipeline) searchShards(ctx context.Context, query string, queryVec []float32,
	shardIDs []uint32, fetchLimit int) (vScores, bScores, cachedV map[string]float64, err error) {

	vScores = make(map[string]float64)
	bScores = make(map[string]float64)
	cachedV = make(map[string]float64)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	for _, sid := range shardIDs {
		sid := sid
		g.Go(func() error {
			idx, ok := p.Shards.Shard(sid)
			if !ok {
				return nil
			}
			hits, searchErr := idx.Search(queryVec, fetchLimit)
			if searchErr != nil {
				return fmt.Errorf("vector search shard %d: %w", sid, searchErr)
			}
			mu.Lock()
			for _, h := range hits {
				vScores[h.LeafID] = float64(h.Score)
			}
			mu.Unlock()
			return nil
		})
	}

	g.Go(func() error {
		if p.BM25 == nil {
			return nil
		}
		hits, searchErr := p.BM25.SearchInShards(gctx, query, shardIDs, fetchLimit)
		if searchErr != nil {
			return fmt.Errorf("bm25 search: %w", searchErr)
		}
		mu.Lock()
		for _, h := range hits {
			bScores[h.LeafID] = h.NormalizedScore
		}
		mu.Unlock()
		return nil
	})

	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, nil, waitErr
	}

	for leafID := range bScores {
		if _, ok := vScores[leafID]; ok {
			continue
		}
		if v, ok, cacheErr := p.Metadata.GetLeafEmbedding(ctx, leafID); cacheErr == nil && ok && len(v) > 0 {
			cachedV[leafID] = float64(cosineSimilarityF32(queryVec, v))
		}
	}

	return vScores, bScores, cachedV, nil
}

func cosineSimilarityF32(a, b []float32) float32 {
	var dot float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	return dot
}

func (p *RetrievalPipeline) topNodes() int {
	if p.TopNodes <= 0 {
		return DefaultTopNodes
	}
	return p.TopNodes
}

func (p *RetrievalPipeline) maxShards() int {
	if p.MaxShards <= 0 {
		return outline.DefaultMaxShards
	}
	return p.MaxShards
}

func (p *RetrievalPipeline) now() time.Time {
	if p.NowFunc != nil {
		return p.NowFunc()
	}
	return time.Now()
}

func (p *RetrievalPipeline) elapsedMs(start time.Time) int64 {
	return p.now().Sub(start).Milliseconds()
}
