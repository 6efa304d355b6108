package search

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/msrl/internal/ann"
	"github.com/Aman-CERP/msrl/internal/embed"
	"github.com/Aman-CERP/msrl/internal/outline"
	"github.com/Aman-CERP/msrl/internal/shard"
	"github.com/Aman-CERP/msrl/internal/store"
)

type fakeEmbedder struct {
	vec []float32
}

func (f fakeEmbedder) Embed(ctx context.Context, text string) (embed.Vector, int, error) {
	return embed.Vector(f.vec), 1, nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([]embed.Vector, error) {
	out := make([]embed.Vector, len(texts))
	for i := range texts {
		out[i] = embed.Vector(f.vec)
	}
	return out, nil
}

func (f fakeEmbedder) CountTokens(text string) int { return 1 }
func (f fakeEmbedder) ModelName() string           { return "fake" }
func (f fakeEmbedder) Close() error                { return nil }

type fakeShardSet map[uint32]*ann.LeafShardIndex

func (s fakeShardSet) Shard(shardID uint32) (*ann.LeafShardIndex, bool) {
	idx, ok := s[shardID]
	return idx, ok
}

func setupPipeline(t *testing.T) (*RetrievalPipeline, string) {
	t.Helper()
	ctx := context.Background()

	dims := 8
	leafVec := make([]float32, dims)
	leafVec[0] = 1

	docURI := "note.md"
	shardID := shard.ShardID(docURI)

	annIdx, err := ann.New(1, ann.DefaultConfig(dims))
	require.NoError(t, err)
	require.NoError(t, annIdx.Add([]string{"leaf1"}, [][]float32{leafVec}))

	outlineIdx := outline.New(outline.DefaultConfig())
	require.NoError(t, outlineIdx.Add("node1", leafVec, []uint32{shardID}))

	metadataStore, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadataStore.Close() })

	require.NoError(t, metadataStore.UpsertDoc(ctx, store.Doc{DocID: "d1", DocURI: docURI, Mtime: 1, Size: 10, Hash: "h"}))
	require.NoError(t, metadataStore.InsertNodes(ctx, []store.Node{
		{NodeID: "node1", DocID: "d1", Level: 1, HeadingPath: "Intro", StartChar: 0, EndChar: 40, ShardID: shardID},
	}))
	require.NoError(t, metadataStore.InsertLeaves(ctx, []store.Leaf{
		{LeafID: "leaf1", DocID: "d1", NodeID: "node1", StartChar: 0, EndChar: 40, TextHash: "th", ShardID: shardID},
	}))

	bm25Idx, err := store.NewProseBM25Index("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bm25Idx.Close() })
	require.NoError(t, bm25Idx.Index(ctx, []store.Document{
		{LeafID: "leaf1", Text: "hello world markdown retrieval", ShardID: shardID},
	}))

	vaultRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(vaultRoot, docURI), []byte("hello world markdown retrieval content here"), 0o644))

	shards := fakeShardSet{shardID: annIdx}
	p := NewRetrievalPipeline(fakeEmbedder{vec: leafVec}, outlineIdx, shards, metadataStore, bm25Idx, vaultRoot)
	return p, docURI
}

func TestRetrievalPipeline_Query_ReturnsMatchingResult(t *testing.T) {
	ctx := context.Background()
	p, docURI := setupPipeline(t)

	resp, err := p.Query(ctx, QueryRequest{Query: "markdown retrieval", Limit: 5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, docURI, resp.Results[0].DocURI)
	assert.Equal(t, "Intro", resp.Results[0].HeadingPath)
	assert.Greater(t, resp.Results[0].Score, 0.0)
	assert.Contains(t, resp.Results[0].Excerpt, "markdown")
}

func TestRetrievalPipeline_Query_EmptyQueryReturnsEmptyResults(t *testing.T) {
	ctx := context.Background()
	p, _ := setupPipeline(t)

	resp, err := p.Query(ctx, QueryRequest{Query: "   ", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestRetrievalPipeline_Query_HeadingPathContainsFilterExcludesNonMatch(t *testing.T) {
	ctx := context.Background()
	p, _ := setupPipeline(t)

	resp, err := p.Query(ctx, QueryRequest{
		Query: "markdown retrieval",
		Limit: 5,
		Filter: Filter{HeadingPathContains: "setup"},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestRetrievalPipeline_Query_DocURIsFilterNarrowsShards(t *testing.T) {
	ctx := context.Background()
	p, docURI := setupPipeline(t)

	resp, err := p.Query(ctx, QueryRequest{
		Query:  "markdown retrieval",
		Limit:  5,
		Filter: Filter{DocURIs: []string{docURI}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
}

func TestRetrievalPipeline_Query_DocURIsFilterExcludesOtherDocs(t *testing.T) {
	ctx := context.Background()
	p, _ := setupPipeline(t)

	resp, err := p.Query(ctx, QueryRequest{
		Query:  "markdown retrieval",
		Limit:  5,
		Filter: Filter{DocURIs: []string{"other.md"}},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}
