// Package store provides the metadata (SQLite) and full-text (BM25)
// persistence layers for the retrieval engine.
package store

import "context"

// Doc is a tracked vault file.
type Doc struct {
	DocID  string
	DocURI string
	Mtime  int64
	Size   int64
	Hash   string
}

// Node is a heading-tree node, persisted with its char range and shard.
type Node struct {
	NodeID      string
	DocID       string
	Level       int
	HeadingPath string
	StartChar   int
	EndChar     int
	ShardID     uint32
}

// Leaf is a chunk: a leaf of the heading tree with its own char range,
// text hash, shard, and optional cached embedding.
type Leaf struct {
	LeafID    string
	DocID     string
	NodeID    string
	StartChar int
	EndChar   int
	TextHash  string
	ShardID   uint32
	Embedding []float32 // nil if not yet embedded
}

// DocState is the caller's view of a document's change-detection fields,
// used by GetChangedDocs to diff against the store.
type DocState struct {
	Mtime int64
	Hash  string
}

// ChangeSet is the result of diffing a caller-provided {docUri -> DocState}
// map against the store's records.
type ChangeSet struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// LeafMetadata is the subset of leaf/node/doc fields the retrieval
// pipeline needs to build a result: docUri, headingPath, and char range.
type LeafMetadata struct {
	LeafID      string
	DocURI      string
	HeadingPath string
	StartChar   int
	EndChar     int
}

// MetadataStore persists docs/nodes/leaves with cascading delete and
// change detection, per spec.md §4.9.
type MetadataStore interface {
	// UpsertDoc inserts or updates a doc record, keyed by DocURI. Idempotent.
	UpsertDoc(ctx context.Context, doc Doc) error
	GetDoc(ctx context.Context, docURI string) (*Doc, error)

	// DeleteDoc removes a doc and cascades to its nodes, leaves, and
	// leaf_text entries.
	DeleteDoc(ctx context.Context, docID string) error

	// GetChangedDocs diffs known (the caller's current view of the vault)
	// against the store's doc records.
	GetChangedDocs(ctx context.Context, known map[string]DocState) (ChangeSet, error)

	// InsertNodes bulk-inserts nodes in a single transaction.
	InsertNodes(ctx context.Context, nodes []Node) error
	// InsertLeaves bulk-inserts leaves in a single transaction.
	InsertLeaves(ctx context.Context, leaves []Leaf) error

	// GetLeafMetadata batch-loads the pipeline-facing metadata for a set
	// of leafIds, joined through nodes and docs. Leaves with missing
	// metadata are silently omitted from the result.
	GetLeafMetadata(ctx context.Context, leafIDs []string) (map[string]LeafMetadata, error)

	// GetLeafEmbedding returns a leaf's cached embedding, if present.
	GetLeafEmbedding(ctx context.Context, leafID string) ([]float32, bool, error)
	// SetLeafEmbedding caches a leaf's embedding for incremental rebuild reuse.
	SetLeafEmbedding(ctx context.Context, leafID string, embedding []float32) error

	// SaveLeafText and GetLeafText/DeleteLeafText back the BM25 index's
	// contentless-delete requirement: the original text of a leaf must be
	// recoverable to process a delete when the full-text index itself
	// does not store content.
	SaveLeafText(ctx context.Context, leafID, text string) error
	GetLeafText(ctx context.Context, leafID string) (string, bool, error)
	DeleteLeafText(ctx context.Context, leafIDs []string) error

	// GetLeafIDsByDoc and GetNodeIDsByDoc support incremental rebuild:
	// finding what to delete/re-embed for a modified doc.
	GetLeafIDsByDoc(ctx context.Context, docID string) ([]string, error)
	GetNodeIDsByDoc(ctx context.Context, docID string) ([]string, error)

	// GetNodesByDoc returns full node rows (including level and heading
	// path) for a doc. Outline rebuild reconstructs each node's ancestor
	// chain from headingPath prefixes rather than re-parsing the
	// document, so an unchanged doc's node vectors can be recomputed
	// from already-persisted rows alone.
	GetNodesByDoc(ctx context.Context, docID string) ([]Node, error)

	// GetLeavesByDoc returns full leaf rows (including cached
	// embeddings) for a doc, mirroring GetNodesByDoc.
	GetLeavesByDoc(ctx context.Context, docID string) ([]Leaf, error)

	// GetLeavesByShard returns every leaf currently assigned to shardID,
	// across all docs. Snapshot rebuilds use this since a shard's ANN
	// index has no point-deletion support: a touched shard must be
	// rebuilt from its complete current membership, not just the
	// leaves belonging to the changed docs.
	GetLeavesByShard(ctx context.Context, shardID uint32) ([]Leaf, error)

	// ListDocs returns every tracked doc. The outline index depends on
	// every doc's node embeddings, so a snapshot rebuild needs the full
	// doc list even when only a subset of docs changed.
	ListDocs(ctx context.Context) ([]Doc, error)

	// Meta is a flat key-value store for snapshot manifest fields.
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error

	// Stats reports row counts for getStatus().
	Stats(ctx context.Context) (docs, nodes, leaves int, err error)

	Close() error
}

// Document is a unit of indexable text for the full-text index.
type Document struct {
	LeafID  string
	Text    string
	ShardID uint32
}

// BM25Result is one (leafId, rawRank, normalizedScore) search hit.
type BM25Result struct {
	LeafID          string
	RawRank         float64
	NormalizedScore float64
}

// Bm25Index wraps a full-text index capable of BM25 ranking over leaf
// text, per spec.md §4.10.
type Bm25Index interface {
	Index(ctx context.Context, docs []Document) error
	Delete(ctx context.Context, leafIDs []string) error

	// Search splits q on whitespace, strips quote characters, ORs the
	// terms, and ranks by BM25. normalizedScore = |rawRank| / max(|rawRank|)
	// across the result set.
	Search(ctx context.Context, q string, limit int) ([]BM25Result, error)
	// SearchInShards restricts Search to leaves whose shardId is in shardIDs.
	SearchInShards(ctx context.Context, q string, shardIDs []uint32, limit int) ([]BM25Result, error)

	AllIDs() ([]string, error)
	Save(path string) error
	Load(path string) error
	Close() error
}
