// Package snapshot builds and manages immutable, atomically-activated
// snapshots of the vault index: a staged build directory containing the
// metadata store, BM25 index, per-shard ANN indexes, and the outline
// index, published via a pointer-file rename.
package snapshot

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/msrl/internal/ann"
	"github.com/Aman-CERP/msrl/internal/outline"
	"github.com/Aman-CERP/msrl/internal/store"
)

// Scope identifies whether a build processed every file or only a changed
// subset.
type Scope string

const (
	ScopeFull        Scope = "full"
	ScopeIncremental Scope = "incremental"
)

// Stats summarizes a snapshot's contents for manifest and status reporting.
type Stats struct {
	Docs        int `json:"docs"`
	Nodes       int `json:"nodes"`
	Leaves      int `json:"leaves"`
	Shards      int `json:"shards"`
	FilesFailed int `json:"filesFailed"`
}

// Manifest is the JSON document persisted at <snapshotDir>/manifest.json,
// per spec.md §6.
type Manifest struct {
	SnapshotID         string            `json:"snapshotId"`
	CreatedAt          string            `json:"createdAt"`
	BuildDurationMs    int64             `json:"buildDurationMs"`
	Scope              Scope             `json:"scope"`
	PreviousSnapshotID string            `json:"previousSnapshotId,omitempty"`
	EmbeddingModel     string            `json:"embeddingModel"`
	EmbeddingDimension int               `json:"embeddingDimension"`
	ShardCount         int               `json:"shardCount"`
	Stats              Stats             `json:"stats"`
	FileHashes         map[string]string `json:"fileHashes"`
}

// FileSource is one vault file as seen by the builder: the scanner's view
// plus the absolute path needed to read its content.
type FileSource struct {
	DocURI  string
	AbsPath string
	Mtime   int64
	Size    int64
}

// DefaultMaxCachedShards bounds the number of per-shard ANN indexes kept
// resident in memory at once, per spec.md §5.
const DefaultMaxCachedShards = 16

// Snapshot is a loaded, immutable view of one build: the metadata store,
// BM25 index, and outline index are held open for the snapshot's lifetime;
// per-shard ANN indexes are loaded lazily into an LRU cache since the ANN
// library does not support memory mapping.
type Snapshot struct {
	ID       string
	Dir      string
	Manifest Manifest

	Store   store.MetadataStore
	BM25    store.Bm25Index
	Outline *outline.Index

	mu          sync.Mutex
	shardsDir   string
	shardCache  *lru.Cache[uint32, *ann.LeafShardIndex]
	shardDims   int
	shardConfig ann.Config
}

// newSnapshot wires a loaded snapshot's components together and sizes the
// shard LRU cache (default 16 resident shards).
func newSnapshot(id, dir string, manifest Manifest, metaStore store.MetadataStore, bm25 store.Bm25Index, outlineIdx *outline.Index, shardsDir string, maxCachedShards int, shardCfg ann.Config) (*Snapshot, error) {
	if maxCachedShards <= 0 {
		maxCachedShards = DefaultMaxCachedShards
	}

	s := &Snapshot{
		ID:          id,
		Dir:         dir,
		Manifest:    manifest,
		Store:       metaStore,
		BM25:        bm25,
		Outline:     outlineIdx,
		shardsDir:   shardsDir,
		shardConfig: shardCfg,
	}

	cache, err := lru.NewWithEvict[uint32, *ann.LeafShardIndex](maxCachedShards, func(_ uint32, idx *ann.LeafShardIndex) {
		_ = idx.Close()
	})
	if err != nil {
		return nil, err
	}
	s.shardCache = cache

	return s, nil
}

// Shard returns the per-shard ANN index for shardID, loading it from disk
// on first access and evicting the least-recently-used cached shard if the
// cache is full. Satisfies search.ShardSet.
func (s *Snapshot) Shard(shardID uint32) (*ann.LeafShardIndex, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.shardCache.Get(shardID); ok {
		return idx, true
	}

	dir := shardDir(s.shardsDir, shardID)
	if !dirExists(dir) {
		return nil, false
	}

	idx, err := ann.Load(dir)
	if err != nil {
		return nil, false
	}
	s.shardCache.Add(shardID, idx)
	return idx, true
}

// Close releases the snapshot's held resources: the metadata store, the
// BM25 index, and any cached shard ANN handles.
func (s *Snapshot) Close() error {
	s.mu.Lock()
	s.shardCache.Purge()
	s.mu.Unlock()

	var firstErr error
	if err := s.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.BM25.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
