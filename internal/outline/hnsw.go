// Package outline implements the heading-node HNSW index used to route a
// query to a bounded set of candidate leaf shards, and the MMR-based node
// vector selection that feeds it.
package outline

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// Config parameterizes the outline HNSW graph.
type Config struct {
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultConfig returns the engine's default outline-index tuning
// (M=32, efConstruction=200, efSearch=64 per spec.md §4.7).
func DefaultConfig() Config {
	return Config{M: 32, EfConstruction: 200, EfSearch: 64}
}

// DefaultMaxShards bounds route()'s output when the caller doesn't specify
// one.
const DefaultMaxShards = 16

// Index is an HNSW graph over heading-node embeddings, plus a
// nodeId -> set<shardId> routing map built from each node's descendant
// leaves.
type Index struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	cfg    Config
	idMap  map[string]uint64 // nodeId -> internal key
	keyMap map[uint64]string // internal key -> nodeId

	// shardsOf maps nodeId to the set of shardIds containing any
	// descendant leaf of that node.
	shardsOf map[string]map[uint32]struct{}

	nextKey uint64
}

// New constructs an empty outline index.
func New(cfg Config) *Index {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 1 / math.Log(float64(cfg.M))

	return &Index{
		graph:    graph,
		cfg:      cfg,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		shardsOf: make(map[string]map[uint32]struct{}),
	}
}

// Add inserts or replaces a node's vector and the set of shards its
// descendant leaves live in.
func (idx *Index) Add(nodeID string, vector []float32, shardIDs []uint32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existing, ok := idx.idMap[nodeID]; ok {
		delete(idx.keyMap, existing)
		delete(idx.idMap, nodeID)
	}

	key := idx.nextKey
	idx.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)

	idx.graph.Add(hnsw.MakeNode(key, vec))
	idx.idMap[nodeID] = key
	idx.keyMap[key] = nodeID

	shards := make(map[uint32]struct{}, len(shardIDs))
	for _, s := range shardIDs {
		shards[s] = struct{}{}
	}
	idx.shardsOf[nodeID] = shards

	return nil
}

// Delete removes a node from the routing map, using lazy deletion on the
// graph (matching coder/hnsw's documented caveat around removing the last
// node in the graph).
func (idx *Index) Delete(nodeID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if key, ok := idx.idMap[nodeID]; ok {
		delete(idx.keyMap, key)
		delete(idx.idMap, nodeID)
	}
	delete(idx.shardsOf, nodeID)
}

// Len returns the number of live (non-tombstoned) nodes.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.idMap)
}

// Route searches the top topNodes nearest heading nodes to queryVec,
// collects their shard sets, deduplicates, and truncates to maxShards
// (default DefaultMaxShards if maxShards <= 0). Returned shardIds are
// sorted ascending for determinism.
func (idx *Index) Route(queryVec []float32, topNodes, maxShards int) []uint32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if maxShards <= 0 {
		maxShards = DefaultMaxShards
	}
	if idx.graph.Len() == 0 {
		return nil
	}

	nodes := idx.graph.Search(queryVec, topNodes)

	seen := make(map[uint32]struct{})
	for _, n := range nodes {
		nodeID, ok := idx.keyMap[n.Key]
		if !ok {
			continue
		}
		for shardID := range idx.shardsOf[nodeID] {
			seen[shardID] = struct{}{}
		}
	}

	shardIDs := make([]uint32, 0, len(seen))
	for s := range seen {
		shardIDs = append(shardIDs, s)
	}
	sort.Slice(shardIDs, func(i, j int) bool { return shardIDs[i] < shardIDs[j] })

	if len(shardIDs) > maxShards {
		shardIDs = shardIDs[:maxShards]
	}
	return shardIDs
}

type persistedMeta struct {
	IDMap    map[string]uint64
	NextKey  uint64
	Config   Config
	ShardsOf map[string][]uint32
}

// Save persists the HNSW graph and the routing metadata to dir, using the
// teacher's atomic temp-file-then-rename pattern for both files.
func (idx *Index) Save(dir string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create outline dir: %w", err)
	}

	graphPath := filepath.Join(dir, "outline.hnsw")
	tmpGraphPath := graphPath + ".tmp"
	file, err := os.Create(tmpGraphPath)
	if err != nil {
		return fmt.Errorf("create outline graph file: %w", err)
	}
	if err := idx.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpGraphPath)
		return fmt.Errorf("export outline graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpGraphPath)
		return fmt.Errorf("close outline graph file: %w", err)
	}
	if err := os.Rename(tmpGraphPath, graphPath); err != nil {
		os.Remove(tmpGraphPath)
		return fmt.Errorf("rename outline graph file: %w", err)
	}

	shardsOf := make(map[string][]uint32, len(idx.shardsOf))
	for nodeID, shards := range idx.shardsOf {
		ids := make([]uint32, 0, len(shards))
		for s := range shards {
			ids = append(ids, s)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		shardsOf[nodeID] = ids
	}

	meta := persistedMeta{IDMap: idx.idMap, NextKey: idx.nextKey, Config: idx.cfg, ShardsOf: shardsOf}
	metaPath := filepath.Join(dir, "outline.meta")
	tmpMetaPath := metaPath + ".tmp"
	metaFile, err := os.Create(tmpMetaPath)
	if err != nil {
		return fmt.Errorf("create outline meta file: %w", err)
	}
	if err := gob.NewEncoder(metaFile).Encode(meta); err != nil {
		metaFile.Close()
		os.Remove(tmpMetaPath)
		return fmt.Errorf("encode outline meta: %w", err)
	}
	if err := metaFile.Close(); err != nil {
		os.Remove(tmpMetaPath)
		return fmt.Errorf("close outline meta file: %w", err)
	}
	return os.Rename(tmpMetaPath, metaPath)
}

// Load reads an outline index previously written by Save.
func Load(dir string) (*Index, error) {
	metaPath := filepath.Join(dir, "outline.meta")
	metaFile, err := os.Open(metaPath)
	if err != nil {
		return nil, fmt.Errorf("open outline meta file: %w", err)
	}
	defer metaFile.Close()

	var meta persistedMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode outline meta: %w", err)
	}

	idx := New(meta.Config)
	idx.idMap = meta.IDMap
	idx.nextKey = meta.NextKey
	idx.keyMap = make(map[uint64]string, len(meta.IDMap))
	for nodeID, key := range meta.IDMap {
		idx.keyMap[key] = nodeID
	}
	idx.shardsOf = make(map[string]map[uint32]struct{}, len(meta.ShardsOf))
	for nodeID, ids := range meta.ShardsOf {
		shards := make(map[uint32]struct{}, len(ids))
		for _, s := range ids {
			shards[s] = struct{}{}
		}
		idx.shardsOf[nodeID] = shards
	}

	graphPath := filepath.Join(dir, "outline.hnsw")
	graphFile, err := os.Open(graphPath)
	if err != nil {
		return nil, fmt.Errorf("open outline graph file: %w", err)
	}
	defer graphFile.Close()

	reader := bufio.NewReader(graphFile)
	if err := idx.graph.Import(reader); err != nil {
		return nil, fmt.Errorf("import outline graph: %w", err)
	}

	return idx, nil
}
