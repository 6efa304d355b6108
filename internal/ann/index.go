// Package ann implements the per-shard approximate-nearest-neighbor index
// over leaf vectors: an exact brute-force index for small shards, and an
// IVFPQ index (via faiss) once a shard grows large enough to need it.
package ann

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// IVFPQThreshold is the shard size at which the index switches from exact
// brute-force search to trained IVFPQ.
const IVFPQThreshold = 1000

// Config parameterizes LeafShardIndex construction and search.
type Config struct {
	Dimensions int
	NBits      int // quantizer bits per sub-vector, default 8
	M          int // number of sub-quantizers, default 64
	NProbe     int // lists probed per query, default 16
}

// DefaultConfig returns the engine's default IVFPQ tuning.
func DefaultConfig(dimensions int) Config {
	return Config{Dimensions: dimensions, NBits: 8, M: 64, NProbe: 16}
}

// NLists computes nlist = min(256, floor(sqrt(size))) for a shard of the
// given size.
func NLists(size int) int {
	n := isqrt(size)
	if n > 256 {
		n = 256
	}
	if n < 1 {
		n = 1
	}
	return n
}

func isqrt(n int) int {
	if n <= 0 {
		return 0
	}
	r := int(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}

// Result is one (leafId, score) search hit, scores sorted descending.
type Result struct {
	LeafID string
	Score  float32
}

// backend is the vector-search engine behind a LeafShardIndex: either the
// exact flat index or the trained IVFPQ index.
type backend interface {
	Train(vectors [][]float32) error
	Add(internalIDs []int64, vectors [][]float32) error
	Search(query []float32, k int) ([]int64, []float32, error)
	Trained() bool
	Save(path string) error
	Load(path string) error
	Close() error
}

// LeafShardIndex is the per-shard ANN structure keyed on leafId. It
// maintains a bidirectional map between the external leafId and the
// backend's internal integer ids, and adaptively picks a flat or IVFPQ
// backend based on shard size.
type LeafShardIndex struct {
	mu      sync.RWMutex
	cfg     Config
	backend backend

	idToInternal map[string]int64
	internalToID map[int64]string
	nextInternal int64
}

// New constructs a LeafShardIndex sized for an expected shard of sizeHint
// leaves: brute-force below IVFPQThreshold, IVFPQ above it.
func New(sizeHint int, cfg Config) (*LeafShardIndex, error) {
	var b backend
	var err error
	if sizeHint < IVFPQThreshold {
		b = newFlatIndex(cfg.Dimensions)
	} else {
		b, err = newIVFPQIndex(cfg)
		if err != nil {
			return nil, fmt.Errorf("construct ivfpq index: %w", err)
		}
	}

	return &LeafShardIndex{
		cfg:          cfg,
		backend:      b,
		idToInternal: make(map[string]int64),
		internalToID: make(map[int64]string),
	}, nil
}

// Train trains the backend (a no-op for the flat backend; required before
// Add for an untrained IVFPQ backend).
func (idx *LeafShardIndex) Train(vectors map[string][]float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	batch := make([][]float32, 0, len(vectors))
	for _, v := range vectors {
		batch = append(batch, v)
	}
	return idx.backend.Train(batch)
}

// Add inserts leaf vectors, assigning fresh internal ids. ids and vectors
// must be the same length.
func (idx *LeafShardIndex) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	internalIDs := make([]int64, len(ids))
	for i, id := range ids {
		if existing, ok := idx.idToInternal[id]; ok {
			delete(idx.internalToID, existing)
		}
		key := idx.nextInternal
		idx.nextInternal++
		idx.idToInternal[id] = key
		idx.internalToID[key] = id
		internalIDs[i] = key
	}

	return idx.backend.Add(internalIDs, vectors)
}

// Search returns the k nearest leaves to query, sorted descending by
// inner-product score (equivalent to cosine similarity for L2-normalized
// vectors).
func (idx *LeafShardIndex) Search(query []float32, k int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	internalIDs, scores, err := idx.backend.Search(query, k)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(internalIDs))
	for i, internalID := range internalIDs {
		if internalID < 0 {
			continue // faiss pads short result sets with -1
		}
		leafID, ok := idx.internalToID[internalID]
		if !ok {
			continue
		}
		results = append(results, Result{LeafID: leafID, Score: scores[i]})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].LeafID < results[j].LeafID
	})

	return results, nil
}

// Len returns the number of leaves currently indexed.
func (idx *LeafShardIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.idToInternal)
}

// Trained reports whether the backend has been trained (always true for
// the flat backend).
func (idx *LeafShardIndex) Trained() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.backend.Trained()
}

// Close releases backend resources (relevant for the cgo-backed IVFPQ
// index, a no-op for flat).
func (idx *LeafShardIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.backend.Close()
}

type persistedMeta struct {
	IDToInternal map[string]int64
	NextInternal int64
	Config       Config
	IsFlat       bool
}

// Save persists the index to a directory: the backend's own vector file
// plus a gob-encoded id-map sidecar, written atomically.
func (idx *LeafShardIndex) Save(dir string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}

	vectorsPath := filepath.Join(dir, "vectors.idx")
	if err := idx.backend.Save(vectorsPath); err != nil {
		return fmt.Errorf("save backend: %w", err)
	}

	_, isFlat := idx.backend.(*flatIndex)
	meta := persistedMeta{
		IDToInternal: idx.idToInternal,
		NextInternal: idx.nextInternal,
		Config:       idx.cfg,
		IsFlat:       isFlat,
	}

	metaPath := filepath.Join(dir, "meta.gob")
	tmpPath := metaPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create shard meta: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode shard meta: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close shard meta: %w", err)
	}
	return os.Rename(tmpPath, metaPath)
}

// Load reads an index previously written by Save.
func Load(dir string) (*LeafShardIndex, error) {
	metaPath := filepath.Join(dir, "meta.gob")
	f, err := os.Open(metaPath)
	if err != nil {
		return nil, fmt.Errorf("open shard meta: %w", err)
	}
	defer f.Close()

	var meta persistedMeta
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode shard meta: %w", err)
	}

	var b backend
	if meta.IsFlat {
		b = newFlatIndex(meta.Config.Dimensions)
	} else {
		b, err = newIVFPQIndex(meta.Config)
		if err != nil {
			return nil, fmt.Errorf("construct ivfpq index: %w", err)
		}
	}

	vectorsPath := filepath.Join(dir, "vectors.idx")
	if err := b.Load(vectorsPath); err != nil {
		return nil, fmt.Errorf("load backend: %w", err)
	}

	internalToID := make(map[int64]string, len(meta.IDToInternal))
	for id, key := range meta.IDToInternal {
		internalToID[key] = id
	}

	return &LeafShardIndex{
		cfg:          meta.Config,
		backend:      b,
		idToInternal: meta.IDToInternal,
		internalToID: internalToID,
		nextInternal: meta.NextInternal,
	}, nil
}
